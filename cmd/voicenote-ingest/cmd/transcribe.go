package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"voicenote-ingest-go/internal/bootstrap"
	"voicenote-ingest-go/internal/domain/ingest"
	"voicenote-ingest-go/internal/domain/transcription"
)

var (
	writeNotes bool
	jsonOutput bool
)

var transcribeCmd = &cobra.Command{
	Use:   "transcribe <file>...",
	Short: "转写指定的音频文件",
	Long: `使用配置的提供者转写一个或多个音频文件。

默认把文本打印到标准输出；使用 --write-notes 时文件必须位于仓库中，
转写结果会按监听器的规则写成笔记（已有笔记的文件会被跳过）。`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTranscribe,
}

func init() {
	transcribeCmd.Flags().BoolVar(&writeNotes, "write-notes", false, "在仓库中创建转写笔记")
	transcribeCmd.Flags().BoolVar(&jsonOutput, "json", false, "以 JSON 输出结果")
	rootCmd.AddCommand(transcribeCmd)
}

func runTranscribe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, err := prepareOneShot(ctx)
	if err != nil {
		printError("初始化失败", err)
		return err
	}
	defer app.Close()

	var outcomes []ingest.Outcome
	if writeNotes {
		outcomes, err = transcribeIntoVault(ctx, app, args)
	} else {
		outcomes, err = transcribeToStdout(ctx, app, args)
	}
	if err != nil {
		printError("转写失败", err)
		return err
	}

	if jsonOutput {
		raw, err := sonic.ConfigStd.MarshalIndent(outcomes, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(raw))
	} else {
		printOutcomes(outcomes)
	}

	for _, o := range outcomes {
		if o.Status == ingest.OutcomeFailed {
			return fmt.Errorf("%d 个文件转写失败", countFailed(outcomes))
		}
	}
	return nil
}

func transcribeIntoVault(ctx context.Context, app *bootstrap.App, args []string) ([]ingest.Outcome, error) {
	paths := make([]string, 0, len(args))
	for _, arg := range args {
		abs, err := filepath.Abs(arg)
		if err != nil {
			return nil, err
		}
		rel, err := app.Vault().Rel(abs)
		if err != nil {
			return nil, err
		}
		paths = append(paths, rel)
	}
	return app.Ingest().TranscribeFiles(ctx, paths)
}

func transcribeToStdout(ctx context.Context, app *bootstrap.App, args []string) ([]ingest.Outcome, error) {
	orch, err := app.Transcriber()
	if err != nil {
		return nil, err
	}
	opts := app.Runtime().Options()

	outcomes := make([]ingest.Outcome, 0, len(args))
	for _, arg := range args {
		out := ingest.Outcome{AudioPath: arg}
		data, err := os.ReadFile(arg)
		if err != nil {
			out.Status, out.Error = ingest.OutcomeFailed, err.Error()
			outcomes = append(outcomes, out)
			continue
		}
		report, err := orch.Run(ctx, transcription.FromBytes(filepath.Base(arg), data), opts)
		if err != nil {
			out.Status, out.Error = ingest.OutcomeFailed, err.Error()
		} else {
			out.Status, out.Text = ingest.OutcomeCreated, report.Result.Text
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}

func printOutcomes(outcomes []ingest.Outcome) {
	for _, o := range outcomes {
		switch o.Status {
		case ingest.OutcomeFailed:
			fmt.Printf("[-] %s: %s\n", o.AudioPath, o.Error)
		case ingest.OutcomeSkipped:
			fmt.Printf("[=] %s: 已有转写笔记，跳过\n", o.AudioPath)
		default:
			if o.NotePath != "" {
				fmt.Printf("[+] %s -> %s\n", o.AudioPath, o.NotePath)
				continue
			}
			fmt.Printf("[+] %s\n%s\n\n", o.AudioPath, o.Text)
		}
	}
}

func countFailed(outcomes []ingest.Outcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Status == ingest.OutcomeFailed {
			n++
		}
	}
	return n
}
