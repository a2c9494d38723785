package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "立即执行一次启动扫描",
	Long: `不等待启动延迟，立即扫描音频目录转写所有未处理的录音，
然后把转写笔记链接到对应的日记中。`,
	RunE: runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
}

func runReconcile(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, err := prepareOneShot(ctx)
	if err != nil {
		printError("初始化失败", err)
		return err
	}
	defer app.Close()

	if !app.Ingest().Status().Enabled {
		fmt.Println("音频监听未启用，跳过转写")
	} else {
		outcomes, err := app.Ingest().Scan(ctx)
		if err != nil {
			printError("扫描音频失败", err)
			return err
		}
		printOutcomes(outcomes)
		fmt.Printf("转写: 处理 %d 个文件，失败 %d 个\n", len(outcomes), countFailed(outcomes))
	}

	if !app.Config().Journal.Enabled {
		fmt.Println("日记链接未启用")
		return nil
	}
	added, err := app.Journal().Scan(ctx)
	if err != nil {
		printError("链接日记失败", err)
		return err
	}
	fmt.Printf("日记: 新增 %d 条链接\n", added)
	return nil
}
