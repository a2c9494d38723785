package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"voicenote-ingest-go/internal/bootstrap"
)

// Version 由构建参数注入: -ldflags "-X voicenote-ingest-go/cmd/voicenote-ingest/cmd.Version=..."
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "voicenote-ingest",
	Short: "把笔记仓库中的录音自动转写成笔记",
	Long: `voicenote-ingest 监听同步到本地的笔记仓库：新的录音文件会被转写成
带时间戳的笔记，转写笔记再被链接到对应日期的日记中。

提供者：
  zhipu    - 同步上传（GLM-ASR）
  doubao   - 提交后轮询（火山引擎大模型录音识别）
  whisper  - 自托管 OpenAI 兼容接口`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "配置文件 (默认依次查找 config.yaml / config.yml / .config.yaml / config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "一次性命令也写入完整日志")
}

// prepareOneShot 为一次性命令装配组件，不启动 HTTP 服务和后台监听
func prepareOneShot(ctx context.Context) (*bootstrap.App, error) {
	return bootstrap.Prepare(ctx, bootstrap.Options{
		ConfigPath:    cfgFile,
		Quiet:         !verbose,
		DisableServer: true,
		Version:       Version,
	})
}

func printError(msg string, err error) {
	fmt.Fprintf(os.Stderr, "错误: %s: %v\n", msg, err)
}
