package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"voicenote-ingest-go/internal/bootstrap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动监听服务",
	Long: `启动仓库监听、音频转写、日记链接和状态接口，直到收到 SIGINT/SIGTERM。

配置文件变更会被自动重新加载。`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	fmt.Printf("[%s] [INFO] [引导] 开始启动 voicenote-ingest %s...\n", time.Now().Format("2006-01-02 15:04:05.000"), Version)
	if err := bootstrap.Run(cmd.Context(), bootstrap.Options{
		ConfigPath: cfgFile,
		Version:    Version,
	}); err != nil {
		printError("服务异常退出", err)
		return err
	}
	return nil
}
