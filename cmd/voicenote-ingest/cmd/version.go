package cmd

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"voicenote-ingest-go/internal/domain/asr/factory"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "显示版本信息",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("voicenote-ingest %s (%s %s/%s)\n", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		fmt.Printf("提供者: %s\n", strings.Join(factory.Names(), ", "))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
