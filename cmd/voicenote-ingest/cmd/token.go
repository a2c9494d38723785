package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"voicenote-ingest-go/internal/platform/config"
	httptransport "voicenote-ingest-go/internal/transport/http"
)

var tokenTTL time.Duration

var tokenCmd = &cobra.Command{
	Use:   "token [subject]",
	Short: "签发访问状态接口的令牌",
	Long:  `使用 server.token_secret 签发 HS256 令牌，通过 Authorization: Bearer 或 ?token= 携带。`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runToken,
}

func init() {
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", httptransport.DefaultTokenTTL, "令牌有效期")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	res, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		printError("加载配置失败", err)
		return err
	}
	secret := res.Config.Server.TokenSecret
	if secret == "" {
		err := errors.New("server.token_secret 未配置，接口无需令牌")
		printError("无法签发令牌", err)
		return err
	}

	subject := "cli"
	if len(args) == 1 {
		subject = args[0]
	}
	token, err := httptransport.NewTokenIssuer(secret).WithTTL(tokenTTL).Generate(subject)
	if err != nil {
		printError("签发令牌失败", err)
		return err
	}
	fmt.Println(token)
	return nil
}
