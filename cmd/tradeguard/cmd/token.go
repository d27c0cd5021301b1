package cmd

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/tradeguard/internal/server/middleware"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue API bearer tokens",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Sign a JWT for a trader with auth.jwt_secret",
	Long: `Issue prints an HS256 token whose subject is the trader ID. Send it as
"Authorization: Bearer <token>" or ?token= on the WebSocket.

Example:
  tradeguard token issue --trader alice --ttl 12h`,
	RunE: runTokenIssue,
}

var (
	tokenTrader string
	tokenTTL    time.Duration
)

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.AddCommand(tokenIssueCmd)
	tokenIssueCmd.Flags().StringVarP(&tokenTrader, "trader", "t", "", "trader ID (required)")
	tokenIssueCmd.Flags().DurationVar(&tokenTTL, "ttl", 12*time.Hour, "token lifetime")
	_ = tokenIssueCmd.MarkFlagRequired("trader")
}

func runTokenIssue(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is not configured")
	}
	tok, err := middleware.IssueToken(cfg.Auth.JWTSecret, tokenTrader, tokenTTL, time.Now())
	if err != nil {
		return err
	}
	printf(cmd, "%s\n", tok)
	return nil
}
