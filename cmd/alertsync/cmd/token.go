package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kube-rca/alertsync/internal/config"
	"github.com/kube-rca/alertsync/internal/service"
)

var (
	tokenLoginID string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an API access token",
	Long: `Issue an HS256 access token signed with JWT_SECRET. The loginId claim is
recorded as the actor of acknowledge/resolve calls made with the token.

Examples:
  alertsync token --login-id oncall --ttl 24h`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		authService, err := service.NewAuthService(config.AuthConfig{Enabled: true, JWTSecret: cfg.Auth.JWTSecret})
		if err != nil {
			return fmt.Errorf("JWT_SECRET is required: %w", err)
		}
		token, err := authService.IssueAccessToken(tokenLoginID, tokenTTL)
		if err != nil {
			return fmt.Errorf("failed to issue token: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().StringVar(&tokenLoginID, "login-id", "", "loginId claim (required)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 12*time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("login-id")
}
