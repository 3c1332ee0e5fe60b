// Package cmd contains the CLI commands for alertsync.
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kube-rca/alertsync/internal/config"
)

var (
	envFile string
	output  string

	cfg    config.Config
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "alertsync",
	Short: "alertsync - Grafana/JSM alert synchronization",
	Long: `alertsync correlates Grafana alerts with Jira Service Management alerts
and keeps their acknowledgement and resolution status in sync.

Examples:
  # Run the HTTP API and the periodic sync loops
  alertsync serve

  # Run a single sync cycle and print the result
  alertsync sync -o json

  # Print the alias fingerprint for an alert identity
  alertsync fingerprint --alertname HighCPU --cluster prod-eu --instance node-1 --severity critical`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadEnvFile(envFile); err != nil {
			return err
		}
		cfg = config.Load()

		l, err := newLogger(cfg.Server)
		if err != nil {
			return err
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "load environment variables from this file if it exists")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "plain", "output format (plain, json)")
}

// newLogger - DEBUG=true면 console encoder, 아니면 JSON (레벨은 LOG_LEVEL)
func newLogger(server config.ServerConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if server.Debug {
		zcfg = zap.NewDevelopmentConfig()
	}
	if lvl := strings.TrimSpace(server.LogLevel); lvl != "" {
		level, err := zap.ParseAtomicLevel(lvl)
		if err != nil {
			return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", lvl, err)
		}
		zcfg.Level = level
	}
	l, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return l.Named("alertsync"), nil
}
