package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kube-rca/alertsync/internal/matcher"
)

var fingerprintID matcher.Identity

var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint",
	Short: "Print the alias fingerprint for an alert identity",
	Long: `Print the alias fingerprint computed from alertname, cluster, instance and
severity. Configure the Grafana to JSM integration to send this value as the
JSM alert alias so records are matched by alias.

Examples:
  alertsync fingerprint --alertname HighCPU --cluster prod-eu --instance node-1 --severity critical`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if fingerprintID.AlertName == "" {
			return fmt.Errorf("--alertname is required")
		}
		fp := matcher.Fingerprint(fingerprintID)
		if output == "json" {
			data, err := json.MarshalIndent(struct {
				Identity    matcher.Identity `json:"identity"`
				Fingerprint string           `json:"fingerprint"`
			}{fingerprintID.Normalize(), fp}, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), fp)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(fingerprintCmd)

	fingerprintCmd.Flags().StringVar(&fingerprintID.AlertName, "alertname", "", "alertname label")
	fingerprintCmd.Flags().StringVar(&fingerprintID.Cluster, "cluster", "", "cluster label")
	fingerprintCmd.Flags().StringVar(&fingerprintID.Instance, "instance", "", "instance (or pod) label")
	fingerprintCmd.Flags().StringVar(&fingerprintID.Severity, "severity", "", "severity label")
}
