package cmd

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kube-rca/alertsync/internal/model"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run a single sync cycle",
	Long: `Run one reconciliation cycle against Grafana and JSM, commit the result
to Postgres and print the cycle summary. Exits non-zero when the cycle failed.

Examples:
  alertsync sync
  alertsync sync -o json`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := requireUpstreams(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	res := a.reconciler.Run(ctx, model.TriggerManual)

	if output == "json" {
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode cycle result: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
	} else {
		writeCycleSummary(cmd, res)
	}

	if res.Outcome == model.OutcomeFailed {
		return fmt.Errorf("sync cycle %s failed", res.ID)
	}
	return nil
}

func writeCycleSummary(cmd *cobra.Command, res model.CycleResult) {
	out := cmd.OutOrStdout()
	s := res.Stats
	fmt.Fprintf(out, "cycle %s (%s): %s in %s\n", res.ID, res.Trigger, res.Outcome, res.Duration().Round(time.Millisecond))
	fmt.Fprintf(out, "  fetched    grafana=%d jsm=%d (filtered %d/%d, skipped %d)\n", s.FetchedA, s.FetchedB, s.FilteredA, s.FilteredB, s.Skipped)
	fmt.Fprintf(out, "  records    created=%d updated=%d resolved=%d\n", s.Created, s.Updated, s.Resolved)
	fmt.Fprintf(out, "  matching   matched=%d low_certainty=%d statuses_refreshed=%d\n", s.Matched, s.LowCertain, s.Refreshed)
	fmt.Fprintf(out, "  actions    done=%d auto_closed=%d\n", s.ActionsDone, s.AutoClosed)
	if len(res.Errors) > 0 {
		fmt.Fprintf(out, "  errors     %s\n", strings.Join(res.Errors, "; "))
	}
}
