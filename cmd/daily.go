package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/agri-ai/farm-monitor/internal/model"
	"github.com/agri-ai/farm-monitor/internal/store"
)

var dailyCmd = &cobra.Command{
	Use:   "daily",
	Short: "Run the daily monitoring sweep over every registered farm",
	Long: "Evaluates each farm, dispatches new alerts and records a run report. " +
		"Exits non-zero only when the run is fatal; individual farm failures are reported, not raised.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initRunEnv(ctx, "daily")
		if err != nil {
			return err
		}
		defer env.Close()

		trigger, _ := cmd.Flags().GetString("trigger")
		only, _ := cmd.Flags().GetStringSlice("farm")
		asJSON, _ := cmd.Flags().GetBool("json")

		var r *model.RunReport
		if len(only) == 0 {
			r = env.Orchestrator.RunFromRegistry(ctx, env.Store, trigger)
		} else {
			farms, err := selectFarms(ctx, env.Store, only)
			if err != nil {
				return err
			}
			r = env.Orchestrator.RunDaily(ctx, farms, trigger)
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(r); err != nil {
				return eris.Wrap(err, "encode report")
			}
		} else {
			formatReport(os.Stdout, r)
		}

		if r.Status == model.RunStatusFatal {
			return eris.Errorf("run %s is fatal: %s", r.RunID, r.FatalReason)
		}
		return nil
	},
}

// selectFarms loads the requested farms, failing on any unknown ID.
func selectFarms(ctx context.Context, reg store.Registry, ids []string) ([]model.Farm, error) {
	farms := make([]model.Farm, 0, len(ids))
	for _, id := range ids {
		f, err := reg.GetFarm(ctx, id)
		if err != nil {
			return nil, eris.Wrapf(err, "load farm %s", id)
		}
		farms = append(farms, *f)
	}
	return farms, nil
}

// formatReport prints the run summary followed by every farm that did not
// succeed cleanly.
func formatReport(out io.Writer, r *model.RunReport) {
	fmt.Fprintf(out, "Run:       %s\n", r.RunID)
	fmt.Fprintf(out, "Status:    %s\n", r.Status)
	if r.FatalReason != "" {
		fmt.Fprintf(out, "Reason:    %s\n", r.FatalReason)
	}
	fmt.Fprintf(out, "Elapsed:   %.1fs\n", float64(r.ElapsedMs)/1000)
	fmt.Fprintf(out, "Farms:     %d (succeeded %d, failed transient %d, failed permanent %d, skipped %d)\n",
		r.Total(),
		r.Counts[model.OutcomeSucceeded],
		r.Counts[model.OutcomeFailedTransient],
		r.Counts[model.OutcomeFailedPermanent],
		r.Counts[model.OutcomeSkipped],
	)
	fmt.Fprintf(out, "Alerts:    %d dispatched, %d undelivered, %d partial\n",
		r.AlertsDispatched, r.AlertsUndelivered, r.PartialDeliveries)
	fmt.Fprintf(out, "Cost:      $%.4f\n", r.CostUSD)

	var problems []model.FarmOutcome
	for _, fo := range r.Sorted() {
		if fo.Outcome != model.OutcomeSucceeded || len(fo.Undelivered) > 0 || len(fo.PartialDeliveries) > 0 {
			problems = append(problems, fo)
		}
	}
	if len(problems) == 0 {
		return
	}

	fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FARM\tOUTCOME\tATTEMPTS\tUNDELIVERED\tERROR")
	for _, fo := range problems {
		undelivered := make([]string, 0, len(fo.Undelivered))
		for _, u := range fo.Undelivered {
			undelivered = append(undelivered, u.ConditionKey)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			fo.FarmID,
			fo.Outcome,
			fo.Attempts,
			dash(strings.Join(undelivered, ",")),
			dash(truncate(fo.Error, 80)),
		)
	}
	_ = w.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func init() {
	dailyCmd.Flags().String("trigger", "cli", "label recorded on the run report (cli, schedule, http)")
	dailyCmd.Flags().StringSlice("farm", nil, "restrict the run to these farm IDs")
	dailyCmd.Flags().Bool("json", false, "print the full report as JSON")
	rootCmd.AddCommand(dailyCmd)
}
