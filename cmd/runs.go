package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/agri-ai/farm-monitor/internal/model"
	"github.com/agri-ai/farm-monitor/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect recorded run reports",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		status, _ := cmd.Flags().GetString("status")
		since, _ := cmd.Flags().GetDuration("since")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := store.ReportFilter{Status: model.RunStatus(status), Limit: limit}
		if since > 0 {
			filter.Since = time.Now().Add(-since)
		}

		st, err := openStore(ctx, "runs")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		reports, err := st.ListReports(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "list runs")
		}
		formatRuns(os.Stdout, reports)
		return nil
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Print one run report as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx, "runs")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		r, err := st.GetReport(ctx, args[0])
		if err != nil {
			return eris.Wrapf(err, "get run %s", args[0])
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	},
}

func formatRuns(out io.Writer, reports []model.RunReport) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTARTED\tTRIGGER\tSTATUS\tFARMS\tFAILED\tALERTS\tCOST")
	for _, r := range reports {
		failed := r.Counts[model.OutcomeFailedTransient] + r.Counts[model.OutcomeFailedPermanent]
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t$%.4f\n",
			r.RunID,
			r.StartedAt.UTC().Format(time.RFC3339),
			dash(r.Trigger),
			r.Status,
			r.Total(),
			failed,
			r.AlertsDispatched,
			r.CostUSD,
		)
	}
	_ = w.Flush()
}

func init() {
	runsListCmd.Flags().String("status", "", "only runs with this status (running, completed, fatal)")
	runsListCmd.Flags().Duration("since", 0, "only runs started within this window, e.g. 72h")
	runsListCmd.Flags().Int("limit", 20, "maximum runs to list")
	runsCmd.AddCommand(runsListCmd, runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}
