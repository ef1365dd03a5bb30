package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/agri-ai/farm-monitor/internal/model"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect and prune alert history",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the alert history of one farm",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		farmID, _ := cmd.Flags().GetString("farm")
		if farmID == "" {
			return eris.New("--farm is required")
		}

		st, err := openStore(ctx, "history")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		entries, err := st.Lookup(ctx, farmID)
		if err != nil {
			return eris.Wrapf(err, "lookup history for %s", farmID)
		}
		formatHistory(os.Stdout, entries)
		return nil
	},
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete history entries older than the retention window",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		olderThan, _ := cmd.Flags().GetDuration("older-than")
		if olderThan <= 0 {
			return eris.New("--older-than must be positive")
		}

		st, err := openStore(ctx, "history")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		cutoff := time.Now().Add(-olderThan)
		n, err := st.PruneHistory(ctx, cutoff)
		if err != nil {
			return err
		}
		fmt.Printf("Pruned %d history entries raised before %s\n", n, cutoff.UTC().Format(time.RFC3339))
		return nil
	},
}

func formatHistory(out io.Writer, entries []model.AlertHistoryEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CONDITION\tSEVERITY\tLAST RAISED\tDELIVERY")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			e.ConditionKey,
			e.Severity,
			e.LastRaisedAt.UTC().Format(time.RFC3339),
			dash(e.DeliveryID),
		)
	}
	_ = w.Flush()
}

func init() {
	historyListCmd.Flags().String("farm", "", "farm ID")
	historyPruneCmd.Flags().Duration("older-than", 720*time.Hour, "retention window")
	historyCmd.AddCommand(historyListCmd, historyPruneCmd)
	rootCmd.AddCommand(historyCmd)
}
