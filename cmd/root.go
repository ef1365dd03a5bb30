package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agri-ai/farm-monitor/internal/config"
	"github.com/agri-ai/farm-monitor/internal/secrets"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "farm-monitor",
	Short: "Daily agricultural monitoring orchestrator",
	Long: "Evaluates every registered farm once a day with an AI agent, decides which " +
		"threshold breaches deserve an alert, notifies farmers and records the run.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		if err := secrets.Resolve(cmd.Context(), cfg); err != nil {
			return fmt.Errorf("resolve secrets: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
