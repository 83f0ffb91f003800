package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent agent runs",
	Long:  "Reads the service's run history and prints a table of the most recent runs.",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 0, "number of runs to list (default: history.limit from config)")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		exitf("failed to load config: %v", err)
	}

	limit := cfg.History.Limit
	if historyLimit > 0 {
		limit = historyLimit
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runs, err := setupTransport(cfg).ListJobs(ctx, limit)
	if err != nil {
		exitf("listing runs: %v", err)
	}
	printRuns(runs)
	return nil
}
