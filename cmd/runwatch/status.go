package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/amishk599/runwatch/internal/model"
)

var statusCmd = &cobra.Command{
	Use:   "status <task_id>",
	Short: "Print a run's current status once",
	Long:  "One-shot status check: fetches the run's current snapshot, prints it, exits. Does not poll or notify.",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		exitf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	snap, err := setupTransport(cfg).GetStatus(ctx, model.JobHandle(args[0]))
	if err != nil {
		exitf("status check failed: %v", err)
	}

	fmt.Printf("%-10s %s\n", "Task", snap.Handle)
	fmt.Printf("%-10s %s\n", "Status", snap.Status)
	fmt.Printf("%-10s %s\n", "Created", formatTime(snap.CreatedAt))
	fmt.Printf("%-10s %s\n", "Updated", formatTime(snap.UpdatedAt))
	switch snap.Status {
	case model.StatusCompleted:
		fmt.Println()
		fmt.Println(formatJSON(snap.Result))
	case model.StatusFailed:
		fmt.Printf("%-10s %s\n", "Error", snap.Error)
	}
	return nil
}
