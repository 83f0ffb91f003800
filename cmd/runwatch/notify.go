package main

import (
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/amishk599/runwatch/internal/model"
	"github.com/amishk599/runwatch/internal/notifier"
)

var notifyFailed bool

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Run-outcome notification subcommands",
}

var notifyTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Announce a sample finished run",
	Long: "Sends a sample run outcome through the configured notifier (log or slack), " +
		"exactly as a real completed run would be announced. With --failed, sends a failed run instead.",
	Args: cobra.NoArgs,
	RunE: runNotifyTest,
}

func init() {
	notifyTestCmd.Flags().BoolVar(&notifyFailed, "failed", false, "announce a failed run instead of a completed one")
	notifyCmd.AddCommand(notifyTestCmd)
	rootCmd.AddCommand(notifyCmd)
}

// sampleOutcome is the status announced by `notify test`.
func sampleOutcome(failed bool) model.Status {
	if failed {
		return model.StatusFailed
	}
	return model.StatusCompleted
}

func runNotifyTest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		exitf("failed to load config: %v", err)
	}

	logger := setupLogger(debug)
	status := sampleOutcome(notifyFailed)
	n := setupNotifier(cfg, &http.Client{Timeout: 30 * time.Second}, logger)

	if err := notifier.SendTestMessage(n, status); err != nil {
		exitf("%s notification for a sample %s run failed: %v", cfg.Notification.Type, status, err)
	}
	logger.Info("sample run announced", "notifier", cfg.Notification.Type, "status", status)
	return nil
}
