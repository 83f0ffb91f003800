package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/amishk599/runwatch/internal/model"
	"github.com/amishk599/runwatch/internal/watchui"
)

var watchTUI bool

var watchCmd = &cobra.Command{
	Use:   "watch [task_id]",
	Short: "Poll an existing agent run until it finishes",
	Long:  "Attaches to a run that was submitted earlier. Without a task id, shows a picker over recent runs.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&watchTUI, "tui", false, "show the interactive watch view")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		exitf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	useTUI := watchTUI
	var handle model.JobHandle
	if len(args) == 1 {
		handle = model.JobHandle(args[0])
	} else {
		runs, err := setupTransport(cfg).ListJobs(ctx, cfg.History.Limit)
		if err != nil {
			exitf("listing recent runs: %v", err)
		}
		picked, ok, err := watchui.RunPicker(runs)
		if err != nil {
			exitf("picker: %v", err)
		}
		if !ok {
			return nil
		}
		handle = picked
		// A picked run is watched in the same interactive style.
		useTUI = true
	}

	logger := setupLogger(debug)
	if useTUI {
		logger = silentLogger()
	}

	runs := make(chan []model.Snapshot, 1)
	s := newSession(cfg, historySink(useTUI, runs), logger)
	defer s.close()

	if err := s.machine.Attach(ctx, handle); err != nil {
		exitf("attaching to %s: %v", handle, err)
	}

	st, cancelled, err := follow(ctx, stop, s, useTUI, runs)
	if err != nil {
		exitf("watch view error: %v", err)
	}
	s.close()
	if code := report(st, cancelled); code != 0 {
		os.Exit(code)
	}
	return nil
}
