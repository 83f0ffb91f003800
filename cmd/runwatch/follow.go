package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/amishk599/runwatch/internal/jobstate"
	"github.com/amishk599/runwatch/internal/model"
	"github.com/amishk599/runwatch/internal/watchui"
)

// follow blocks until the machine's polling loop exits. When ctx is done
// (SIGINT/SIGTERM) polling is cancelled and stop restores default signal
// handling, so a second interrupt kills the process.
func follow(ctx context.Context, stop context.CancelFunc, s *session, useTUI bool, runs <-chan []model.Snapshot) (jobstate.State, bool, error) {
	release := context.AfterFunc(ctx, func() {
		stop()
		s.machine.Cancel()
	})
	defer release()

	if useTUI {
		outcome, err := watchui.RunWatch(s.machine, runs)
		if err != nil {
			s.machine.Cancel()
			return jobstate.State{}, false, err
		}
		return outcome.State, outcome.Cancelled || ctx.Err() != nil, nil
	}

	unsubscribe := s.machine.Store().Subscribe(progressObserver(s.logger))
	defer unsubscribe()

	<-s.machine.Done()
	return s.machine.State(), ctx.Err() != nil, nil
}

// progressObserver logs each change of phase or job status.
func progressObserver(logger *slog.Logger) jobstate.Observer {
	var lastPhase jobstate.Phase
	var lastStatus model.Status

	return func(st jobstate.State) {
		var status model.Status
		var handle model.JobHandle
		if st.Snapshot != nil {
			status = st.Snapshot.Status
			handle = st.Snapshot.Handle
		}
		if st.Phase == lastPhase && status == lastStatus {
			return
		}
		lastPhase, lastStatus = st.Phase, status

		switch st.Phase {
		case jobstate.PhaseRetrying:
			logger.Warn("service unreachable, retrying", "task_id", handle, "attempt", st.Attempt, "error", st.TransientError)
		case jobstate.PhasePolling:
			logger.Info("job update", "task_id", handle, "status", status, "attempt", st.Attempt)
		case jobstate.PhaseIdle:
			if handle != "" {
				logger.Info("polling stopped", "task_id", handle, "status", status)
			}
		}
	}
}

// report prints the final state and returns the process exit code.
func report(st jobstate.State, cancelled bool) int {
	snap := st.Snapshot
	switch {
	case snap != nil && snap.Status == model.StatusCompleted:
		fmt.Println(formatJSON(snap.Result))
		return 0
	case snap != nil && snap.Status == model.StatusFailed:
		fmt.Fprintf(os.Stderr, "job %s failed: %s\n", snap.Handle, snap.Error)
		return 1
	case snap != nil:
		fmt.Fprintf(os.Stderr, "polling stopped with job %s %s; resume with: runwatch watch %s\n", snap.Handle, snap.Status, snap.Handle)
		if cancelled {
			return 130
		}
		return 1
	default:
		fmt.Fprintln(os.Stderr, "no job was started")
		return 1
	}
}

func formatJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "null"
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}

// printRuns prints recent runs as a table.
func printRuns(runs []model.Snapshot) {
	fmt.Printf("%-38s %-10s %-20s %s\n", "Task", "Status", "Created", "Updated")
	fmt.Println(strings.Repeat("─", 90))
	for _, r := range runs {
		fmt.Printf("%-38s %-10s %-20s %s\n", r.Handle, r.Status, formatTime(r.CreatedAt), formatTime(r.UpdatedAt))
	}
	fmt.Printf("\nTotal: %d runs\n", len(runs))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
