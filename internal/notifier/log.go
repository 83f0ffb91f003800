package notifier

import (
	"log/slog"

	"github.com/amishk599/runwatch/internal/model"
)

// Ensure LogNotifier implements model.Notifier.
var _ model.Notifier = (*LogNotifier)(nil)

// LogNotifier writes terminal job outcomes to the given logger.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier returns a notifier that logs each outcome via slog.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs the outcome with task id, status and error or result size.
// Returns nil (stdout logging does not fail).
func (n *LogNotifier) Notify(snap model.Snapshot) error {
	args := []any{"task_id", snap.Handle, "status", snap.Status}
	if !snap.UpdatedAt.IsZero() {
		args = append(args, "updated_at", snap.UpdatedAt)
	}
	if snap.Status == model.StatusFailed {
		args = append(args, "error", snap.Error)
		n.logger.Warn("job finished", args...)
		return nil
	}
	args = append(args, "result_bytes", len(snap.Result))
	n.logger.Info("job finished", args...)
	return nil
}
