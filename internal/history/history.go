package history

import (
	"context"
	"log/slog"

	"github.com/amishk599/runwatch/internal/model"
)

// DefaultLimit matches the page size of the service's history view.
const DefaultLimit = 5

// Sink receives the freshly listed runs, newest first.
type Sink func(runs []model.Snapshot)

// Refresher reloads recent runs from the history endpoint after a job
// completes. Failures are logged and never affect the job's own state.
type Refresher struct {
	lister model.HistoryLister
	limit  int
	sink   Sink
	logger *slog.Logger
}

// NewRefresher creates a refresher that lists up to limit runs and passes
// them to sink. A non-positive limit uses DefaultLimit.
func NewRefresher(lister model.HistoryLister, limit int, sink Sink, logger *slog.Logger) *Refresher {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Refresher{
		lister: lister,
		limit:  limit,
		sink:   sink,
		logger: logger,
	}
}

// Refresh lists recent runs and hands them to the sink.
func (r *Refresher) Refresh(ctx context.Context) {
	runs, err := r.lister.ListJobs(ctx, r.limit)
	if err != nil {
		r.logger.Warn("history refresh failed", "error", err)
		return
	}
	r.logger.Debug("history refreshed", "runs", len(runs))
	if r.sink != nil {
		r.sink(runs)
	}
}
