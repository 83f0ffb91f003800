package notifier

import (
	"log/slog"
	"sync"

	"github.com/amishk599/runwatch/internal/jobstate"
	"github.com/amishk599/runwatch/internal/model"
)

// TerminalObserver announces each job once, when its snapshot first reaches
// a terminal status. The ledger survives restarts, so re-attaching to a
// finished job does not announce it again.
//
// Notifications are sent on their own goroutine: a slow webhook never holds
// up store writers such as Cancel. Call Wait before exiting.
type TerminalObserver struct {
	notifier model.Notifier
	ledger   model.NotificationLedger
	logger   *slog.Logger

	mu        sync.Mutex
	announced map[model.JobHandle]bool
	wg        sync.WaitGroup
}

// NewTerminalObserver creates an observer; subscribe its Observe method to a store.
func NewTerminalObserver(n model.Notifier, ledger model.NotificationLedger, logger *slog.Logger) *TerminalObserver {
	return &TerminalObserver{
		notifier:  n,
		ledger:    ledger,
		logger:    logger,
		announced: make(map[model.JobHandle]bool),
	}
}

// Observe implements jobstate.Observer.
func (o *TerminalObserver) Observe(st jobstate.State) {
	if st.Snapshot == nil || !st.Snapshot.Status.IsTerminal() {
		return
	}
	snap := *st.Snapshot

	o.mu.Lock()
	if o.announced[snap.Handle] {
		o.mu.Unlock()
		return
	}
	o.announced[snap.Handle] = true
	o.wg.Add(1)
	o.mu.Unlock()

	go func() {
		defer o.wg.Done()
		o.announce(snap)
	}()
}

// Wait blocks until every notification started so far has finished.
func (o *TerminalObserver) Wait() {
	o.wg.Wait()
}

func (o *TerminalObserver) announce(snap model.Snapshot) {
	seen, err := o.ledger.HasNotified(snap.Handle)
	if err != nil {
		o.logger.Error("checking notification ledger", "task_id", snap.Handle, "error", err)
		return
	}
	if seen {
		o.logger.Debug("outcome already announced", "task_id", snap.Handle)
		return
	}

	if err := o.notifier.Notify(snap); err != nil {
		o.logger.Error("notification failed", "task_id", snap.Handle, "error", err)
		return
	}
	if err := o.ledger.MarkNotified(snap.Handle, snap.Status); err != nil {
		o.logger.Error("recording notification", "task_id", snap.Handle, "error", err)
	}
}
