package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/amishk599/runwatch/internal/backoff"
	"github.com/amishk599/runwatch/internal/jobstate"
	"github.com/amishk599/runwatch/internal/model"
)

// ErrCancelled is returned by Submit when Cancel was called while the
// submission was in flight. The job may exist on the server but is not polled.
var ErrCancelled = errors.New("submission cancelled")

// ErrSuperseded is returned by Submit when a newer Submit or Attach took
// over the store before this submission resolved.
var ErrSuperseded = errors.New("submission superseded by a newer job")

// Refresher is told when a job completed so the run history can be reloaded.
type Refresher interface {
	Refresh(ctx context.Context)
}

// Machine owns the lifecycle of one in-flight job: submit, poll with
// backoff until a terminal status, and cooperative cancellation. All state
// it produces is written to the store under the epoch of the job it belongs
// to, so a superseded loop can never overwrite a newer job.
type Machine struct {
	transport model.Transport
	store     *jobstate.Store
	sched     backoff.Scheduler
	clock     clockwork.Clock
	refresher Refresher
	logger    *slog.Logger

	mu   sync.Mutex
	stop context.CancelFunc // cancels the current loop's token
	done chan struct{}      // closed when the current loop exits
}

// NewMachine creates a polling machine wired with all its dependencies.
// refresher may be nil.
func NewMachine(
	transport model.Transport,
	store *jobstate.Store,
	sched backoff.Scheduler,
	clock clockwork.Clock,
	refresher Refresher,
	logger *slog.Logger,
) *Machine {
	done := make(chan struct{})
	close(done)
	return &Machine{
		transport: transport,
		store:     store,
		sched:     sched,
		clock:     clock,
		refresher: refresher,
		logger:    logger,
		stop:      func() {},
		done:      done,
	}
}

// Store returns the state store this machine writes to.
func (m *Machine) Store() *jobstate.Store {
	return m.store
}

// Submit starts a new job. Any job being polled is abandoned first: the
// store is reset and the old loop's token is cancelled. Submission failures
// are returned to the caller and never retried; the machine goes back to idle.
func (m *Machine) Submit(ctx context.Context, payload model.Payload) (model.JobHandle, error) {
	epoch, token := m.begin(ctx)
	m.store.SetPhase(epoch, jobstate.PhaseSubmitting)

	handle, err := m.transport.Submit(ctx, payload)
	if err != nil {
		m.store.SetPhase(epoch, jobstate.PhaseIdle)
		m.logger.Error("job submission failed", "error", err)
		return "", err
	}

	if token.Err() != nil {
		m.logger.Warn("job submitted after cancel, not polling", "task_id", handle)
		return handle, ErrCancelled
	}
	if !m.start(ctx, epoch, token, handle) {
		return handle, ErrSuperseded
	}

	m.logger.Info("job submitted", "task_id", handle)
	return handle, nil
}

// Attach starts polling a job that was submitted elsewhere.
func (m *Machine) Attach(ctx context.Context, handle model.JobHandle) error {
	epoch, token := m.begin(ctx)
	if !m.start(ctx, epoch, token, handle) {
		return ErrSuperseded
	}
	m.logger.Info("attached to job", "task_id", handle)
	return nil
}

// Cancel lowers the Polling-Active flag and returns to idle. A status call
// already in flight is not aborted; its snapshot may still be written but no
// further poll is scheduled.
func (m *Machine) Cancel() {
	m.mu.Lock()
	m.stop()
	m.mu.Unlock()

	epoch := m.store.Epoch()
	m.store.Apply(epoch, func(st *jobstate.State) {
		st.PollingActive = false
		st.Phase = jobstate.PhaseIdle
		st.TransientError = ""
	})
	m.logger.Info("polling cancelled")
}

// Done returns a channel that is closed when the current polling loop exits.
// When no loop is running the channel is already closed.
func (m *Machine) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

// Wait blocks until the current polling loop exits or ctx is done.
func (m *Machine) Wait(ctx context.Context) error {
	select {
	case <-m.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns a copy of the store's current state.
func (m *Machine) State() jobstate.State {
	return m.store.State()
}

// begin abandons the current loop, resets the store and mints a new
// cancellation token. The token ignores ctx cancellation: only Cancel and a
// newer job stop polling.
func (m *Machine) begin(ctx context.Context) (jobstate.Epoch, context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stop()
	token, stop := context.WithCancel(context.WithoutCancel(ctx))
	m.stop = stop
	return m.store.Reset(), token
}

// start raises the flag for epoch and launches its loop. It returns false if
// the epoch was superseded.
func (m *Machine) start(ctx context.Context, epoch jobstate.Epoch, token context.Context, handle model.JobHandle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now().UTC()
	ok := m.store.Apply(epoch, func(st *jobstate.State) {
		st.Snapshot = &model.Snapshot{Handle: handle, Status: model.StatusPending, CreatedAt: now, UpdatedAt: now}
		st.PollingActive = true
		st.Phase = jobstate.PhasePolling
		st.Attempt = 1
	})
	if !ok {
		return false
	}

	done := make(chan struct{})
	m.done = done
	go m.run(context.WithoutCancel(ctx), token, epoch, handle, done)
	return true
}

// run is the polling loop for one job. Polls are strictly sequential: the
// next one is scheduled only after the previous call resolved.
func (m *Machine) run(reqCtx, token context.Context, epoch jobstate.Epoch, handle model.JobHandle, done chan struct{}) {
	defer close(done)

	attempt := 1.0
	for {
		if !m.shouldPoll(token, epoch) {
			return
		}

		snap, err := m.transport.GetStatus(reqCtx, handle)
		if !m.store.IsCurrent(epoch) {
			m.logger.Debug("dropping response for superseded job", "task_id", handle)
			return
		}

		var delay time.Duration
		if err != nil {
			if msg, fatal := fatalMessage(err); fatal {
				m.fail(epoch, handle, msg)
				return
			}

			delay = m.sched.Delay(attempt, model.StatusPending)
			attempt++
			if !m.recordRetry(epoch, attempt, err) {
				return
			}
			m.logger.Warn("status poll failed, retrying",
				"task_id", handle,
				"attempt", attempt,
				"delay", delay,
				"error", err,
			)
		} else {
			snap = normalize(snap, handle)
			if snap.Status.IsTerminal() {
				m.finish(reqCtx, epoch, snap)
				return
			}

			delay = m.sched.Delay(attempt, snap.Status)
			attempt += m.sched.Increment(snap.Status)
			if !m.recordProgress(epoch, attempt, snap) {
				return
			}
			m.logger.Debug("job in progress",
				"task_id", handle,
				"status", snap.Status,
				"attempt", attempt,
				"delay", delay,
			)
		}

		if !m.sleep(token, delay) {
			return
		}
	}
}

// shouldPoll is checked before every status call. If the flag was lowered
// from outside while the loop slept, the phase drops back to idle.
func (m *Machine) shouldPoll(token context.Context, epoch jobstate.Epoch) bool {
	if token.Err() != nil {
		return false
	}
	st := m.store.State()
	if st.Epoch != epoch {
		return false
	}
	if !st.PollingActive {
		m.store.Apply(epoch, func(st *jobstate.State) {
			if st.Phase == jobstate.PhasePolling || st.Phase == jobstate.PhaseRetrying {
				st.Phase = jobstate.PhaseIdle
			}
		})
		return false
	}
	return true
}

// recordProgress writes a non-terminal snapshot. After a cancel only the
// snapshot is kept and false is returned so no timer is armed.
func (m *Machine) recordProgress(epoch jobstate.Epoch, attempt float64, snap model.Snapshot) bool {
	active := false
	m.store.Apply(epoch, func(st *jobstate.State) {
		st.Snapshot = &snap
		if !st.PollingActive {
			return
		}
		active = true
		st.Phase = jobstate.PhasePolling
		st.TransientError = ""
		st.Attempt = attempt
	})
	return active
}

// recordRetry enters the retrying sub-state without touching the snapshot.
func (m *Machine) recordRetry(epoch jobstate.Epoch, attempt float64, err error) bool {
	active := false
	m.store.Apply(epoch, func(st *jobstate.State) {
		if !st.PollingActive {
			return
		}
		active = true
		st.Phase = jobstate.PhaseRetrying
		st.TransientError = err.Error()
		st.Attempt = attempt
	})
	return active
}

// finish records a terminal snapshot and lowers the flag. A completed job
// triggers a history refresh.
func (m *Machine) finish(reqCtx context.Context, epoch jobstate.Epoch, snap model.Snapshot) {
	wasActive := false
	m.store.Apply(epoch, func(st *jobstate.State) {
		st.Snapshot = &snap
		wasActive = st.PollingActive
		st.PollingActive = false
		if wasActive {
			st.Phase = terminalPhase(snap.Status)
			st.TransientError = ""
		}
	})
	if !wasActive {
		return
	}

	if snap.Status == model.StatusFailed {
		m.logger.Error("job failed", "task_id", snap.Handle, "error", snap.Error)
		return
	}
	m.logger.Info("job completed", "task_id", snap.Handle)
	if m.refresher != nil {
		m.refresher.Refresh(reqCtx)
	}
}

// fail turns a fatal transport error into a failed terminal snapshot.
func (m *Machine) fail(epoch jobstate.Epoch, handle model.JobHandle, msg string) {
	now := m.clock.Now().UTC()
	m.store.Apply(epoch, func(st *jobstate.State) {
		if !st.PollingActive {
			return
		}
		snap := model.Snapshot{Handle: handle, Status: model.StatusFailed, UpdatedAt: now, Error: msg}
		if st.Snapshot != nil {
			snap.CreatedAt = st.Snapshot.CreatedAt
		}
		st.Snapshot = &snap
		st.PollingActive = false
		st.Phase = jobstate.PhaseFailed
		st.TransientError = ""
	})
	m.logger.Error("status poll rejected, giving up", "task_id", handle, "error", msg)
}

// sleep waits for delay on the injected clock. It returns false if the token
// was cancelled first.
func (m *Machine) sleep(token context.Context, delay time.Duration) bool {
	timer := m.clock.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-token.Done():
		return false
	case <-timer.Chan():
		return true
	}
}

// fatalMessage classifies a status call error. Only an unreachable service
// and a context error (the rate limiter giving up its wait) are retried;
// rejections, broken responses and local failures such as an unbuildable
// request end the job.
func fatalMessage(err error) (string, bool) {
	var te *model.TransportError
	if errors.As(err, &te) {
		return te.Message(), !te.Retryable()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "", false
	}
	return err.Error(), true
}

// normalize fills the handle and guarantees that a failed snapshot carries
// a human-readable message.
func normalize(snap model.Snapshot, handle model.JobHandle) model.Snapshot {
	if snap.Handle == "" {
		snap.Handle = handle
	}
	if snap.Status == model.StatusFailed && snap.Error == "" {
		snap.Error = model.DefaultErrorMessage
	}
	return snap
}

func terminalPhase(s model.Status) jobstate.Phase {
	if s == model.StatusCompleted {
		return jobstate.PhaseCompleted
	}
	return jobstate.PhaseFailed
}

