package jobstate

import (
	"sync"

	"github.com/amishk599/runwatch/internal/model"
)

// Phase is the polling machine's lifecycle position as seen by consumers.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseSubmitting Phase = "submitting"
	PhasePolling    Phase = "polling"
	PhaseRetrying   Phase = "retrying" // transient network failure, job status unchanged
	PhaseCompleted  Phase = "completed"
	PhaseFailed     Phase = "failed"
)

// Epoch identifies one job lifecycle. Reset starts a new one.
type Epoch uint64

// State is a point-in-time copy of everything the store holds.
type State struct {
	Epoch          Epoch
	Snapshot       *model.Snapshot
	PollingActive  bool
	Phase          Phase
	Attempt        float64
	TransientError string // last network error while in PhaseRetrying
}

// Observer receives a copy of the state after every accepted write.
type Observer func(State)

// Store is the single source of truth for the current job. It has one
// logical writer (the active polling machine) and any number of readers.
// Writes tagged with a stale epoch are dropped.
type Store struct {
	mu        sync.RWMutex
	state     State
	observers map[int]Observer
	nextID    int
	notifyMu  sync.Mutex
}

// NewStore returns an idle store.
func NewStore() *Store {
	return &Store{
		state:     State{Phase: PhaseIdle},
		observers: make(map[int]Observer),
	}
}

// State returns a copy of the current state.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.copy()
}

// Snapshot returns a copy of the current snapshot, or nil.
func (s *Store) Snapshot() *model.Snapshot {
	return s.State().Snapshot
}

// PollingActive reports the Polling-Active flag.
func (s *Store) PollingActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.PollingActive
}

// Epoch returns the current epoch.
func (s *Store) Epoch() Epoch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Epoch
}

// IsCurrent reports whether e is still the active epoch.
func (s *Store) IsCurrent(e Epoch) bool {
	return s.Epoch() == e
}

// Subscribe registers an observer and returns a function that removes it.
// Observers run synchronously in the writer's goroutine, in write order. They
// must not block and must not write to the store.
func (s *Store) Subscribe(o Observer) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.observers[id] = o
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

// Reset clears the snapshot, lowers the flag, returns to idle and starts a
// new epoch, which invalidates every write tagged with an older one.
func (s *Store) Reset() Epoch {
	var e Epoch
	s.update(func(st *State) bool {
		st.Epoch++
		e = st.Epoch
		st.Snapshot = nil
		st.PollingActive = false
		st.Phase = PhaseIdle
		st.Attempt = 0
		st.TransientError = ""
		return true
	})
	return e
}

// SetSnapshot replaces the snapshot if e is current. No history is kept.
func (s *Store) SetSnapshot(e Epoch, snap model.Snapshot) bool {
	return s.update(func(st *State) bool {
		if st.Epoch != e {
			return false
		}
		st.Snapshot = &snap
		return true
	})
}

// SetPollingActive sets the flag if e is current.
func (s *Store) SetPollingActive(e Epoch, active bool) bool {
	return s.update(func(st *State) bool {
		if st.Epoch != e {
			return false
		}
		st.PollingActive = active
		return true
	})
}

// StopPolling lowers the flag for whatever job is current. It is the
// external safety valve: the machine checks the flag before every poll.
func (s *Store) StopPolling() {
	s.update(func(st *State) bool {
		if !st.PollingActive {
			return false
		}
		st.PollingActive = false
		return true
	})
}

// SetPhase moves the lifecycle phase if e is current. Leaving PhaseRetrying
// clears the transient error.
func (s *Store) SetPhase(e Epoch, p Phase) bool {
	return s.update(func(st *State) bool {
		if st.Epoch != e {
			return false
		}
		st.Phase = p
		if p != PhaseRetrying {
			st.TransientError = ""
		}
		return true
	})
}

// SetAttempt records the poll attempt counter if e is current.
func (s *Store) SetAttempt(e Epoch, attempt float64) bool {
	return s.update(func(st *State) bool {
		if st.Epoch != e {
			return false
		}
		st.Attempt = attempt
		return true
	})
}

// SetTransientError enters PhaseRetrying with the given message if e is current.
func (s *Store) SetTransientError(e Epoch, msg string) bool {
	return s.update(func(st *State) bool {
		if st.Epoch != e {
			return false
		}
		st.Phase = PhaseRetrying
		st.TransientError = msg
		return true
	})
}

// Apply runs several writes as one update under e, notifying observers once.
func (s *Store) Apply(e Epoch, fn func(st *State)) bool {
	return s.update(func(st *State) bool {
		if st.Epoch != e {
			return false
		}
		fn(st)
		return true
	})
}

// update applies fn under the write lock and, if it changed anything,
// notifies observers with the resulting state. notifyMu keeps notifications
// in write order.
func (s *Store) update(fn func(st *State) bool) bool {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if !fn(&s.state) {
		s.mu.Unlock()
		return false
	}
	st := s.state.copy()
	observers := make([]Observer, 0, len(s.observers))
	for _, o := range s.observers {
		observers = append(observers, o)
	}
	s.mu.Unlock()

	for _, o := range observers {
		o(st)
	}
	return true
}

func (st State) copy() State {
	if st.Snapshot != nil {
		snap := *st.Snapshot
		st.Snapshot = &snap
	}
	return st
}
