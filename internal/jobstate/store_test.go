package jobstate

import (
	"testing"

	"github.com/amishk599/runwatch/internal/model"
)

func TestNewStore_IsIdle(t *testing.T) {
	s := NewStore()
	st := s.State()
	if st.Phase != PhaseIdle {
		t.Errorf("phase = %s, want idle", st.Phase)
	}
	if st.PollingActive {
		t.Error("expected polling inactive")
	}
	if st.Snapshot != nil {
		t.Error("expected nil snapshot")
	}
}

func TestReset_ClearsStateAndAdvancesEpoch(t *testing.T) {
	s := NewStore()
	e1 := s.Reset()
	s.SetSnapshot(e1, model.Snapshot{Handle: "a", Status: model.StatusRunning})
	s.SetPollingActive(e1, true)
	s.SetAttempt(e1, 3.5)

	e2 := s.Reset()
	if e2 == e1 {
		t.Fatal("expected Reset to start a new epoch")
	}
	st := s.State()
	if st.Snapshot != nil || st.PollingActive || st.Attempt != 0 || st.Phase != PhaseIdle {
		t.Fatalf("unexpected state after reset: %+v", st)
	}
}

func TestStaleEpochWritesAreDropped(t *testing.T) {
	s := NewStore()
	old := s.Reset()
	current := s.Reset()
	s.SetSnapshot(current, model.Snapshot{Handle: "new", Status: model.StatusPending})

	if s.SetSnapshot(old, model.Snapshot{Handle: "old", Status: model.StatusCompleted}) {
		t.Error("expected stale SetSnapshot to be rejected")
	}
	if s.SetPollingActive(old, true) {
		t.Error("expected stale SetPollingActive to be rejected")
	}
	if got := s.Snapshot(); got == nil || got.Handle != "new" {
		t.Fatalf("snapshot = %+v, want handle new", got)
	}
	if s.PollingActive() {
		t.Error("flag was raised by a stale write")
	}
}

func TestSetSnapshot_ReplacesWithoutHistory(t *testing.T) {
	s := NewStore()
	e := s.Reset()
	snap := model.Snapshot{Handle: "a", Status: model.StatusRunning}
	for i := 0; i < 3; i++ {
		s.SetSnapshot(e, snap)
	}
	got := s.Snapshot()
	if got == nil || got.Handle != "a" || got.Status != model.StatusRunning {
		t.Fatalf("unexpected snapshot %+v", got)
	}
}

func TestObservers_ReceiveWritesInOrder(t *testing.T) {
	s := NewStore()
	var phases []Phase
	unsubscribe := s.Subscribe(func(st State) {
		phases = append(phases, st.Phase)
	})

	e := s.Reset()
	s.SetPhase(e, PhaseSubmitting)
	s.SetPhase(e, PhasePolling)
	s.SetTransientError(e, "dial tcp: connection refused")
	s.SetPhase(e, PhasePolling)

	unsubscribe()
	s.SetPhase(e, PhaseCompleted)

	want := []Phase{PhaseIdle, PhaseSubmitting, PhasePolling, PhaseRetrying, PhasePolling}
	if len(phases) != len(want) {
		t.Fatalf("got %v, want %v", phases, want)
	}
	for i := range want {
		if phases[i] != want[i] {
			t.Errorf("phases[%d] = %s, want %s", i, phases[i], want[i])
		}
	}
}

func TestSetPhase_LeavingRetryingClearsTransientError(t *testing.T) {
	s := NewStore()
	e := s.Reset()
	s.SetTransientError(e, "timeout")
	if st := s.State(); st.Phase != PhaseRetrying || st.TransientError != "timeout" {
		t.Fatalf("unexpected state %+v", st)
	}
	s.SetPhase(e, PhasePolling)
	if st := s.State(); st.TransientError != "" {
		t.Errorf("transient error = %q, want empty", st.TransientError)
	}
}

func TestStopPolling_IgnoresEpoch(t *testing.T) {
	s := NewStore()
	e := s.Reset()
	s.SetPollingActive(e, true)

	s.StopPolling()
	if s.PollingActive() {
		t.Error("expected StopPolling to lower the flag")
	}
}

func TestState_ReturnsCopy(t *testing.T) {
	s := NewStore()
	e := s.Reset()
	s.SetSnapshot(e, model.Snapshot{Handle: "a", Status: model.StatusPending})

	got := s.Snapshot()
	got.Status = model.StatusFailed
	if s.Snapshot().Status != model.StatusPending {
		t.Error("mutating a returned snapshot changed the store")
	}
}
