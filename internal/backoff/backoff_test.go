package backoff

import (
	"math"
	"testing"
	"time"

	"github.com/amishk599/runwatch/internal/model"
)

func TestDelay_PendingMatchesCappedExponential(t *testing.T) {
	s := NewScheduler(0, 0)
	for attempt := 1; attempt <= 10; attempt++ {
		want := time.Duration(math.Min(math.Pow(2, float64(attempt))*1000, 30000)) * time.Millisecond
		got := s.Delay(float64(attempt), model.StatusPending)
		if got != want {
			t.Errorf("Delay(%d, pending) = %v, want %v", attempt, got, want)
		}
	}
}

func TestDelay_RunningIsHalfOfPending(t *testing.T) {
	s := NewScheduler(0, 0)
	for attempt := 1; attempt <= 10; attempt++ {
		pending := s.Delay(float64(attempt), model.StatusPending)
		running := s.Delay(float64(attempt), model.StatusRunning)
		if running != pending/2 {
			t.Errorf("attempt %d: running delay %v, want %v", attempt, running, pending/2)
		}
	}
}

func TestDelay_KnownValues(t *testing.T) {
	s := NewScheduler(0, 0)
	tests := []struct {
		attempt float64
		status  model.Status
		want    time.Duration
	}{
		{1, model.StatusPending, 2 * time.Second},
		{2, model.StatusPending, 4 * time.Second},
		{4, model.StatusPending, 16 * time.Second},
		{5, model.StatusPending, 30 * time.Second},
		{1, model.StatusRunning, 1 * time.Second},
		{5, model.StatusRunning, 15 * time.Second},
		{20, model.StatusRunning, 15 * time.Second},
	}
	for _, tt := range tests {
		if got := s.Delay(tt.attempt, tt.status); got != tt.want {
			t.Errorf("Delay(%v, %s) = %v, want %v", tt.attempt, tt.status, got, tt.want)
		}
	}
}

func TestDelay_FractionalAttemptIsNotRounded(t *testing.T) {
	s := NewScheduler(0, 0)
	got := s.Delay(1.5, model.StatusPending)
	want := time.Duration(math.Pow(2, 1.5) * float64(time.Second))
	if got != want {
		t.Fatalf("Delay(1.5) = %v, want %v", got, want)
	}
	if got == s.Delay(1, model.StatusPending) || got == s.Delay(2, model.StatusPending) {
		t.Fatalf("fractional attempt was rounded: %v", got)
	}
}

func TestDelay_CustomBaseAndCap(t *testing.T) {
	s := NewScheduler(10*time.Millisecond, 50*time.Millisecond)
	if got := s.Delay(2, model.StatusPending); got != 40*time.Millisecond {
		t.Errorf("Delay(2) = %v, want 40ms", got)
	}
	if got := s.Delay(3, model.StatusPending); got != 50*time.Millisecond {
		t.Errorf("Delay(3) = %v, want capped 50ms", got)
	}
}

func TestIncrement(t *testing.T) {
	s := NewScheduler(0, 0)
	if got := s.Increment(model.StatusPending); got != 1 {
		t.Errorf("Increment(pending) = %v, want 1", got)
	}
	if got := s.Increment(model.StatusRunning); got != 0.5 {
		t.Errorf("Increment(running) = %v, want 0.5", got)
	}
}
