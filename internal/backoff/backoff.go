package backoff

import (
	"math"
	"time"

	"github.com/amishk599/runwatch/internal/model"
)

const (
	DefaultBase = 1 * time.Second
	DefaultMax  = 30 * time.Second
)

// Scheduler computes the delay before the next status poll from the attempt
// counter and the last observed status. It is deterministic: no jitter.
type Scheduler struct {
	Base time.Duration // multiplied by 2^attempt
	Max  time.Duration // cap applied before the running-status halving
}

// NewScheduler returns a scheduler with the given base and cap. Zero values
// fall back to DefaultBase and DefaultMax.
func NewScheduler(base, maxDelay time.Duration) Scheduler {
	if base <= 0 {
		base = DefaultBase
	}
	if maxDelay <= 0 {
		maxDelay = DefaultMax
	}
	return Scheduler{Base: base, Max: maxDelay}
}

// Delay returns min(2^attempt * Base, Max), halved while the job is running.
// Fractional attempts are used as-is.
func (s Scheduler) Delay(attempt float64, status model.Status) time.Duration {
	d := float64(s.Base) * math.Pow(2, attempt)
	if d > float64(s.Max) {
		d = float64(s.Max)
	}
	if status == model.StatusRunning {
		d /= 2
	}
	return time.Duration(d)
}

// Increment returns how much the attempt counter grows after a poll that
// observed status. Running jobs advance by half a step so they are polled
// more densely; everything else, including network retries, by one.
func (s Scheduler) Increment(status model.Status) float64 {
	if status == model.StatusRunning {
		return 0.5
	}
	return 1
}
