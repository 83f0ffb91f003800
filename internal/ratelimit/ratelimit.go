package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/amishk599/runwatch/internal/model"
)

// Limiter enforces a minimum gap between requests that share a key.
type Limiter struct {
	mu       sync.Mutex
	lastCall map[string]time.Time // key: service base URL
	minDelay time.Duration
}

// NewLimiter creates a limiter that enforces minDelay between consecutive
// requests with the same key. A zero minDelay never waits.
func NewLimiter(minDelay time.Duration) *Limiter {
	return &Limiter{
		lastCall: make(map[string]time.Time),
		minDelay: minDelay,
	}
}

// Wait blocks until enough time has passed since the last request for key.
// Returns an error if the context is cancelled while waiting.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	l.mu.Lock()
	last, ok := l.lastCall[key]
	now := time.Now()

	if !ok || now.Sub(last) >= l.minDelay {
		l.lastCall[key] = now
		l.mu.Unlock()
		return nil
	}

	// Reserve the next slot before releasing the lock so concurrent callers
	// queue behind it instead of all waking at once.
	next := last.Add(l.minDelay)
	l.lastCall[key] = next
	l.mu.Unlock()

	select {
	case <-ctx.Done():
		return fmt.Errorf("rate limiter wait for %s: %w", key, ctx.Err())
	case <-time.After(time.Until(next)):
	}
	return nil
}

// Ensure Transport implements the interfaces it decorates.
var (
	_ model.Transport     = (*Transport)(nil)
	_ model.HistoryLister = (*Transport)(nil)
)

// Inner is what Transport wraps: the job calls plus the history read.
type Inner interface {
	model.Transport
	model.HistoryLister
}

// Transport is a decorator that waits on the limiter before delegating every
// call to the wrapped transport. All transports for the same service should
// share one limiter.
type Transport struct {
	inner   Inner
	limiter *Limiter
	key     string
}

// NewTransport wraps inner with rate limiting under key.
func NewTransport(inner Inner, limiter *Limiter, key string) *Transport {
	return &Transport{
		inner:   inner,
		limiter: limiter,
		key:     key,
	}
}

// Submit waits for a slot, then submits.
func (t *Transport) Submit(ctx context.Context, payload model.Payload) (model.JobHandle, error) {
	if err := t.limiter.Wait(ctx, t.key); err != nil {
		return "", err
	}
	return t.inner.Submit(ctx, payload)
}

// GetStatus waits for a slot, then fetches the status.
func (t *Transport) GetStatus(ctx context.Context, handle model.JobHandle) (model.Snapshot, error) {
	if err := t.limiter.Wait(ctx, t.key); err != nil {
		return model.Snapshot{}, err
	}
	return t.inner.GetStatus(ctx, handle)
}

// ListJobs waits for a slot, then lists recent runs.
func (t *Transport) ListJobs(ctx context.Context, limit int) ([]model.Snapshot, error) {
	if err := t.limiter.Wait(ctx, t.key); err != nil {
		return nil, err
	}
	return t.inner.ListJobs(ctx, limit)
}
