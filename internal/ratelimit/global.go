package ratelimit

import (
	"context"
	"sync"
	"time"
)

// GlobalThrottle blocks every bucket of a registry while tripped.
type GlobalThrottle struct {
	mu      sync.Mutex
	cleared chan struct{}
	resetAt time.Time
	timer   *time.Timer
	// generation invalidates timers that were replaced by a longer trip.
	generation uint64
}

func NewGlobalThrottle() *GlobalThrottle {
	cleared := make(chan struct{})
	close(cleared)

	return &GlobalThrottle{
		cleared: cleared,
	}
}

// Trip blocks all buckets for retryAfter. Tripping an already tripped
// throttle only ever extends it.
func (g *GlobalThrottle) Trip(retryAfter time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	resetAt := time.Now().Add(retryAfter)

	if g.isTripped() {
		if !resetAt.After(g.resetAt) {
			return
		}

		g.timer.Stop()
	} else {
		g.cleared = make(chan struct{})
	}

	g.generation++
	g.resetAt = resetAt

	generation := g.generation

	g.timer = time.AfterFunc(retryAfter, func() {
		g.mu.Lock()
		defer g.mu.Unlock()

		if g.generation == generation {
			g.release()
		}
	})
}

// Clear lifts the throttle before its reset time.
func (g *GlobalThrottle) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.generation++
	g.release()
}

func (g *GlobalThrottle) release() {
	if !g.isTripped() {
		return
	}

	if g.timer != nil {
		g.timer.Stop()
	}

	close(g.cleared)
}

func (g *GlobalThrottle) isTripped() bool {
	select {
	case <-g.cleared:
		return false
	default:
		return true
	}
}

// IsTripped reports if requests are currently held back.
func (g *GlobalThrottle) IsTripped() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.isTripped()
}

// ResetAt returns when the current trip ends. Only meaningful while tripped.
func (g *GlobalThrottle) ResetAt() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.resetAt
}

// Cleared returns a channel that is closed once the throttle is not tripped.
func (g *GlobalThrottle) Cleared() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.cleared
}

// Wait blocks until the throttle clears or ctx is done.
func (g *GlobalThrottle) Wait(ctx context.Context) error {
	select {
	case <-g.Cleared():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
