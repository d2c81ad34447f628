package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/WelcomerTeam/Tether/discord"
	"go.uber.org/atomic"
)

// Limits used for a bucket the server has not described yet.
const (
	DefaultLimit  = 5
	DefaultPeriod = time.Second
)

type waiter struct {
	ready     chan error
	cancelled atomic.Bool
}

// Bucket hands out request permits for one server side ratelimit bucket.
// Permits are granted immediately while the window has some left, otherwise
// callers queue and a single drain goroutine releases them in order as the
// window refills.
type Bucket struct {
	name   string
	global *GlobalThrottle

	// maxWait is shared with the owning registry so it can be changed at runtime.
	maxWait *atomic.Duration
	done    <-chan struct{}

	mu        sync.Mutex
	limit     int
	remaining int
	period    time.Duration
	resetAt   time.Time
	queue     []*waiter
	draining  bool
}

// NewBucket creates a standalone bucket. Buckets used for requests are
// normally created by a Registry.
func NewBucket(name string, limit int, period time.Duration, global *GlobalThrottle) *Bucket {
	if global == nil {
		global = NewGlobalThrottle()
	}

	if limit < 1 {
		limit = 1
	}

	return &Bucket{
		name:      name,
		global:    global,
		maxWait:   atomic.NewDuration(0),
		limit:     limit,
		remaining: limit,
		period:    period,
	}
}

// Name returns the key the bucket was first registered under.
func (b *Bucket) Name() string {
	return b.name
}

// Acquire blocks until a permit is available. It only fails when ctx is
// done, the registry is closed or the wait would exceed the ceiling.
func (b *Bucket) Acquire(ctx context.Context) error {
	select {
	case <-b.done:
		return ErrRegistryClosed
	default:
	}

	for {
		if err := b.waitGlobal(ctx); err != nil {
			return err
		}

		b.mu.Lock()

		// The throttle may have tripped since waitGlobal returned.
		if !b.global.IsTripped() {
			break
		}

		b.mu.Unlock()
	}

	now := time.Now()
	b.refresh(now)

	if len(b.queue) == 0 && b.remaining > 0 {
		b.remaining--
		b.mu.Unlock()

		return nil
	}

	if ceiling := b.maxWait.Load(); ceiling > 0 {
		if wait := b.resetAt.Sub(now); wait > ceiling {
			err := &CeilingExceededError{Bucket: b.name, RetryAfter: wait}
			b.failQueue(err)
			b.mu.Unlock()

			return err
		}
	}

	w := &waiter{ready: make(chan error, 1)}
	b.enqueue(w)

	b.mu.Unlock()

	select {
	case err := <-w.ready:
		return err
	case <-ctx.Done():
		b.cancel(w)

		return ctx.Err()
	case <-b.done:
		return ErrRegistryClosed
	}
}

// cancel marks w as abandoned. A permit that was granted to w after ctx was
// done is handed back to the bucket.
func (b *Bucket) cancel(w *waiter) {
	b.mu.Lock()
	defer b.mu.Unlock()

	w.cancelled.Store(true)

	select {
	case err := <-w.ready:
		if err == nil {
			b.remaining = min(b.remaining+1, b.limit)
			b.enqueue()
		}
	default:
	}
}

func (b *Bucket) waitGlobal(ctx context.Context) error {
	cleared := b.global.Cleared()

	select {
	case <-cleared:
		return nil
	default:
	}

	if ceiling := b.maxWait.Load(); ceiling > 0 {
		if wait := time.Until(b.global.ResetAt()); wait > ceiling {
			return &CeilingExceededError{Bucket: "global", RetryAfter: wait}
		}
	}

	select {
	case <-cleared:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		return ErrRegistryClosed
	}
}

// enqueue adds waiters to the queue and makes sure a drain goroutine is
// running. b.mu must be held.
func (b *Bucket) enqueue(waiters ...*waiter) {
	b.queue = append(b.queue, waiters...)

	if !b.draining && len(b.queue) > 0 {
		b.draining = true

		go b.drain()
	}
}

// takeQueue removes and returns every queued waiter. Used when the bucket is
// merged into another.
func (b *Bucket) takeQueue() []*waiter {
	b.mu.Lock()
	defer b.mu.Unlock()

	queue := b.queue
	b.queue = nil

	return queue
}

func (b *Bucket) drain() {
	for {
		b.mu.Lock()

		if len(b.queue) == 0 {
			b.draining = false
			b.mu.Unlock()

			return
		}

		now := time.Now()
		b.refresh(now)

		wait := b.resetAt.Sub(now)

		if b.remaining > 0 {
			wait = 0
		} else if ceiling := b.maxWait.Load(); ceiling > 0 && wait > ceiling {
			b.failQueue(&CeilingExceededError{Bucket: b.name, RetryAfter: wait})
			b.draining = false
			b.mu.Unlock()

			return
		}

		b.mu.Unlock()

		if wait > 0 {
			timer := time.NewTimer(wait)

			select {
			case <-timer.C:
			case <-b.done:
				timer.Stop()
				b.abort()

				return
			}
		}

		select {
		case <-b.global.Cleared():
		case <-b.done:
			b.abort()

			return
		}

		b.mu.Lock()
		b.refresh(time.Now())

		for b.remaining > 0 && len(b.queue) > 0 {
			w := b.queue[0]
			b.queue[0] = nil
			b.queue = b.queue[1:]

			if w.cancelled.Load() {
				continue
			}

			b.remaining--
			w.ready <- nil
		}

		b.mu.Unlock()
	}
}

func (b *Bucket) abort() {
	b.mu.Lock()
	b.failQueue(ErrRegistryClosed)
	b.draining = false
	b.mu.Unlock()
}

// failQueue releases every waiter with err. b.mu must be held.
func (b *Bucket) failQueue(err error) {
	for _, w := range b.queue {
		w.ready <- err
	}

	b.queue = nil
}

// refresh starts a new window once the previous one has ended. b.mu must be held.
func (b *Bucket) refresh(now time.Time) {
	if !now.Before(b.resetAt) {
		b.remaining = b.limit
		b.resetAt = now.Add(b.period)
	}
}

// Limits describes the ratelimit headers of a single response. Fields whose
// header was absent are left unset.
type Limits struct {
	Limit      int
	Remaining  int
	ResetAfter time.Duration

	HasLimit      bool
	HasRemaining  bool
	HasResetAfter bool
}

// ParseLimits reads the ratelimit headers of a response. Malformed values
// are treated as absent.
func ParseLimits(header http.Header) Limits {
	var limits Limits

	if value := header.Get(discord.HeaderRateLimitLimit); value != "" {
		if limit, err := strconv.Atoi(value); err == nil {
			limits.Limit = limit
			limits.HasLimit = true
		}
	}

	if value := header.Get(discord.HeaderRateLimitRemaining); value != "" {
		if remaining, err := strconv.Atoi(value); err == nil {
			limits.Remaining = remaining
			limits.HasRemaining = true
		}
	}

	if value := header.Get(discord.HeaderRateLimitResetAfter); value != "" {
		if resetAfter, err := strconv.ParseFloat(value, 64); err == nil {
			limits.ResetAfter = time.Duration(resetAfter * float64(time.Second))
			limits.HasResetAfter = true
		}
	}

	return limits
}

// Apply refreshes the bucket from response headers.
func (b *Bucket) Apply(limits Limits) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if limits.HasLimit {
		b.limit = max(limits.Limit, 1)
	}

	if limits.HasRemaining {
		b.remaining = min(max(limits.Remaining, 0), b.limit)
	}

	if limits.HasResetAfter {
		b.resetAt = time.Now().Add(limits.ResetAfter)
	}
}

// IsLimited reports whether the current window has no permits left.
func (b *Bucket) IsLimited() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.remaining == 0 && time.Now().Before(b.resetAt)
}

// Remaining returns the permits left in the current window.
func (b *Bucket) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.remaining
}

func (b *Bucket) Limit() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.limit
}

func (b *Bucket) ResetAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.resetAt
}

// Queued returns how many callers are waiting for a permit.
func (b *Bucket) Queued() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.queue)
}
