package limiter

import (
	"context"
	"time"

	"github.com/sasha-s/go-csync"
	"go.uber.org/atomic"
)

// ConcurrencyLimiter object
type ConcurrencyLimiter struct {
	name       string
	limit      int
	tickets    chan int
	inProgress *atomic.Int32
}

// NewConcurrencyLimiter allocates a new ConcurrencyLimiter. This is useful
// for limiting the amount of functions running at once, such as the number
// of REST requests in flight.
func NewConcurrencyLimiter(name string, limit int) *ConcurrencyLimiter {
	c := &ConcurrencyLimiter{
		name:       name,
		limit:      limit,
		tickets:    make(chan int, limit),
		inProgress: atomic.NewInt32(0),
	}

	for i := 0; i < c.limit; i++ {
		c.tickets <- i
	}

	return c
}

// Wait waits for a free ticket in the queue. Functions that call wait
// must defer FreeTicket with the ticket id.
func (c *ConcurrencyLimiter) Wait(ctx context.Context) (ticket int, err error) {
	select {
	case ticket = <-c.tickets:
		c.inProgress.Inc()

		return ticket, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// FreeTicket adds the ticket back into the queue.
func (c *ConcurrencyLimiter) FreeTicket(ticket int) {
	c.tickets <- ticket
	c.inProgress.Dec()
}

// InProgress returns how many tickets are being used
func (c *ConcurrencyLimiter) InProgress() int32 {
	return c.inProgress.Load()
}

// DurationLimiter represents something that will wait until the ratelimit
// has cleared. Callers are served one at a time so a burst of waiters can
// never overdraw the window.
type DurationLimiter struct {
	mu csync.Mutex

	name     string
	limit    int32
	duration time.Duration

	resetsAt  time.Time
	available int32
}

// NewDurationLimiter creates a DurationLimiter. This is useful for allowing
// a specific operation to run only X amount of times in a duration of Y.
func NewDurationLimiter(name string, limit int32, duration time.Duration) *DurationLimiter {
	return &DurationLimiter{
		name:     name,
		limit:    limit,
		duration: duration,
	}
}

// Name returns the name the limiter was created with.
func (l *DurationLimiter) Name() string {
	return l.name
}

// Lock waits until there is an available slot in the limiter or the
// context is done.
func (l *DurationLimiter) Lock(ctx context.Context) error {
	if err := l.mu.CLock(ctx); err != nil {
		return err
	}
	defer l.mu.Unlock()

	for {
		now := time.Now()

		// If we have surpassed the resetAt, then make a new resetAt and free
		// up available.
		if !l.resetsAt.After(now) {
			l.resetsAt = now.Add(l.duration)
			l.available = l.limit
		}

		if l.available > 0 {
			l.available--

			return nil
		}

		timer := time.NewTimer(l.resetsAt.Sub(now))

		select {
		case <-ctx.Done():
			timer.Stop()

			return ctx.Err()
		case <-timer.C:
		}
	}
}

// IsLimited reports whether a call to Lock would currently block.
func (l *DurationLimiter) IsLimited() bool {
	if err := l.mu.CLock(context.Background()); err != nil {
		return false
	}
	defer l.mu.Unlock()

	return l.resetsAt.After(time.Now()) && l.available <= 0
}

// Reset starts a fresh window with every slot available.
func (l *DurationLimiter) Reset() {
	if err := l.mu.CLock(context.Background()); err != nil {
		return
	}
	defer l.mu.Unlock()

	l.resetsAt = time.Time{}
	l.available = l.limit
}
