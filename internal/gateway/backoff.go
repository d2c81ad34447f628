package gateway

import (
	"math/rand/v2"
	"sync"
	"time"
)

const (
	DefaultBackoffBase = time.Second
	backoffMaxExponent = 10
	backoffResetAfter  = 1 << 11
)

// Backoff produces exponentially growing delays with full jitter. Delays
// start over once the previous delay was asked for long enough ago, which
// means the connection in between was healthy.
type Backoff struct {
	base       time.Duration
	resetAfter time.Duration

	mu       sync.Mutex
	exponent int
	last     time.Time
}

func NewBackoff(base time.Duration) *Backoff {
	if base <= 0 {
		base = DefaultBackoffBase
	}

	return &Backoff{
		base:       base,
		resetAfter: base * backoffResetAfter,
	}
}

// Delay returns how long to wait before the next attempt.
func (b *Backoff) Delay() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()

	if !b.last.IsZero() && now.Sub(b.last) > b.resetAfter {
		b.exponent = 0
	}

	b.last = now
	b.exponent = min(b.exponent+1, backoffMaxExponent)

	return time.Duration(rand.Float64() * float64(b.base<<b.exponent))
}

// Max returns the longest delay the backoff can currently return.
func (b *Backoff) Max() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.base << b.exponent
}

// Reset starts the delays over.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.exponent = 0
	b.last = time.Time{}
}
