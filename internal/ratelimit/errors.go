package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

var ErrRegistryClosed = errors.New("ratelimit registry closed")

// CeilingExceededError is returned when waiting for a permit would take longer
// than the configured maximum. Every waiter queued on the bucket at that
// moment receives the same error.
type CeilingExceededError struct {
	Bucket     string
	RetryAfter time.Duration
}

func (e *CeilingExceededError) Error() string {
	return fmt.Sprintf("ratelimit ceiling exceeded on %s: retry after %s", e.Bucket, e.RetryAfter)
}
