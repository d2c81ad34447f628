package tether

import (
	"math"
	"time"
)

// Status is a snapshot of the client served by the status endpoint.
type Status struct {
	Version   string `json:"version"`
	State     string `json:"state"`
	SessionID string `json:"session_id,omitempty"`
	Sequence  int64  `json:"sequence"`

	// Latency is in milliseconds and absent before the first ack.
	Latency *int64 `json:"latency,omitempty"`

	Uptime time.Duration `json:"uptime"`

	// Events is the number of events dispatched each second of the last
	// minute, oldest first.
	Events           []int64 `json:"events"`
	EventsLastMinute int64   `json:"events_last_minute"`

	Buckets           int  `json:"buckets"`
	GlobalRateLimited bool `json:"global_ratelimited"`
}

func (c *Client) Status() Status {
	session := c.Session()

	status := Status{
		Version:   Version,
		State:     c.State().String(),
		SessionID: session.ID,
		Sequence:  session.Sequence,

		Buckets:           c.REST.Registry.Len(),
		GlobalRateLimited: c.REST.Registry.Global().IsTripped(),
	}

	samples := c.events.Samples()

	status.Events = make([]int64, len(samples.Samples))
	for i, sample := range samples.Samples {
		status.Events[i] = sample.Value
	}

	status.EventsLastMinute = samples.Sum()

	if latency := c.Latency(); !math.IsInf(latency, 1) {
		milliseconds := int64(latency * 1000)
		status.Latency = &milliseconds
	}

	if startedAt := c.startedAt.Load(); !startedAt.IsZero() {
		status.Uptime = time.Since(startedAt)
	}

	return status
}
