package gateway

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/WelcomerTeam/Tether/internal/analytics"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

const (
	// HeartbeatPollInterval is how often a blocked heartbeat send is reported.
	HeartbeatPollInterval = 10 * time.Second

	// HeartbeatMaxPolls is how many polls a send may stay blocked before the
	// connection is considered dead.
	HeartbeatMaxPolls = 6

	// HeartbeatLatencyWarning is the ack latency above which a warning is logged.
	HeartbeatLatencyWarning = 10 * time.Second
)

// Heartbeater keeps a connection alive. It runs on its own goroutine so a
// slow dispatcher cannot delay heartbeats.
type Heartbeater struct {
	Logger zerolog.Logger

	interval   time.Duration
	maxTimeout time.Duration

	pollInterval time.Duration
	maxPolls     int

	send func(ctx context.Context) error
	dead func(cause error)

	lastSent *atomic.Time
	lastAck  *atomic.Time
	lastRecv *atomic.Time
	latency  *atomic.Duration
	acked    *atomic.Bool
	timedOut *atomic.Bool

	beat     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewHeartbeater creates a heartbeater for the interval announced by hello.
// send writes a single heartbeat frame and dead is called once when the
// connection should be torn down.
func NewHeartbeater(logger zerolog.Logger, interval, maxTimeout time.Duration, send func(ctx context.Context) error, dead func(cause error)) *Heartbeater {
	now := time.Now()

	return &Heartbeater{
		Logger: logger,

		interval:   interval,
		maxTimeout: maxTimeout,

		pollInterval: HeartbeatPollInterval,
		maxPolls:     HeartbeatMaxPolls,

		send: send,
		dead: dead,

		lastSent: atomic.NewTime(time.Time{}),
		lastAck:  atomic.NewTime(time.Time{}),
		lastRecv: atomic.NewTime(now),
		latency:  atomic.NewDuration(0),
		acked:    atomic.NewBool(false),
		timedOut: atomic.NewBool(false),

		beat: make(chan struct{}, 1),
		stop: make(chan struct{}),
	}
}

// Interval returns the heartbeat interval announced by the gateway.
func (h *Heartbeater) Interval() time.Duration {
	return h.interval
}

// Start runs the heartbeat loop until Stop is called or ctx is done.
func (h *Heartbeater) Start(ctx context.Context) {
	h.wg.Add(1)

	go h.run(ctx)
}

// Stop ends the heartbeat loop and waits for it to return.
func (h *Heartbeater) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
	})

	h.wg.Wait()
}

// Tick records that a frame was received.
func (h *Heartbeater) Tick() {
	h.lastRecv.Store(time.Now())
}

// Beat asks for a heartbeat to be sent now.
func (h *Heartbeater) Beat() {
	select {
	case h.beat <- struct{}{}:
	default:
	}
}

// Ack records a heartbeat acknowledgement.
func (h *Heartbeater) Ack() {
	now := time.Now()
	latency := now.Sub(h.lastSent.Load())

	h.lastAck.Store(now)
	h.latency.Store(latency)
	h.acked.Store(true)

	if latency > HeartbeatLatencyWarning {
		h.Logger.Warn().Dur("latency", latency).Msg("Gateway is responding slowly to heartbeats")
	}

	analytics.UpdateGatewayLatency(latency)
}

// Latency returns the time between the last heartbeat and its ack. ok is
// false until the first ack arrived.
func (h *Heartbeater) Latency() (latency time.Duration, ok bool) {
	if !h.acked.Load() {
		return 0, false
	}

	return h.latency.Load(), true
}

// LastAck returns when the last heartbeat ack was received.
func (h *Heartbeater) LastAck() time.Time {
	return h.lastAck.Load()
}

// TimedOut reports whether the heartbeater gave up on the connection.
func (h *Heartbeater) TimedOut() bool {
	return h.timedOut.Load()
}

func (h *Heartbeater) run(ctx context.Context) {
	defer h.wg.Done()

	// The first beat is jittered so many clients reconnecting together do
	// not heartbeat in lockstep.
	jitter := time.Duration(rand.Int64N(int64(h.interval) + 1))

	ticker := time.NewTicker(max(jitter, time.Millisecond))
	defer ticker.Stop()

	hasJitter := true

	h.Logger.Debug().Dur("interval", h.interval).Dur("jitter", jitter).Msg("Started heartbeating")

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stop:
			return
		case <-h.beat:
			if !h.sendBeat(ctx) {
				return
			}
		case <-ticker.C:
			if hasJitter {
				hasJitter = false

				ticker.Reset(h.interval)
			}

			// The gateway has a full interval plus the timeout to answer.
			if since := time.Since(h.lastRecv.Load()); since > h.interval+h.maxTimeout {
				h.Logger.Warn().Dur("since", since).Msg("Gateway stopped sending frames")
				h.timedOut.Store(true)
				h.dead(ErrHeartbeatTimeout)

				return
			}

			if !h.sendBeat(ctx) {
				return
			}
		}
	}
}

// sendBeat writes a heartbeat, reporting while the write is blocked. It
// returns false once the connection is considered dead.
func (h *Heartbeater) sendBeat(ctx context.Context) bool {
	result := make(chan error, 1)

	go func() {
		h.lastSent.Store(time.Now())
		result <- h.send(ctx)
	}()

	poll := time.NewTicker(h.pollInterval)
	defer poll.Stop()

	polls := 0

	for {
		select {
		case err := <-result:
			if err != nil {
				if ctx.Err() == nil {
					h.Logger.Error().Err(err).Msg("Failed to send heartbeat")
					h.dead(fmt.Errorf("failed to send heartbeat: %w", err))
				}

				return false
			}

			return true
		case <-poll.C:
			polls++

			if polls >= h.maxPolls {
				h.Logger.Error().Int("polls", polls).Msg("Heartbeat blocked for too long")
				h.timedOut.Store(true)
				h.dead(ErrHeartbeatTimeout)

				return false
			}

			h.Logger.Warn().Int("polls", polls).Dur("blocked", time.Duration(polls)*h.pollInterval).Msg("Heartbeat is blocked")
		case <-ctx.Done():
			return false
		case <-h.stop:
			return false
		}
	}
}
