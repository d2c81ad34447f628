package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/WelcomerTeam/Tether/internal/analytics"
	"github.com/WelcomerTeam/Tether/internal/netutil"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
	"nhooyr.io/websocket"
)

// decision is what the supervisor does after a connection ended.
type decision struct {
	// retry is false when Run should return err.
	retry bool

	// immediate skips the backoff delay.
	immediate bool
	resume    bool

	reason string
	err    error
}

// Supervisor keeps a gateway connection running, reconnecting and resuming
// whenever it drops.
type Supervisor struct {
	Logger zerolog.Logger

	config     Config
	dispatcher Dispatcher

	// Reconnect controls whether faults are retried. When false the first
	// fault is returned from Run.
	Reconnect bool
	Backoff   *Backoff

	sessionMu sync.Mutex
	session   Session

	current *atomic.Pointer[Connection]

	// stop belongs to the active Run and is nil while none is running.
	stopMu sync.Mutex
	stop   chan struct{}
}

func NewSupervisor(logger zerolog.Logger, config Config, dispatcher Dispatcher) *Supervisor {
	config = config.withDefaults()

	return &Supervisor{
		Logger: logger,

		config:     config,
		dispatcher: dispatcher,

		Reconnect: true,
		Backoff:   NewBackoff(DefaultBackoffBase),

		session: Session{Sequence: NoSequence},

		current: atomic.NewPointer[Connection](nil),
	}
}

// Session returns the session left by the last connection.
func (s *Supervisor) Session() Session {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	return s.session
}

// Connection returns the live connection, if any.
func (s *Supervisor) Connection() *Connection {
	return s.current.Load()
}

// Stop closes the live connection with code and makes the active Run
// return. It does nothing when Run is not running.
func (s *Supervisor) Stop(code websocket.StatusCode) {
	s.stopMu.Lock()
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
	s.stopMu.Unlock()

	if conn := s.current.Load(); conn != nil {
		conn.Close(code)
	}
}

// begin hands a fresh stop channel to a starting Run.
func (s *Supervisor) begin() chan struct{} {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()

	s.stop = make(chan struct{})

	return s.stop
}

// end clears stop if it still belongs to the Run that is returning.
func (s *Supervisor) end(stop chan struct{}) {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()

	if s.stop == stop {
		s.stop = nil
	}
}

func stopped(stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}

// Run connects and keeps the connection alive until ctx is done, Stop is
// called or a fault that cannot be recovered from happens. The first
// connection resumes the last known session when resume is set. Run may be
// called again after it returned but not concurrently.
func (s *Supervisor) Run(ctx context.Context, resume bool) error {
	stop := s.begin()
	defer s.end(stop)

	for {
		if stopped(stop) {
			return nil
		}

		conn := NewConnection(s.Logger, s.config, s.dispatcher, s.Session())
		s.current.Store(conn)

		// Stop may have run between the check above and publishing conn.
		if stopped(stop) {
			s.current.Store(nil)

			return nil
		}

		err := conn.Run(ctx, resume)

		s.current.Store(nil)

		s.sessionMu.Lock()
		s.session = conn.Session()
		s.sessionMu.Unlock()

		s.disconnect(ctx)

		if stopped(stop) {
			return nil
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		d := s.decide(err, s.Session())

		if !d.retry {
			if d.err != nil {
				s.Logger.Error().Err(d.err).Msg("Gateway connection failed")
			}

			return d.err
		}

		analytics.RecordReconnect(d.reason)

		resume = d.resume

		if d.immediate {
			s.Logger.Info().Err(err).Str("reason", d.reason).Bool("resume", resume).Msg("Reconnecting to gateway")

			continue
		}

		delay := s.Backoff.Delay()

		s.Logger.Warn().Err(err).Str("reason", d.reason).Bool("resume", resume).Dur("delay", delay).Msg("Gateway connection dropped, reconnecting")

		if err := s.wait(ctx, stop, delay); err != nil {
			return err
		}
	}
}

// decide classifies why a connection ended.
func (s *Supervisor) decide(err error, session Session) decision {
	var (
		reconnect *ReconnectError
		closeErr  *CloseError
	)

	switch {
	case errors.As(err, &reconnect):
		// Reconnect requests are part of the protocol rather than faults, so
		// they are followed even when reconnecting is disabled.
		return decision{retry: true, immediate: true, resume: reconnect.Resume, reason: "reconnect"}
	case errors.Is(err, ErrMissingToken):
		return decision{err: err}
	case errors.As(err, &closeErr):
		switch ClassifyClose(closeErr.Code, closeErr.Requested) {
		case CloseActionStop:
			return decision{}
		case CloseActionFatal:
			return decision{err: closeErr}
		case CloseActionPrivilegedIntents:
			return decision{err: fmt.Errorf("%w: %w", ErrPrivilegedIntentsRequired, closeErr)}
		}

		if !s.Reconnect {
			return decision{err: closeErr}
		}

		return decision{retry: true, resume: session.Resumable(), reason: fmt.Sprintf("close_%d", closeErr.Code)}
	case netutil.IsConnectionReset(err):
		if !s.Reconnect {
			return decision{err: err}
		}

		return decision{retry: true, immediate: true, resume: true, reason: "connection_reset"}
	default:
		if !s.Reconnect {
			return decision{err: err}
		}

		return decision{retry: true, resume: session.Resumable(), reason: "error"}
	}
}

func (s *Supervisor) disconnect(ctx context.Context) {
	if s.dispatcher == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.Logger.Error().Interface("recovered", r).Msg("Recovered panic in disconnect handler")
		}
	}()

	s.dispatcher.Disconnect(ctx)
}

func (s *Supervisor) wait(ctx context.Context, stop <-chan struct{}, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-stop:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
