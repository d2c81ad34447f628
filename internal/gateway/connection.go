package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"runtime"
	"sync"
	"time"

	"github.com/WelcomerTeam/Tether/discord"
	"github.com/WelcomerTeam/Tether/internal/codec"
	"github.com/WelcomerTeam/Tether/pkg/bucketstore"
	"github.com/WelcomerTeam/Tether/pkg/limiter"
	"github.com/WelcomerTeam/Tether/tetherjson"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	gotils_strconv "github.com/savsgio/gotils/strconv"
	"go.uber.org/atomic"
	"nhooyr.io/websocket"
)

const (
	GatewayVersion = "10"

	DefaultGatewayURL          = "wss://gateway.discord.gg"
	DefaultConnectTimeout      = 60 * time.Second
	DefaultMaxHeartbeatTimeout = 30 * time.Second
	DefaultLargeThreshold      = 250
	DefaultClientName          = "Tether"

	// DefaultIdentifyInterval spaces out identifies made with the same token.
	DefaultIdentifyInterval = 5500 * time.Millisecond

	// Commands sent to the gateway other than heartbeats share this limit.
	CommandLimit       = 110
	CommandLimitPeriod = time.Minute
)

// TokenProvider returns the token used to identify and resume.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// Dispatcher receives every dispatch event in the order it was received.
type Dispatcher interface {
	Dispatch(ctx context.Context, event string, payload tetherjson.RawMessage) error
	Disconnect(ctx context.Context)
}

// Config describes how a Connection reaches and identifies with the gateway.
type Config struct {
	URL   string
	Token TokenProvider

	Properties     discord.IdentifyProperties
	Presence       *discord.UpdateStatus
	Intents        discord.GatewayIntent
	LargeThreshold int32
	Compression    codec.Compression

	MaxHeartbeatTimeout time.Duration
	ConnectTimeout      time.Duration
	IdentifyInterval    time.Duration

	// Identify is shared between connections so identifies made with the
	// same token are spaced out. A store is created when nil.
	Identify *bucketstore.BucketStore

	DialOptions *websocket.DialOptions
}

func (c Config) withDefaults() Config {
	if c.URL == "" {
		c.URL = DefaultGatewayURL
	}

	if c.Properties.OS == "" {
		c.Properties.OS = runtime.GOOS
	}

	if c.Properties.Browser == "" {
		c.Properties.Browser = DefaultClientName
	}

	if c.Properties.Device == "" {
		c.Properties.Device = DefaultClientName
	}

	if c.LargeThreshold == 0 {
		c.LargeThreshold = DefaultLargeThreshold
	}

	if c.MaxHeartbeatTimeout <= 0 {
		c.MaxHeartbeatTimeout = DefaultMaxHeartbeatTimeout
	}

	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}

	if c.IdentifyInterval <= 0 {
		c.IdentifyInterval = DefaultIdentifyInterval
	}

	if c.Identify == nil {
		c.Identify = bucketstore.NewBucketStore()
	}

	return c
}

type frame struct {
	payload *discord.GatewayPayload
	err     error
}

// Connection is a single gateway socket, from dial to close. A connection
// is run once; reconnecting creates a new Connection from the Session of the
// previous one.
type Connection struct {
	Logger zerolog.Logger
	ID     uuid.UUID

	config     Config
	dispatcher Dispatcher

	commands *limiter.DurationLimiter
	codec    *codec.Codec

	connMu sync.RWMutex
	conn   *websocket.Conn

	heartbeater *atomic.Pointer[Heartbeater]

	state     *atomic.Int32
	sessionID *atomic.String
	sequence  *atomic.Int64
	resumeURL *atomic.String

	started        *atomic.Bool
	closeRequested *atomic.Bool
	closeCode      *atomic.Int32

	cancelMu sync.Mutex
	cancel   context.CancelCauseFunc

	ready     chan struct{}
	readyOnce sync.Once
}

// NewConnection creates a connection that continues session when it is
// resumable.
func NewConnection(logger zerolog.Logger, config Config, dispatcher Dispatcher, session Session) *Connection {
	id := uuid.New()

	return &Connection{
		Logger: logger.With().Str("connection", id.String()).Logger(),
		ID:     id,

		config:     config.withDefaults(),
		dispatcher: dispatcher,

		commands: limiter.NewDurationLimiter("gateway", CommandLimit, CommandLimitPeriod),

		heartbeater: atomic.NewPointer[Heartbeater](nil),

		state:     atomic.NewInt32(int32(StateDisconnected)),
		sessionID: atomic.NewString(session.ID),
		sequence:  atomic.NewInt64(session.Sequence),
		resumeURL: atomic.NewString(session.ResumeURL),

		started:        atomic.NewBool(false),
		closeRequested: atomic.NewBool(false),
		closeCode:      atomic.NewInt32(discord.CloseNormal),

		ready: make(chan struct{}),
	}
}

// State returns the current lifecycle stage.
func (c *Connection) State() State {
	return State(c.state.Load())
}

func (c *Connection) setState(state State) {
	previous := State(c.state.Swap(int32(state)))

	if previous != state {
		c.Logger.Debug().Str("from", previous.String()).Str("to", state.String()).Msg("Connection state changed")
	}
}

// Session returns what a new connection needs to resume this one.
func (c *Connection) Session() Session {
	return Session{
		ID:        c.sessionID.Load(),
		Sequence:  c.sequence.Load(),
		ResumeURL: c.resumeURL.Load(),
	}
}

// Sequence returns the last dispatch sequence or NoSequence.
func (c *Connection) Sequence() int64 {
	return c.sequence.Load()
}

// Ready is closed once the connection has identified or resumed.
func (c *Connection) Ready() <-chan struct{} {
	return c.ready
}

// Latency returns the last heartbeat latency. ok is false until the first
// heartbeat has been acknowledged.
func (c *Connection) Latency() (time.Duration, bool) {
	if h := c.heartbeater.Load(); h != nil {
		return h.Latency()
	}

	return 0, false
}

// Close asks the connection to close with code. Run returns once the socket
// has been closed.
func (c *Connection) Close(code websocket.StatusCode) {
	c.closeCode.Store(int32(code))
	c.closeRequested.Store(true)

	c.cancelMu.Lock()
	cancel := c.cancel
	c.cancelMu.Unlock()

	if cancel != nil {
		cancel(ErrConnectionClosed)
	}
}

// Run connects, identifies or resumes and then handles frames until the
// connection ends. The returned error describes why it ended and is never
// nil. resume is ignored when the session is not resumable.
func (c *Connection) Run(ctx context.Context, resume bool) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrConnectionUsed
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	c.cancelMu.Lock()
	c.cancel = cancel
	c.cancelMu.Unlock()

	if c.closeRequested.Load() {
		return &CloseError{Code: websocket.StatusCode(c.closeCode.Load()), Requested: true}
	}

	resume = resume && c.Session().Resumable()

	c.setState(StateConnecting)

	conn, err := c.dial(ctx, resume)
	if err != nil {
		c.setState(StateDisconnected)

		if c.closeRequested.Load() {
			return &CloseError{Code: websocket.StatusCode(c.closeCode.Load()), Requested: true, Err: err}
		}

		return err
	}

	c.codec = codec.New(c.config.Compression)

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	// Reads get their own context. Cancelling a read closes the socket
	// without a close frame, so it is only cancelled after closing.
	readCtx, cancelRead := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelRead()

	frames := make(chan frame, 1)

	go c.readLoop(readCtx, conn, frames)

	err = c.run(ctx, resume, frames)

	return c.shutdown(ctx, err)
}

func (c *Connection) run(ctx context.Context, resume bool, frames <-chan frame) error {
	c.setState(StateAwaitingHello)

	hello, err := c.awaitHello(ctx, frames)
	if err != nil {
		return err
	}

	heartbeater := NewHeartbeater(
		c.Logger,
		time.Duration(hello.HeartbeatInterval)*time.Millisecond,
		c.config.MaxHeartbeatTimeout,
		c.sendHeartbeat,
		c.dead,
	)

	c.heartbeater.Store(heartbeater)
	heartbeater.Start(ctx)

	if resume {
		c.setState(StateResuming)

		err = c.resume(ctx)
	} else {
		c.clearSession()
		c.setState(StateIdentifying)

		err = c.identify(ctx)
	}

	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case f := <-frames:
			if f.err != nil {
				return f.err
			}

			if err := c.handle(ctx, f.payload); err != nil {
				return err
			}
		}
	}
}

func (c *Connection) dial(ctx context.Context, resume bool) (*websocket.Conn, error) {
	gatewayURL := c.config.URL

	if resume {
		if resumeURL := c.resumeURL.Load(); resumeURL != "" {
			gatewayURL = resumeURL
		}
	}

	u, err := url.Parse(gatewayURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse gateway url: %w", err)
	}

	query := u.Query()
	query.Set("v", GatewayVersion)
	query.Set("encoding", "json")

	if c.config.Compression != codec.CompressionNone {
		query.Set("compress", string(c.config.Compression))
	}

	u.RawQuery = query.Encode()

	c.Logger.Debug().Str("url", u.String()).Bool("resume", resume).Msg("Connecting to gateway")

	dialCtx, cancel := context.WithTimeout(ctx, c.config.ConnectTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, u.String(), c.config.DialOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to gateway: %w", err)
	}

	conn.SetReadLimit(-1)

	return conn, nil
}

func (c *Connection) readLoop(ctx context.Context, conn *websocket.Conn, frames chan<- frame) {
	for {
		messageType, data, err := conn.Read(ctx)
		if err != nil {
			select {
			case frames <- frame{err: err}:
			case <-ctx.Done():
			}

			return
		}

		if h := c.heartbeater.Load(); h != nil {
			h.Tick()
		}

		payload, err := c.codec.Decode(messageType, data)
		if err != nil {
			select {
			case frames <- frame{err: fmt.Errorf("failed to decode frame: %w", err)}:
			case <-ctx.Done():
			}

			return
		}

		if payload == nil {
			continue
		}

		c.Logger.Trace().Str("type", payload.Type).Int("op", int(payload.Op)).Int("bytes", len(data)).Msg("Received frame")

		select {
		case frames <- frame{payload: payload}:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Connection) awaitHello(ctx context.Context, frames <-chan frame) (*discord.Hello, error) {
	timer := time.NewTimer(c.config.ConnectTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	case <-timer.C:
		return nil, fmt.Errorf("failed to receive hello: %w", context.DeadlineExceeded)
	case f := <-frames:
		if f.err != nil {
			return nil, f.err
		}

		if f.payload.Op != discord.GatewayOpHello {
			return nil, fmt.Errorf("%w: received %s", ErrExpectedHello, f.payload.Op)
		}

		var hello discord.Hello

		if err := tetherjson.Unmarshal(f.payload.Data, &hello); err != nil {
			return nil, fmt.Errorf("failed to unmarshal hello: %w", err)
		}

		if hello.HeartbeatInterval <= 0 {
			return nil, ErrInvalidHeartbeatInterval
		}

		return &hello, nil
	}
}

func (c *Connection) identify(ctx context.Context) error {
	token, err := c.token(ctx)
	if err != nil {
		return err
	}

	if err := c.config.Identify.CreateWaitForBucket(ctx, "identify", 1, c.config.IdentifyInterval); err != nil {
		return fmt.Errorf("failed to wait for identify: %w", err)
	}

	properties := c.config.Properties

	c.Logger.Debug().Msg("Sending identify")

	return c.Send(ctx, discord.GatewayOpIdentify, discord.Identify{
		Properties:     &properties,
		Presence:       c.config.Presence,
		Token:          token,
		LargeThreshold: c.config.LargeThreshold,
		Intents:        int32(c.config.Intents),
		Compress:       c.config.Compression == codec.CompressionNone,
	})
}

func (c *Connection) resume(ctx context.Context) error {
	token, err := c.token(ctx)
	if err != nil {
		return err
	}

	session := c.Session()

	c.Logger.Debug().Str("session", session.ID).Int64("sequence", session.Sequence).Msg("Sending resume")

	return c.Send(ctx, discord.GatewayOpResume, discord.Resume{
		Token:     token,
		SessionID: session.ID,
		Sequence:  session.Sequence,
	})
}

func (c *Connection) token(ctx context.Context) (string, error) {
	if c.config.Token == nil {
		return "", ErrMissingToken
	}

	token, err := c.config.Token.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get token: %w", err)
	}

	if token == "" {
		return "", ErrMissingToken
	}

	return token, nil
}

func (c *Connection) clearSession() {
	c.sessionID.Store("")
	c.sequence.Store(NoSequence)
	c.resumeURL.Store("")
}

// storeSequence keeps the highest sequence seen.
func (c *Connection) storeSequence(sequence int64) {
	for {
		current := c.sequence.Load()
		if sequence <= current {
			return
		}

		if c.sequence.CompareAndSwap(current, sequence) {
			return
		}
	}
}

func (c *Connection) markReady() {
	c.setState(StateConnected)

	c.readyOnce.Do(func() {
		close(c.ready)
	})
}

// dead is the heartbeater's way of tearing the connection down.
func (c *Connection) dead(cause error) {
	c.cancelMu.Lock()
	cancel := c.cancel
	c.cancelMu.Unlock()

	if cancel != nil {
		cancel(cause)
	}
}

// Send writes a command to the gateway, waiting for the command ratelimit.
func (c *Connection) Send(ctx context.Context, op discord.GatewayOp, data any) error {
	if op != discord.GatewayOpHeartbeat {
		if err := c.commands.Lock(ctx); err != nil {
			return fmt.Errorf("failed to wait for gateway ratelimit: %w", err)
		}
	}

	return c.write(ctx, op, data)
}

func (c *Connection) sendHeartbeat(ctx context.Context) error {
	var sequence *int64

	if value := c.sequence.Load(); value != NoSequence {
		sequence = &value
	}

	c.Logger.Debug().Interface("sequence", sequence).Msg("Sending heartbeat")

	return c.Send(ctx, discord.GatewayOpHeartbeat, sequence)
}

func (c *Connection) write(ctx context.Context, op discord.GatewayOp, data any) error {
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()

	if conn == nil || c.codec == nil {
		return ErrNotConnected
	}

	payload, err := c.codec.Encode(op, data)
	if err != nil {
		return err
	}

	if op != discord.GatewayOpIdentify && op != discord.GatewayOpResume {
		c.Logger.Trace().Str("payload", gotils_strconv.B2S(payload)).Msg("Sending payload")
	}

	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		return fmt.Errorf("failed to write %s: %w", op, err)
	}

	return nil
}

// shutdown closes the socket with a code matching why the connection ended
// and turns err into the error returned by Run.
func (c *Connection) shutdown(ctx context.Context, err error) error {
	c.setState(StateClosing)

	if h := c.heartbeater.Load(); h != nil {
		h.Stop()
	}

	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()

	var (
		reconnect   *ReconnectError
		remoteClose websocket.CloseError
	)

	code := CloseCodeReconnect

	switch {
	case c.closeRequested.Load() && errors.Is(err, ErrConnectionClosed):
		code = websocket.StatusCode(c.closeCode.Load())
		err = &CloseError{Code: code, Requested: true}

		// The server drops the session when closed with 1000.
		if code == discord.CloseNormal {
			c.clearSession()
		}
	case errors.As(err, &reconnect):
		if !reconnect.Resume {
			code = discord.CloseNormal
		}
	case errors.As(err, &remoteClose):
		code = -1
		err = &CloseError{Code: remoteClose.Code, Reason: remoteClose.Reason, Err: err}
	case errors.Is(err, ErrHeartbeatTimeout):
		code = CloseCodeHeartbeatTimeout
		err = &CloseError{Code: code, Err: err}
	case ctx.Err() != nil && errors.Is(context.Cause(ctx), ctx.Err()):
		// The caller went away.
		code = discord.CloseNormal
		err = &CloseError{Code: code, Requested: true, Err: err}

		c.clearSession()
	}

	if code == -1 {
		_ = conn.CloseNow()
	} else {
		c.Logger.Debug().Int("code", int(code)).Err(err).Msg("Closing connection")

		if closeErr := conn.Close(code, ""); closeErr != nil {
			c.Logger.Debug().Err(closeErr).Msg("Close handshake did not complete")
		}
	}

	c.codec.Close()

	c.connMu.Lock()
	c.conn = nil
	c.connMu.Unlock()

	c.setState(StateDisconnected)

	return err
}
