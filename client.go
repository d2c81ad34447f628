package tether

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"time"

	"github.com/WelcomerTeam/Tether/discord"
	"github.com/WelcomerTeam/Tether/internal/gateway"
	"github.com/WelcomerTeam/Tether/internal/rest"
	"github.com/WelcomerTeam/Tether/pkg/accumulator"
	"github.com/WelcomerTeam/Tether/tetherjson"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
	"nhooyr.io/websocket"
)

// eventSamples is how many seconds of event counts are kept.
const eventSamples = 60

// Client owns a supervised gateway connection and a REST client sharing
// one configuration.
type Client struct {
	Logger        zerolog.Logger
	Configuration *Configuration

	Gateway *gateway.Supervisor
	REST    *rest.Client

	startedAt *atomic.Time
	events    *accumulator.Accumulator
}

// countingDispatcher counts events before handing them on.
type countingDispatcher struct {
	next   Dispatcher
	events *accumulator.Accumulator
}

func (d countingDispatcher) Dispatch(ctx context.Context, event string, payload tetherjson.RawMessage) error {
	d.events.Increment()

	if d.next == nil {
		return nil
	}

	return d.next.Dispatch(ctx, event, payload)
}

func (d countingDispatcher) Disconnect(ctx context.Context) {
	if d.next != nil {
		d.next.Disconnect(ctx)
	}
}

// NewClient creates a client from configuration. Events are handed to
// dispatcher, which may be nil.
func NewClient(logger zerolog.Logger, configuration *Configuration, dispatcher Dispatcher) (*Client, error) {
	compression, err := configuration.compression()
	if err != nil {
		return nil, err
	}

	if configuration.Token == "" {
		return nil, ErrMissingToken
	}

	token := StaticToken(configuration.Token)

	var restToken TokenProvider = token

	if configuration.OAuth2 != nil {
		restToken = NewOAuth2Token(configuration.OAuth2.clientCredentials().TokenSource(context.Background()))
	}

	restClient, err := rest.NewClient(logger.With().Str("component", "rest").Logger(), restToken, rest.Options{
		BaseURL:             configuration.REST.BaseURL,
		UserAgent:           UserAgent,
		TokenType:           tokenType(restToken),
		Proxy:               configuration.REST.Proxy,
		MaxRateLimitTimeout: configuration.RateLimitTimeout(),
		MaxConcurrency:      configuration.REST.MaxConcurrency,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create rest client: %w", err)
	}

	events := accumulator.NewAccumulator("events", eventSamples, time.Second)

	supervisor := gateway.NewSupervisor(logger.With().Str("component", "gateway").Logger(), gateway.Config{
		URL:   configuration.Gateway.URL,
		Token: token,
		Properties: discord.IdentifyProperties{
			OS:      runtime.GOOS,
			Browser: "Tether " + Version,
			Device:  "Tether " + Version,
		},
		Presence:            configuration.DefaultPresence,
		Intents:             configuration.Intents,
		LargeThreshold:      configuration.LargeThreshold,
		Compression:         compression,
		MaxHeartbeatTimeout: configuration.MaxHeartbeatTimeout,
	}, countingDispatcher{next: dispatcher, events: events})

	supervisor.Reconnect = configuration.ShouldReconnect()

	return &Client{
		Logger:        logger,
		Configuration: configuration,

		Gateway: supervisor,
		REST:    restClient,

		startedAt: atomic.NewTime(time.Time{}),
		events:    events,
	}, nil
}

// Connect runs the gateway connection until ctx is done, Close is called or
// the connection fails in a way that cannot be recovered from. When resume
// is set the first connection resumes the last known session.
func (c *Client) Connect(ctx context.Context, resume bool) error {
	c.startedAt.Store(time.Now())
	defer c.startedAt.Store(time.Time{})

	sampleCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.events.Run(sampleCtx)

	c.Logger.Info().Str("version", Version).Msg("Connecting")

	return c.Gateway.Run(ctx, resume)
}

// Close closes the gateway connection with code and stops reconnecting.
// Closing with anything but 1000 keeps the session resumable and a later
// Connect with resume set picks it up.
func (c *Client) Close(code int) {
	c.Logger.Info().Int("code", code).Msg("Closing")

	c.Gateway.Stop(websocket.StatusCode(code))
}

// Shutdown closes the gateway connection and releases the REST client.
func (c *Client) Shutdown() {
	c.Close(discord.CloseNormal)
	c.REST.Close()
}

func (c *Client) connection() (*gateway.Connection, error) {
	conn := c.Gateway.Connection()
	if conn == nil {
		return nil, ErrNotConnected
	}

	return conn, nil
}

// Send writes a command to the gateway.
func (c *Client) Send(ctx context.Context, op discord.GatewayOp, data any) error {
	conn, err := c.connection()
	if err != nil {
		return err
	}

	return conn.Send(ctx, op, data)
}

func (c *Client) UpdatePresence(ctx context.Context, presence discord.UpdateStatus) error {
	conn, err := c.connection()
	if err != nil {
		return err
	}

	return conn.UpdatePresence(ctx, presence)
}

func (c *Client) UpdateVoiceState(ctx context.Context, state discord.UpdateVoiceState) error {
	conn, err := c.connection()
	if err != nil {
		return err
	}

	return conn.UpdateVoiceState(ctx, state)
}

// RequestGuildMembers returns the nonce echoed in the member chunks.
func (c *Client) RequestGuildMembers(ctx context.Context, request discord.RequestGuildMembers) (string, error) {
	conn, err := c.connection()
	if err != nil {
		return "", err
	}

	return conn.RequestGuildMembers(ctx, request)
}

// Do performs a REST request. The result is decoded JSON as raw bytes, or
// the response text.
func (c *Client) Do(ctx context.Context, route Route, req *Request) (any, error) {
	return c.REST.Do(ctx, route, req)
}

// DoJSON performs a REST request and unmarshals the response into out.
func (c *Client) DoJSON(ctx context.Context, route Route, req *Request, out any) error {
	return c.REST.DoJSON(ctx, route, req, out)
}

// IsRateLimited reports whether a request to route would have to wait.
func (c *Client) IsRateLimited(route Route) bool {
	return c.REST.IsRateLimited(route)
}

func (c *Client) SetMaxRateLimitTimeout(timeout time.Duration) {
	c.REST.SetMaxRateLimitTimeout(timeout)
}

// Latency returns the heartbeat latency in seconds, or +Inf before the
// first heartbeat was acknowledged.
func (c *Client) Latency() float64 {
	conn := c.Gateway.Connection()
	if conn == nil {
		return math.Inf(1)
	}

	latency, ok := conn.Latency()
	if !ok {
		return math.Inf(1)
	}

	return latency.Seconds()
}

// State returns the lifecycle stage of the live connection.
func (c *Client) State() State {
	if conn := c.Gateway.Connection(); conn != nil {
		return conn.State()
	}

	return gateway.StateDisconnected
}

// Session returns the session a new connection would resume.
func (c *Client) Session() Session {
	if conn := c.Gateway.Connection(); conn != nil {
		return conn.Session()
	}

	return c.Gateway.Session()
}
