package gateway

import (
	"context"
	"fmt"

	"github.com/WelcomerTeam/Tether/discord"
	"github.com/WelcomerTeam/Tether/internal/analytics"
	"github.com/WelcomerTeam/Tether/tetherjson"
)

type gatewayHandler func(ctx context.Context, c *Connection, payload *discord.GatewayPayload) error

var gatewayHandlers = make(map[discord.GatewayOp]gatewayHandler)

func registerGatewayHandler(op discord.GatewayOp, handler gatewayHandler) {
	gatewayHandlers[op] = handler
}

type sequenceKey struct{}

// WithSequence adds the sequence of the dispatch being handled to ctx.
func WithSequence(ctx context.Context, sequence int64) context.Context {
	return context.WithValue(ctx, sequenceKey{}, sequence)
}

// SequenceFromContext returns the sequence of the dispatch being handled.
func SequenceFromContext(ctx context.Context) (int64, bool) {
	sequence, ok := ctx.Value(sequenceKey{}).(int64)

	return sequence, ok
}

func (c *Connection) handle(ctx context.Context, payload *discord.GatewayPayload) error {
	if payload.Sequence != nil {
		c.storeSequence(*payload.Sequence)
	}

	handler, ok := gatewayHandlers[payload.Op]
	if !ok {
		c.Logger.Warn().Int("op", int(payload.Op)).Msg("Gateway sent unknown op code")

		return nil
	}

	return handler(ctx, c, payload)
}

func gatewayOpDispatch(ctx context.Context, c *Connection, payload *discord.GatewayPayload) error {
	switch payload.Type {
	case discord.EventReady:
		var ready discord.Ready

		if err := tetherjson.Unmarshal(payload.Data, &ready); err != nil {
			return fmt.Errorf("failed to unmarshal ready: %w", err)
		}

		c.sessionID.Store(ready.SessionID)
		c.resumeURL.Store(ready.ResumeGatewayURL)

		if payload.Sequence != nil {
			c.sequence.Store(*payload.Sequence)
		}

		c.Logger.Info().Str("session", ready.SessionID).Msg("Connected to gateway")

		c.markReady()
	case discord.EventResumed:
		c.Logger.Info().Str("session", c.sessionID.Load()).Int64("sequence", c.sequence.Load()).Msg("Resumed gateway session")

		c.markReady()
	}

	analytics.RecordEvent(payload.Type)

	c.dispatch(ctx, payload)

	return nil
}

// dispatch hands an event to the dispatcher. A failing or panicking
// dispatcher is logged and never ends the connection.
func (c *Connection) dispatch(ctx context.Context, payload *discord.GatewayPayload) {
	if c.dispatcher == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.Logger.Error().Interface("recovered", r).Str("type", payload.Type).Msg("Recovered panic in dispatcher")
		}
	}()

	if payload.Sequence != nil {
		ctx = WithSequence(ctx, *payload.Sequence)
	}

	if err := c.dispatcher.Dispatch(ctx, payload.Type, payload.Data); err != nil {
		c.Logger.Error().Err(err).Str("type", payload.Type).Msg("Failed to dispatch event")
	}
}

func gatewayOpHeartbeat(_ context.Context, c *Connection, _ *discord.GatewayPayload) error {
	if h := c.heartbeater.Load(); h != nil {
		h.Beat()
	}

	return nil
}

func gatewayOpReconnect(_ context.Context, c *Connection, _ *discord.GatewayPayload) error {
	c.Logger.Info().Msg("Gateway requested a reconnect")

	return &ReconnectError{Resume: true, Op: discord.GatewayOpReconnect.String()}
}

func gatewayOpInvalidSession(_ context.Context, c *Connection, payload *discord.GatewayPayload) error {
	var resumable bool

	// Anything but true is treated as a session that cannot be resumed.
	_ = tetherjson.Unmarshal(payload.Data, &resumable)

	c.Logger.Warn().Bool("resumable", resumable).Msg("Gateway invalidated the session")

	if !resumable {
		c.clearSession()
	}

	return &ReconnectError{Resume: resumable, Op: discord.GatewayOpInvalidSession.String()}
}

func gatewayOpHello(_ context.Context, c *Connection, _ *discord.GatewayPayload) error {
	c.Logger.Debug().Msg("Ignoring hello received after the handshake")

	return nil
}

func gatewayOpHeartbeatACK(_ context.Context, c *Connection, _ *discord.GatewayPayload) error {
	if h := c.heartbeater.Load(); h != nil {
		h.Ack()
	}

	return nil
}

func init() {
	registerGatewayHandler(discord.GatewayOpDispatch, gatewayOpDispatch)
	registerGatewayHandler(discord.GatewayOpHeartbeat, gatewayOpHeartbeat)
	registerGatewayHandler(discord.GatewayOpReconnect, gatewayOpReconnect)
	registerGatewayHandler(discord.GatewayOpInvalidSession, gatewayOpInvalidSession)
	registerGatewayHandler(discord.GatewayOpHello, gatewayOpHello)
	registerGatewayHandler(discord.GatewayOpHeartbeatACK, gatewayOpHeartbeatACK)
}
