package mqclients

import (
	"context"
	"fmt"

	"github.com/WelcomerTeam/Tether/internal/gateway"
	"github.com/WelcomerTeam/Tether/tetherjson"
	"github.com/rs/zerolog"
)

// EventDisconnect is published when the gateway connection drops.
const EventDisconnect = "TETHER_DISCONNECT"

// Envelope is the message published for every event.
type Envelope struct {
	Type     string                `json:"t"`
	Data     tetherjson.RawMessage `json:"d"`
	Sequence *int64                `json:"s"`
}

// Producer publishes gateway events to an MQClient.
type Producer struct {
	Logger zerolog.Logger

	client    MQClient
	channel   string
	blacklist map[string]struct{}
}

// NewProducer creates a producer publishing to channel. Events in blacklist
// are dropped. When channel is empty the client's own channel is used.
func NewProducer(logger zerolog.Logger, client MQClient, channel string, blacklist []string) *Producer {
	if channel == "" {
		channel = client.Channel()
	}

	p := &Producer{
		Logger:    logger.With().Str("producer", client.String()).Logger(),
		client:    client,
		channel:   channel,
		blacklist: make(map[string]struct{}, len(blacklist)),
	}

	for _, event := range blacklist {
		p.blacklist[event] = struct{}{}
	}

	return p
}

// Dispatch publishes an event.
func (p *Producer) Dispatch(ctx context.Context, event string, payload tetherjson.RawMessage) error {
	if _, ok := p.blacklist[event]; ok {
		return nil
	}

	envelope := Envelope{Type: event, Data: payload}

	if sequence, ok := gateway.SequenceFromContext(ctx); ok {
		envelope.Sequence = &sequence
	}

	return p.publish(ctx, envelope)
}

// Disconnect lets consumers know the gateway connection dropped.
func (p *Producer) Disconnect(ctx context.Context) {
	if _, ok := p.blacklist[EventDisconnect]; ok {
		return
	}

	if err := p.publish(ctx, Envelope{Type: EventDisconnect}); err != nil {
		p.Logger.Warn().Err(err).Msg("Failed to publish disconnect")
	}
}

func (p *Producer) publish(ctx context.Context, envelope Envelope) error {
	if envelope.Data == nil {
		envelope.Data = tetherjson.RawMessage("null")
	}

	data, err := tetherjson.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	if err := p.client.Publish(ctx, p.channel, data); err != nil {
		return fmt.Errorf("failed to publish %s: %w", envelope.Type, err)
	}

	return nil
}

// Close closes the underlying client.
func (p *Producer) Close() error {
	return p.client.Close()
}
