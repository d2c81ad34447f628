// Package mqclients publishes gateway events to message brokers.
package mqclients

import "context"

// MQClient publishes raw messages to a broker.
type MQClient interface {
	String() string
	Channel() string

	Connect(ctx context.Context, clientName string, args map[string]any) error
	Publish(ctx context.Context, channel string, data []byte) error
	Close() error
}
