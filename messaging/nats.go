package mqclients

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
)

func init() {
	registerMQClient("nats", func() MQClient { return &NatsMQClient{} })
}

type NatsMQClient struct {
	NatsClient *nats.Conn

	channel string
}

func (natsMQ *NatsMQClient) String() string {
	return "nats"
}

func (natsMQ *NatsMQClient) Channel() string {
	return natsMQ.channel
}

func (natsMQ *NatsMQClient) Connect(_ context.Context, clientName string, args map[string]any) (err error) {
	address, err := stringEntry(args, "Address")
	if err != nil {
		return fmt.Errorf("natsMQ connect: %w", err)
	}

	natsMQ.channel, _ = stringEntry(args, "Channel")

	natsMQ.NatsClient, err = nats.Connect(address, nats.Name(clientName))
	if err != nil {
		return fmt.Errorf("natsMQ connect nats: %w", err)
	}

	return nil
}

func (natsMQ *NatsMQClient) Publish(_ context.Context, channelName string, data []byte) error {
	return natsMQ.NatsClient.Publish(channelName, data)
}

func (natsMQ *NatsMQClient) Close() error {
	if natsMQ.NatsClient == nil {
		return nil
	}

	return natsMQ.NatsClient.Drain()
}
