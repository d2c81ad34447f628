package mqclients

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/stan.go"
)

func init() {
	registerMQClient("stan", func() MQClient { return &StanMQClient{} })
}

type StanMQClient struct {
	NatsClient *nats.Conn
	StanClient stan.Conn

	async bool

	channel string
	cluster string
}

func (stanMQ *StanMQClient) String() string {
	return "stan"
}

func (stanMQ *StanMQClient) Channel() string {
	return stanMQ.channel
}

func (stanMQ *StanMQClient) Cluster() string {
	return stanMQ.cluster
}

func (stanMQ *StanMQClient) Connect(_ context.Context, clientName string, args map[string]any) (err error) {
	address, err := stringEntry(args, "Address")
	if err != nil {
		return fmt.Errorf("stanMQ connect: %w", err)
	}

	if stanMQ.cluster, err = stringEntry(args, "Cluster"); err != nil {
		return fmt.Errorf("stanMQ connect: %w", err)
	}

	if stanMQ.channel, err = stringEntry(args, "Channel"); err != nil {
		return fmt.Errorf("stanMQ connect: %w", err)
	}

	stanMQ.async = boolEntry(args, "Async", false)

	var option stan.Option

	if boolEntry(args, "UseNATSConnection", true) {
		stanMQ.NatsClient, err = nats.Connect(address, nats.Name(clientName))
		if err != nil {
			return fmt.Errorf("stanMQ connect nats: %w", err)
		}

		option = stan.NatsConn(stanMQ.NatsClient)
	} else {
		option = stan.NatsURL(address)
	}

	stanMQ.StanClient, err = stan.Connect(stanMQ.cluster, clientName, option)
	if err != nil {
		return fmt.Errorf("stanMQ connect stan: %w", err)
	}

	return nil
}

func (stanMQ *StanMQClient) Publish(_ context.Context, channelName string, data []byte) (err error) {
	if stanMQ.async {
		_, err = stanMQ.StanClient.PublishAsync(channelName, data, nil)

		return err
	}

	return stanMQ.StanClient.Publish(channelName, data)
}

func (stanMQ *StanMQClient) Close() error {
	var err error

	if stanMQ.StanClient != nil {
		err = stanMQ.StanClient.Close()
	}

	if stanMQ.NatsClient != nil {
		stanMQ.NatsClient.Close()
	}

	return err
}
