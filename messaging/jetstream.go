package mqclients

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

func init() {
	registerMQClient("jetstream", func() MQClient { return &JetStreamMQClient{} })
}

// JetStreamMQClient publishes to subjects of a single stream named after
// the channel.
type JetStreamMQClient struct {
	NatsClient      *nats.Conn
	JetStreamClient jetstream.JetStream
	JetStreamStream jetstream.Stream

	channel string
}

func (jetstreamMQ *JetStreamMQClient) String() string {
	return "jetstream"
}

func (jetstreamMQ *JetStreamMQClient) Channel() string {
	return jetstreamMQ.channel
}

func (jetstreamMQ *JetStreamMQClient) Connect(ctx context.Context, clientName string, args map[string]any) (err error) {
	address, err := stringEntry(args, "Address")
	if err != nil {
		return fmt.Errorf("jetstreamMQ connect: %w", err)
	}

	jetstreamMQ.channel, err = stringEntry(args, "Channel")
	if err != nil {
		return fmt.Errorf("jetstreamMQ connect: %w", err)
	}

	jetstreamMQ.NatsClient, err = nats.Connect(address, nats.Name(clientName))
	if err != nil {
		return fmt.Errorf("jetstreamMQ connect nats: %w", err)
	}

	jetstreamMQ.JetStreamClient, err = jetstream.New(jetstreamMQ.NatsClient)
	if err != nil {
		return fmt.Errorf("jetstreamMQ new: %w", err)
	}

	retention := jetstream.WorkQueuePolicy

	if boolEntry(args, "InterestPolicy", false) {
		retention = jetstream.InterestPolicy
	}

	jetstreamMQ.JetStreamStream, err = jetstreamMQ.JetStreamClient.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:              jetstreamMQ.channel,
		Subjects:          []string{jetstreamMQ.channel + ".*"},
		Retention:         retention,
		Discard:           jetstream.DiscardOld,
		MaxAge:            5 * time.Minute,
		Storage:           jetstream.MemoryStorage,
		MaxMsgsPerSubject: 1_000_000,
		MaxMsgSize:        math.MaxInt32,
	})
	if err != nil {
		return fmt.Errorf("jetstreamMQ create stream: %w", err)
	}

	return nil
}

func (jetstreamMQ *JetStreamMQClient) Publish(ctx context.Context, channelName string, data []byte) error {
	_, err := jetstreamMQ.JetStreamClient.Publish(ctx, jetstreamMQ.channel+"."+channelName, data)

	return err
}

func (jetstreamMQ *JetStreamMQClient) Close() error {
	if jetstreamMQ.NatsClient == nil {
		return nil
	}

	return jetstreamMQ.NatsClient.Drain()
}
