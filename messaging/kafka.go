package mqclients

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"
)

func init() {
	registerMQClient("kafka", func() MQClient { return &KafkaMQClient{} })
}

type KafkaMQClient struct {
	KafkaClient *kafka.Writer

	channel string
}

func parseKafkaBalancer(balancer string) kafka.Balancer {
	switch balancer {
	case "crc32":
		return &kafka.CRC32Balancer{}
	case "hash":
		return &kafka.Hash{}
	case "murmur2":
		return &kafka.Murmur2Balancer{}
	case "roundrobin":
		return &kafka.RoundRobin{}
	default:
		return &kafka.LeastBytes{}
	}
}

func (kafkaMQ *KafkaMQClient) String() string {
	return "kafka"
}

func (kafkaMQ *KafkaMQClient) Channel() string {
	return kafkaMQ.channel
}

func (kafkaMQ *KafkaMQClient) Connect(_ context.Context, _ string, args map[string]any) error {
	address, err := stringEntry(args, "Address")
	if err != nil {
		return fmt.Errorf("kafkaMQ connect: %w", err)
	}

	balancer, _ := stringEntry(args, "Balancer")
	kafkaMQ.channel, _ = stringEntry(args, "Channel")

	kafkaMQ.KafkaClient = &kafka.Writer{
		Addr:     kafka.TCP(address),
		Balancer: parseKafkaBalancer(balancer),
		Async:    boolEntry(args, "Async", false),
	}

	return nil
}

func (kafkaMQ *KafkaMQClient) Publish(ctx context.Context, channelName string, data []byte) error {
	return kafkaMQ.KafkaClient.WriteMessages(ctx, kafka.Message{
		Topic: channelName,
		Value: data,
	})
}

func (kafkaMQ *KafkaMQClient) Close() error {
	if kafkaMQ.KafkaClient == nil {
		return nil
	}

	return kafkaMQ.KafkaClient.Close()
}
