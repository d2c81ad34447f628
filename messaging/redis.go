package mqclients

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

func init() {
	registerMQClient("redis", func() MQClient { return &RedisMQClient{} })
}

type RedisMQClient struct {
	redisClient *redis.Client

	channel string
}

func (redisMQ *RedisMQClient) String() string {
	return "redis"
}

func (redisMQ *RedisMQClient) Channel() string {
	return redisMQ.channel
}

func (redisMQ *RedisMQClient) Connect(ctx context.Context, _ string, args map[string]any) error {
	address, err := stringEntry(args, "Address")
	if err != nil {
		return fmt.Errorf("redisMQ connect: %w", err)
	}

	password, _ := stringEntry(args, "Password")
	redisMQ.channel, _ = stringEntry(args, "Channel")

	db, err := intEntry(args, "DB", 0)
	if err != nil {
		return fmt.Errorf("redisMQ connect: %w", err)
	}

	redisMQ.redisClient = redis.NewClient(&redis.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})

	if err := redisMQ.redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redisMQ connect ping: %w", err)
	}

	return nil
}

func (redisMQ *RedisMQClient) Publish(ctx context.Context, channelName string, data []byte) error {
	return redisMQ.redisClient.Publish(ctx, channelName, data).Err()
}

func (redisMQ *RedisMQClient) Close() error {
	if redisMQ.redisClient == nil {
		return nil
	}

	return redisMQ.redisClient.Close()
}
