package redis

import (
	"context"
	"fmt"

	redis "github.com/redis/go-redis/v9"
)

// Config configures the Redis pub/sub subscriber.
type Config struct {
	Addr     string
	Password string
	DB       int
	Patterns []string
}

// Subscriber consumes (topic, payload) pairs from Redis pattern
// channels. Delivery may be out of order and duplicated; downstream
// stages are expected to tolerate both.
type Subscriber struct {
	client *redis.Client
	pubsub *redis.PubSub
}

// NewSubscriber creates a subscriber for the configured topic patterns.
func NewSubscriber(cfg Config) (*Subscriber, error) {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	if len(cfg.Patterns) == 0 {
		return nil, fmt.Errorf("at least one topic pattern is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pubsub := client.PSubscribe(context.Background(), cfg.Patterns...)

	return &Subscriber{client: client, pubsub: pubsub}, nil
}

// Receive blocks until a message arrives or the context is canceled.
func (s *Subscriber) Receive(ctx context.Context) (string, []byte, error) {
	msg, err := s.pubsub.ReceiveMessage(ctx)
	if err != nil {
		return "", nil, err
	}
	return msg.Channel, []byte(msg.Payload), nil
}

// Close closes the subscription and the client.
func (s *Subscriber) Close() error {
	if err := s.pubsub.Close(); err != nil {
		return err
	}
	return s.client.Close()
}
