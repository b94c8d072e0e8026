package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// PubSub moves raw messages across replicas over Redis channels.
type PubSub struct {
	client *redis.Client
}

func NewPubSub(client *redis.Client) *PubSub {
	return &PubSub{client: client}
}

func (p *PubSub) Publish(ctx context.Context, channel string, msg []byte) error {
	if err := p.client.Publish(ctx, channel, msg).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	return nil
}

// Subscribe delivers every message on channel to handle until ctx ends.
func (p *PubSub) Subscribe(ctx context.Context, channel string, handle func([]byte)) error {
	sub := p.client.Subscribe(ctx, channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			handle([]byte(m.Payload))
		}
	}
}
