// Package broker is the shared pub/sub transport between chat-service
// instances.
package broker

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const DefaultChannel = "chat:events"

type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe returns once the subscription is confirmed by the server.
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

type Subscription interface {
	// Receive blocks for the next payload. Any error means the
	// subscription is no longer usable.
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

type Redis struct {
	rdb redis.UniversalClient
}

func NewRedis(rdb redis.UniversalClient) *Redis {
	return &Redis{rdb: rdb}
}

func (b *Redis) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.rdb.Publish(ctx, channel, payload).Err()
}

func (b *Redis) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	ps := b.rdb.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe %q: %w", channel, err)
	}
	return &redisSub{ps: ps}, nil
}

type redisSub struct {
	ps *redis.PubSub
}

func (s *redisSub) Receive(ctx context.Context) ([]byte, error) {
	msg, err := s.ps.ReceiveMessage(ctx)
	if err != nil {
		return nil, err
	}
	return []byte(msg.Payload), nil
}

func (s *redisSub) Close() error { return s.ps.Close() }
