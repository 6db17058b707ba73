// Package bus provides the cross-instance cache invalidation broadcast.
//
// The in-memory caches (model configuration, access grants) are
// per-process. When several instances share one store, a mutation on one
// instance publishes an invalidation message so the others reload. A nil
// *Redis bus is valid and turns every operation into a no-op, which is
// the single-instance mode.
package bus

import (
	"context"
	"log/slog"

	"github.com/go-redis/redis/v8"
)

// Topics published by this module.
const (
	// TopicModelConfig signals that model configurations changed.
	TopicModelConfig = "modelconfig"

	// TopicAccess signals that access grants changed.
	TopicAccess = "access"
)

const channelPrefix = "modelguard:invalidate:"

// Redis is a Redis pub/sub backed invalidation bus.
type Redis struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, addr, password string, db int) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &Redis{
		client: client,
		logger: slog.Default().With("component", "bus"),
	}, nil
}

// Publish broadcasts an invalidation for the topic. Publish failures are
// logged, not returned: losing an invalidation degrades freshness on
// other instances but must never fail the mutation that triggered it.
func (b *Redis) Publish(ctx context.Context, topic string) {
	if b == nil {
		return
	}
	if err := b.client.Publish(ctx, channelPrefix+topic, "1").Err(); err != nil {
		b.logger.Warn("invalidation publish failed", "topic", topic, "error", err)
	}
}

// Subscribe invokes fn for every invalidation received on the topic.
// It runs until the context is cancelled.
func (b *Redis) Subscribe(ctx context.Context, topic string, fn func()) {
	if b == nil {
		return
	}

	sub := b.client.Subscribe(ctx, channelPrefix+topic)

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				b.logger.Debug("invalidation received", "topic", topic)
				fn()
			}
		}
	}()
}

// Close closes the Redis connection.
func (b *Redis) Close() error {
	if b == nil {
		return nil
	}
	return b.client.Close()
}
