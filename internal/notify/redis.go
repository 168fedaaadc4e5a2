package notify

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisDispatcher publishes event identifiers on a Redis channel the
// monitoring consumer subscribes to.
type RedisDispatcher struct {
	client  *redis.Client
	channel string
}

// NewRedisDispatcher creates a dispatcher with its own client.
func NewRedisDispatcher(address, password string, db int, channel string) *RedisDispatcher {
	rdb := redis.NewClient(&redis.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return &RedisDispatcher{client: rdb, channel: channel}
}

// NewRedisDispatcherFromClient creates a dispatcher from an existing client.
func NewRedisDispatcherFromClient(client *redis.Client, channel string) *RedisDispatcher {
	return &RedisDispatcher{client: client, channel: channel}
}

// Dispatch publishes the event id.
func (d *RedisDispatcher) Dispatch(ctx context.Context, eventID string) error {
	if err := d.client.Publish(ctx, d.channel, eventID).Err(); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (d *RedisDispatcher) Close() error {
	return d.client.Close()
}
