package notifier

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher fans events out over Redis pub/sub so every instance's
// websocket hub can deliver them. Channels are namespaced with prefix.
type RedisPublisher struct {
	client *redis.Client
	prefix string
}

func NewRedisPublisher(client *redis.Client, prefix string) *RedisPublisher {
	return &RedisPublisher{client: client, prefix: prefix}
}

func (p *RedisPublisher) Publish(ctx context.Context, channel, event string, payload any) error {
	b, err := Encode(channel, event, payload, time.Now())
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, RedisChannel(p.prefix, channel), b).Err()
}

func RedisChannel(prefix, channel string) string {
	if prefix == "" {
		return channel
	}
	return prefix + ":" + channel
}

// RedisPattern matches every channel published under prefix.
func RedisPattern(prefix string) string {
	return RedisChannel(prefix, "*")
}

// StripRedisPrefix maps a Redis channel back to the notifier channel.
func StripRedisPrefix(prefix, redisChannel string) string {
	if prefix == "" {
		return redisChannel
	}
	return strings.TrimPrefix(redisChannel, prefix+":")
}
