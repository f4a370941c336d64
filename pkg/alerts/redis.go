package alerts

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis alert feed.
type RedisConfig struct {
	Key     string // list holding recent alerts
	Channel string // optional pub/sub channel for live subscribers
	MaxLen  int64  // oldest entries are trimmed beyond this length
}

// DefaultRedisConfig returns the default feed layout.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Key:     "costwatch:alerts",
		Channel: "costwatch.alerts",
		MaxLen:  1000,
	}
}

// RedisChannel appends alerts to a capped Redis list so agents sharing the
// bus can read recent budget events, and optionally publishes them.
type RedisChannel struct {
	client *redis.Client
	cfg    RedisConfig
}

// NewRedisChannel creates a Redis channel on an existing client.
func NewRedisChannel(client *redis.Client, cfg RedisConfig) *RedisChannel {
	def := DefaultRedisConfig()
	if cfg.Key == "" {
		cfg.Key = def.Key
	}
	if cfg.MaxLen <= 0 {
		cfg.MaxLen = def.MaxLen
	}
	return &RedisChannel{client: client, cfg: cfg}
}

func (r *RedisChannel) Name() string { return "redis" }

func (r *RedisChannel) Send(ctx context.Context, alert Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal redis alert: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, r.cfg.Key, data)
		pipe.LTrim(ctx, r.cfg.Key, -r.cfg.MaxLen, -1)
		if r.cfg.Channel != "" {
			pipe.Publish(ctx, r.cfg.Channel, data)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("push redis alert: %w", err)
	}
	return nil
}

// Recent returns up to n of the most recent alerts, oldest first.
func (r *RedisChannel) Recent(ctx context.Context, n int64) ([]Alert, error) {
	if n <= 0 {
		return nil, nil
	}
	raw, err := r.client.LRange(ctx, r.cfg.Key, -n, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read redis alerts: %w", err)
	}
	out := make([]Alert, 0, len(raw))
	for _, s := range raw {
		var a Alert
		if err := json.Unmarshal([]byte(s), &a); err != nil {
			return nil, fmt.Errorf("decode redis alert: %w", err)
		}
		out = append(out, a)
	}
	return out, nil
}
