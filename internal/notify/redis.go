package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/tinoosan/volload/internal/metrics"
)

// DefaultChannel is the default pub/sub channel name.
const DefaultChannel = "volload:loads"

// DefaultTimeout is the default per-publish timeout.
const DefaultTimeout = 2 * time.Second

// RedisConfig configures the Redis publisher.
type RedisConfig struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL     string
	Channel string
	Timeout time.Duration
}

// Redis publishes every message as JSON on one channel. There is no retry:
// a later message of the same load supersedes a lost one.
type Redis struct {
	config RedisConfig
	client *goredis.Client
}

func NewRedis(cfg RedisConfig) (*Redis, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis notifier requires a URL")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis notifier: invalid URL: %w", err)
	}
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Redis{config: cfg, client: goredis.NewClient(opts)}, nil
}

func (r *Redis) Notify(ctx context.Context, m Message) error {
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("redis: marshal message: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()
	if err := r.client.Publish(ctx, r.config.Channel, body).Err(); err != nil {
		metrics.NotificationsDropped.WithLabelValues("redis").Inc()
		return fmt.Errorf("redis: publish %s: %w", m.LoadID, err)
	}
	return nil
}

// Ping checks the connection, for readiness checks.
func (r *Redis) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func (r *Redis) Close() error { return r.client.Close() }

var _ Notifier = (*Redis)(nil)
