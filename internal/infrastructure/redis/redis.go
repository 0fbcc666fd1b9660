// Package redis opens the go-redis client used for request throttling.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/reportline/reportline-core/internal/infrastructure/config"
)

const defaultPingTimeout = 5 * time.Second

// ErrDisabled indicates Redis is turned off in configuration.
var ErrDisabled = errors.New("redis: disabled in configuration")

// ErrConnectionFailed indicates the initial ping failed.
var ErrConnectionFailed = errors.New("redis: connection failed")

// Connect creates a client and verifies it with a PING.
func Connect(ctx context.Context, cfg config.RedisConfig) (*goredis.Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return client, nil
}

// HealthCheck pings the server.
func HealthCheck(ctx context.Context, client *goredis.Client) error {
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}
