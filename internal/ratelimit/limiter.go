// Package ratelimit throttles password-reset requests with a Redis
// fixed-window counter.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "reportline:ratelimit:"

// Limiter allows up to limit requests per key in each window. The first
// request of a window creates the counter and sets its expiry, so windows
// are fixed rather than sliding.
type Limiter struct {
	client *redis.Client
	max    int64
	window time.Duration
}

// New creates a Limiter.
func New(client *redis.Client, limit int, window time.Duration) (*Limiter, error) {
	if client == nil {
		return nil, errors.New("ratelimit: redis client is required")
	}
	if limit <= 0 || window <= 0 {
		return nil, fmt.Errorf("ratelimit: max (%d) and window (%s) must be positive", limit, window)
	}
	return &Limiter{client: client, max: int64(limit), window: window}, nil
}

// Allow increments the counter for key and reports whether it is still
// within budget. Errors come from Redis; the caller decides whether to
// fail open.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	k := keyPrefix + key

	count, err := l.client.Incr(ctx, k).Result()
	if err != nil {
		return false, fmt.Errorf("incrementing %s: %w", k, err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, k, l.window).Err(); err != nil {
			return false, fmt.Errorf("setting expiry on %s: %w", k, err)
		}
	}
	return count <= l.max, nil
}
