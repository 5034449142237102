// Package throttle implements a Redis fixed-window attempt counter.
package throttle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "officeflow:throttle:"

// ErrUnavailable wraps Redis failures.
var ErrUnavailable = errors.New("throttle unavailable")

// Throttle counts attempts per scope and key inside a fixed window.
// A nil *Throttle allows everything.
type Throttle struct {
	redis  redis.UniversalClient
	max    int64
	window time.Duration
}

// New returns a throttle allowing max attempts per window.
func New(client redis.UniversalClient, max int, window time.Duration) *Throttle {
	if client == nil {
		return nil
	}
	if max <= 0 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Throttle{redis: client, max: int64(max), window: window}
}

func (t *Throttle) key(scope, key string) string {
	return keyPrefix + scope + ":" + key
}

// Allow records one attempt. When the window is exhausted it returns false
// and the time until the window resets.
func (t *Throttle) Allow(ctx context.Context, scope, key string) (bool, time.Duration, error) {
	if t == nil {
		return true, 0, nil
	}
	k := t.key(scope, key)
	count, err := t.redis.Incr(ctx, k).Result()
	if err != nil {
		return true, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count == 1 {
		if err := t.redis.Expire(ctx, k, t.window).Err(); err != nil {
			return true, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	if count <= t.max {
		return true, 0, nil
	}
	ttl, err := t.redis.TTL(ctx, k).Result()
	if err != nil {
		return false, t.window, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if ttl <= 0 {
		// Key lost its expiry; restore it so the window cannot stick.
		_ = t.redis.Expire(ctx, k, t.window).Err()
		ttl = t.window
	}
	return false, ttl, nil
}

// Reset clears the counter for scope and key.
func (t *Throttle) Reset(ctx context.Context, scope, key string) error {
	if t == nil {
		return nil
	}
	if err := t.redis.Del(ctx, t.key(scope, key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
