package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/inquiry-dispatch/internal/domain"
	"github.com/kursadbilgin/inquiry-dispatch/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultLimitPerSec int64 = 25
	backoffStep              = 20 * time.Millisecond
	backoffMax               = 250 * time.Millisecond
	windowSeconds            = 1
)

// KEYS[1] is the per-second window counter, KEYS[2] the channel pause marker.
var allowScript = goredis.NewScript(`
if redis.call("EXISTS", KEYS[2]) == 1 then
  return 0
end
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
  return 0
end
return 1
`)

var _ ratelimit.RateLimiter = (*ChannelRateLimiter)(nil)

// ChannelRateLimiter is a fixed-window limiter shared by every worker through
// Redis. A channel can also be paused outright when its provider pushes back.
type ChannelRateLimiter struct {
	client      *goredis.Client
	limitPerSec int64
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
	script      *goredis.Script
}

func NewChannelRateLimiter(client *goredis.Client, limitPerSec int) (*ChannelRateLimiter, error) {
	return newChannelRateLimiter(
		client,
		int64(limitPerSec),
		time.Now,
		sleepWithContext,
	)
}

func newChannelRateLimiter(
	client *goredis.Client,
	limitPerSec int64,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*ChannelRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if limitPerSec <= 0 {
		limitPerSec = defaultLimitPerSec
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &ChannelRateLimiter{
		client:      client,
		limitPerSec: limitPerSec,
		now:         nowFn,
		sleep:       sleepFn,
		script:      allowScript,
	}, nil
}

func (r *ChannelRateLimiter) Allow(ctx context.Context, channel domain.Channel) (bool, error) {
	if r == nil || r.client == nil || r.script == nil {
		return false, fmt.Errorf("rate limiter is not initialized")
	}

	name, err := channelKey(channel)
	if err != nil {
		return false, err
	}

	if ctx == nil {
		ctx = context.Background()
	}

	keys := []string{
		fmt.Sprintf("ratelimit:%s:%d", name, r.now().UTC().Unix()),
		pauseKey(name),
	}
	result, err := r.script.Run(ctx, r.client, keys, r.limitPerSec, windowSeconds).Int()
	if err != nil {
		return false, fmt.Errorf("failed to evaluate rate limit: %w", err)
	}

	return result == 1, nil
}

func (r *ChannelRateLimiter) Wait(ctx context.Context, channel domain.Channel) error {
	if ctx == nil {
		ctx = context.Background()
	}

	backoff := backoffStep
	for {
		allowed, err := r.Allow(ctx, channel)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		if err := r.sleep(ctx, backoff); err != nil {
			return err
		}

		backoff += backoffStep
		if backoff > backoffMax {
			backoff = backoffMax
		}
	}
}

func (r *ChannelRateLimiter) Pause(ctx context.Context, channel domain.Channel, d time.Duration) error {
	if r == nil || r.client == nil {
		return fmt.Errorf("rate limiter is not initialized")
	}
	if d <= 0 {
		return nil
	}

	name, err := channelKey(channel)
	if err != nil {
		return err
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if err := r.client.Set(ctx, pauseKey(name), r.now().UTC().Add(d).Unix(), d).Err(); err != nil {
		return fmt.Errorf("failed to pause channel %s: %w", name, err)
	}
	return nil
}

func channelKey(channel domain.Channel) (string, error) {
	name := strings.ToLower(strings.TrimSpace(string(channel)))
	if name == "" {
		return "", fmt.Errorf("channel is required")
	}
	return name, nil
}

func pauseKey(name string) string {
	return "ratelimit:pause:" + name
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
