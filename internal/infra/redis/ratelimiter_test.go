package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/kursadbilgin/inquiry-dispatch/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

func TestChannelRateLimiterAllow(t *testing.T) {
	t.Parallel()

	rdb, _ := newTestRedisClient(t)

	now := time.Unix(1_700_000_000, 0)
	limiter, err := newChannelRateLimiter(
		rdb,
		2,
		func() time.Time { return now },
		sleepWithContext,
	)
	if err != nil {
		t.Fatalf("newChannelRateLimiter() error = %v", err)
	}

	for i, want := range []bool{true, true, false} {
		allowed, err := limiter.Allow(context.Background(), domain.ChannelEmail)
		if err != nil {
			t.Fatalf("Allow() call %d error = %v", i+1, err)
		}
		if allowed != want {
			t.Fatalf("Allow() call %d = %v, want %v", i+1, allowed, want)
		}
	}

	now = now.Add(time.Second)
	allowed, err := limiter.Allow(context.Background(), domain.ChannelEmail)
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if !allowed {
		t.Fatal("new second window should allow call")
	}
}

func TestChannelRateLimiterAllowPerChannel(t *testing.T) {
	t.Parallel()

	rdb, _ := newTestRedisClient(t)

	now := time.Unix(1_700_000_100, 0)
	limiter, err := newChannelRateLimiter(
		rdb,
		1,
		func() time.Time { return now },
		sleepWithContext,
	)
	if err != nil {
		t.Fatalf("newChannelRateLimiter() error = %v", err)
	}

	allowed, err := limiter.Allow(context.Background(), domain.ChannelTelegram)
	if err != nil || !allowed {
		t.Fatalf("Allow(telegram) = %v, %v, want true, nil", allowed, err)
	}

	allowed, err = limiter.Allow(context.Background(), domain.ChannelEmail)
	if err != nil || !allowed {
		t.Fatalf("Allow(email) = %v, %v, want true, nil", allowed, err)
	}

	allowed, err = limiter.Allow(context.Background(), domain.ChannelTelegram)
	if err != nil {
		t.Fatalf("Allow(telegram) error = %v", err)
	}
	if allowed {
		t.Fatal("telegram second request should be rejected")
	}
}

func TestChannelRateLimiterPause(t *testing.T) {
	t.Parallel()

	rdb, mr := newTestRedisClient(t)

	now := time.Unix(1_700_000_150, 0)
	limiter, err := newChannelRateLimiter(
		rdb,
		10,
		func() time.Time { return now },
		sleepWithContext,
	)
	if err != nil {
		t.Fatalf("newChannelRateLimiter() error = %v", err)
	}

	if err := limiter.Pause(context.Background(), domain.ChannelTelegram, 30*time.Second); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}

	allowed, err := limiter.Allow(context.Background(), domain.ChannelTelegram)
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if allowed {
		t.Fatal("paused channel should be rejected")
	}

	allowed, err = limiter.Allow(context.Background(), domain.ChannelEmail)
	if err != nil || !allowed {
		t.Fatalf("Allow(email) = %v, %v, other channels must not be paused", allowed, err)
	}

	mr.FastForward(31 * time.Second)
	now = now.Add(31 * time.Second)

	allowed, err = limiter.Allow(context.Background(), domain.ChannelTelegram)
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if !allowed {
		t.Fatal("channel should be allowed once the pause expires")
	}
}

func TestChannelRateLimiterPauseNonPositiveIsNoop(t *testing.T) {
	t.Parallel()

	rdb, mr := newTestRedisClient(t)
	limiter, err := NewChannelRateLimiter(rdb, 5)
	if err != nil {
		t.Fatalf("NewChannelRateLimiter() error = %v", err)
	}

	if err := limiter.Pause(context.Background(), domain.ChannelEmail, 0); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	if mr.Exists(pauseKey("email")) {
		t.Fatal("zero pause should not write a key")
	}
}

func TestChannelRateLimiterWait(t *testing.T) {
	t.Parallel()

	rdb, _ := newTestRedisClient(t)

	now := time.Unix(1_700_000_200, 0)
	sleepCalls := 0
	limiter, err := newChannelRateLimiter(
		rdb,
		1,
		func() time.Time { return now },
		func(ctx context.Context, d time.Duration) error {
			sleepCalls++
			if sleepCalls == 1 {
				now = now.Add(time.Second)
			}
			return nil
		},
	)
	if err != nil {
		t.Fatalf("newChannelRateLimiter() error = %v", err)
	}

	allowed, err := limiter.Allow(context.Background(), domain.ChannelEmail)
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if !allowed {
		t.Fatal("expected first call to be allowed")
	}

	if err := limiter.Wait(context.Background(), domain.ChannelEmail); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if sleepCalls == 0 {
		t.Fatal("expected Wait() to sleep at least once")
	}
}

func TestChannelRateLimiterWaitContextDeadline(t *testing.T) {
	t.Parallel()

	rdb, _ := newTestRedisClient(t)

	now := time.Unix(1_700_000_300, 0)
	limiter, err := newChannelRateLimiter(
		rdb,
		1,
		func() time.Time { return now },
		sleepWithContext,
	)
	if err != nil {
		t.Fatalf("newChannelRateLimiter() error = %v", err)
	}

	allowed, err := limiter.Allow(context.Background(), domain.ChannelTelegram)
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if !allowed {
		t.Fatal("expected first call to be allowed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()

	err = limiter.Wait(ctx, domain.ChannelTelegram)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait() error = %v, want %v", err, context.DeadlineExceeded)
	}
}

func TestChannelRateLimiterRejectsEmptyChannel(t *testing.T) {
	t.Parallel()

	rdb, _ := newTestRedisClient(t)
	limiter, err := NewChannelRateLimiter(rdb, 1)
	if err != nil {
		t.Fatalf("NewChannelRateLimiter() error = %v", err)
	}

	if _, err := limiter.Allow(context.Background(), domain.Channel(" ")); err == nil {
		t.Fatal("expected error for empty channel")
	}
}

func TestNewRedis(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)

	client, err := NewRedis(context.Background(), "redis://"+mr.Addr()+"/0")
	if err != nil {
		t.Fatalf("NewRedis() error = %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	if _, err := NewRedis(context.Background(), "://bad"); err == nil {
		t.Fatal("expected parse error for malformed url")
	}
}

func newTestRedisClient(t *testing.T) (*goredis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := goredis.NewClient(&goredis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() {
		_ = rdb.Close()
	})

	return rdb, mr
}
