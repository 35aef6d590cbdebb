package ratelimit

import (
	"context"
	"time"

	"github.com/kursadbilgin/inquiry-dispatch/internal/domain"
)

// RateLimiter throttles outbound provider calls per channel across all workers.
type RateLimiter interface {
	Allow(ctx context.Context, channel domain.Channel) (bool, error)
	Wait(ctx context.Context, channel domain.Channel) error
	// Pause blocks the channel for d, e.g. after a provider answered 429.
	Pause(ctx context.Context, channel domain.Channel, d time.Duration) error
}
