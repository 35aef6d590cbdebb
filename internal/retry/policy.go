// Package retry holds the backoff policy shared by every delivery channel.
package retry

import (
	"math/rand"
	"time"
)

const (
	DefaultBaseDelay   = 60 * time.Second
	DefaultMultiplier  = 2.0
	DefaultMaxAttempts = 5
	DefaultMaxJitter   = 10 * time.Second
)

// Policy computes exponential backoff with additive jitter.
type Policy struct {
	BaseDelay   time.Duration
	Multiplier  float64
	MaxAttempts int
	// MaxDelay caps the exponential part; zero means uncapped.
	MaxDelay  time.Duration
	MaxJitter time.Duration

	randInt63n func(n int64) int64
}

func DefaultPolicy() *Policy {
	return NewPolicy(DefaultBaseDelay, DefaultMultiplier, DefaultMaxAttempts, 0, DefaultMaxJitter)
}

func NewPolicy(
	baseDelay time.Duration,
	multiplier float64,
	maxAttempts int,
	maxDelay time.Duration,
	maxJitter time.Duration,
) *Policy {
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	if multiplier < 1 {
		multiplier = DefaultMultiplier
	}
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	if maxDelay < 0 {
		maxDelay = 0
	}
	if maxJitter < 0 {
		maxJitter = 0
	}

	return &Policy{
		BaseDelay:   baseDelay,
		Multiplier:  multiplier,
		MaxAttempts: maxAttempts,
		MaxDelay:    maxDelay,
		MaxJitter:   maxJitter,
		randInt63n:  rand.Int63n,
	}
}

// ShouldRetry reports whether another attempt is allowed after attemptNumber failed.
func (p *Policy) ShouldRetry(attemptNumber int) bool {
	return attemptNumber < p.MaxAttempts
}

// NextDelay returns the wait before the next attempt. A positive override
// (a provider-supplied retry-after) replaces the computed backoff.
func (p *Policy) NextDelay(attemptNumber int, override time.Duration) time.Duration {
	if override > 0 {
		return override
	}
	return p.Delay(attemptNumber)
}

// Delay returns BaseDelay * Multiplier^(attemptNumber-1) plus jitter.
func (p *Policy) Delay(attemptNumber int) time.Duration {
	if attemptNumber < 1 {
		attemptNumber = 1
	}

	delay := float64(p.BaseDelay)
	for i := 1; i < attemptNumber; i++ {
		delay *= p.Multiplier
		if p.MaxDelay > 0 && delay >= float64(p.MaxDelay) {
			delay = float64(p.MaxDelay)
			break
		}
	}

	return time.Duration(delay) + p.jitter()
}

func (p *Policy) jitter() time.Duration {
	if p.MaxJitter <= 0 || p.randInt63n == nil {
		return 0
	}
	return time.Duration(p.randInt63n(int64(p.MaxJitter) + 1))
}
