package discovery

import (
	"context"
	"time"
)

// PollPolicy defines the polling schedule with exponential backoff
type PollPolicy struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// NewPollPolicy creates the default schedule: 10s growing by 1.5x, capped at 60s, 30 attempts
func NewPollPolicy() *PollPolicy {
	return &PollPolicy{
		MaxAttempts:       30,
		InitialBackoff:    10 * time.Second,
		MaxBackoff:        60 * time.Second,
		BackoffMultiplier: 1.5,
	}
}

// Backoff returns the wait before the given zero-based attempt
func (p *PollPolicy) Backoff(attempt int) time.Duration {
	backoff := float64(p.InitialBackoff)
	for i := 0; i < attempt; i++ {
		backoff *= p.BackoffMultiplier
		if backoff >= float64(p.MaxBackoff) {
			return p.MaxBackoff
		}
	}
	if backoff > float64(p.MaxBackoff) {
		return p.MaxBackoff
	}
	return time.Duration(backoff)
}

// sleepContext waits for d or until ctx is done
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
