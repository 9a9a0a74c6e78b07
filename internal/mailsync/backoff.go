package mailsync

import (
	"context"
	"math"
	"time"
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the SleepFunc backed by a timer.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Backoff is an exponential retry schedule.
type Backoff struct {
	Base        time.Duration
	Factor      float64
	MaxAttempts int
}

// Delay returns the wait after the given 1-based failed attempt:
// Base * Factor^(attempt-1).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(float64(b.Base) * math.Pow(b.Factor, float64(attempt-1)))
}
