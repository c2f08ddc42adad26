package mq

import (
	"context"
	"time"
)

// ComputeBackoff returns the delay before retry number retryCount (1-based).
// The delay doubles per retry starting at base and never exceeds max.
func ComputeBackoff(retryCount int, base, max time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if max <= 0 {
		max = base
	}
	if retryCount <= 1 {
		if base > max {
			return max
		}
		return base
	}
	delay := base
	for i := 1; i < retryCount; i++ {
		if delay >= max/2 {
			return max
		}
		delay *= 2
	}
	if delay > max {
		return max
	}
	return delay
}

// waitUntil sleeps until t or ctx is done.
func waitUntil(ctx context.Context, t time.Time) error {
	d := time.Until(t)
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
