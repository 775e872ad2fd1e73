package mq

import (
	"context"
	"time"
)

// Backoff computes exponential delays between reconnect attempts.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

// DefaultBackoff starts at one second and caps at thirty.
var DefaultBackoff = Backoff{Initial: time.Second, Max: 30 * time.Second}

// Delay returns the wait before attempt (0-based): Initial * 2^attempt,
// capped at Max.
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Initial <= 0 {
		return 0
	}
	delay := b.Initial
	for i := 0; i < attempt; i++ {
		delay *= 2
		if b.Max > 0 && delay >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && delay > b.Max {
		return b.Max
	}
	return delay
}

// Wait sleeps for d or until ctx is done.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
