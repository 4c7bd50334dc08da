package batch

import (
	"context"
	"time"
)

// Default retry backoff bounds.
const (
	DefaultBackoffBase = time.Second
	DefaultBackoffMax  = 30 * time.Second
)

// Backoff computes the wait before retry number attempt+1.
type Backoff interface {
	Delay(attempt int) time.Duration
}

// ExponentialBackoff waits Base * 2^attempt, capped at Max. There is no
// jitter, so delays are non-decreasing in attempt.
type ExponentialBackoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff is 1s, 2s, 4s ... capped at 30s.
func DefaultBackoff() ExponentialBackoff {
	return ExponentialBackoff{Base: DefaultBackoffBase, Max: DefaultBackoffMax}
}

func (b ExponentialBackoff) Delay(attempt int) time.Duration {
	base, ceiling := b.Base, b.Max
	if base <= 0 {
		base = DefaultBackoffBase
	}
	if ceiling <= 0 {
		ceiling = DefaultBackoffMax
	}
	if attempt < 0 {
		attempt = 0
	}

	d := base
	for i := 0; i < attempt; i++ {
		if d >= ceiling/2 {
			return ceiling
		}
		d *= 2
	}
	if d > ceiling {
		return ceiling
	}
	return d
}

// ConstantBackoff waits the same duration before every retry.
type ConstantBackoff time.Duration

func (c ConstantBackoff) Delay(int) time.Duration { return time.Duration(c) }

// sleepCtx waits d or until ctx ends, whichever is first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
