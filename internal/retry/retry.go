// Package retry runs remote operations under a bounded exponential backoff.
package retry

import (
	"context"
	"log/slog"
	"time"
)

// Policy configures the backoff. Attempt n (0-based) that fails is followed
// by a pause of InitialDelay * 2^n before the next attempt. There is no
// jitter and no delay cap.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration

	// Sleep replaces the ctx-aware timer wait. Tests inject a recorder here.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy returns three attempts starting at 500ms.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
	}
}

// Delay returns the pause that follows the failed attempt n.
func (p Policy) Delay(n int) time.Duration {
	return p.InitialDelay << uint(n)
}

// Do calls op until it succeeds or MaxAttempts is exhausted, returning the
// last error. No pause follows the final failed attempt. A cancelled ctx
// stops the loop and returns ctx.Err().
func Do[T any](ctx context.Context, p Policy, name string, op func(ctx context.Context) (T, error)) (T, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var (
		zero    T
		lastErr error
	)
	for n := 0; n < attempts; n++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if n == attempts-1 {
			break
		}

		delay := p.Delay(n)
		slog.DebugContext(ctx, "Remote call failed, backing off",
			"op", name,
			"attempt", n+1,
			"max_attempts", attempts,
			"delay", delay,
			"error", err)
		if serr := sleep(ctx, delay); serr != nil {
			return zero, serr
		}
	}
	return zero, lastErr
}

// Run is Do for operations without a result.
func Run(ctx context.Context, p Policy, name string, op func(ctx context.Context) error) error {
	_, err := Do(ctx, p, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
