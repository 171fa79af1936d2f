package reconcile

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"phrasebridge/internal/domain"
)

// Retry tuning: exponential growth from a small base, capped per wait, with
// the overall budget bounded by elapsed time rather than attempt count so a
// brief store or vendor outage is ridden out without holding the operation
// open indefinitely.
const (
	retryBaseDelay  = 100 * time.Millisecond
	retryMultiplier = 4
	retryMaxDelay   = 1500 * time.Millisecond
	retryBudget     = 10 * time.Second
)

// retryTimed runs fn until it succeeds, the context ends, or the elapsed
// budget is spent. Waits are jittered +-20% to keep concurrent retries from
// synchronizing.
func (r *Reconciler) retryTimed(ctx context.Context, op string, fn func() error) error {
	start := r.now()
	delay := retryBaseDelay
	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", op, ctx.Err())
		}
		if r.now().Sub(start)+delay > retryBudget {
			break
		}
		r.logger.Warn().Err(lastErr).Str("op", op).Int("attempt", attempt+1).Msg("transient failure, backing off")
		if err := r.sleep(ctx, jitter(delay)); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		delay *= retryMultiplier
		if delay > retryMaxDelay {
			delay = retryMaxDelay
		}
	}
	return fmt.Errorf("%s: %w: %v", op, domain.ErrRetryBudgetExceeded, lastErr)
}

func jitter(d time.Duration) time.Duration {
	spread := int64(d) / 5
	if spread == 0 {
		return d
	}
	return time.Duration(int64(d) - spread/2 + rand.Int63n(spread))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
