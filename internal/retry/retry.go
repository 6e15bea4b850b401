// Package retry wraps a fallible unit of work (a fetch or a notify) with
// bounded exponential backoff.
//
// Failures are transient by default and retried. An error wrapped with
// NoRetry aborts immediately; one wrapped with RetryAfter replaces the
// computed backoff with the upstream hint. Exhausting attempts surfaces the
// last error to the caller, who logs it and moves on.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	logx "feedwatch/pkg/logx"
)

// Policy bounds one envelope run.
//
// MaxAttempts counts the first attempt too; <= 0 means a single attempt
// (no retries).
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

const (
	defaultBaseDelay = time.Second
	defaultMaxDelay  = time.Minute
)

// Delay returns the backoff before retry n (n starts at 1 for the first
// retry). The delay doubles per retry and is capped absolutely at MaxDelay.
func Delay(p Policy, n int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = defaultBaseDelay
	}
	maxD := p.MaxDelay
	if maxD <= 0 {
		maxD = defaultMaxDelay
	}
	d := base
	for i := 1; i < n; i++ {
		d *= 2
		if d >= maxD {
			return maxD
		}
	}
	if d > maxD {
		return maxD
	}
	return d
}

// Do runs op under p, sleeping between attempts. All sleeps honor ctx.
//
// The returned error is nil on success, ctx.Err() on cancellation, the
// original error when it is non-retryable, and a wrapped "attempts
// exhausted" error once the policy is spent.
func Do(ctx context.Context, log logx.Logger, p Policy, name string, op func(context.Context) error) error {
	if op == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if IsNoRetry(err) {
			return err
		}
		if attempt >= attempts {
			break
		}

		delay := Delay(p, attempt)
		var ra RetryAfterError
		if errors.As(err, &ra) {
			if hint := ra.RetryAfter(); hint > 0 {
				delay = hint
				maxD := p.MaxDelay
				if maxD <= 0 {
					maxD = defaultMaxDelay
				}
				if delay > maxD {
					delay = maxD
				}
			}
		}

		log.Debug("retrying",
			logx.String("op", name),
			logx.Int("attempt", attempt),
			logx.Int("max_attempts", attempts),
			logx.Duration("delay", delay),
			logx.Err(err),
		)

		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			if !t.Stop() {
				<-t.C
			}
			return ctx.Err()
		}
	}

	return fmt.Errorf("%s: attempts exhausted: %w", name, lastErr)
}
