// Package retry bounds dispatch attempts with exponential backoff. Only
// transient failures (timeouts, connection errors, 5xx-equivalent upstream
// responses) are retried; auth, protocol, and 4xx-class failures surface
// immediately.
package retry

import (
	"context"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/operant-labs/toolgate/internal/dispatch"
	"github.com/operant-labs/toolgate/internal/fault"
	"github.com/operant-labs/toolgate/internal/registry"
)

const (
	// BaseDelay is the first backoff interval; attempt n waits
	// BaseDelay * multiplier^(n-1), capped at MaxDelay.
	BaseDelay = 500 * time.Millisecond
	MaxDelay  = 30 * time.Second
)

// AttemptFunc runs one dispatch attempt. The attempt number is 1-based.
type AttemptFunc func(ctx context.Context, attempt int) *dispatch.Result

// Executor wraps dispatch attempts with the endpoint's retry policy.
type Executor struct {
	logger *zap.Logger
	base   time.Duration
}

func NewExecutor(logger *zap.Logger) *Executor {
	return &Executor{logger: logger, base: BaseDelay}
}

// newExecutorWithBase creates an executor with a custom base delay (for testing).
func newExecutorWithBase(logger *zap.Logger, base time.Duration) *Executor {
	return &Executor{logger: logger, base: base}
}

// Run executes up to maxRetries+1 attempts. Every attempt's result is
// returned so the audit trail records each try, not just the final one. When
// retries are exhausted the final result carries RetriesExhausted wrapping
// the last transient fault.
func (e *Executor) Run(ctx context.Context, policy *registry.RetryPolicy, attempt AttemptFunc) (*dispatch.Result, []*dispatch.Result) {
	maxRetries := 0
	multiplier := 1.0
	if policy != nil {
		maxRetries = policy.MaxRetries
		if policy.BackoffMultiplier > 0 {
			multiplier = policy.BackoffMultiplier
		}
	}

	var attempts []*dispatch.Result
	var last *dispatch.Result

	for n := 1; n <= maxRetries+1; n++ {
		last = attempt(ctx, n)
		attempts = append(attempts, last)

		if last.Status == dispatch.StatusSuccess || !fault.Retryable(last.Fault) {
			return last, attempts
		}
		if n == maxRetries+1 {
			break
		}

		delay := backoff(e.base, n, multiplier)
		e.logger.Debug("retrying after transient failure",
			zap.Int("attempt", n),
			zap.String("fault", string(last.Fault.Kind)),
			zap.Duration("delay", delay),
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			// A caller abort is not a timeout; the audit trail keeps the
			// two apart.
			kind := fault.Timeout
			if errors.Is(ctx.Err(), context.Canceled) {
				kind = fault.Cancelled
			}
			aborted := fault.Wrap(kind, ctx.Err())
			final := &dispatch.Result{
				Status:  dispatch.StatusFailed,
				Fault:   aborted,
				Error:   aborted.Error(),
				Attempt: n,
			}
			return final, attempts
		}
	}

	if maxRetries > 0 {
		exhausted := fault.Wrap(fault.RetriesExhausted, last.Fault)
		final := &dispatch.Result{
			Status:  dispatch.StatusFailed,
			Code:    last.Code,
			Body:    last.Body,
			Fault:   exhausted,
			Error:   exhausted.Error(),
			Attempt: last.Attempt,
			Latency: last.Latency,
		}
		return final, attempts
	}
	return last, attempts
}

func backoff(base time.Duration, attempt int, multiplier float64) time.Duration {
	d := time.Duration(float64(base) * math.Pow(multiplier, float64(attempt-1)))
	if d > MaxDelay {
		return MaxDelay
	}
	return d
}
