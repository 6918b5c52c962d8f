package retry

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/operant-labs/toolgate/internal/dispatch"
	"github.com/operant-labs/toolgate/internal/fault"
	"github.com/operant-labs/toolgate/internal/registry"
)

func failedWith(kind fault.Kind, status int) *dispatch.Result {
	f := fault.New(kind, "synthetic").WithStatus(status)
	return &dispatch.Result{Status: dispatch.StatusFailed, Code: status, Fault: f, Error: f.Error()}
}

func succeeded() *dispatch.Result {
	return &dispatch.Result{Status: dispatch.StatusSuccess, Code: 200}
}

func testExecutor() *Executor {
	return newExecutorWithBase(zap.NewNop(), time.Millisecond)
}

func TestRun_TransientFailureExhaustsRetries(t *testing.T) {
	calls := 0
	final, attempts := testExecutor().Run(context.Background(),
		&registry.RetryPolicy{MaxRetries: 2, BackoffMultiplier: 2},
		func(_ context.Context, attempt int) *dispatch.Result {
			calls++
			if attempt != calls {
				t.Errorf("attempt number %d disagrees with call count %d", attempt, calls)
			}
			return failedWith(fault.ConnectionError, 0)
		})

	if calls != 3 {
		t.Fatalf("max_retries=2 should make exactly 3 attempts, got %d", calls)
	}
	if len(attempts) != 3 {
		t.Fatalf("expected 3 recorded attempts, got %d", len(attempts))
	}
	if final.Fault.Kind != fault.RetriesExhausted {
		t.Errorf("final fault should be retries_exhausted, got %s", final.Fault.Kind)
	}
}

func TestRun_SucceedsMidway(t *testing.T) {
	calls := 0
	final, attempts := testExecutor().Run(context.Background(),
		&registry.RetryPolicy{MaxRetries: 3, BackoffMultiplier: 1},
		func(_ context.Context, _ int) *dispatch.Result {
			calls++
			if calls < 2 {
				return failedWith(fault.Timeout, 0)
			}
			return succeeded()
		})

	if calls != 2 {
		t.Fatalf("expected success on attempt 2, got %d calls", calls)
	}
	if final.Status != dispatch.StatusSuccess {
		t.Errorf("final should be the success, got %s", final.Status)
	}
	if len(attempts) != 2 {
		t.Errorf("expected 2 recorded attempts, got %d", len(attempts))
	}
}

func TestRun_NonRetryableStopsImmediately(t *testing.T) {
	for _, kind := range []fault.Kind{fault.AuthError, fault.ProtocolError} {
		calls := 0
		final, _ := testExecutor().Run(context.Background(),
			&registry.RetryPolicy{MaxRetries: 5, BackoffMultiplier: 2},
			func(_ context.Context, _ int) *dispatch.Result {
				calls++
				return failedWith(kind, 401)
			})

		if calls != 1 {
			t.Errorf("%s: should not retry, got %d calls", kind, calls)
		}
		if final.Fault.Kind != kind {
			t.Errorf("%s: final fault should pass through unchanged, got %s", kind, final.Fault.Kind)
		}
	}
}

func TestRun_Upstream4xxNotRetried(t *testing.T) {
	calls := 0
	testExecutor().Run(context.Background(),
		&registry.RetryPolicy{MaxRetries: 5, BackoffMultiplier: 2},
		func(_ context.Context, _ int) *dispatch.Result {
			calls++
			return failedWith(fault.UpstreamError, 404)
		})
	if calls != 1 {
		t.Errorf("a 404 should not be retried, got %d calls", calls)
	}
}

func TestRun_NilPolicySingleAttempt(t *testing.T) {
	calls := 0
	final, attempts := testExecutor().Run(context.Background(), nil,
		func(_ context.Context, _ int) *dispatch.Result {
			calls++
			return failedWith(fault.ConnectionError, 0)
		})

	if calls != 1 || len(attempts) != 1 {
		t.Fatalf("nil policy should make exactly 1 attempt, got %d", calls)
	}
	if final.Fault.Kind != fault.ConnectionError {
		t.Errorf("single attempt should not be wrapped in retries_exhausted, got %s", final.Fault.Kind)
	}
}

func TestRun_CancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	exec := newExecutorWithBase(zap.NewNop(), time.Hour) // backoff long enough to guarantee cancellation wins

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	final, attempts := exec.Run(ctx,
		&registry.RetryPolicy{MaxRetries: 2, BackoffMultiplier: 1},
		func(_ context.Context, _ int) *dispatch.Result {
			return failedWith(fault.ConnectionError, 0)
		})

	if len(attempts) != 1 {
		t.Fatalf("cancellation during backoff should leave 1 attempt, got %d", len(attempts))
	}
	if final.Fault.Kind != fault.Cancelled {
		t.Errorf("caller abort should surface cancelled, got %s", final.Fault.Kind)
	}
	if fault.Retryable(final.Fault) {
		t.Error("a cancelled run must not be retryable")
	}
}

func TestRun_DeadlineDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	exec := newExecutorWithBase(zap.NewNop(), time.Hour)

	final, attempts := exec.Run(ctx,
		&registry.RetryPolicy{MaxRetries: 2, BackoffMultiplier: 1},
		func(_ context.Context, _ int) *dispatch.Result {
			return failedWith(fault.ConnectionError, 0)
		})

	if len(attempts) != 1 {
		t.Fatalf("deadline during backoff should leave 1 attempt, got %d", len(attempts))
	}
	if final.Fault.Kind != fault.Timeout {
		t.Errorf("an elapsed deadline should surface timeout, got %s", final.Fault.Kind)
	}
}

func TestBackoff_CappedAtMax(t *testing.T) {
	if d := backoff(BaseDelay, 20, 2); d != MaxDelay {
		t.Errorf("deep attempts should cap at %s, got %s", MaxDelay, d)
	}
	if d := backoff(BaseDelay, 1, 2); d != BaseDelay {
		t.Errorf("first backoff should be the base delay, got %s", d)
	}
}
