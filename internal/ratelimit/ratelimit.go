// Package ratelimit gates dispatch with a fixed-window counter per endpoint.
// Fixed windows tolerate slight bursts at window boundaries in exchange for a
// trivially auditable, allocation-free admission check.
package ratelimit

import (
	"sync"
	"time"

	"github.com/operant-labs/toolgate/internal/fault"
	"github.com/operant-labs/toolgate/internal/registry"
)

// Limiter holds one counter window per endpoint id. Entries lock
// individually — admission on one endpoint never serializes against another.
type Limiter struct {
	entries sync.Map // map[string]*window
	now     func() time.Time
}

type window struct {
	mu    sync.Mutex
	start time.Time
	count int
}

func NewLimiter() *Limiter {
	return &Limiter{now: time.Now}
}

// newLimiterWithClock creates a limiter with a custom clock (for testing).
func newLimiterWithClock(now func() time.Time) *Limiter {
	return &Limiter{now: now}
}

// Allow admits or rejects one call. Endpoints without a configured rate limit
// bypass the limiter entirely. Rejection is fail-fast — the caller decides
// whether to come back later.
func (l *Limiter) Allow(endpointID string, policy *registry.RateLimit) error {
	if policy == nil {
		return nil
	}

	v, _ := l.entries.LoadOrStore(endpointID, &window{})
	w := v.(*window)

	w.mu.Lock()
	defer w.mu.Unlock()

	now := l.now()
	if now.Sub(w.start) >= time.Duration(policy.WindowSeconds)*time.Second {
		w.start = now
		w.count = 0
	}
	if w.count >= policy.MaxRequests {
		return fault.New(fault.RateLimited, "endpoint %s exceeded %d requests per %ds",
			endpointID, policy.MaxRequests, policy.WindowSeconds)
	}
	w.count++
	return nil
}
