// Package retry implements the exponential-backoff-with-jitter policy for
// transient errors (spec §4.6, §7: 3 attempts, x2 backoff starting at 1s).
// Its caller is the Stage Worker Runtime, which retries Event Bus publishes
// with it; the Persistence Adapter's repository methods and the
// Orchestrator make a single attempt and do not use it. Grounded on the
// teacher's computeBackoff in internal/jobs/orchestrator/engine.go.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/yungbote/neurobridge-backend/internal/workflow/errs"
)

// Policy controls backoff shape.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	JitterFrac  float64
}

// DefaultPolicy matches spec §6's configuration defaults
// (retry_attempts=3, retry_base_delay=1s).
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
		JitterFrac:  0.20,
	}
}

func (p Policy) delay(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = 1 * time.Second
	}
	maxD := p.MaxDelay
	if maxD <= 0 {
		maxD = 30 * time.Second
	}
	j := p.JitterFrac
	if j <= 0 {
		j = 0.20
	}
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	if d > maxD {
		d = maxD
	}
	delta := float64(d) * j
	low := float64(d) - delta
	high := float64(d) + delta
	if low < 0 {
		low = 0
	}
	return time.Duration(low + rand.Float64()*(high-low))
}

// Do retries fn while it returns a *errs.TransientBackendError, up to
// p.MaxAttempts, sleeping the computed backoff between attempts. Any other
// error (or nil) returns immediately — only TransientBackendError is
// retryable per the taxonomy in §7.
func Do(ctx context.Context, p Policy, fn func() error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil || !errs.IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.delay(attempt)):
		}
	}
	return lastErr
}
