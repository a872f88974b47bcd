package retry

import (
	"context"
	"errors"
	"testing"

	"github.com/yungbote/neurobridge-backend/internal/workflow/errs"
)

func TestDoReturnsImmediatelyOnSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultPolicy(), func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 call, got %d", calls)
	}
}

func TestDoDoesNotRetryNonTransientErrors(t *testing.T) {
	calls := 0
	sentinel := errors.New("validation failed")
	err := Do(context.Background(), DefaultPolicy(), func() error {
		calls++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error returned unchanged, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("non-retryable error must not be retried, got %d calls", calls)
	}
}

func TestDoRetriesTransientErrorsUpToMaxAttempts(t *testing.T) {
	calls := 0
	policy := Policy{MaxAttempts: 3, BaseDelay: 0, MaxDelay: 0, JitterFrac: 0}
	err := Do(context.Background(), policy, func() error {
		calls++
		return errs.NewTransient(errors.New("db unavailable"))
	})
	if err == nil {
		t.Fatalf("expected the last transient error to be returned")
	}
	if calls != 3 {
		t.Fatalf("expected exactly MaxAttempts=3 calls, got %d", calls)
	}
}

func TestDoStopsRetryingOnceErrorClears(t *testing.T) {
	calls := 0
	policy := Policy{MaxAttempts: 5, BaseDelay: 0, MaxDelay: 0, JitterFrac: 0}
	err := Do(context.Background(), policy, func() error {
		calls++
		if calls < 2 {
			return errs.NewTransient(errors.New("db unavailable"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected nil error once the call succeeds, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected exactly 2 calls, got %d", calls)
	}
}
