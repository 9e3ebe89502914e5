package maestro

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestResilientCall_Success(t *testing.T) {
	b := NewBreaker()
	got, err := ResilientCall(context.Background(), b, fastRetry(3), time.Second, func(context.Context) (int, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42 {
		t.Errorf("got %d, want 42", got)
	}
}

func TestResilientCall_OpenBreakerFailsFastWithoutRetry(t *testing.T) {
	b := NewBreaker(BreakerThreshold(1))
	b.Do(func() error { return errRemote })

	calls := 0
	_, err := ResilientCall(context.Background(), b, fastRetry(3), time.Second, func(context.Context) (int, error) {
		calls++
		return 0, nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("got %v, want ErrCircuitOpen", err)
	}
	if calls != 0 {
		t.Errorf("op invoked %d times, want 0", calls)
	}
}

func TestResilientCall_PerAttemptTimeout(t *testing.T) {
	b := NewBreaker()
	attempts := 0
	got, err := ResilientCall(context.Background(), b, fastRetry(3), 30*time.Millisecond, func(ctx context.Context) (string, error) {
		attempts++
		if attempts == 1 {
			<-ctx.Done()
			return "", ctx.Err()
		}
		if _, ok := ctx.Deadline(); !ok {
			t.Error("attempt context has no deadline")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" {
		t.Errorf("got %q, want %q", got, "ok")
	}
	if attempts != 2 {
		t.Errorf("got %d attempts, want 2 (timeout is transient)", attempts)
	}
}

func TestResilientCall_FailuresTripBreaker(t *testing.T) {
	b := NewBreaker(BreakerThreshold(3))
	calls := 0
	_, err := ResilientCall(context.Background(), b, fastRetry(5), time.Second, func(context.Context) (int, error) {
		calls++
		return 0, &ErrHTTP{Status: 503}
	})
	// Attempts 1-3 fail and trip the breaker; attempt 4 is rejected and
	// rejection stops the retry loop.
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("got %v, want ErrCircuitOpen", err)
	}
	if calls != 3 {
		t.Errorf("op invoked %d times, want 3", calls)
	}
}

func TestResilientCall_RejectedErrorPassesThrough(t *testing.T) {
	b := NewBreaker()
	calls := 0
	_, err := ResilientCall(context.Background(), b, fastRetry(3), time.Second, func(context.Context) (int, error) {
		calls++
		return 0, &ErrHTTP{Status: 404, Body: "not found"}
	})
	var httpErr *ErrHTTP
	if !errors.As(err, &httpErr) || httpErr.Status != 404 {
		t.Fatalf("got %v, want ErrHTTP 404", err)
	}
	if calls != 1 {
		t.Errorf("op invoked %d times, want 1", calls)
	}
}
