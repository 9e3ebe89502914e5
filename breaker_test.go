package maestro

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errRemote = errors.New("remote failure")

func failN(b *Breaker, n int) {
	for i := 0; i < n; i++ {
		b.Do(func() error { return errRemote })
	}
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := NewBreaker(BreakerThreshold(3))
	failN(b, 3)

	calls := 0
	err := b.Do(func() error {
		calls++
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("got %v, want ErrCircuitOpen", err)
	}
	if calls != 0 {
		t.Errorf("op invoked %d times while open, want 0", calls)
	}
	if b.State() != BreakerOpen {
		t.Errorf("State() = %v, want open", b.State())
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(BreakerThreshold(3))
	failN(b, 2)
	if err := b.Do(func() error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	failN(b, 2)

	// 2 failures, success, 2 failures: threshold of 3 consecutive never hit.
	if b.State() != BreakerClosed {
		t.Errorf("State() = %v, want closed", b.State())
	}
}

func TestBreaker_RecoversAfterTimeout(t *testing.T) {
	b := NewBreaker(BreakerThreshold(3), BreakerTimeout(50*time.Millisecond))
	failN(b, 3)

	if err := b.Do(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("got %v, want ErrCircuitOpen before timeout", err)
	}

	time.Sleep(60 * time.Millisecond)

	calls := 0
	if err := b.Do(func() error { calls++; return nil }); err != nil {
		t.Fatalf("probe after timeout failed: %v", err)
	}
	if calls != 1 {
		t.Fatalf("probe invoked %d times, want 1", calls)
	}
	if b.State() != BreakerClosed {
		t.Errorf("State() = %v, want closed after successful probe", b.State())
	}

	// One failure after recovery must not re-open: the counter restarted at 0.
	b.Do(func() error { return errRemote })
	if b.State() != BreakerClosed {
		t.Errorf("State() = %v, want closed after single failure", b.State())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker(BreakerThreshold(2), BreakerTimeout(30*time.Millisecond))
	failN(b, 2)
	time.Sleep(40 * time.Millisecond)

	if err := b.Do(func() error { return errRemote }); !errors.Is(err, errRemote) {
		t.Fatalf("got %v, want remote failure from probe", err)
	}
	if b.State() != BreakerOpen {
		t.Errorf("State() = %v, want open after failed probe", b.State())
	}
	if err := b.Do(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("got %v, want ErrCircuitOpen right after reopen", err)
	}
}

func TestBreaker_HalfOpenLimitsConcurrentProbes(t *testing.T) {
	b := NewBreaker(BreakerThreshold(1), BreakerTimeout(10*time.Millisecond), BreakerHalfOpenMax(1))
	failN(b, 1)
	time.Sleep(20 * time.Millisecond)

	probeStarted := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Do(func() error {
			close(probeStarted)
			<-release
			return nil
		})
	}()

	<-probeStarted
	if err := b.Do(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("got %v, want ErrCircuitOpen while probe in flight", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	if b.State() != BreakerClosed {
		t.Errorf("State() = %v, want closed after probe success", b.State())
	}
}

func TestBreaker_IgnoresCancellation(t *testing.T) {
	b := NewBreaker(BreakerThreshold(1))
	b.Do(func() error { return context.Canceled })
	if b.State() != BreakerClosed {
		t.Errorf("State() = %v, want closed (cancellation is not a failure)", b.State())
	}
}

func TestBreakerState_String(t *testing.T) {
	for state, want := range map[BreakerState]string{
		BreakerClosed:   "closed",
		BreakerOpen:     "open",
		BreakerHalfOpen: "half-open",
	} {
		if got := state.String(); got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	}
}
