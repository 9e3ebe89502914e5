package maestro

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// BreakerState is the current position of a circuit breaker.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

// String returns the state name for logs and metrics.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker is a circuit breaker guarding one remote endpoint.
//
// Closed: calls run; threshold consecutive failures trip it Open.
// Open: calls fail fast with ErrCircuitOpen until the reset timeout has
// elapsed since the last failure, then the breaker moves to HalfOpen.
// HalfOpen: at most halfOpenMax probes run concurrently; the first success
// closes the breaker, any failure reopens it.
type Breaker struct {
	mu          sync.Mutex
	state       BreakerState
	failures    int
	probes      int // in-flight half-open probes
	lastFailure time.Time

	threshold   int
	timeout     time.Duration
	halfOpenMax int
	logger      *slog.Logger
}

// BreakerOption configures a Breaker.
type BreakerOption func(*Breaker)

// BreakerThreshold sets the consecutive-failure count that trips the
// breaker open (default: 5).
func BreakerThreshold(n int) BreakerOption {
	return func(b *Breaker) { b.threshold = n }
}

// BreakerTimeout sets how long the breaker stays open before admitting
// probes (default: 60s).
func BreakerTimeout(d time.Duration) BreakerOption {
	return func(b *Breaker) { b.timeout = d }
}

// BreakerHalfOpenMax sets the number of concurrent probes admitted in the
// half-open state (default: 3).
func BreakerHalfOpenMax(n int) BreakerOption {
	return func(b *Breaker) { b.halfOpenMax = n }
}

// BreakerLogger sets the structured logger for state transitions.
// If not set, a no-op logger is used (no output).
func BreakerLogger(l *slog.Logger) BreakerOption {
	return func(b *Breaker) { b.logger = l }
}

// NewBreaker returns a closed breaker with the given options applied.
func NewBreaker(opts ...BreakerOption) *Breaker {
	b := &Breaker{
		threshold:   5,
		timeout:     60 * time.Second,
		halfOpenMax: 3,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = nopLogger
	}
	return b
}

// Do runs op through the breaker. It returns ErrCircuitOpen without
// invoking op when the breaker rejects the call, otherwise op's error.
func (b *Breaker) Do(op func() error) error {
	probe, err := b.allow()
	if err != nil {
		return err
	}
	opErr := op()
	b.record(opErr, probe)
	return opErr
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// allow admits or rejects a call. It reports whether the call was admitted
// as a half-open probe so record can release the probe slot.
func (b *Breaker) allow() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case BreakerOpen:
		if time.Since(b.lastFailure) < b.timeout {
			return false, ErrCircuitOpen
		}
		b.state = BreakerHalfOpen
		b.probes = 0
		b.logger.Debug("circuit half-open")
		fallthrough
	case BreakerHalfOpen:
		if b.probes >= b.halfOpenMax {
			return false, ErrCircuitOpen
		}
		b.probes++
		return true, nil
	}
	return false, nil
}

// record applies op's outcome to the breaker state. Caller-initiated
// cancellation says nothing about endpoint health and is not counted.
func (b *Breaker) record(err error, probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if probe && b.probes > 0 {
		b.probes--
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	if err != nil {
		b.lastFailure = time.Now()
		switch b.state {
		case BreakerHalfOpen:
			b.state = BreakerOpen
			b.logger.Warn("circuit reopened", "error", err)
		case BreakerClosed:
			b.failures++
			if b.failures >= b.threshold {
				b.state = BreakerOpen
				b.logger.Warn("circuit opened", "failures", b.failures, "error", err)
			}
		}
		return
	}
	switch b.state {
	case BreakerHalfOpen:
		b.state = BreakerClosed
		b.failures = 0
		b.probes = 0
		b.logger.Info("circuit closed")
	case BreakerClosed:
		b.failures = 0
	}
}
