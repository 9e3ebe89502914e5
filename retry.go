package maestro

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"
)

// RetryPolicy controls the retry loop in Retry and ResilientCall.
// The zero value is usable; unset fields take the defaults below.
type RetryPolicy struct {
	MaxAttempts int           // total attempts including the first (default: 3)
	BaseDelay   time.Duration // backoff before the second attempt (default: 1s)
	MaxDelay    time.Duration // backoff ceiling (default: 30s)
	Logger      *slog.Logger  // nil = no output
}

// DefaultRetryPolicy returns the policy used when callers pass the zero value.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.Logger == nil {
		p.Logger = nopLogger
	}
	return p
}

// Retry calls op up to p.MaxAttempts times, sleeping between attempts with
// exponential backoff and jitter. Transport failures, HTTP 5xx and 429 are
// retried; HTTP 4xx, JSON-RPC rejections, ErrCircuitOpen and cancellation
// stop the loop immediately. When the failing response carried a
// Retry-After duration, the sleep is at least that long.
func Retry[T any](ctx context.Context, p RetryPolicy, op func(context.Context) (T, error)) (T, error) {
	p = p.withDefaults()
	var zero T
	var last error
	for i := 0; i < p.MaxAttempts; i++ {
		result, err := op(ctx)
		if err == nil || !retryable(err) {
			return result, err
		}
		last = err
		p.Logger.Warn("retrying transient error",
			"status", statusOf(err),
			"attempt", i+1,
			"max_attempts", p.MaxAttempts,
			"error", err)
		if i < p.MaxAttempts-1 {
			timer := time.NewTimer(retryDelay(p, i, err))
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
		}
	}
	p.Logger.Error("all retry attempts exhausted",
		"attempts", p.MaxAttempts,
		"error", last)
	return zero, last
}

// retryable reports whether err warrants another attempt. Anything not
// classified as a client-side rejection is assumed transient.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, context.Canceled) {
		return false
	}
	var rpcErr *ErrRPC
	if errors.As(err, &rpcErr) {
		return false
	}
	var llmErr *ErrLLM
	if errors.As(err, &llmErr) {
		return false
	}
	var httpErr *ErrHTTP
	if errors.As(err, &httpErr) {
		return httpErr.Status == 429 || httpErr.Status >= 500
	}
	return true
}

// statusOf extracts the HTTP status code from an ErrHTTP, or 0.
func statusOf(err error) int {
	var e *ErrHTTP
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

// retryAfterOf extracts the Retry-After duration from an ErrHTTP, or 0.
func retryAfterOf(err error) time.Duration {
	var e *ErrHTTP
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

// retryDelay computes the sleep before retry attempt i (0-indexed):
// min(base*2^i, max) scaled by a random factor in [0.5, 1.5), with the
// server's Retry-After value (if present) as a floor.
func retryDelay(p RetryPolicy, i int, err error) time.Duration {
	backoff := p.BaseDelay << uint(i)
	if backoff <= 0 || backoff > p.MaxDelay {
		backoff = p.MaxDelay
	}
	d := time.Duration(float64(backoff) * (0.5 + rand.Float64()))
	if ra := retryAfterOf(err); ra > d {
		return ra
	}
	return d
}

// retryProvider wraps a Provider and retries transient chat failures.
type retryProvider struct {
	inner  Provider
	policy RetryPolicy
}

// WithRetry wraps p with automatic retry on transient errors. Pass the zero
// RetryPolicy for defaults. Compose with any Provider:
//
//	chatLLM = maestro.WithRetry(openaicompat.New(baseURL, apiKey, model), maestro.RetryPolicy{})
//	chatLLM = maestro.WithRetry(provider, maestro.RetryPolicy{MaxAttempts: 5})
func WithRetry(p Provider, policy RetryPolicy) Provider {
	return &retryProvider{inner: p, policy: policy.withDefaults()}
}

// Name delegates to the inner provider.
func (r *retryProvider) Name() string { return r.inner.Name() }

// Chat implements Provider with retry.
func (r *retryProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	return Retry(ctx, r.policy, func(ctx context.Context) (ChatResponse, error) {
		return r.inner.Chat(ctx, req)
	})
}

// compile-time check
var _ Provider = (*retryProvider)(nil)
