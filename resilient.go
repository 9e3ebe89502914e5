package maestro

import (
	"context"
	"time"
)

// ResilientCall wraps op with the full resilience stack: a retry loop whose
// every attempt runs under its own deadline and passes the breaker gate.
// A rejection by the breaker fails the call without further attempts.
//
//	card, err := maestro.ResilientCall(ctx, breaker, policy, 10*time.Second, fetchCard)
func ResilientCall[T any](ctx context.Context, b *Breaker, p RetryPolicy, timeout time.Duration, op func(context.Context) (T, error)) (T, error) {
	return Retry(ctx, p, func(ctx context.Context) (T, error) {
		attempt := ctx
		cancel := context.CancelFunc(func() {})
		if timeout > 0 {
			attempt, cancel = context.WithTimeout(ctx, timeout)
		}
		defer cancel()

		var out T
		err := b.Do(func() error {
			var opErr error
			out, opErr = op(attempt)
			return opErr
		})
		return out, err
	})
}
