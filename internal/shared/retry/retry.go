// Package retry provides a bounded retry combinator. Callers supply a
// classifier deciding which errors are worth another attempt; everything
// else fails on the spot.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy bounds a retry loop.
type Policy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultPolicy matches the provider call contract: three attempts with a
// fixed one second pause between them.
var DefaultPolicy = Policy{MaxAttempts: 3, Backoff: time.Second}

// Retryable marks errors the combinator may retry. Errors can opt in by
// implementing it; see also Classifier.
type Retryable interface {
	Retryable() bool
}

// Classifier decides whether an error is transient.
type Classifier func(error) bool

// ByInterface classifies via the Retryable interface; unknown errors are
// treated as transient.
func ByInterface(err error) bool {
	var r Retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return true
}

// Do runs fn until it succeeds, the classifier reports a terminal error, the
// attempt budget is exhausted, or the context ends. The last error is
// returned wrapped with the attempt count.
func Do[T any](ctx context.Context, p Policy, classify Classifier, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if classify == nil {
		classify = ByInterface
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if !classify(err) {
			return zero, err
		}
		if attempt == p.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(p.Backoff):
		}
	}

	return zero, fmt.Errorf("after %d attempts: %w", p.MaxAttempts, lastErr)
}
