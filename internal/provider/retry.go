package provider

import (
	"context"
	"time"
)

// Retrying wraps a provider with a small fixed-count exponential backoff.
// Retries apply only at the provider-call boundary; once attempts are
// exhausted the last error surfaces as an isolated item failure upstream.
type Retrying struct {
	inner        Provider
	attempts     int
	initialDelay time.Duration
}

// NewRetrying constructs the wrapper. attempts counts total tries, not
// retries; values below one are raised to one.
func NewRetrying(inner Provider, attempts int, initialDelay time.Duration) *Retrying {
	if attempts < 1 {
		attempts = 1
	}
	if initialDelay <= 0 {
		initialDelay = 500 * time.Millisecond
	}
	return &Retrying{inner: inner, attempts: attempts, initialDelay: initialDelay}
}

// Generate calls the wrapped provider, backing off between failed attempts.
// Context cancellation stops retrying immediately.
func (r *Retrying) Generate(ctx context.Context, req Request) (Result, error) {
	delay := r.initialDelay
	var lastErr error
	for attempt := 0; attempt < r.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		result, err := r.inner.Generate(ctx, req)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if attempt == r.attempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
		delay *= 2
	}
	return Result{}, lastErr
}

var _ Provider = (*Retrying)(nil)
