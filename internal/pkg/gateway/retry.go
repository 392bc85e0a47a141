package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gofiber/fiber/v2/log"
)

// Policy bounds how a gateway call is retried.
type Policy struct {
	MaxAttempts int
	Backoff     func() backoff.BackOff
	Retryable   func(error) bool
}

// DefaultPolicy allows three attempts with a short exponential pause.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			b.MaxElapsedTime = 0
			return b
		},
		Retryable: IsTransient,
	}
}

// Retry runs fn until it succeeds, returns a non-retryable error, or the
// attempt budget is spent. Exhaustion is reported as ErrGatewayCallFailed
// wrapping the last failure.
func Retry(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.Retryable == nil {
		p.Retryable = IsTransient
	}
	var b backoff.BackOff = &backoff.ZeroBackOff{}
	if p.Backoff != nil {
		b = p.Backoff()
	}
	b = backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1)), ctx)

	attempts := 0
	var lastErr error
	op := func() error {
		attempts++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !p.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		log.Warnf("[Gateway] attempt %d failed, retrying in %s: %v", attempts, wait, err)
	}

	err := backoff.RetryNotify(op, b, notify)
	if err == nil {
		return nil
	}
	if lastErr != nil && !p.Retryable(lastErr) {
		if errors.Is(lastErr, ErrCircuitOpen) {
			return fmt.Errorf("%w: %w", ErrGatewayCallFailed, lastErr)
		}
		return lastErr
	}
	if lastErr == nil {
		lastErr = err
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrGatewayCallFailed, attempts, lastErr)
}
