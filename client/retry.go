package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds the retry loop used for every backend call.
type Policy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	Jitter         float64 // randomization factor in [0, 1]
	AttemptTimeout time.Duration
}

// DefaultPolicy retries three times over roughly a second.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		BaseDelay:      200 * time.Millisecond,
		MaxDelay:       2 * time.Second,
		Jitter:         0.5,
		AttemptTimeout: 5 * time.Second,
	}
}

func (p Policy) normalized() Policy {
	d := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		p.Jitter = d.Jitter
	}
	if p.AttemptTimeout <= 0 {
		p.AttemptTimeout = d.AttemptTimeout
	}
	return p
}

// TransientError is returned once the retry budget is spent on failures that
// could succeed later (backend unreachable, restarting or overloaded).
type TransientError struct {
	Attempts int
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("backend unavailable after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Do runs op until it succeeds, fails permanently or the policy is spent.
// Each attempt gets its own timeout. Operations that are not idempotent are
// only retried when the connection was never established, so the server
// cannot have acted on the request.
func Do(ctx context.Context, p Policy, idempotent bool, op func(ctx context.Context) error) error {
	p = p.normalized()
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.MaxInterval = p.MaxDelay
	b.RandomizationFactor = p.Jitter
	b.Multiplier = 2
	b.MaxElapsedTime = 0

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		actx, cancel := context.WithTimeout(ctx, p.AttemptTimeout)
		defer cancel()
		err := op(actx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if !retryable(err, idempotent) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1)), ctx))
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if retryable(err, idempotent) {
		return &TransientError{Attempts: attempts, Err: err}
	}
	return err
}

func retryable(err error, idempotent bool) bool {
	if neverConnected(err) {
		return true
	}
	if !idempotent {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Status {
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr) || errors.Is(err, context.DeadlineExceeded)
}

func neverConnected(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}
