// Package retry wraps fallible engine calls with bounded, classified
// retries. The classifier is conservative: anything that looks like a
// transient transport problem is retried, client errors are not.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
)

// Strategy selects the delay schedule between attempts.
type Strategy string

const (
	Exponential Strategy = "exponential"
	Linear      Strategy = "linear"
	Constant    Strategy = "constant"
)

// Policy describes how often and how patiently an operation is retried.
// Attempts is the total number of tries; zero or one both mean the
// operation runs exactly once.
type Policy struct {
	Attempts     int
	InitialDelay time.Duration
	Backoff      Strategy
}

// HTTPError carries an upstream HTTP status so the classifier can
// distinguish transient server trouble from terminal client errors.
type HTTPError struct {
	Status     int
	StatusText string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("engine returned %d %s: %s", e.Status, e.StatusText, e.Body)
}

// ErrExhausted wraps the final error once every attempt has failed.
var ErrExhausted = errors.New("retry attempts exhausted")

// Retryable classifies an error. Network failures, timeouts, HTTP 408,
// 429 and 5xx are retryable; other 4xx are terminal. Errors we cannot
// classify default to retryable.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var he *HTTPError
	if errors.As(err, &he) {
		switch {
		case he.Status == 408 || he.Status == 429:
			return true
		case he.Status >= 500:
			return true
		case he.Status >= 400:
			return false
		}
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	// Unclassifiable errors are treated as transient.
	return true
}

// Delay returns the wait after the i-th failed attempt (1-based).
func Delay(p Policy, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	switch p.Backoff {
	case Linear:
		return p.InitialDelay * time.Duration(attempt)
	case Constant:
		return p.InitialDelay
	default: // Exponential
		return p.InitialDelay << (attempt - 1)
	}
}

// Do runs fn up to p.Attempts times, sleeping Delay(p, i) after the
// i-th failure. A non-retryable error aborts immediately and is
// returned unwrapped so callers keep the original classification.
func Do(ctx context.Context, p Policy, name string, logger *zap.Logger, fn func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if !Retryable(lastErr) {
			if logger != nil {
				logger.Debug("error is terminal, not retrying",
					zap.String("step", name),
					zap.Error(lastErr))
			}
			return lastErr
		}

		if attempt == attempts {
			break
		}

		wait := Delay(p, attempt)
		if logger != nil {
			logger.Warn("step attempt failed, retrying",
				zap.String("step", name),
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(lastErr))
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	if attempts > 1 {
		return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, lastErr)
	}
	return lastErr
}
