// Package retry holds the backoff policies used for submissions and
// re-subscriptions.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/vietddude/reactor/internal/core/domain"
)

// Policy names accepted in configuration.
const (
	PolicyNone        = "none"
	PolicyFixed       = "fixed"
	PolicyExponential = "exponential"
)

// Classifier reports whether err is worth another attempt.
type Classifier func(err error) bool

// Strategy defines how retries should be handled.
type Strategy interface {
	// GetDelay returns the delay before the given retry (0-indexed).
	GetDelay(attempt int) time.Duration

	// ShouldRetry checks if we should retry based on the error and attempt count.
	ShouldRetry(err error, attempt int) bool
}

// SubmissionRetryable retries only failures that may clear on their own or
// after a nonce re-sync. Reverts and signing failures never are.
func SubmissionRetryable(err error) bool {
	return errors.Is(err, domain.ErrNetwork) ||
		errors.Is(err, domain.ErrNonce) ||
		errors.Is(err, domain.ErrUnderfunded)
}

// Never performs a single attempt.
type Never struct{}

func (Never) GetDelay(int) time.Duration  { return 0 }
func (Never) ShouldRetry(error, int) bool { return false }

// Fixed waits the same delay between a bounded number of retries.
type Fixed struct {
	Delay       time.Duration
	MaxAttempts int
	Classifier  Classifier
}

func (s *Fixed) GetDelay(int) time.Duration { return s.Delay }

func (s *Fixed) ShouldRetry(err error, attempt int) bool {
	return attempt < s.MaxAttempts && s.Classifier(err)
}

// ExponentialBackoff waits InitialDelay * 2^attempt, capped at MaxDelay.
// MaxAttempts of zero retries forever.
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
	Classifier   Classifier
}

// GetDelay calculates delay: InitialDelay * 2^attempt
func (s *ExponentialBackoff) GetDelay(attempt int) time.Duration {
	delay := float64(s.InitialDelay) * math.Pow(2, float64(attempt))
	if delay > float64(s.MaxDelay) {
		return s.MaxDelay
	}
	return time.Duration(delay)
}

// ShouldRetry checks if error is retryable and max attempts not exceeded.
func (s *ExponentialBackoff) ShouldRetry(err error, attempt int) bool {
	if s.MaxAttempts > 0 && attempt >= s.MaxAttempts {
		return false
	}
	if s.Classifier == nil {
		return true
	}
	return s.Classifier(err)
}

// New builds the strategy named by policy. maxAttempts counts retries after
// the first attempt.
func New(policy string, maxAttempts int, initial, maxDelay time.Duration, classify Classifier) (Strategy, error) {
	if classify == nil {
		classify = SubmissionRetryable
	}
	switch policy {
	case PolicyNone, "":
		return Never{}, nil
	case PolicyFixed:
		return &Fixed{Delay: initial, MaxAttempts: maxAttempts, Classifier: classify}, nil
	case PolicyExponential:
		return &ExponentialBackoff{
			InitialDelay: initial,
			MaxDelay:     maxDelay,
			MaxAttempts:  maxAttempts,
			Classifier:   classify,
		}, nil
	}
	return nil, fmt.Errorf("unknown retry policy %q", policy)
}

// Forever returns an unbounded backoff for reconnect loops.
func Forever(initial, maxDelay time.Duration) *ExponentialBackoff {
	return &ExponentialBackoff{InitialDelay: initial, MaxDelay: maxDelay}
}

// Sleep waits for d or until ctx ends, reporting whether the full delay elapsed.
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
