package vitis

import (
	"errors"
	"math"
	"time"
)

// RetryConfig specifies retry behavior for remote fetches.
type RetryConfig struct {
	// MaxAttempts is the maximum number of fetch attempts (must be >= 1)
	MaxAttempts int

	// Backoff determines wait time between retries
	Backoff BackoffStrategy

	// Retriable decides which errors trigger another attempt.
	// If nil, DefaultRetriable is used.
	Retriable func(error) bool
}

// BackoffStrategy determines wait time between retry attempts.
type BackoffStrategy interface {
	// NextDelay returns the duration to wait before the next attempt
	// attempt: The attempt number (1 for first retry, 2 for second, etc.)
	NextDelay(attempt int) time.Duration
}

// FixedBackoff implements a constant wait time between retries.
type FixedBackoff struct {
	Delay time.Duration
}

func (b FixedBackoff) NextDelay(attempt int) time.Duration {
	return b.Delay
}

// ExponentialBackoff implements an exponentially increasing wait time.
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Factor       float64
}

func (b ExponentialBackoff) NextDelay(attempt int) time.Duration {
	delay := float64(b.InitialDelay) * math.Pow(b.Factor, float64(attempt-1))
	if b.MaxDelay > 0 && delay > float64(b.MaxDelay) {
		return b.MaxDelay
	}
	return time.Duration(delay)
}

// DefaultRetriable retries transport failures, 5xx and 429 responses.
// Parse failures and rejected keys are final.
func DefaultRetriable(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Retriable()
	}
	return false
}
