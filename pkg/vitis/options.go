package vitis

import "time"

// DefaultStaleAfter is how long after the last refresh cached data is served
// without contacting the portal.
const DefaultStaleAfter = 30 * time.Minute

// Option is a functional option for configuring an Extractor.
type Option interface {
	apply(*Extractor)
}

type optionFunc func(*Extractor)

func (f optionFunc) apply(e *Extractor) {
	f(e)
}

// WithStaleAfter sets the staleness threshold. It applies to every key,
// measured from the store-wide refresh timestamp.
func WithStaleAfter(d time.Duration) Option {
	return optionFunc(func(e *Extractor) {
		e.staleAfter = d
	})
}

// WithClock sets the clock used for staleness decisions.
func WithClock(now func() time.Time) Option {
	return optionFunc(func(e *Extractor) {
		if now != nil {
			e.now = now
		}
	})
}

// WithObserver sets the observer receiving extraction events.
func WithObserver(o Observer) Option {
	return optionFunc(func(e *Extractor) {
		if o != nil {
			e.observer = o
		}
	})
}

// WithRetry sets a retry policy for remote fetches.
// Without it every fetch is a single attempt.
func WithRetry(config RetryConfig) Option {
	return optionFunc(func(e *Extractor) {
		if config.MaxAttempts < 1 {
			config.MaxAttempts = 1
		}
		if config.Retriable == nil {
			config.Retriable = DefaultRetriable
		}
		e.retry = config
	})
}

// WithFetchTimeout bounds each fetch attempt. Zero means no deadline beyond
// the fetcher's own transport timeouts.
func WithFetchTimeout(timeout time.Duration) Option {
	return optionFunc(func(e *Extractor) {
		e.fetchTimeout = timeout
	})
}

// WithSingleFlight controls per-key deduplication of concurrent fetches.
// Enabled by default; disable it to let concurrent misses for the same key
// each fetch and write, the last writer winning.
func WithSingleFlight(enabled bool) Option {
	return optionFunc(func(e *Extractor) {
		e.singleFlight = enabled
	})
}
