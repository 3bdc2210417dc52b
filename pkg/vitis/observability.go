package vitis

import (
	"context"
	"time"
)

// Observer is the interface for observing extraction events.
// Implementations can emit metrics, logs, or traces to their observability backend.
//
// All Observer methods are called synchronously during extraction, so implementations
// should be fast and non-blocking. For expensive operations (e.g., network calls),
// consider buffering events and processing them asynchronously.
type Observer interface {
	// OnExtractStart is called when an extraction (or forced refresh) begins.
	OnExtractStart(ctx context.Context, event *ExtractStartEvent)

	// OnExtractEnd is called when an extraction reaches a terminal outcome.
	OnExtractEnd(ctx context.Context, event *ExtractEndEvent)

	// OnCacheCheck is called after the store lookup and staleness decision.
	OnCacheCheck(ctx context.Context, event *CacheCheckEvent)

	// OnFetch is called after every fetch attempt.
	OnFetch(ctx context.Context, event *FetchEvent)

	// OnRetry is called when a fetch is retried after failure.
	OnRetry(ctx context.Context, event *RetryEvent)

	// OnStoreWrite is called after a fetched record set is written.
	OnStoreWrite(ctx context.Context, event *StoreWriteEvent)
}

// Outcome is the terminal state of an extraction.
type Outcome string

const (
	OutcomeServed      Outcome = "served"
	OutcomeServedStale Outcome = "served_stale"
	OutcomeRejected    Outcome = "rejected"
	OutcomeFailed      Outcome = "failed"
)

// ExtractStartEvent is emitted when an extraction begins.
type ExtractStartEvent struct {
	RequestID string
	Key       string // empty if the request fails validation
	Forced    bool   // true for Refresh
	StartTime time.Time
}

// ExtractEndEvent is emitted when an extraction completes.
type ExtractEndEvent struct {
	RequestID string
	Key       string
	Outcome   Outcome
	Source    Source
	Rows      int
	Duration  time.Duration
	Error     error // nil unless Outcome is rejected or failed
}

// CacheCheckEvent is emitted after checking the store for a key.
type CacheCheckEvent struct {
	RequestID string
	Key       string
	Hit       bool          // true if the key exists in the store
	Expired   bool          // true if a hit is past the staleness threshold
	Age       time.Duration // time since the last refresh, for hits
	Latency   time.Duration // time spent on the lookup
	Error     error         // nil if the check was successful
}

// FetchEvent is emitted after each fetch attempt.
type FetchEvent struct {
	RequestID string
	Key       string
	Attempt   int
	Rows      int
	Duration  time.Duration
	Error     error
}

// RetryEvent is emitted when a fetch is retried after failure.
type RetryEvent struct {
	RequestID string
	Key       string
	Attempt   int           // The attempt number that failed (before retry)
	Error     error         // The error that triggered the retry
	Delay     time.Duration // How long we're waiting before retry
}

// StoreWriteEvent is emitted after writing fetched data.
type StoreWriteEvent struct {
	RequestID string
	Key       string
	Rows      int
	Duration  time.Duration
	Error     error
}

// NoOpObserver is a no-op implementation of Observer.
// Useful as a base for partial implementations.
type NoOpObserver struct{}

func (NoOpObserver) OnExtractStart(ctx context.Context, event *ExtractStartEvent) {}
func (NoOpObserver) OnExtractEnd(ctx context.Context, event *ExtractEndEvent)     {}
func (NoOpObserver) OnCacheCheck(ctx context.Context, event *CacheCheckEvent)     {}
func (NoOpObserver) OnFetch(ctx context.Context, event *FetchEvent)               {}
func (NoOpObserver) OnRetry(ctx context.Context, event *RetryEvent)               {}
func (NoOpObserver) OnStoreWrite(ctx context.Context, event *StoreWriteEvent)     {}

// MultiObserver combines multiple observers into one.
// Events are sent to all observers in order.
type MultiObserver struct {
	Observers []Observer
}

func (m *MultiObserver) OnExtractStart(ctx context.Context, event *ExtractStartEvent) {
	for _, obs := range m.Observers {
		obs.OnExtractStart(ctx, event)
	}
}

func (m *MultiObserver) OnExtractEnd(ctx context.Context, event *ExtractEndEvent) {
	for _, obs := range m.Observers {
		obs.OnExtractEnd(ctx, event)
	}
}

func (m *MultiObserver) OnCacheCheck(ctx context.Context, event *CacheCheckEvent) {
	for _, obs := range m.Observers {
		obs.OnCacheCheck(ctx, event)
	}
}

func (m *MultiObserver) OnFetch(ctx context.Context, event *FetchEvent) {
	for _, obs := range m.Observers {
		obs.OnFetch(ctx, event)
	}
}

func (m *MultiObserver) OnRetry(ctx context.Context, event *RetryEvent) {
	for _, obs := range m.Observers {
		obs.OnRetry(ctx, event)
	}
}

func (m *MultiObserver) OnStoreWrite(ctx context.Context, event *StoreWriteEvent) {
	for _, obs := range m.Observers {
		obs.OnStoreWrite(ctx, event)
	}
}
