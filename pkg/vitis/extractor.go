// Package vitis serves statistics tables from the Embrapa VitiBrasil portal
// through a tabular cache.
//
// An Extractor validates a request, looks the dataset up in a Store and
// decides between serving the stored copy, fetching a fresh one from the
// portal, or falling back to stale data when the portal is unavailable:
//
//	store := vitis.NewInMemoryStore()
//	fetcher := vitis.NewHTTPFetcher(vitis.FetcherConfig{})
//	ex := vitis.NewExtractor(store, fetcher)
//
//	year := 2023
//	res, err := ex.Extract(ctx, vitis.Request{Category: "processing", SubCategory: "hybrid_americans", Year: &year})
//
// Staleness is measured from a single store-wide refresh timestamp, so any
// successful write makes every stored entry fresh again.
package vitis

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Source tells where served data came from.
type Source string

const (
	SourceCache  Source = "cache"
	SourceRemote Source = "remote"
)

// Result is a successful extraction.
type Result struct {
	Key     Key
	Records *RecordSet
	Source  Source

	// Stale is set when a refresh failed and the stored copy was served instead.
	Stale bool

	// RefreshedAt is the store's last refresh time for cached data, or the
	// fetch completion time for remote data.
	RefreshedAt time.Time
}

// Extractor is the cache-or-fetch orchestrator.
//
// Thread Safety: an Extractor is safe for concurrent use once constructed.
type Extractor struct {
	store   Store
	fetcher Fetcher

	now          func() time.Time
	staleAfter   time.Duration
	observer     Observer
	retry        RetryConfig
	fetchTimeout time.Duration

	singleFlight bool
	flights      singleflight.Group
}

// NewExtractor creates an Extractor over store and fetcher.
func NewExtractor(store Store, fetcher Fetcher, opts ...Option) *Extractor {
	e := &Extractor{
		store:        store,
		fetcher:      fetcher,
		now:          time.Now,
		staleAfter:   DefaultStaleAfter,
		observer:     NoOpObserver{},
		retry:        RetryConfig{MaxAttempts: 1, Retriable: DefaultRetriable},
		singleFlight: true,
	}
	for _, opt := range opts {
		opt.apply(e)
	}
	return e
}

// StaleAfter returns the configured staleness threshold.
func (e *Extractor) StaleAfter() time.Duration {
	return e.staleAfter
}

// Extract serves the dataset for req.
//
//   - A missing entry is fetched, written and returned; if the fetch fails
//     the fetch error is returned and nothing is written.
//   - A fresh entry is read and returned without contacting the portal.
//   - An expired entry is refetched; if the fetch fails the stored copy is
//     returned with Result.Stale set.
//
// Validation errors are returned before any store or fetcher call. Store
// errors always propagate and never trigger the stale fallback.
func (e *Extractor) Extract(ctx context.Context, req Request) (*Result, error) {
	return e.run(ctx, req, false)
}

// Refresh fetches the dataset for req and writes it, ignoring what the
// store holds. It never falls back to stored data.
func (e *Extractor) Refresh(ctx context.Context, req Request) (*Result, error) {
	return e.run(ctx, req, true)
}

func (e *Extractor) run(ctx context.Context, req Request, forced bool) (*Result, error) {
	requestID := uuid.NewString()
	start := time.Now()

	key, keyErr := ParseKey(req)
	keyName := ""
	if keyErr == nil {
		keyName = key.String()
	}

	e.observer.OnExtractStart(ctx, &ExtractStartEvent{
		RequestID: requestID,
		Key:       keyName,
		Forced:    forced,
		StartTime: start,
	})

	var (
		res *Result
		err = keyErr
	)
	if err == nil {
		if forced {
			res, err = e.fetchAndStore(ctx, requestID, key)
		} else {
			res, err = e.extract(ctx, requestID, key)
		}
	}

	end := &ExtractEndEvent{
		RequestID: requestID,
		Key:       keyName,
		Duration:  time.Since(start),
		Error:     err,
	}
	switch {
	case keyErr != nil:
		end.Outcome = OutcomeRejected
	case err != nil:
		end.Outcome = OutcomeFailed
	default:
		end.Outcome = OutcomeServed
		if res.Stale {
			end.Outcome = OutcomeServedStale
		}
		end.Source = res.Source
		end.Rows = res.Records.Len()
	}
	e.observer.OnExtractEnd(ctx, end)

	if err != nil {
		return nil, err
	}
	return res, nil
}

func (e *Extractor) extract(ctx context.Context, requestID string, key Key) (*Result, error) {
	name := key.String()
	checkStart := time.Now()

	hit, err := e.store.Exists(ctx, name)
	if err != nil {
		e.observer.OnCacheCheck(ctx, &CacheCheckEvent{
			RequestID: requestID, Key: name, Latency: time.Since(checkStart), Error: err,
		})
		return nil, err
	}
	if !hit {
		e.observer.OnCacheCheck(ctx, &CacheCheckEvent{
			RequestID: requestID, Key: name, Latency: time.Since(checkStart),
		})
		return e.fetchAndStore(ctx, requestID, key)
	}

	lastRefresh, err := e.store.LastRefresh(ctx)
	if err != nil {
		e.observer.OnCacheCheck(ctx, &CacheCheckEvent{
			RequestID: requestID, Key: name, Hit: true, Latency: time.Since(checkStart), Error: err,
		})
		return nil, err
	}
	age := e.now().Sub(lastRefresh)
	expired := age > e.staleAfter
	e.observer.OnCacheCheck(ctx, &CacheCheckEvent{
		RequestID: requestID,
		Key:       name,
		Hit:       true,
		Expired:   expired,
		Age:       age,
		Latency:   time.Since(checkStart),
	})

	if !expired {
		rs, err := e.store.Read(ctx, name)
		if errors.Is(err, ErrNotFound) {
			// Gone between Exists and Read: behave as a miss.
			return e.fetchAndStore(ctx, requestID, key)
		}
		if err != nil {
			return nil, err
		}
		return &Result{Key: key, Records: rs, Source: SourceCache, RefreshedAt: lastRefresh}, nil
	}

	res, fetchErr := e.fetchAndStore(ctx, requestID, key)
	if fetchErr == nil {
		return res, nil
	}
	if !isFetchFailure(fetchErr) || ctx.Err() != nil {
		return nil, fetchErr
	}

	rs, err := e.store.Read(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return nil, fetchErr
	}
	if err != nil {
		return nil, err
	}
	return &Result{Key: key, Records: rs, Source: SourceCache, Stale: true, RefreshedAt: lastRefresh}, nil
}

// fetchAndStore fetches key and writes the result. With single-flight
// enabled, concurrent callers for the same key share one fetch and write.
//
// A shared flight ignores the cancellation of whichever caller started it
// and is bounded only by the fetch timeout and the transport. Each caller
// stops waiting when its own context ends.
func (e *Extractor) fetchAndStore(ctx context.Context, requestID string, key Key) (*Result, error) {
	if !e.singleFlight {
		return e.doFetchAndStore(ctx, requestID, key)
	}

	flightCtx := context.WithoutCancel(ctx)
	ch := e.flights.DoChan(key.String(), func() (any, error) {
		return e.doFetchAndStore(flightCtx, requestID, key)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, errors.Join(r.Err, ctxErr)
			}
			return nil, r.Err
		}
		res := *r.Val.(*Result)
		return &res, nil
	}
}

func (e *Extractor) doFetchAndStore(ctx context.Context, requestID string, key Key) (*Result, error) {
	rs, err := e.fetchWithRetry(ctx, requestID, key)
	if err != nil {
		return nil, err
	}

	name := key.String()
	start := time.Now()
	err = e.store.Write(ctx, name, rs)
	e.observer.OnStoreWrite(ctx, &StoreWriteEvent{
		RequestID: requestID,
		Key:       name,
		Rows:      rs.Len(),
		Duration:  time.Since(start),
		Error:     err,
	})
	if err != nil {
		return nil, err
	}

	return &Result{Key: key, Records: rs, Source: SourceRemote, RefreshedAt: e.now()}, nil
}

// fetchWithRetry calls the fetcher with the configured retry policy.
func (e *Extractor) fetchWithRetry(ctx context.Context, requestID string, key Key) (*RecordSet, error) {
	name := key.String()

	var lastErr error
	for attempt := 1; attempt <= e.retry.MaxAttempts; attempt++ {
		// Apply timeout if configured
		fetchCtx := ctx
		var cancel context.CancelFunc
		if e.fetchTimeout > 0 {
			fetchCtx, cancel = context.WithTimeout(ctx, e.fetchTimeout)
		}

		start := time.Now()
		rs, err := e.callFetcher(fetchCtx, key)
		if cancel != nil {
			cancel()
		}

		e.observer.OnFetch(ctx, &FetchEvent{
			RequestID: requestID,
			Key:       name,
			Attempt:   attempt,
			Rows:      rs.Len(),
			Duration:  time.Since(start),
			Error:     err,
		})

		if err == nil {
			return rs, nil
		}
		lastErr = err

		// Check if we should retry
		if attempt >= e.retry.MaxAttempts || !e.retry.Retriable(err) {
			break
		}

		var delay time.Duration
		if e.retry.Backoff != nil {
			delay = e.retry.Backoff.NextDelay(attempt)
		}
		e.observer.OnRetry(ctx, &RetryEvent{
			RequestID: requestID,
			Key:       name,
			Attempt:   attempt,
			Error:     err,
			Delay:     delay,
		})

		select {
		case <-time.After(delay):
			// Continue to next attempt
		case <-ctx.Done():
			return nil, errors.Join(lastErr, ctx.Err())
		}
	}

	return nil, lastErr
}

// callFetcher invokes the fetcher, turning panics and empty returns into
// fetch failures.
func (e *Extractor) callFetcher(ctx context.Context, key Key) (rs *RecordSet, err error) {
	defer func() {
		if r := recover(); r != nil {
			rs = nil
			err = &FetchError{
				Key:   key.String(),
				Cause: fmt.Errorf("fetcher panicked: %v\n%s", r, debug.Stack()),
			}
		}
	}()

	rs, err = e.fetcher.Fetch(ctx, key)
	if err != nil {
		return nil, err
	}
	if rs == nil {
		return nil, &ParseError{Reason: "fetcher returned no record set for " + key.String()}
	}
	if err := rs.checkShape(); err != nil {
		return nil, &ParseError{Reason: key.String() + ": " + err.Error()}
	}
	return rs, nil
}
