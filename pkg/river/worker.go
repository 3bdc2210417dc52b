// Package river provides integration between the vitis extractor and River queue.
//
// This package provides workers that refresh cached portal tables as River
// jobs. It handles:
//   - Mapping job args onto extraction requests
//   - Context propagation for graceful shutdown
//   - Error classification for River's retry logic
package river

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/riverqueue/river"

	"vitibrasil/pkg/vitis"
)

// QueueRefresh is the queue refresh jobs are inserted into.
const QueueRefresh = "vitibrasil_refresh"

// Refresher forces a fetch-and-write for a dataset. *vitis.Extractor
// implements it.
type Refresher interface {
	Refresh(ctx context.Context, req vitis.Request) (*vitis.Result, error)
}

// RefreshArgs identifies one dataset to refresh.
type RefreshArgs struct {
	Category    string `json:"category"`
	SubCategory string `json:"sub_category,omitempty"`
	Year        *int   `json:"year,omitempty"`
}

func (RefreshArgs) Kind() string { return "vitibrasil_refresh" }

// InsertOpts deduplicates refreshes of the same dataset within a few minutes.
func (RefreshArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue: QueueRefresh,
		UniqueOpts: river.UniqueOpts{
			ByArgs:   true,
			ByPeriod: 5 * time.Minute,
		},
	}
}

// Request converts the args into an extraction request.
func (a RefreshArgs) Request() vitis.Request {
	return vitis.Request{Category: a.Category, SubCategory: a.SubCategory, Year: a.Year}
}

// RefreshArgsFor builds job args for a key.
func RefreshArgsFor(key vitis.Key) RefreshArgs {
	req := key.Request()
	return RefreshArgs{Category: req.Category, SubCategory: req.SubCategory, Year: req.Year}
}

// RefreshWorker is a River worker that refreshes a single dataset.
type RefreshWorker struct {
	river.WorkerDefaults[RefreshArgs]

	// Refresher performs the fetch and write
	Refresher Refresher

	// JobTimeout overrides River's default job timeout when positive
	JobTimeout time.Duration
}

// NewRefreshWorker creates a RefreshWorker.
func NewRefreshWorker(r Refresher) *RefreshWorker {
	return &RefreshWorker{Refresher: r}
}

// Work refreshes the dataset named by the job args.
func (w *RefreshWorker) Work(ctx context.Context, job *river.Job[RefreshArgs]) error {
	if _, err := w.Refresher.Refresh(ctx, job.Args.Request()); err != nil {
		return classifyError(err)
	}
	return nil
}

func (w *RefreshWorker) Timeout(job *river.Job[RefreshArgs]) time.Duration {
	if w.JobTimeout > 0 {
		return w.JobTimeout
	}
	return w.WorkerDefaults.Timeout(job)
}

// CatalogRefreshArgs asks for every catalog dataset to be refreshed,
// optionally for a single year.
type CatalogRefreshArgs struct {
	Year *int `json:"year,omitempty"`
}

func (CatalogRefreshArgs) Kind() string { return "vitibrasil_catalog_refresh" }

func (CatalogRefreshArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{Queue: QueueRefresh}
}

// CatalogRefreshWorker refreshes every (category, sub-category) pair of the
// catalog in one job. Individual failures do not stop the batch.
type CatalogRefreshWorker struct {
	river.WorkerDefaults[CatalogRefreshArgs]

	Refresher Refresher
}

// NewCatalogRefreshWorker creates a CatalogRefreshWorker.
func NewCatalogRefreshWorker(r Refresher) *CatalogRefreshWorker {
	return &CatalogRefreshWorker{Refresher: r}
}

// Work refreshes each catalog key in order.
func (w *CatalogRefreshWorker) Work(ctx context.Context, job *river.Job[CatalogRefreshArgs]) error {
	var errs []error
	for _, key := range vitis.Catalog() {
		if err := ctx.Err(); err != nil {
			return classifyError(err)
		}

		req := key.Request()
		req.Year = job.Args.Year
		if _, err := w.Refresher.Refresh(ctx, req); err != nil {
			errs = append(errs, fmt.Errorf("refresh %s: %w", key, err))
		}
	}
	if len(errs) > 0 {
		return classifyError(errors.Join(errs...))
	}
	return nil
}

// PeriodicCatalogRefresh schedules a catalog refresh every interval.
func PeriodicCatalogRefresh(interval time.Duration, runOnStart bool) *river.PeriodicJob {
	return river.NewPeriodicJob(
		river.PeriodicInterval(interval),
		func() (river.JobArgs, *river.InsertOpts) {
			return CatalogRefreshArgs{}, nil
		},
		&river.PeriodicJobOpts{RunOnStart: runOnStart},
	)
}

// classifyError converts extraction errors to River-appropriate errors.
// This helps River decide whether to retry or discard the job.
func classifyError(err error) error {
	switch vitis.KindOf(err) {
	case vitis.KindValidation, vitis.KindUnsupportedResource:
		// Retrying cannot fix a bad dataset reference
		return river.JobCancel(err)
	}

	// Context cancellation - don't retry, job was cancelled
	if errors.Is(err, context.Canceled) {
		return river.JobCancel(err)
	}

	// Fetch, store and deadline errors: let River retry with backoff
	return err
}
