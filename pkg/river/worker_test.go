package river

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"vitibrasil/pkg/vitis"
)

// newTestJob creates a test job with the given ID and args.
func newTestJob[T river.JobArgs](id int64, args T) *river.Job[T] {
	return &river.Job[T]{
		JobRow: &rivertype.JobRow{
			ID: id,
		},
		Args: args,
	}
}

// fakeRefresher records requests and returns err for each.
type fakeRefresher struct {
	mu       sync.Mutex
	requests []vitis.Request
	err      func(req vitis.Request) error
}

func (f *fakeRefresher) Refresh(ctx context.Context, req vitis.Request) (*vitis.Result, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.err != nil {
		if err := f.err(req); err != nil {
			return nil, err
		}
	}
	return &vitis.Result{Records: vitis.NewRecordSet("Produto"), Source: vitis.SourceRemote}, nil
}

func isJobCancel(err error) bool {
	var cancelErr *rivertype.JobCancelError
	return errors.As(err, &cancelErr)
}

// ============ RefreshWorker ============

func TestRefreshWorker_Work(t *testing.T) {
	refresher := &fakeRefresher{}
	worker := NewRefreshWorker(refresher)

	year := 2023
	job := newTestJob(123, RefreshArgs{Category: "processing", SubCategory: "hybrid_americans", Year: &year})

	if err := worker.Work(context.Background(), job); err != nil {
		t.Fatalf("Work failed: %v", err)
	}

	if len(refresher.requests) != 1 {
		t.Fatalf("expected 1 refresh, got %d", len(refresher.requests))
	}
	got := refresher.requests[0]
	if got.Category != "processing" || got.SubCategory != "hybrid_americans" || got.Year == nil || *got.Year != 2023 {
		t.Errorf("unexpected request: %+v", got)
	}
}

func TestRefreshWorker_WithExtractor(t *testing.T) {
	store := vitis.NewInMemoryStore()
	fetcher := vitis.FetcherFunc(func(ctx context.Context, key vitis.Key) (*vitis.RecordSet, error) {
		rs := vitis.NewRecordSet("Produto", "Quantidade (L.)")
		_ = rs.Append("Tinto", 10.0)
		return rs, nil
	})
	worker := NewRefreshWorker(vitis.NewExtractor(store, fetcher))

	if err := worker.Work(context.Background(), newTestJob(1, RefreshArgs{Category: "export", SubCategory: "sparkling"})); err != nil {
		t.Fatalf("Work failed: %v", err)
	}

	rs, err := store.Read(context.Background(), "export_sparkling")
	if err != nil {
		t.Fatalf("expected refreshed entry: %v", err)
	}
	if rs.Len() != 1 {
		t.Errorf("expected 1 row, got %d", rs.Len())
	}
}

func TestRefreshWorker_InvalidArgsCancel(t *testing.T) {
	worker := NewRefreshWorker(vitis.NewExtractor(vitis.NewInMemoryStore(), vitis.FetcherFunc(
		func(ctx context.Context, key vitis.Key) (*vitis.RecordSet, error) {
			t.Error("fetcher must not be called for invalid args")
			return nil, nil
		})))

	year := 1900
	tests := map[string]RefreshArgs{
		"bad year":         {Category: "production", Year: &year},
		"unknown category": {Category: "cider"},
	}

	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			err := worker.Work(context.Background(), newTestJob(7, args))
			if !isJobCancel(err) {
				t.Errorf("expected JobCancel, got %v", err)
			}
		})
	}
}

func TestRefreshWorker_FetchErrorIsRetried(t *testing.T) {
	fetchErr := &vitis.FetchError{Key: "production", StatusCode: 503, Cause: errors.New("unavailable")}
	worker := NewRefreshWorker(&fakeRefresher{err: func(vitis.Request) error { return fetchErr }})

	err := worker.Work(context.Background(), newTestJob(9, RefreshArgs{Category: "production"}))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if isJobCancel(err) {
		t.Error("fetch errors must be left to River's retry policy")
	}
	if !errors.Is(err, fetchErr) {
		t.Errorf("expected fetch error in chain, got %v", err)
	}
}

func TestRefreshWorker_ContextCancellation(t *testing.T) {
	refresher := &fakeRefresher{err: func(vitis.Request) error { return context.Canceled }}
	worker := NewRefreshWorker(refresher)

	err := worker.Work(context.Background(), newTestJob(456, RefreshArgs{Category: "production"}))
	if !isJobCancel(err) {
		t.Errorf("expected JobCancel, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled in chain, got %v", err)
	}
}

func TestRefreshWorker_Timeout(t *testing.T) {
	worker := NewRefreshWorker(&fakeRefresher{})
	job := newTestJob(1, RefreshArgs{Category: "production"})

	if worker.Timeout(job) != 0 {
		t.Errorf("expected River default timeout, got %v", worker.Timeout(job))
	}
	worker.JobTimeout = time.Minute
	if worker.Timeout(job) != time.Minute {
		t.Errorf("expected 1m timeout, got %v", worker.Timeout(job))
	}
}

func TestRefreshArgsFor(t *testing.T) {
	args := RefreshArgsFor(vitis.Key{Category: vitis.CategoryImport, SubCategory: vitis.SubRaisins, Year: 2010})

	if args.Category != "import" || args.SubCategory != "raisins" || args.Year == nil || *args.Year != 2010 {
		t.Errorf("unexpected args: %+v", args)
	}
	if args.InsertOpts().Queue != QueueRefresh {
		t.Errorf("expected queue %s, got %s", QueueRefresh, args.InsertOpts().Queue)
	}
}

// ============ CatalogRefreshWorker ============

func TestCatalogRefreshWorker_Work(t *testing.T) {
	refresher := &fakeRefresher{}
	worker := NewCatalogRefreshWorker(refresher)

	year := 2022
	if err := worker.Work(context.Background(), newTestJob(5, CatalogRefreshArgs{Year: &year})); err != nil {
		t.Fatalf("Work failed: %v", err)
	}

	if len(refresher.requests) != len(vitis.Catalog()) {
		t.Fatalf("expected %d refreshes, got %d", len(vitis.Catalog()), len(refresher.requests))
	}
	for _, req := range refresher.requests {
		if req.Year == nil || *req.Year != 2022 {
			t.Errorf("expected year 2022 on %+v", req)
		}
	}
}

func TestCatalogRefreshWorker_ContinuesPastFailures(t *testing.T) {
	fetchErr := &vitis.FetchError{Key: "export", StatusCode: 500, Cause: errors.New("boom")}
	refresher := &fakeRefresher{err: func(req vitis.Request) error {
		if req.Category == "export" {
			return fetchErr
		}
		return nil
	}}
	worker := NewCatalogRefreshWorker(refresher)

	err := worker.Work(context.Background(), newTestJob(6, CatalogRefreshArgs{}))
	if !errors.Is(err, fetchErr) {
		t.Fatalf("expected joined fetch error, got %v", err)
	}
	if isJobCancel(err) {
		t.Error("fetch failures must be retried")
	}
	if len(refresher.requests) != len(vitis.Catalog()) {
		t.Errorf("expected every key attempted, got %d", len(refresher.requests))
	}
}

func TestCatalogRefreshWorker_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	refresher := &fakeRefresher{err: func(vitis.Request) error {
		cancel()
		return nil
	}}
	worker := NewCatalogRefreshWorker(refresher)

	err := worker.Work(ctx, newTestJob(8, CatalogRefreshArgs{}))
	if !isJobCancel(err) {
		t.Errorf("expected JobCancel, got %v", err)
	}
	if len(refresher.requests) != 1 {
		t.Errorf("expected the batch to stop after cancellation, got %d refreshes", len(refresher.requests))
	}
}

func TestPeriodicCatalogRefresh(t *testing.T) {
	if PeriodicCatalogRefresh(time.Hour, true) == nil {
		t.Fatal("expected a periodic job")
	}
}
