package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/riverqueue/river/rivertype"
	"go.opentelemetry.io/otel"

	riveradapter "vitibrasil/pkg/river"
	"vitibrasil/pkg/vitis"
)

func runServe(ctx context.Context, cfg Config, logger *slog.Logger) error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("%sDATABASE_URL is required for serve", envPrefix)
	}

	// 1. Store and extractor
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	otelObserver, err := vitis.NewOTelObserver(otel.Tracer("vitibrasil"), otel.Meter("vitibrasil"))
	if err != nil {
		return err
	}
	level, _ := cfg.slogLevel()
	observer := &vitis.MultiObserver{Observers: []vitis.Observer{
		vitis.NewSlogObserver(logger, level),
		vitis.NewPrometheusObserver(cfg.MetricsNamespace, registry),
		otelObserver,
	}}

	ex := vitis.NewExtractor(store, vitis.NewHTTPFetcher(cfg.fetcherConfig()),
		append(cfg.extractorOptions(), vitis.WithObserver(observer))...)

	// 2. River client
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer pool.Close()

	if cfg.RiverMigrate {
		migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
		if err != nil {
			return fmt.Errorf("failed to create river migrator: %w", err)
		}
		if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
			return fmt.Errorf("failed to migrate river schema: %w", err)
		}
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, riveradapter.NewRefreshWorker(ex))
	river.AddWorker(workers, riveradapter.NewCatalogRefreshWorker(ex))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Logger: logger,
		Queues: map[string]river.QueueConfig{
			riveradapter.QueueRefresh: {MaxWorkers: cfg.RefreshWorkers},
		},
		Workers: workers,
		PeriodicJobs: []*river.PeriodicJob{
			riveradapter.PeriodicCatalogRefresh(cfg.RefreshInterval, cfg.RefreshOnStart),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create river client: %w", err)
	}
	if err := riverClient.Start(ctx); err != nil {
		return fmt.Errorf("failed to start river client: %w", err)
	}

	// 3. Ops server
	ops := &opsServer{
		store:      store,
		jobs:       riverClient,
		staleAfter: cfg.StaleAfter,
		now:        time.Now,
		logger:     logger,
	}
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           newRouter(ops, registry),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting ops server", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case serveErr = <-errCh:
		logger.Error("ops server failed", "error", serveErr)
	}

	// 4. Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("ops server shutdown", "error", err)
	}
	if err := riverClient.Stop(shutdownCtx); err != nil {
		return errors.Join(serveErr, fmt.Errorf("failed to stop river client: %w", err))
	}
	return serveErr
}

// jobInserter is the part of the River client the ops server uses.
type jobInserter interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

type opsServer struct {
	store      vitis.Store
	jobs       jobInserter
	staleAfter time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

func newRouter(s *opsServer, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Route("/jobs", func(r chi.Router) {
		r.Post("/refresh", s.handleRefresh)
		r.Post("/refresh/catalog", s.handleCatalogRefresh)
	})
	return r
}

func (s *opsServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	last, err := s.store.LastRefresh(r.Context())
	if err != nil {
		s.logger.Error("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}

	body := map[string]any{
		"status": "ok",
		"stale":  last.IsZero() || s.now().Sub(last) > s.staleAfter,
	}
	if !last.IsZero() {
		body["last_refresh"] = last.UTC()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *opsServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var args riveradapter.RefreshArgs
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if _, err := vitis.ParseKey(args.Request()); err != nil {
		writeError(w, err)
		return
	}
	s.insert(w, r, args)
}

func (s *opsServer) handleCatalogRefresh(w http.ResponseWriter, r *http.Request) {
	var args riveradapter.CatalogRefreshArgs
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
	}
	if args.Year != nil {
		if _, err := vitis.ParseKey(vitis.Request{Category: string(vitis.CategoryProduction), Year: args.Year}); err != nil {
			writeError(w, err)
			return
		}
	}
	s.insert(w, r, args)
}

func (s *opsServer) insert(w http.ResponseWriter, r *http.Request, args river.JobArgs) {
	res, err := s.jobs.Insert(r.Context(), args, nil)
	if err != nil {
		s.logger.Error("enqueue refresh failed", "kind", args.Kind(), "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":    res.Job.ID,
		"duplicate": res.UniqueSkippedAsDuplicate,
	})
}

// writeError renders extraction errors with their kind and offending field.
func writeError(w http.ResponseWriter, err error) {
	body := map[string]string{
		"error": err.Error(),
		"kind":  vitis.KindOf(err).String(),
	}

	var ve *vitis.ValidationError
	var ue *vitis.UnsupportedResourceError
	switch {
	case errors.As(err, &ve):
		body["field"] = ve.Field
		writeJSON(w, http.StatusBadRequest, body)
	case errors.As(err, &ue):
		body["field"] = ue.Field()
		writeJSON(w, http.StatusNotFound, body)
	default:
		writeJSON(w, http.StatusInternalServerError, body)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
