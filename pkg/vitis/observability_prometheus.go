package vitis

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusObserver implements Observer using Prometheus metrics.
// This is useful if you're already using Prometheus for monitoring.
//
// Example:
//
//	observer := vitis.NewPrometheusObserver("my_service", prometheus.DefaultRegisterer)
//	ex := vitis.NewExtractor(store, fetcher, vitis.WithObserver(observer))
type PrometheusObserver struct {
	extractDuration   *prometheus.HistogramVec
	cacheLookups      *prometheus.CounterVec
	cacheCheckLatency prometheus.Histogram
	fetchDuration     *prometheus.HistogramVec
	fetchErrors       *prometheus.CounterVec
	retries           prometheus.Counter
	storeWrites       *prometheus.CounterVec
}

// NewPrometheusObserver creates a Prometheus observer with the given namespace.
// All metrics will be prefixed with "{namespace}_vitis_".
//
// Example:
//
//	observer := NewPrometheusObserver("myapp", prometheus.DefaultRegisterer)
//	// Creates metrics like: myapp_vitis_extract_duration_seconds
func NewPrometheusObserver(namespace string, registerer prometheus.Registerer) *PrometheusObserver {
	if namespace == "" {
		namespace = "vitibrasil"
	}

	extractDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "vitis",
			Name:      "extract_duration_seconds",
			Help:      "Duration of extractions in seconds",
			Buckets:   prometheus.DefBuckets, // [0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10]
		},
		[]string{"outcome", "source"},
	)

	cacheLookups := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vitis",
			Name:      "cache_lookups_total",
			Help:      "Total number of store lookups by result (fresh, expired, miss, error)",
		},
		[]string{"result"},
	)

	cacheCheckLatency := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "vitis",
			Name:      "cache_check_latency_seconds",
			Help:      "Latency of store lookups in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)

	fetchDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "vitis",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of portal fetch attempts in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"status"},
	)

	fetchErrors := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vitis",
			Name:      "fetch_errors_total",
			Help:      "Total number of failed fetch attempts by error kind",
		},
		[]string{"kind"},
	)

	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vitis",
			Name:      "fetch_retries_total",
			Help:      "Total number of fetch retries",
		},
	)

	storeWrites := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vitis",
			Name:      "store_writes_total",
			Help:      "Total number of record set writes",
		},
		[]string{"status"},
	)

	// Register all metrics
	registerer.MustRegister(
		extractDuration,
		cacheLookups,
		cacheCheckLatency,
		fetchDuration,
		fetchErrors,
		retries,
		storeWrites,
	)

	return &PrometheusObserver{
		extractDuration:   extractDuration,
		cacheLookups:      cacheLookups,
		cacheCheckLatency: cacheCheckLatency,
		fetchDuration:     fetchDuration,
		fetchErrors:       fetchErrors,
		retries:           retries,
		storeWrites:       storeWrites,
	}
}

func (o *PrometheusObserver) OnExtractStart(ctx context.Context, event *ExtractStartEvent) {
	// Nothing to do on start for Prometheus
}

func (o *PrometheusObserver) OnExtractEnd(ctx context.Context, event *ExtractEndEvent) {
	o.extractDuration.WithLabelValues(
		string(event.Outcome),
		string(event.Source),
	).Observe(event.Duration.Seconds())
}

func (o *PrometheusObserver) OnCacheCheck(ctx context.Context, event *CacheCheckEvent) {
	result := "miss"
	switch {
	case event.Error != nil:
		result = "error"
	case event.Hit && event.Expired:
		result = "expired"
	case event.Hit:
		result = "fresh"
	}
	o.cacheLookups.WithLabelValues(result).Inc()
	o.cacheCheckLatency.Observe(event.Latency.Seconds())
}

func (o *PrometheusObserver) OnFetch(ctx context.Context, event *FetchEvent) {
	status := "success"
	if event.Error != nil {
		status = "error"
		o.fetchErrors.WithLabelValues(KindOf(event.Error).String()).Inc()
	}
	o.fetchDuration.WithLabelValues(status).Observe(event.Duration.Seconds())
}

func (o *PrometheusObserver) OnRetry(ctx context.Context, event *RetryEvent) {
	o.retries.Inc()
}

func (o *PrometheusObserver) OnStoreWrite(ctx context.Context, event *StoreWriteEvent) {
	status := "success"
	if event.Error != nil {
		status = "error"
	}
	o.storeWrites.WithLabelValues(status).Inc()
}
