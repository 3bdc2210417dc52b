package vitis

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// OTelObserver implements Observer using OpenTelemetry for traces and metrics.
// This provides automatic integration with OTLP exporters (Jaeger, Tempo, Datadog, etc.).
//
// Each extraction becomes one span, started in OnExtractStart and ended in
// OnExtractEnd; cache checks, fetches, retries and writes are span events.
//
// Example:
//
//	tracer := otel.Tracer("vitibrasil")
//	meter := otel.Meter("vitibrasil")
//	observer, _ := vitis.NewOTelObserver(tracer, meter)
//	ex := vitis.NewExtractor(store, fetcher, vitis.WithObserver(observer))
type OTelObserver struct {
	tracer trace.Tracer

	mu    sync.Mutex
	spans map[string]trace.Span // by request ID

	// Metrics
	extractDuration metric.Float64Histogram
	cacheLookups    metric.Int64Counter
	fetchDuration   metric.Float64Histogram
	retries         metric.Int64Counter
	storeWrites     metric.Int64Counter
}

// NewOTelObserver creates an OpenTelemetry observer.
func NewOTelObserver(tracer trace.Tracer, meter metric.Meter) (*OTelObserver, error) {
	extractDuration, err := meter.Float64Histogram(
		"vitis.extract.duration",
		metric.WithDescription("Duration of extractions in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create extract duration histogram: %w", err)
	}

	cacheLookups, err := meter.Int64Counter(
		"vitis.cache.lookups",
		metric.WithDescription("Number of store lookups"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache lookups counter: %w", err)
	}

	fetchDuration, err := meter.Float64Histogram(
		"vitis.fetch.duration",
		metric.WithDescription("Duration of portal fetch attempts in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create fetch duration histogram: %w", err)
	}

	retries, err := meter.Int64Counter(
		"vitis.fetch.retries",
		metric.WithDescription("Number of fetch retries"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create retries counter: %w", err)
	}

	storeWrites, err := meter.Int64Counter(
		"vitis.store.writes",
		metric.WithDescription("Number of record set writes"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store writes counter: %w", err)
	}

	return &OTelObserver{
		tracer:          tracer,
		spans:           make(map[string]trace.Span),
		extractDuration: extractDuration,
		cacheLookups:    cacheLookups,
		fetchDuration:   fetchDuration,
		retries:         retries,
		storeWrites:     storeWrites,
	}, nil
}

func (o *OTelObserver) span(requestID string) trace.Span {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.spans[requestID]
}

func (o *OTelObserver) OnExtractStart(ctx context.Context, event *ExtractStartEvent) {
	_, span := o.tracer.Start(ctx, "vitis.extract",
		trace.WithTimestamp(event.StartTime),
		trace.WithAttributes(
			attribute.String("request_id", event.RequestID),
			attribute.String("key", event.Key),
			attribute.Bool("forced", event.Forced),
		),
	)
	o.mu.Lock()
	o.spans[event.RequestID] = span
	o.mu.Unlock()
}

func (o *OTelObserver) OnExtractEnd(ctx context.Context, event *ExtractEndEvent) {
	o.mu.Lock()
	span, ok := o.spans[event.RequestID]
	delete(o.spans, event.RequestID)
	o.mu.Unlock()

	if ok {
		span.SetAttributes(
			attribute.String("outcome", string(event.Outcome)),
			attribute.String("source", string(event.Source)),
			attribute.Int("rows", event.Rows),
		)
		if event.Error != nil {
			span.SetStatus(codes.Error, event.Error.Error())
			span.RecordError(event.Error)
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}

	o.extractDuration.Record(ctx, event.Duration.Seconds(), metric.WithAttributes(
		attribute.String("outcome", string(event.Outcome)),
		attribute.String("source", string(event.Source)),
	))
}

func (o *OTelObserver) OnCacheCheck(ctx context.Context, event *CacheCheckEvent) {
	o.cacheLookups.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("hit", event.Hit),
		attribute.Bool("expired", event.Expired),
		attribute.Bool("error", event.Error != nil),
	))

	if span := o.span(event.RequestID); span != nil {
		span.AddEvent("cache_check", trace.WithAttributes(
			attribute.Bool("hit", event.Hit),
			attribute.Bool("expired", event.Expired),
			attribute.String("age", event.Age.String()),
		))
	}
}

func (o *OTelObserver) OnFetch(ctx context.Context, event *FetchEvent) {
	o.fetchDuration.Record(ctx, event.Duration.Seconds(), metric.WithAttributes(
		attribute.Bool("success", event.Error == nil),
	))

	if span := o.span(event.RequestID); span != nil {
		attrs := []attribute.KeyValue{
			attribute.Int("attempt", event.Attempt),
			attribute.Int("rows", event.Rows),
		}
		if event.Error != nil {
			attrs = append(attrs, attribute.String("error", event.Error.Error()))
		}
		span.AddEvent("fetch", trace.WithAttributes(attrs...))
	}
}

func (o *OTelObserver) OnRetry(ctx context.Context, event *RetryEvent) {
	o.retries.Add(ctx, 1, metric.WithAttributes(
		attribute.Int("attempt", event.Attempt),
	))

	if span := o.span(event.RequestID); span != nil {
		span.AddEvent("retry", trace.WithAttributes(
			attribute.Int("attempt", event.Attempt),
			attribute.String("error", event.Error.Error()),
			attribute.String("delay", event.Delay.String()),
		))
	}
}

func (o *OTelObserver) OnStoreWrite(ctx context.Context, event *StoreWriteEvent) {
	o.storeWrites.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("success", event.Error == nil),
	))

	if span := o.span(event.RequestID); span != nil {
		span.AddEvent("store_write", trace.WithAttributes(
			attribute.Int("rows", event.Rows),
		))
	}
}
