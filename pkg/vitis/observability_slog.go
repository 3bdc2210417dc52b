package vitis

import (
	"context"
	"log/slog"
)

// SlogObserver implements Observer using Go's structured logging (log/slog).
// This emits structured logs for all extraction events.
//
// Example:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
//	observer := vitis.NewSlogObserver(logger, slog.LevelInfo)
//	ex := vitis.NewExtractor(store, fetcher, vitis.WithObserver(observer))
type SlogObserver struct {
	logger   *slog.Logger
	minLevel slog.Level
}

// NewSlogObserver creates an observer that logs to the given slog.Logger.
// Only events at or above minLevel will be logged.
func NewSlogObserver(logger *slog.Logger, minLevel slog.Level) *SlogObserver {
	return &SlogObserver{
		logger:   logger,
		minLevel: minLevel,
	}
}

func (o *SlogObserver) OnExtractStart(ctx context.Context, event *ExtractStartEvent) {
	if o.minLevel <= slog.LevelDebug {
		o.logger.DebugContext(ctx, "extraction started",
			slog.String("request_id", event.RequestID),
			slog.String("key", event.Key),
			slog.Bool("forced", event.Forced),
		)
	}
}

func (o *SlogObserver) OnExtractEnd(ctx context.Context, event *ExtractEndEvent) {
	switch event.Outcome {
	case OutcomeFailed:
		if o.minLevel <= slog.LevelError {
			o.logger.ErrorContext(ctx, "extraction failed",
				slog.String("request_id", event.RequestID),
				slog.String("key", event.Key),
				slog.Duration("duration", event.Duration),
				slog.String("error_kind", KindOf(event.Error).String()),
				slog.String("error", event.Error.Error()),
			)
		}
	case OutcomeRejected:
		if o.minLevel <= slog.LevelInfo {
			o.logger.InfoContext(ctx, "extraction rejected",
				slog.String("request_id", event.RequestID),
				slog.String("error", event.Error.Error()),
			)
		}
	case OutcomeServedStale:
		if o.minLevel <= slog.LevelWarn {
			o.logger.WarnContext(ctx, "served stale data",
				slog.String("request_id", event.RequestID),
				slog.String("key", event.Key),
				slog.Int("rows", event.Rows),
				slog.Duration("duration", event.Duration),
			)
		}
	default:
		if o.minLevel <= slog.LevelInfo {
			o.logger.InfoContext(ctx, "extraction completed",
				slog.String("request_id", event.RequestID),
				slog.String("key", event.Key),
				slog.String("source", string(event.Source)),
				slog.Int("rows", event.Rows),
				slog.Duration("duration", event.Duration),
			)
		}
	}
}

func (o *SlogObserver) OnCacheCheck(ctx context.Context, event *CacheCheckEvent) {
	if o.minLevel <= slog.LevelDebug {
		o.logger.DebugContext(ctx, "cache check",
			slog.String("request_id", event.RequestID),
			slog.String("key", event.Key),
			slog.Bool("hit", event.Hit),
			slog.Bool("expired", event.Expired),
			slog.Duration("age", event.Age),
			slog.Duration("latency", event.Latency),
		)
	}
}

func (o *SlogObserver) OnFetch(ctx context.Context, event *FetchEvent) {
	if event.Error != nil {
		if o.minLevel <= slog.LevelWarn {
			o.logger.WarnContext(ctx, "fetch failed",
				slog.String("request_id", event.RequestID),
				slog.String("key", event.Key),
				slog.Int("attempt", event.Attempt),
				slog.Duration("duration", event.Duration),
				slog.String("error", event.Error.Error()),
			)
		}
		return
	}
	if o.minLevel <= slog.LevelDebug {
		o.logger.DebugContext(ctx, "fetch completed",
			slog.String("request_id", event.RequestID),
			slog.String("key", event.Key),
			slog.Int("attempt", event.Attempt),
			slog.Int("rows", event.Rows),
			slog.Duration("duration", event.Duration),
		)
	}
}

func (o *SlogObserver) OnRetry(ctx context.Context, event *RetryEvent) {
	if o.minLevel <= slog.LevelWarn {
		o.logger.WarnContext(ctx, "fetch retry",
			slog.String("request_id", event.RequestID),
			slog.String("key", event.Key),
			slog.Int("attempt", event.Attempt),
			slog.Duration("delay", event.Delay),
			slog.String("error", event.Error.Error()),
		)
	}
}

func (o *SlogObserver) OnStoreWrite(ctx context.Context, event *StoreWriteEvent) {
	if event.Error != nil {
		if o.minLevel <= slog.LevelError {
			o.logger.ErrorContext(ctx, "store write failed",
				slog.String("request_id", event.RequestID),
				slog.String("key", event.Key),
				slog.String("error", event.Error.Error()),
			)
		}
		return
	}
	if o.minLevel <= slog.LevelDebug {
		o.logger.DebugContext(ctx, "store write",
			slog.String("request_id", event.RequestID),
			slog.String("key", event.Key),
			slog.Int("rows", event.Rows),
			slog.Duration("duration", event.Duration),
		)
	}
}
