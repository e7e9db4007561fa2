// Package observability provides structured logging, metrics, and tracing
// for the updater: slog for logs, OpenTelemetry for metrics and spans.
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds delivery context to a logger.
// Returns a new logger with key and delivery_id fields.
func EnrichLogger(logger *slog.Logger, key int64, deliveryID string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.Int64("key", key),
		slog.String("delivery_id", deliveryID),
	)
}

// LogStart logs dispatcher startup.
func LogStart(logger *slog.Logger, parallelism int, kinds []string) {
	if logger == nil {
		return
	}
	logger.Info("updater starting",
		slog.Int("parallelism", parallelism),
		slog.Any("allowed_kinds", kinds),
	)
}

// LogStop logs dispatcher shutdown.
func LogStop(logger *slog.Logger, graceful bool) {
	if logger == nil {
		return
	}
	logger.Info("updater stopped",
		slog.Bool("graceful", graceful),
	)
}

// LogDeliveryStart logs the start of one delivery.
func LogDeliveryStart(logger *slog.Logger, key int64, deliveryID string) {
	if logger == nil {
		return
	}
	logger.Debug("delivery starting",
		slog.Int64("key", key),
		slog.String("delivery_id", deliveryID),
	)
}

// LogDeliveryComplete logs a finished delivery and how many handlers ran.
func LogDeliveryComplete(logger *slog.Logger, key int64, deliveryID string, handlers int, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("delivery completed",
		slog.Int64("key", key),
		slog.String("delivery_id", deliveryID),
		slog.Int("handlers_run", handlers),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogDeliveryError logs an error escaping the consumer callback.
func LogDeliveryError(logger *slog.Logger, err error) {
	if logger == nil {
		return
	}
	logger.Error("delivery failed",
		slog.String("error", err.Error()),
	)
}

// LogWaiterResolved logs a conversational wait settled by a matching event.
func LogWaiterResolved(logger *slog.Logger, key int64) {
	if logger == nil {
		return
	}
	logger.Debug("waiter resolved by event",
		slog.Int64("key", key),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in
// milliseconds.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Milliseconds())
	}
}
