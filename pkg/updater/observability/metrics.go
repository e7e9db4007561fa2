package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// WaiterOutcome labels waiter lifecycle events for metrics.
type WaiterOutcome string

// Waiter lifecycle labels.
const (
	WaiterInstalled WaiterOutcome = "installed"
	WaiterResolved  WaiterOutcome = "resolved"
	WaiterExpired   WaiterOutcome = "expired"
)

// MetricsRecorder records updater metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordEnqueue records one accepted event.
	RecordEnqueue(ctx context.Context)

	// RecordDelivery records a completed delivery with its duration.
	RecordDelivery(ctx context.Context, duration time.Duration, err error)

	// RecordHandlerError records one handler failure.
	RecordHandlerError(ctx context.Context, handler string)

	// RecordWaiter records a waiter lifecycle event.
	RecordWaiter(ctx context.Context, outcome WaiterOutcome)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	enqueued        metric.Int64Counter
	deliveries      metric.Int64Counter
	deliveryLatency metric.Float64Histogram
	deliveryErrors  metric.Int64Counter
	handlerErrors   metric.Int64Counter
	waiters         metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("telegramupdater")

	enqueued, err := meter.Int64Counter("updater.events.enqueued",
		metric.WithDescription("Number of events accepted by the dispatcher"),
	)
	if err != nil {
		return nil, err
	}

	deliveries, err := meter.Int64Counter("updater.deliveries",
		metric.WithDescription("Number of completed deliveries"),
	)
	if err != nil {
		return nil, err
	}

	deliveryLatency, err := meter.Float64Histogram("updater.delivery.latency_ms",
		metric.WithDescription("Delivery latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	deliveryErrors, err := meter.Int64Counter("updater.delivery.errors",
		metric.WithDescription("Number of errors escaping the consumer callback"),
	)
	if err != nil {
		return nil, err
	}

	handlerErrors, err := meter.Int64Counter("updater.handler.errors",
		metric.WithDescription("Number of handler failures routed to exception routes"),
	)
	if err != nil {
		return nil, err
	}

	waiters, err := meter.Int64Counter("updater.waiters",
		metric.WithDescription("Waiter lifecycle events by outcome"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		enqueued:        enqueued,
		deliveries:      deliveries,
		deliveryLatency: deliveryLatency,
		deliveryErrors:  deliveryErrors,
		handlerErrors:   handlerErrors,
		waiters:         waiters,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordEnqueue records one accepted event.
func (m *otelMetrics) RecordEnqueue(ctx context.Context) {
	m.enqueued.Add(ctx, 1)
}

// RecordDelivery records a completed delivery.
func (m *otelMetrics) RecordDelivery(ctx context.Context, duration time.Duration, err error) {
	m.deliveries.Add(ctx, 1)
	m.deliveryLatency.Record(ctx, float64(duration.Milliseconds()))
	if err != nil {
		m.deliveryErrors.Add(ctx, 1)
	}
}

// RecordHandlerError records one handler failure.
func (m *otelMetrics) RecordHandlerError(ctx context.Context, handler string) {
	m.handlerErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("handler", handler),
	))
}

// RecordWaiter records a waiter lifecycle event.
func (m *otelMetrics) RecordWaiter(ctx context.Context, outcome WaiterOutcome) {
	m.waiters.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", string(outcome)),
	))
}
