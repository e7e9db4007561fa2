package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracer is the updater tracer instance.
// Uses the global OTel tracer provider.
var tracer = otel.Tracer("telegramupdater")

// StartDeliverySpan starts a span covering the worker-held portion of one
// delivery. Uses the global OTel tracer; configure the provider before use:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetTracerProvider(yourProvider)
func StartDeliverySpan(ctx context.Context, key int64, deliveryID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "updater.delivery",
		trace.WithAttributes(
			attribute.Int64("delivery.key", key),
			attribute.String("delivery.id", deliveryID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartHandlerSpan starts a span for one handler invocation, a child of the
// delivery span.
func StartHandlerSpan(ctx context.Context, handler string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "updater.handler."+handler,
		trace.WithAttributes(
			attribute.String("handler.name", handler),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndSpanWithError completes a span, optionally recording an error.
func EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AddSpanEvent adds an event to the current span in context.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span == nil || !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
