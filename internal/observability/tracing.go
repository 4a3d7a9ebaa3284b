package observability

import (
	"context"

	"github.com/SteelMorgan/logship/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ServiceName identifies the agent in traces and resource attributes
const ServiceName = "logship"

// StartSpan creates a span on the global tracer provider
func StartSpan(ctx context.Context, operationName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(ServiceName).Start(ctx, operationName, trace.WithAttributes(attrs...))
}

// BatchAttributes describes a batch on a publish span
func BatchAttributes(batchID string, batch *domain.LogBatch) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("batch.id", batchID),
		attribute.String("batch.source", batch.Source),
		attribute.Int("batch.logs", len(batch.Logs)),
	}
}

// EndSpan records err (if any) as the span status and ends it
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
