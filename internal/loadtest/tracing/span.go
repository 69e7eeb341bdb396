package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// StartRequestSpan starts a client span for one HTTP request.
func StartRequestSpan(ctx context.Context, tracer trace.Tracer, method, name string) (context.Context, trace.Span) {
	spanName := method
	if name != "" {
		spanName = method + " " + name
	}
	ctx, span := tracer.Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(attribute.String("http.request.method", method))
	if name != "" {
		span.SetAttributes(attribute.String("taskload.endpoint", name))
	}
	return ctx, span
}

// EndSpan finishes span. Transport errors and non-2xx responses mark the
// span as failed.
func EndSpan(span trace.Span, status int, err error, attrs ...attribute.KeyValue) {
	if status > 0 {
		span.SetAttributes(attribute.Int("http.response.status_code", status))
	}
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case status < 200 || status > 299:
		span.SetStatus(codes.Error, http.StatusText(status))
	default:
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// InjectHTTPHeaders writes W3C trace context into headers.
func InjectHTTPHeaders(ctx context.Context, headers http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(headers))
}
