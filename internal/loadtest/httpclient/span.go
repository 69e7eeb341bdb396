package httpclient

import (
	"context"

	"go.opentelemetry.io/otel/trace"

	"github.com/wesleyorama2/taskload/internal/loadtest/tracing"
)

type spanEnder interface {
	end(status int, err error)
}

type noopSpan struct{}

func (noopSpan) end(int, error) {}

type otelSpan struct {
	span trace.Span
}

func (s otelSpan) end(status int, err error) {
	tracing.EndSpan(s.span, status, err)
}

func startSpan(ctx context.Context, p *tracing.Provider, req Request) (context.Context, spanEnder) {
	ctx, span := tracing.StartRequestSpan(ctx, p.Tracer(), req.Method, req.Name)
	return ctx, otelSpan{span: span}
}
