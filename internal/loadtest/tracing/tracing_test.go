package tracing_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/wesleyorama2/taskload/internal/loadtest/tracing"
)

func setupProvider(t *testing.T) (*tracetest.InMemoryExporter, *tracing.Provider) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	p := tracing.NewProvider(tp, true)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	return exporter, p
}

func TestInitDisabledWithoutEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	p, err := tracing.Init(context.Background(), tracing.Options{})
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if p.Enabled() {
		t.Error("Enabled() = true, want false without endpoint")
	}
	if p.ShouldPropagate() {
		t.Error("ShouldPropagate() = true, want false")
	}

	_, span := p.Tracer().Start(context.Background(), "noop")
	span.End()
}

func TestInitRejectsBadOptions(t *testing.T) {
	if _, err := tracing.Init(context.Background(), tracing.Options{Endpoint: "localhost:4317", SampleRate: 2}); err == nil {
		t.Error("Init() with sampleRate 2 expected error")
	}
	if _, err := tracing.Init(context.Background(), tracing.Options{Endpoint: "localhost:4317", SampleRate: 1, Protocol: "udp"}); err == nil {
		t.Error("Init() with protocol udp expected error")
	}
}

func TestInitHTTPProtocol(t *testing.T) {
	p, err := tracing.Init(context.Background(), tracing.Options{
		Endpoint:   "localhost:4318",
		Protocol:   "http",
		Insecure:   true,
		SampleRate: 1,
	})
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	if !p.Enabled() || !p.ShouldPropagate() {
		t.Error("provider should be enabled and propagating")
	}
}

func TestRequestSpanLifecycle(t *testing.T) {
	exporter, p := setupProvider(t)

	ctx, span := tracing.StartRequestSpan(context.Background(), p.Tracer(), http.MethodPost, "create_task")
	headers := http.Header{}
	tracing.InjectHTTPHeaders(ctx, headers)
	tracing.EndSpan(span, 201, nil)

	if headers.Get("traceparent") == "" {
		t.Error("traceparent header was not injected")
	}

	_, failed := tracing.StartRequestSpan(context.Background(), p.Tracer(), http.MethodGet, "list_tasks")
	tracing.EndSpan(failed, 503, nil)

	_, broken := tracing.StartRequestSpan(context.Background(), p.Tracer(), http.MethodGet, "")
	tracing.EndSpan(broken, 0, errors.New("connection refused"))

	spans := exporter.GetSpans()
	if len(spans) != 3 {
		t.Fatalf("exported %d spans, want 3", len(spans))
	}
	if spans[0].Name != "POST create_task" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "POST create_task")
	}
	if spans[0].Status.Code != codes.Ok {
		t.Errorf("201 span status = %v, want Ok", spans[0].Status.Code)
	}
	if spans[1].Status.Code != codes.Error {
		t.Errorf("503 span status = %v, want Error", spans[1].Status.Code)
	}
	if spans[2].Name != "GET" || spans[2].Status.Code != codes.Error {
		t.Errorf("transport error span = %q %v", spans[2].Name, spans[2].Status.Code)
	}
}
