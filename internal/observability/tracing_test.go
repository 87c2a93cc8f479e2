package observability

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

func TestInitTracer_DisabledWithoutCollector(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), "analysisweb-test", "")
	if err != nil {
		t.Fatalf("InitTracer failed: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("no-op shutdown returned %v", err)
	}

	// The propagator is installed so dispatch tasks still carry trace headers.
	fields := otel.GetTextMapPropagator().Fields()
	found := false
	for _, f := range fields {
		if f == "traceparent" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected the trace context propagator, got fields %v", fields)
	}
}

func TestInitTracer_LazyCollectorConnection(t *testing.T) {
	// The gRPC connection is lazy, so an unreachable collector is not an
	// error at start up.
	shutdown, err := InitTracer(context.Background(), "analysisweb-test", "localhost:4317")
	if err != nil {
		t.Logf("InitTracer returned error (may be expected in test environment): %v", err)
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	_ = shutdown(shutdownCtx)
}

func TestInitTracer_RoundTripsTaskCarrier(t *testing.T) {
	if _, err := InitTracer(context.Background(), "analysisweb-test", ""); err != nil {
		t.Fatalf("InitTracer failed: %v", err)
	}

	carrier := propagation.MapCarrier{"traceparent": "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"}
	ctx := otel.GetTextMapPropagator().Extract(context.Background(), carrier)

	out := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, out)
	if out["traceparent"] != carrier["traceparent"] {
		t.Errorf("expected traceparent to round trip, got %q", out["traceparent"])
	}
}
