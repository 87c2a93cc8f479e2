package observability

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T, handler http.Handler) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics handler returned %d", rr.Code)
	}
	return rr.Body.String()
}

func TestInstruments_Record(t *testing.T) {
	ctx := context.Background()
	handler, shutdown, err := InitMetrics("analysisweb-test")
	if err != nil {
		t.Fatalf("InitMetrics failed: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = shutdown(shutdownCtx)
	}()

	inst, err := NewInstruments()
	if err != nil {
		t.Fatalf("NewInstruments failed: %v", err)
	}
	inst.JobCreated(ctx)
	inst.Ingestion(ctx, "output", nil)
	inst.Ingestion(ctx, "log", errors.New("duplicate"))
	inst.DispatchFailed(ctx)

	body := scrape(t, handler)
	for _, want := range []string{
		"analysisweb_jobs_created",
		"analysisweb_jobs_ingestions",
		`outcome="rejected"`,
		`kind="output"`,
		"analysisweb_dispatch_failures",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in metrics output", want)
		}
	}
}

func TestInstruments_NilIsNoop(t *testing.T) {
	var inst *Instruments
	ctx := context.Background()
	inst.JobCreated(ctx)
	inst.Ingestion(ctx, "report", nil)
	inst.DispatchFailed(ctx)
}

func TestRegisterQueueDepth(t *testing.T) {
	handler, shutdown, err := InitMetrics("analysisweb-test")
	if err != nil {
		t.Fatalf("InitMetrics failed: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = shutdown(shutdownCtx)
	}()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	err = RegisterQueueDepth(func(context.Context) (int64, error) { return 7, nil }, logger)
	if err != nil {
		t.Fatalf("RegisterQueueDepth failed: %v", err)
	}

	body := scrape(t, handler)
	if !strings.Contains(body, "analysisweb_dispatch_queue_depth") {
		t.Errorf("expected queue depth gauge in output, got:\n%s", body)
	}
}
