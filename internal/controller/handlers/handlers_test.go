package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"analysisweb/internal/artifacts"
	"analysisweb/internal/dispatch"
	"analysisweb/internal/service"
	"analysisweb/internal/store"
	"analysisweb/internal/store/memory"
	"analysisweb/pkg/api"

	"github.com/google/uuid"
)

type nopSubmitter struct {
	tasks []api.DispatchTask
}

func (n *nopSubmitter) Submit(ctx context.Context, task api.DispatchTask) error {
	n.tasks = append(n.tasks, task)
	return nil
}

type mockPinger struct {
	err error
}

func (m mockPinger) Ping(ctx context.Context) error { return m.err }

// Mock dead letter queue
type mockDLQ struct {
	entries []store.DLQEntry
	listErr error

	retryErr       error
	capturedLimit  int
	capturedOffset int
	retried        []uuid.UUID
}

func (m *mockDLQ) ListDLQ(ctx context.Context, limit int, offset int) ([]store.DLQEntry, error) {
	m.capturedLimit, m.capturedOffset = limit, offset
	return m.entries, m.listErr
}

func (m *mockDLQ) RetryFromDLQ(ctx context.Context, jobID uuid.UUID) error {
	if m.retryErr != nil {
		return m.retryErr
	}
	m.retried = append(m.retried, jobID)
	return nil
}

type testEnv struct {
	h         *Handlers
	svc       *service.Service
	layout    artifacts.Layout
	submitter *nopSubmitter
}

func newTestEnv(t *testing.T, dlq store.DeadLetters) *testEnv {
	t.Helper()
	st, err := memory.New()
	if err != nil {
		t.Fatalf("memory.New failed: %v", err)
	}
	layout, err := artifacts.NewLayout(t.TempDir())
	if err != nil {
		t.Fatalf("NewLayout failed: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sub := &nopSubmitter{}
	svc := service.New(st, sub, service.Config{
		Layout:    layout,
		Callbacks: dispatch.Callbacks{BaseURL: "http://localhost:6161"},
	}, nil, logger)

	return &testEnv{
		h:         New(svc, st, dlq, logger),
		svc:       svc,
		layout:    layout,
		submitter: sub,
	}
}

// part is a form field, or a file when filename is set.
type part struct {
	field    string
	filename string
	content  string
}

func multipartRequest(t *testing.T, method, target string, parts ...part) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, p := range parts {
		if p.filename == "" {
			if err := mw.WriteField(p.field, p.content); err != nil {
				t.Fatalf("WriteField failed: %v", err)
			}
			continue
		}
		fw, err := mw.CreateFormFile(p.field, p.filename)
		if err != nil {
			t.Fatalf("CreateFormFile failed: %v", err)
		}
		fw.Write([]byte(p.content))
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("multipart close failed: %v", err)
	}

	req := httptest.NewRequest(method, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(handler http.HandlerFunc, req *http.Request, pathValues ...string) *httptest.ResponseRecorder {
	for i := 0; i+1 < len(pathValues); i += 2 {
		req.SetPathValue(pathValues[i], pathValues[i+1])
	}
	rr := httptest.NewRecorder()
	handler(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response %q: %v", rr.Body.String(), err)
	}
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("handler returned wrong status code: got %v want %v (body: %s)", rr.Code, want, rr.Body.String())
	}
}

func (e *testEnv) createMeasurement(t *testing.T) string {
	t.Helper()
	rr := serve(e.h.CreateMeasurement, multipartRequest(t, http.MethodPost, "/measurements",
		part{field: "label", content: "run 1"},
		part{field: "start_date", content: "2024-03-01T10:00:00Z"},
		part{field: "end_date", content: "2024-03-01T11:00:00Z"},
		part{field: "spectrum", filename: "spectrum.dat", content: "1 2 3"},
	))
	expectStatus(t, rr, http.StatusCreated)
	var resp api.CreatedResponse
	decode(t, rr, &resp)
	return resp.ID
}

func (e *testEnv) createAnalysis(t *testing.T) string {
	t.Helper()
	rr := serve(e.h.CreateAnalysis, multipartRequest(t, http.MethodPost, "/analyses",
		part{field: "label", content: "peaks"},
		part{field: "input", content: "{'label': 'threshold', 'type': 'value'}"},
		part{field: "input", content: "{'label': 'spectrum', 'type': 'file'}"},
		part{field: "output", content: "{'label': 'peaks', 'type': 'table'}"},
		part{field: "bundle", filename: "peaks.syx", content: "<flow/>"},
	))
	expectStatus(t, rr, http.StatusCreated)
	var resp api.CreatedResponse
	decode(t, rr, &resp)
	return resp.ID
}

func (e *testEnv) createJob(t *testing.T, analysisID, measurementID string) string {
	t.Helper()
	rr := serve(e.h.CreateJob, multipartRequest(t, http.MethodPost, "/jobs",
		part{field: "label", content: "first"},
		part{field: "analysis", content: analysisID},
		part{field: "measurement", content: measurementID},
		part{field: "input", content: "0.5"},
		part{field: "input", content: "$measurement"},
	))
	expectStatus(t, rr, http.StatusAccepted)
	var resp api.CreatedResponse
	decode(t, rr, &resp)
	if resp.Status != "success" {
		t.Errorf("got status %q", resp.Status)
	}
	return resp.ID
}
