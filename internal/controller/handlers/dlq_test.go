package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"analysisweb/internal/store"
	"analysisweb/pkg/api"

	"github.com/google/uuid"
)

func TestListDLQ(t *testing.T) {
	jobID := uuid.New()
	msg := "exit status 1"
	failedAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		query      string
		dlq        *mockDLQ
		wantStatus int
		wantLimit  int
		wantOffset int
		wantLen    int
	}{
		{
			name:       "defaults",
			dlq:        &mockDLQ{entries: []store.DLQEntry{{ID: 7, JobID: jobID, JobLabel: "first", ErrorMessage: &msg, Attempts: 5, FailedAt: &failedAt}}},
			wantStatus: http.StatusOK,
			wantLimit:  20,
			wantLen:    1,
		},
		{
			name:       "paging",
			query:      "?limit=5&offset=10",
			dlq:        &mockDLQ{},
			wantStatus: http.StatusOK,
			wantLimit:  5,
			wantOffset: 10,
		},
		{
			name:       "invalid limit",
			query:      "?limit=zero",
			dlq:        &mockDLQ{},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "negative offset",
			query:      "?offset=-1",
			dlq:        &mockDLQ{},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "store error",
			dlq:        &mockDLQ{listErr: errors.New("connection reset")},
			wantStatus: http.StatusInternalServerError,
			wantLimit:  20,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.dlq)
			rr := serve(env.h.ListDLQ, httptest.NewRequest(http.MethodGet, "/dispatch/dlq"+tt.query, nil))
			expectStatus(t, rr, tt.wantStatus)

			if tt.dlq.capturedLimit != tt.wantLimit || tt.dlq.capturedOffset != tt.wantOffset {
				t.Errorf("got limit=%d offset=%d, want limit=%d offset=%d",
					tt.dlq.capturedLimit, tt.dlq.capturedOffset, tt.wantLimit, tt.wantOffset)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}

			var entries []api.DLQEntry
			decode(t, rr, &entries)
			if len(entries) != tt.wantLen {
				t.Fatalf("got %d entries, want %d", len(entries), tt.wantLen)
			}
			if tt.wantLen > 0 {
				e := entries[0]
				if e.JobID != jobID.String() || e.JobLabel != "first" || e.Attempts != 5 || e.ErrorMessage == nil || *e.ErrorMessage != msg {
					t.Errorf("unexpected entry: %+v", e)
				}
			}
		})
	}
}

func TestRetryDLQ(t *testing.T) {
	jobID := uuid.New()

	tests := []struct {
		name       string
		id         string
		dlq        *mockDLQ
		wantStatus int
	}{
		{"queued", jobID.String(), &mockDLQ{}, http.StatusOK},
		{"invalid id", "nope", &mockDLQ{}, http.StatusBadRequest},
		{"not in queue", jobID.String(), &mockDLQ{retryErr: fmt.Errorf("retry: %w", store.ErrNotFound)}, http.StatusNotFound},
		{"store error", jobID.String(), &mockDLQ{retryErr: errors.New("boom")}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.dlq)
			rr := serve(env.h.RetryDLQ, httptest.NewRequest(http.MethodPost, "/dispatch/dlq/"+tt.id+"/retry", nil), "job_id", tt.id)
			expectStatus(t, rr, tt.wantStatus)

			if tt.wantStatus == http.StatusOK {
				var resp api.StatusResponse
				decode(t, rr, &resp)
				if resp.Status != "queued" {
					t.Errorf("got status %q, want queued", resp.Status)
				}
				if len(tt.dlq.retried) != 1 || tt.dlq.retried[0] != jobID {
					t.Errorf("unexpected retries: %v", tt.dlq.retried)
				}
			}
		})
	}
}

func TestDLQ_Disabled(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := serve(env.h.ListDLQ, httptest.NewRequest(http.MethodGet, "/dispatch/dlq", nil))
	expectStatus(t, rr, http.StatusNotFound)

	id := uuid.NewString()
	rr = serve(env.h.RetryDLQ, httptest.NewRequest(http.MethodPost, "/dispatch/dlq/"+id+"/retry", nil), "job_id", id)
	expectStatus(t, rr, http.StatusNotFound)
}
