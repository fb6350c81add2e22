package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alanyoungcy/floorsync/internal/domain"
	"github.com/alanyoungcy/floorsync/internal/reconcile"
)

type fakeQueue struct {
	jobs []domain.Job
}

func (f *fakeQueue) Enqueue(ctx context.Context, job domain.Job) error {
	f.jobs = append(f.jobs, job)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRevalidateTargetResolution(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"token set id", `{"token_set_id":"token:0xabc:1"}`, "token:0xabc:1"},
		{"collection id", `{"collection_id":"0xAbC"}`, "contract:0xabc"},
		{"contract", `{"contract":"0xAbC"}`, "contract:0xabc"},
		{"token set wins over contract", `{"token_set_id":"token:0xabc:1","contract":"0xdef"}`, "token:0xabc:1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queue := &fakeQueue{}
			h := NewAdminHandler(nil, queue, testLogger())

			req := httptest.NewRequest(http.MethodPost, "/api/admin/revalidate", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			h.Revalidate(rec, req)

			if rec.Code != http.StatusAccepted {
				t.Fatalf("status = %d, want 202", rec.Code)
			}
			if len(queue.jobs) != 1 {
				t.Fatalf("enqueued %d jobs, want 1", len(queue.jobs))
			}

			var p reconcile.JobPayload
			if err := json.Unmarshal(queue.jobs[0].Payload, &p); err != nil {
				t.Fatalf("decode payload: %v", err)
			}
			if p.TokenSetID != tt.want {
				t.Fatalf("token set = %q, want %q", p.TokenSetID, tt.want)
			}
			if p.Trigger != domain.TriggerRevalidation {
				t.Fatalf("trigger = %q, want revalidation", p.Trigger)
			}
		})
	}
}

func TestRevalidateRejectsMalformedBody(t *testing.T) {
	queue := &fakeQueue{}
	h := NewAdminHandler(nil, queue, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/admin/revalidate", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	h.Revalidate(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if len(queue.jobs) != 0 {
		t.Fatal("malformed request must not enqueue work")
	}
}
