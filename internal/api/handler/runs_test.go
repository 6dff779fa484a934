package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/circularmachines/sharedinventory/internal/domain"
)

func withRunID(r *http.Request, id string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("runID", id)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestRunsHandler_List(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		wantCode int
		wantIDs  []domain.RunID
	}{
		{"newest first", "", http.StatusOK, []domain.RunID{"run-2", "run-1"}},
		{"by state", "?state=done", http.StatusOK, []domain.RunID{"run-1"}},
		{"by mention", "?mention_uri=at://did:plc:a/app.bsky.feed.post/2", http.StatusOK, []domain.RunID{"run-2"}},
		{"limit", "?limit=1", http.StatusOK, []domain.RunID{"run-2"}},
		{"offset", "?offset=1", http.StatusOK, []domain.RunID{"run-1"}},
		{"unknown state", "?state=exploded", http.StatusBadRequest, nil},
	}

	h := NewRunsHandler(seedRuns(t), testLogger())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.List(w, httptest.NewRequest(http.MethodGet, "/api/v1/runs"+tt.query, nil))

			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			var resp RunListResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if len(resp.Runs) != len(tt.wantIDs) {
				t.Fatalf("runs = %d, want %d", len(resp.Runs), len(tt.wantIDs))
			}
			for i, id := range tt.wantIDs {
				if resp.Runs[i].ID != id {
					t.Errorf("runs[%d] = %q, want %q", i, resp.Runs[i].ID, id)
				}
			}
		})
	}
}

func TestRunsHandler_ListEmptyIsArray(t *testing.T) {
	h := NewRunsHandler(seedRuns(t), testLogger())

	w := httptest.NewRecorder()
	h.List(w, httptest.NewRequest(http.MethodGet, "/api/v1/runs?state=fetching", nil))

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(w.Body).Decode(&raw); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if string(raw["runs"]) != "[]" {
		t.Errorf("runs = %s, want []", raw["runs"])
	}
}

func TestRunsHandler_Get(t *testing.T) {
	tests := []struct {
		name     string
		h        *RunsHandler
		id       string
		wantCode int
	}{
		{"found", NewRunsHandler(seedRuns(t), testLogger()), "run-2", http.StatusOK},
		{"missing", NewRunsHandler(seedRuns(t), testLogger()), "nope", http.StatusNotFound},
		{"store error", NewRunsHandler(failingRuns{}, testLogger()), "run-1", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := withRunID(httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+tt.id, nil), tt.id)
			w := httptest.NewRecorder()
			tt.h.Get(w, req)

			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			var run domain.RunRecord
			if err := json.NewDecoder(w.Body).Decode(&run); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if run.State != domain.RunStateFailed || run.FailedStage != domain.RunStateDownloading {
				t.Errorf("run = %+v", run)
			}
			if run.ErrorKind != "transient_io" {
				t.Errorf("error_kind = %q, want transient_io", run.ErrorKind)
			}
		})
	}
}
