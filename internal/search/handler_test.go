package search

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hookline/gateway/internal/csclient"
)

type fakeQuerier struct {
	rows []csclient.ResponseRow
	err  error
}

func (f *fakeQuerier) QueryRequests(ctx context.Context, sql string) ([]csclient.ResponseRow, error) {
	return f.rows, f.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHandlerRejectsMissingUserID(t *testing.T) {
	h := New(&fakeQuerier{}, "webhooks", "secret", discardLogger())
	r := httptest.NewRequest(http.MethodGet, "/search", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHandlerUnavailableWithoutClickHouse(t *testing.T) {
	h := New(nil, "webhooks", "secret", discardLogger())
	r := httptest.NewRequest(http.MethodGet, "/search?user_id=u1", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestHandlerRejectsInvalidPlan(t *testing.T) {
	h := New(&fakeQuerier{}, "webhooks", "secret", discardLogger())
	r := httptest.NewRequest(http.MethodGet, "/search?user_id=u1&plan=enterprise", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHandlerRejectsOutOfRangeLimit(t *testing.T) {
	h := New(&fakeQuerier{}, "webhooks", "secret", discardLogger())
	r := httptest.NewRequest(http.MethodGet, "/search?user_id=u1&limit=500", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHandlerRejectsUnknownOrder(t *testing.T) {
	h := New(&fakeQuerier{}, "webhooks", "secret", discardLogger())
	r := httptest.NewRequest(http.MethodGet, "/search?user_id=u1&order=sideways", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHandlerReturnsResults(t *testing.T) {
	h := New(&fakeQuerier{rows: []csclient.ResponseRow{{Slug: "hook1"}}}, "webhooks", "secret", discardLogger())
	r := httptest.NewRequest(http.MethodGet, "/search?user_id=u1", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestHandlerMapsQueryErrorToInternalError(t *testing.T) {
	h := New(&fakeQuerier{err: errors.New("boom")}, "webhooks", "secret", discardLogger())
	r := httptest.NewRequest(http.MethodGet, "/search?user_id=u1", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}
