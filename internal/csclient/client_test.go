package csclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestEscapeIdentifierDoublesBackticks(t *testing.T) {
	if got := EscapeIdentifier("web`hooks"); got != "web``hooks" {
		t.Fatalf("got %q", got)
	}
}

func TestEscapeStringEscapesBackslashAndQuote(t *testing.T) {
	got := EscapeString(`user'; DROP TABLE requests--`)
	want := `user\'; DROP TABLE requests--`
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}

	if got := EscapeString(`needle'\test`); got != `needle\'\\test` {
		t.Fatalf("got %q", got)
	}
}

func TestEpochMsToDecimalHandlesNegatives(t *testing.T) {
	cases := map[int64]string{
		0:     "0.000",
		1500:  "1.500",
		-1:    "-1.999",
		-1001: "-2.999",
	}
	for ms, want := range cases {
		if got := EpochMsToDecimal(ms); got != want {
			t.Errorf("EpochMsToDecimal(%d) = %q, want %q", ms, got, want)
		}
	}
}

func TestParseReceivedAtEpochSeconds(t *testing.T) {
	ms, err := ParseReceivedAt("1700000000.500")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ms != 1700000000500 {
		t.Fatalf("got %d", ms)
	}
}

func TestParseReceivedAtDatetimeFallback(t *testing.T) {
	ms, err := ParseReceivedAt("2023-11-14 22:13:20.500")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ms != 1700000000500 {
		t.Fatalf("got %d, want 1700000000500", ms)
	}
}

func TestParseReceivedAtDatetimeNoFraction(t *testing.T) {
	ms, err := ParseReceivedAt("1970-01-01 00:00:01")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ms != 1000 {
		t.Fatalf("got %d, want 1000", ms)
	}
}

func TestInsertRequestsNoopOnEmpty(t *testing.T) {
	var called bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	c := New(srv.URL, "default", "", "webhooks")
	if err := c.InsertRequests(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called {
		t.Fatal("expected no HTTP call for an empty batch")
	}
}

func TestQueryRequestsUnwrapsEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"slug": "hook1", "method": "POST"},
			},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "default", "", "webhooks")
	rows, err := c.QueryRequests(context.Background(), "SELECT * FROM requests")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 || rows[0].Slug != "hook1" {
		t.Fatalf("got %+v", rows)
	}
}

func TestPingReportsReachability(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, "default", "", "webhooks")
	if !c.Ping(context.Background()) {
		t.Fatal("expected ping to succeed")
	}
}

func TestPingReportsUnreachable(t *testing.T) {
	c := New("http://127.0.0.1:1", "default", "", "webhooks")
	if c.Ping(context.Background()) {
		t.Fatal("expected ping to fail against an unreachable host")
	}
}
