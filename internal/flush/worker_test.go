package flush

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hookline/gateway/internal/breaker"
	"github.com/hookline/gateway/internal/cpclient"
	"github.com/hookline/gateway/internal/csclient"
	"github.com/hookline/gateway/internal/kv"
	"github.com/hookline/gateway/internal/types"
)

type fakeStore struct {
	mu       sync.Mutex
	active   []string
	batches  map[string][]*types.BufferedRequest
	removed  []string
	requeued map[string][]*types.BufferedRequest
	endpoint *types.EndpointInfo
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		batches:  map[string][]*types.BufferedRequest{},
		requeued: map[string][]*types.BufferedRequest{},
	}
}

func (f *fakeStore) ActiveSlugs(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.active...), nil
}
func (f *fakeStore) TakeBatch(ctx context.Context, slug string, count int) ([]*types.BufferedRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := f.batches[slug]
	delete(f.batches, slug)
	return b, nil
}
func (f *fakeStore) RemoveActive(ctx context.Context, slug string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, slug)
	return nil
}
func (f *fakeStore) Requeue(ctx context.Context, slug string, reqs []*types.BufferedRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requeued[slug] = reqs
	return nil
}
func (f *fakeStore) GetEndpoint(ctx context.Context, slug string) (*types.EndpointInfo, error) {
	return f.endpoint, nil
}

type fakeCP struct {
	resp *types.CaptureResponse
	err  error
	mu   sync.Mutex
	n    int
}

func (f *fakeCP) CaptureBatch(ctx context.Context, payload types.BatchPayload) (*types.CaptureResponse, error) {
	f.mu.Lock()
	f.n++
	f.mu.Unlock()
	return f.resp, f.err
}

type fakeCS struct {
	mu   sync.Mutex
	rows [][]csclient.Row
}

func (f *fakeCS) InsertRequests(ctx context.Context, rows []csclient.Row) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, rows)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type alwaysClosedStore struct{}

func (alwaysClosedStore) AllowRequest(ctx context.Context) (bool, error)   { return true, nil }
func (alwaysClosedStore) RecordSuccess(ctx context.Context) error          { return nil }
func (alwaysClosedStore) RecordFailure(ctx context.Context) (int64, error) { return 0, nil }
func (alwaysClosedStore) State(ctx context.Context) (kv.CircuitState, error) {
	return kv.CircuitClosed, nil
}
func (alwaysClosedStore) IsDegraded(ctx context.Context) (bool, error) { return false, nil }

func testBreaker() *breaker.Breaker {
	return breaker.New(alwaysClosedStore{}, discardLogger())
}

func TestDrainSlugRemovesEmptyActiveSlug(t *testing.T) {
	st := newFakeStore()
	st.active = []string{"hook1"}
	cp := &fakeCP{resp: &types.CaptureResponse{}}
	p := New(st, cp, nil, testBreaker(), discardLogger(), 1, 50, 100*time.Millisecond)

	if p.drainSlug(context.Background(), "hook1") {
		t.Fatal("expected no work for an empty slug")
	}
	if len(st.removed) != 1 || st.removed[0] != "hook1" {
		t.Fatalf("expected hook1 removed from active set, got %+v", st.removed)
	}
}

func TestDrainSlugFlushesBatchAndWritesToCS(t *testing.T) {
	st := newFakeStore()
	st.endpoint = &types.EndpointInfo{EndpointID: "ep1", UserID: "u1"}
	st.batches["hook1"] = []*types.BufferedRequest{{Method: "POST", Path: "/w/hook1"}}
	cp := &fakeCP{resp: &types.CaptureResponse{Success: true, Inserted: 1}}
	cs := &fakeCS{}
	p := New(st, cp, cs, testBreaker(), discardLogger(), 1, 50, 100*time.Millisecond)

	if !p.drainSlug(context.Background(), "hook1") {
		t.Fatal("expected work to be reported")
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		cs.mu.Lock()
		n := len(cs.rows)
		cs.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	if len(cs.rows) != 1 || len(cs.rows[0]) != 1 {
		t.Fatalf("expected one CS write of one row, got %+v", cs.rows)
	}
	if cs.rows[0][0].EndpointID != "ep1" {
		t.Fatalf("expected endpoint metadata on CS row, got %+v", cs.rows[0][0])
	}
}

func TestDrainSlugSkipsCSWriteWithoutCachedEndpoint(t *testing.T) {
	st := newFakeStore()
	st.batches["hook1"] = []*types.BufferedRequest{{Method: "POST"}}
	cp := &fakeCP{resp: &types.CaptureResponse{Success: true}}
	cs := &fakeCS{}
	p := New(st, cp, cs, testBreaker(), discardLogger(), 1, 50, 100*time.Millisecond)

	p.drainSlug(context.Background(), "hook1")
	time.Sleep(50 * time.Millisecond)

	cs.mu.Lock()
	defer cs.mu.Unlock()
	if len(cs.rows) != 0 {
		t.Fatalf("expected no CS write without a cached endpoint, got %+v", cs.rows)
	}
}

func TestDrainSlugDropsBatchOnNonCircuitError(t *testing.T) {
	st := newFakeStore()
	st.batches["hook1"] = []*types.BufferedRequest{{Method: "POST"}}
	cp := &fakeCP{err: errors.New("server error")}
	p := New(st, cp, nil, testBreaker(), discardLogger(), 1, 50, 100*time.Millisecond)

	p.drainSlug(context.Background(), "hook1")
	if len(st.requeued) != 0 {
		t.Fatalf("expected no requeue on a non-circuit error, got %+v", st.requeued)
	}
}

func TestDrainSlugRequeuesOnCircuitOpen(t *testing.T) {
	st := newFakeStore()
	batch := []*types.BufferedRequest{{Method: "POST"}}
	st.batches["hook1"] = batch
	cp := &fakeCP{err: &cpclient.Error{Kind: cpclient.KindCircuitOpen, Msg: "circuit open"}}
	p := New(st, cp, nil, testBreaker(), discardLogger(), 1, 50, 100*time.Millisecond)

	p.drainSlug(context.Background(), "hook1")
	if len(st.requeued["hook1"]) != 1 {
		t.Fatalf("expected batch requeued on circuit-open error, got %+v", st.requeued)
	}
}

func TestShuffleIsAPermutation(t *testing.T) {
	slugs := []string{"a", "b", "c", "d", "e"}
	original := append([]string{}, slugs...)
	shuffle(slugs, seedFor(0))

	seen := map[string]bool{}
	for _, s := range slugs {
		seen[s] = true
	}
	for _, s := range original {
		if !seen[s] {
			t.Fatalf("shuffle lost element %q", s)
		}
	}
	if len(slugs) != len(original) {
		t.Fatalf("shuffle changed length: %d vs %d", len(slugs), len(original))
	}
}
