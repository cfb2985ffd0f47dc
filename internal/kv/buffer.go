package kv

import (
	"context"
	"encoding/json"

	"github.com/hookline/gateway/internal/types"
)

const (
	bufPrefix = "buf:"
	activeSet = "buf:active"
	scanCount = 500
)

func bufferKey(slug string) string { return bufPrefix + slug }

// PushRequest pushes a buffered request onto the head of slug's list and
// marks the slug active, so flush workers discover it without scanning every
// possible slug. The push and the mark are two separate commands.
func (s *Store) PushRequest(ctx context.Context, slug string, req *types.BufferedRequest) error {
	raw, err := json.Marshal(req)
	if err != nil {
		return err
	}
	if err := s.conn.LPush(ctx, bufferKey(slug), string(raw)); err != nil {
		return err
	}
	return s.conn.SAdd(ctx, activeSet, slug)
}

// ActiveSlugs returns every slug in the active set (slugs with buffered
// work, plus drained ones a worker has not yet removed), paginating via
// SSCAN rather than an unbounded SMEMBERS so a large active set never blocks
// Redis for long.
func (s *Store) ActiveSlugs(ctx context.Context) ([]string, error) {
	var slugs []string
	var cursor uint64
	for {
		batch, next, err := s.conn.SScan(ctx, activeSet, cursor, scanCount)
		if err != nil {
			return nil, err
		}
		slugs = append(slugs, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return slugs, nil
}

// TakeBatch atomically removes up to count oldest-first items from slug's
// buffer. Items that fail to unmarshal are dropped rather than failing the
// whole batch.
func (s *Store) TakeBatch(ctx context.Context, slug string, count int) ([]*types.BufferedRequest, error) {
	res, err := s.conn.Eval(ctx, batchTakeScript, []string{bufferKey(slug)}, count)
	if err != nil {
		return nil, err
	}

	items, ok := res.([]any)
	if !ok {
		return nil, nil
	}

	out := make([]*types.BufferedRequest, 0, len(items))
	for _, item := range items {
		raw, ok := item.(string)
		if !ok {
			continue
		}
		var req types.BufferedRequest
		if err := json.Unmarshal([]byte(raw), &req); err != nil {
			continue
		}
		out = append(out, &req)
	}
	return out, nil
}

// RemoveActive clears slug from the active set once its buffer is empty.
func (s *Store) RemoveActive(ctx context.Context, slug string) error {
	return s.conn.SRem(ctx, activeSet, slug)
}

// Requeue puts previously-taken requests back on the tail of slug's buffer,
// preserving their relative order, and re-marks the slug active. Used when
// a batch fails to deliver because the control plane's circuit is open.
func (s *Store) Requeue(ctx context.Context, slug string, reqs []*types.BufferedRequest) error {
	if len(reqs) == 0 {
		return nil
	}

	raws := make([]string, len(reqs))
	for i, req := range reqs {
		raw, err := json.Marshal(req)
		if err != nil {
			return err
		}
		raws[i] = string(raw)
	}

	if err := s.conn.RPush(ctx, bufferKey(slug), raws...); err != nil {
		return err
	}
	return s.conn.SAdd(ctx, activeSet, slug)
}

// BufferLen reports how many requests are currently queued for slug.
func (s *Store) BufferLen(ctx context.Context, slug string) (int64, error) {
	return s.conn.LLen(ctx, bufferKey(slug))
}
