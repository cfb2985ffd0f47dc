package kv

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hookline/gateway/internal/types"
)

func endpointKey(slug string) string { return "ep:" + slug }

// GetEndpoint returns the cached endpoint info, or (nil, nil) on cache miss.
func (s *Store) GetEndpoint(ctx context.Context, slug string) (*types.EndpointInfo, error) {
	raw, err := s.conn.Get(ctx, endpointKey(slug))
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var info types.EndpointInfo
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// SetEndpoint caches endpoint info with the configured TTL.
func (s *Store) SetEndpoint(ctx context.Context, slug string, info *types.EndpointInfo) error {
	raw, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return s.conn.Set(ctx, endpointKey(slug), string(raw), time.Duration(s.endpointCacheTTL)*time.Second)
}

// EvictEndpoint removes the cached endpoint entry for slug.
func (s *Store) EvictEndpoint(ctx context.Context, slug string) error {
	return s.conn.Del(ctx, endpointKey(slug))
}

// EndpointTTL returns the remaining TTL in seconds, or -1 if the key is
// absent or already expired.
func (s *Store) EndpointTTL(ctx context.Context, slug string) (int64, error) {
	ttl, err := s.conn.TTL(ctx, endpointKey(slug))
	if err != nil {
		return -1, err
	}
	if ttl < 0 {
		return -1, nil
	}
	return int64(ttl / time.Second), nil
}
