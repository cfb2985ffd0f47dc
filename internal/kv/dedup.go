package kv

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

const dedupTTL = 2 * time.Second

func dedupFingerprint(slug, method, path, body, clientIP string) string {
	if len(body) > 512 {
		body = body[:512]
	}
	h := sha256.New()
	h.Write([]byte(strings.Join([]string{slug, method, path, body, clientIP}, "|")))
	return hex.EncodeToString(h.Sum(nil))
}

// CheckDedup reports whether this is the first sighting of a request with
// this fingerprint within the dedup window. It fails open (reports true,
// i.e. "not a duplicate") on a Redis error, since refusing to buffer a
// request is worse than an occasional duplicate slipping through.
func (s *Store) CheckDedup(ctx context.Context, slug, method, path, body, clientIP string) bool {
	key := "dedup:" + slug + ":" + dedupFingerprint(slug, method, path, body, clientIP)

	ok, err := s.conn.SetNX(ctx, key, "", dedupTTL)
	if err != nil {
		return true
	}
	return ok
}
