package kv

import (
	"context"
	"time"
)

const (
	quotaSlugPrefix = "quota:"
	quotaUserPrefix = "quota:user:"
)

func quotaSlugKey(slug string) string { return quotaSlugPrefix + slug }
func quotaUserKey(userID string) string { return quotaUserPrefix + userID }

// QuotaResult is the outcome of an atomic quota check.
type QuotaResult int

const (
	// QuotaNotFound means no quota record exists for the key; the caller
	// should fetch one from the control plane and recheck.
	QuotaNotFound QuotaResult = iota
	QuotaExceeded
	QuotaAllowed
)

// CheckQuota atomically decrements the remaining count for the effective
// quota key (the user key when userID is non-empty, else the slug key
// itself) and reports whether the request is allowed.
func (s *Store) CheckQuota(ctx context.Context, slug, userID string) (QuotaResult, error) {
	key := quotaSlugKey(slug)
	if userID != "" {
		key = quotaUserKey(userID)
	}

	res, err := s.conn.Eval(ctx, quotaCheckScript, []string{key})
	if err != nil {
		return QuotaNotFound, err
	}

	switch toInt64(res) {
	case -1:
		return QuotaNotFound, nil
	case 0:
		return QuotaExceeded, nil
	default:
		return QuotaAllowed, nil
	}
}

// SetQuota installs a quota record if one doesn't already exist. When
// userID is non-empty, the quota lives under the user key and the slug key
// becomes a pointer (HSET userId) to it, so multiple slugs belonging to the
// same user share one counter. An ephemeral (userID == "") quota lives
// directly under the slug key.
func (s *Store) SetQuota(ctx context.Context, slug string, remaining, limit int64, periodEnd int64, isUnlimited bool, userID string) error {
	unlimited := "0"
	if isUnlimited {
		unlimited = "1"
	}

	if userID == "" {
		_, err := s.conn.Eval(ctx, setQuotaIfNotExistsScript, []string{quotaSlugKey(slug)},
			remaining, limit, periodEnd, unlimited, "", s.quotaCacheTTL)
		return err
	}

	_, err := s.conn.Eval(ctx, setQuotaIfNotExistsScript, []string{quotaUserKey(userID)},
		remaining, limit, periodEnd, unlimited, userID, s.quotaCacheTTL)
	if err != nil {
		return err
	}

	if err := s.conn.HSet(ctx, quotaSlugKey(slug), "userId", userID); err != nil {
		return err
	}
	return s.conn.Expire(ctx, quotaSlugKey(slug), time.Duration(s.quotaCacheTTL)*time.Second)
}

// QuotaTTL resolves the slug to its effective quota key (following the
// userId pointer if present) and returns its remaining TTL in seconds, or
// -1 if absent.
func (s *Store) QuotaTTL(ctx context.Context, slug string) (int64, error) {
	userID, err := s.conn.HGet(ctx, quotaSlugKey(slug), "userId")
	if err != nil && !IsNotFound(err) {
		return -1, err
	}

	key := quotaSlugKey(slug)
	if userID != "" {
		key = quotaUserKey(userID)
	}

	ttl, err := s.conn.TTL(ctx, key)
	if err != nil {
		return -1, err
	}
	if ttl < 0 {
		return -1, nil
	}
	return int64(ttl / time.Second), nil
}

// EvictQuota removes the slug's quota pointer and, if one existed, the
// user-keyed quota record it pointed to.
func (s *Store) EvictQuota(ctx context.Context, slug string) error {
	userID, err := s.conn.HGet(ctx, quotaSlugKey(slug), "userId")
	if err != nil && !IsNotFound(err) {
		return err
	}

	if err := s.conn.Del(ctx, quotaSlugKey(slug)); err != nil {
		return err
	}
	if userID != "" {
		return s.conn.Del(ctx, quotaUserKey(userID))
	}
	return nil
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return -1
	}
}
