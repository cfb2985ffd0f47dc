package kv

import (
	"context"
	"sort"
	"strconv"
	"time"
)

// fakeConn is a minimal in-memory stand-in for conn, enough to exercise the
// facade's logic (including the five Lua scripts, reimplemented in Go)
// without a live Redis server.
type fakeConn struct {
	strings map[string]string
	hashes  map[string]map[string]string
	lists   map[string][]string
	sets    map[string]map[string]struct{}
	ttl     map[string]time.Time
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		strings: map[string]string{},
		hashes:  map[string]map[string]string{},
		lists:   map[string][]string{},
		sets:    map[string]map[string]struct{}{},
		ttl:     map[string]time.Time{},
	}
}

func (f *fakeConn) expired(key string) bool {
	at, ok := f.ttl[key]
	return ok && time.Now().After(at)
}

func (f *fakeConn) setTTL(key string, ttl time.Duration) {
	if ttl <= 0 {
		delete(f.ttl, key)
		return
	}
	f.ttl[key] = time.Now().Add(ttl)
}

func (f *fakeConn) Get(ctx context.Context, key string) (string, error) {
	if f.expired(key) {
		return "", errNotFound
	}
	v, ok := f.strings[key]
	if !ok {
		return "", errNotFound
	}
	return v, nil
}

func (f *fakeConn) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	f.strings[key] = value
	f.setTTL(key, ttl)
	return nil
}

func (f *fakeConn) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if _, ok := f.strings[key]; ok && !f.expired(key) {
		return false, nil
	}
	f.strings[key] = value
	f.setTTL(key, ttl)
	return true, nil
}

func (f *fakeConn) Del(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		delete(f.strings, k)
		delete(f.hashes, k)
		delete(f.lists, k)
		delete(f.sets, k)
		delete(f.ttl, k)
	}
	return nil
}

func (f *fakeConn) TTL(ctx context.Context, key string) (time.Duration, error) {
	if f.expired(key) {
		return -2 * time.Second, nil
	}
	at, ok := f.ttl[key]
	if !ok {
		return -1 * time.Second, nil
	}
	return time.Until(at), nil
}

func (f *fakeConn) HGet(ctx context.Context, key, field string) (string, error) {
	h, ok := f.hashes[key]
	if !ok {
		return "", errNotFound
	}
	v, ok := h[field]
	if !ok {
		return "", errNotFound
	}
	return v, nil
}

func (f *fakeConn) HSet(ctx context.Context, key string, values ...any) error {
	h, ok := f.hashes[key]
	if !ok {
		h = map[string]string{}
		f.hashes[key] = h
	}
	for i := 0; i+1 < len(values); i += 2 {
		field := toStr(values[i])
		h[field] = toStr(values[i+1])
	}
	return nil
}

func (f *fakeConn) Expire(ctx context.Context, key string, ttl time.Duration) error {
	f.setTTL(key, ttl)
	return nil
}

func (f *fakeConn) LPush(ctx context.Context, key, value string) error {
	f.lists[key] = append([]string{value}, f.lists[key]...)
	return nil
}

func (f *fakeConn) RPush(ctx context.Context, key string, values ...string) error {
	f.lists[key] = append(f.lists[key], values...)
	return nil
}

func (f *fakeConn) LLen(ctx context.Context, key string) (int64, error) {
	return int64(len(f.lists[key])), nil
}

func (f *fakeConn) SAdd(ctx context.Context, key, member string) error {
	s, ok := f.sets[key]
	if !ok {
		s = map[string]struct{}{}
		f.sets[key] = s
	}
	s[member] = struct{}{}
	return nil
}

func (f *fakeConn) SRem(ctx context.Context, key, member string) error {
	if s, ok := f.sets[key]; ok {
		delete(s, member)
	}
	return nil
}

func (f *fakeConn) SScan(ctx context.Context, key string, cursor uint64, count int64) ([]string, uint64, error) {
	members := make([]string, 0, len(f.sets[key]))
	for m := range f.sets[key] {
		members = append(members, m)
	}
	sort.Strings(members)
	return members, 0, nil
}

// Eval reimplements the five Lua scripts in plain Go, keyed by script
// identity, so tests can exercise the facade's script-driven operations
// without embedding a Lua interpreter.
func (f *fakeConn) Eval(ctx context.Context, script string, keys []string, args ...any) (any, error) {
	switch script {
	case quotaCheckScript:
		return f.evalQuotaCheck(keys[0])
	case setQuotaIfNotExistsScript:
		return f.evalSetQuotaIfNotExists(keys[0], args)
	case batchTakeScript:
		return f.evalBatchTake(keys[0], args)
	case allowRequestScript:
		return f.evalAllowRequest(keys[0], keys[1], args)
	case recordFailureScript:
		return f.evalRecordFailure(keys[0], keys[1], keys[2], args)
	}
	return nil, nil
}

func (f *fakeConn) evalQuotaCheck(key string) (any, error) {
	h, ok := f.hashes[key]
	if !ok || f.expired(key) {
		return int64(-1), nil
	}
	if h["isUnlimited"] == "1" {
		return int64(1), nil
	}
	remaining, err := strconv.ParseInt(h["remaining"], 10, 64)
	if err != nil {
		return int64(-1), nil
	}
	if remaining <= 0 {
		return int64(0), nil
	}
	h["remaining"] = strconv.FormatInt(remaining-1, 10)
	return int64(1), nil
}

func (f *fakeConn) evalSetQuotaIfNotExists(key string, args []any) (any, error) {
	if _, ok := f.hashes[key]; ok && !f.expired(key) {
		return int64(0), nil
	}
	f.hashes[key] = map[string]string{
		"remaining":   toStr(args[0]),
		"limit":       toStr(args[1]),
		"periodEnd":   toStr(args[2]),
		"isUnlimited": toStr(args[3]),
		"userId":      toStr(args[4]),
	}
	ttlSecs, _ := strconv.ParseInt(toStr(args[5]), 10, 64)
	f.setTTL(key, time.Duration(ttlSecs)*time.Second)
	return int64(1), nil
}

func (f *fakeConn) evalBatchTake(key string, args []any) (any, error) {
	count, _ := strconv.Atoi(toStr(args[0]))
	list := f.lists[key]
	if len(list) == 0 {
		return []any{}, nil
	}
	take := count
	if take > len(list) {
		take = len(list)
	}
	items := list[len(list)-take:]
	out := make([]any, len(items))
	for i, it := range items {
		out[i] = it
	}
	if take >= len(list) {
		delete(f.lists, key)
	} else {
		f.lists[key] = list[:len(list)-take]
	}
	return out, nil
}

func (f *fakeConn) evalAllowRequest(stateKey, probeKey string, args []any) (any, error) {
	halfOpenTTL, _ := strconv.ParseInt(toStr(args[0]), 10, 64)

	state, ok := f.strings[stateKey]
	if !ok || f.expired(stateKey) || state == string(CircuitClosed) {
		return int64(1), nil
	}

	switch CircuitState(state) {
	case CircuitOpen:
		ttl, _ := f.TTL(context.Background(), stateKey)
		if ttl <= 0 {
			f.strings[stateKey] = string(CircuitHalfOpen)
			f.setTTL(stateKey, time.Duration(halfOpenTTL)*time.Second)
			if _, ok := f.strings[probeKey]; !ok || f.expired(probeKey) {
				f.strings[probeKey] = "1"
				f.setTTL(probeKey, 30*time.Second)
			}
			return int64(1), nil
		}
		return int64(0), nil
	case CircuitHalfOpen:
		if _, ok := f.strings[probeKey]; ok && !f.expired(probeKey) {
			return int64(0), nil
		}
		f.strings[probeKey] = "1"
		f.setTTL(probeKey, 30*time.Second)
		return int64(1), nil
	}
	return int64(1), nil
}

func (f *fakeConn) evalRecordFailure(stateKey, failuresKey, probeKey string, args []any) (any, error) {
	threshold, _ := strconv.ParseInt(toStr(args[0]), 10, 64)
	cooldown, _ := strconv.ParseInt(toStr(args[1]), 10, 64)
	expireSecs, _ := strconv.ParseInt(toStr(args[2]), 10, 64)

	count, _ := strconv.ParseInt(f.strings[failuresKey], 10, 64)
	count++
	f.strings[failuresKey] = strconv.FormatInt(count, 10)
	f.setTTL(failuresKey, time.Duration(expireSecs)*time.Second)
	delete(f.strings, probeKey)
	delete(f.ttl, probeKey)

	if count >= threshold {
		f.strings[stateKey] = string(CircuitOpen)
		f.setTTL(stateKey, time.Duration(cooldown)*time.Second)
		return count, nil
	}

	if f.strings[stateKey] == string(CircuitHalfOpen) {
		f.strings[stateKey] = string(CircuitOpen)
		f.setTTL(stateKey, time.Duration(cooldown)*time.Second)
	}
	return count, nil
}

func toStr(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		return ""
	}
}
