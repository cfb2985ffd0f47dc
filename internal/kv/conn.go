// Package kv is the typed facade over the shared Redis-compatible store:
// endpoint cache, quota cache, request buffer, dedup index, and circuit
// breaker state. Every read-modify-write (quota check, set-if-absent, batch
// take, breaker allow/record-failure) runs as a server-side Lua script so
// concurrent gateway processes never race on it; the other multi-command
// writes (buffer push and requeue, the slug quota pointer, breaker reset,
// evictions) are issued as separate commands.
package kv

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// conn is the minimal command surface the facade needs. It exists so tests
// can substitute a hand-written fake instead of a live Redis server —
// mirrors the narrow RedisEvaler-style seam used elsewhere in the ecosystem
// for Lua-scripted stores.
type conn interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	TTL(ctx context.Context, key string) (time.Duration, error)
	HGet(ctx context.Context, key, field string) (string, error)
	HSet(ctx context.Context, key string, values ...any) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
	LPush(ctx context.Context, key, value string) error
	RPush(ctx context.Context, key string, values ...string) error
	LLen(ctx context.Context, key string) (int64, error)
	SAdd(ctx context.Context, key, member string) error
	SRem(ctx context.Context, key, member string) error
	SScan(ctx context.Context, key string, cursor uint64, count int64) (keys []string, next uint64, err error)
	Eval(ctx context.Context, script string, keys []string, args ...any) (any, error)
}

// redisConn adapts a *redis.Client to conn.
type redisConn struct {
	rdb *redis.Client
}

func newRedisConn(rdb *redis.Client) *redisConn { return &redisConn{rdb: rdb} }

func (c *redisConn) Get(ctx context.Context, key string) (string, error) {
	v, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", errNotFound
	}
	return v, err
}

func (c *redisConn) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

func (c *redisConn) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, key, value, ttl).Result()
}

func (c *redisConn) Del(ctx context.Context, keys ...string) error {
	return c.rdb.Del(ctx, keys...).Err()
}

func (c *redisConn) TTL(ctx context.Context, key string) (time.Duration, error) {
	return c.rdb.TTL(ctx, key).Result()
}

func (c *redisConn) HGet(ctx context.Context, key, field string) (string, error) {
	v, err := c.rdb.HGet(ctx, key, field).Result()
	if err == redis.Nil {
		return "", errNotFound
	}
	return v, err
}

func (c *redisConn) HSet(ctx context.Context, key string, values ...any) error {
	return c.rdb.HSet(ctx, key, values...).Err()
}

func (c *redisConn) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return c.rdb.Expire(ctx, key, ttl).Err()
}

func (c *redisConn) LPush(ctx context.Context, key, value string) error {
	return c.rdb.LPush(ctx, key, value).Err()
}

func (c *redisConn) RPush(ctx context.Context, key string, values ...string) error {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return c.rdb.RPush(ctx, key, args...).Err()
}

func (c *redisConn) LLen(ctx context.Context, key string) (int64, error) {
	return c.rdb.LLen(ctx, key).Result()
}

func (c *redisConn) SAdd(ctx context.Context, key, member string) error {
	return c.rdb.SAdd(ctx, key, member).Err()
}

func (c *redisConn) SRem(ctx context.Context, key, member string) error {
	return c.rdb.SRem(ctx, key, member).Err()
}

func (c *redisConn) SScan(ctx context.Context, key string, cursor uint64, count int64) ([]string, uint64, error) {
	return c.rdb.SScan(ctx, key, cursor, "", count).Result()
}

func (c *redisConn) Eval(ctx context.Context, script string, keys []string, args ...any) (any, error) {
	return c.rdb.Eval(ctx, script, keys, args...).Result()
}

var errNotFound = redisNilError{}

type redisNilError struct{}

func (redisNilError) Error() string { return "kv: key not found" }

// IsNotFound reports whether err represents a missing key.
func IsNotFound(err error) bool {
	_, ok := err.(redisNilError)
	return ok
}
