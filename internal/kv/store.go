package kv

import (
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Store is the facade over the shared KV store. It carries no mutable
// process-local state beyond the cheaply-clonable Redis client handle, so
// it can be passed by value to every handler and background worker.
type Store struct {
	conn             conn
	logger           *slog.Logger
	endpointCacheTTL int64 // seconds
	quotaCacheTTL    int64 // seconds
}

// New builds a Store over a live Redis client.
func New(rdb *redis.Client, logger *slog.Logger, endpointCacheTTLSecs, quotaCacheTTLSecs int64) *Store {
	return &Store{
		conn:             newRedisConn(rdb),
		logger:           logger,
		endpointCacheTTL: endpointCacheTTLSecs,
		quotaCacheTTL:    quotaCacheTTLSecs,
	}
}
