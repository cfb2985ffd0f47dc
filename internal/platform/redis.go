// Package platform wires concrete infrastructure clients (Redis) from config.
package platform

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/hookline/gateway/internal/config"
)

// NewRedisClient creates a Redis client from the gateway config and verifies
// connectivity with a Ping.
func NewRedisClient(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return client, nil
}
