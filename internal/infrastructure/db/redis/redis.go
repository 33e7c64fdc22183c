// Package redis is the device's durable key-value backing. The cart and the
// session snapshot are written here on every change and read back at startup,
// so the store must keep keys without expiry.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	pingTimeout = 5 * time.Second
	clientName  = "marketplace-client"
)

// Config selects the Redis instance and logical database holding local state.
type Config struct {
	Addr     string
	Password string
	DB       int
	// Timeout bounds the startup ping. Defaults to 5s.
	Timeout time.Duration
}

// Connect opens the client and pings it once. Local state cannot be restored
// without Redis, so an unreachable server fails startup.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		ClientName: clientName,
	})

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = pingTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect local store at %s: %w", cfg.Addr, err)
	}
	return client, nil
}
