package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	mydb "github.com/TimurManjosov/tgforwarder/internal/db"
)

// Options selects and configures a backend.
type Options struct {
	Type          string // memory | postgres | redis
	DSN           string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// NewStore creates a new store based on opts.Type.
// Supported types: "memory", "postgres", "redis"
func NewStore(ctx context.Context, opts Options) (Store, error) {
	switch opts.Type {
	case "memory":
		return NewMemoryStore(), nil
	case "postgres":
		pool, err := mydb.NewPool(ctx, opts.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres pool: %w", err)
		}
		pg := NewPostgresStore(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return pg, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     opts.RedisAddr,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.RedisAddr, err)
		}
		return NewRedisStore(client), nil
	default:
		return nil, fmt.Errorf("unsupported store type: %s", opts.Type)
	}
}
