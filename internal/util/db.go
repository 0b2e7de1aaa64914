package util

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/lib/pq"
)

// NewPostgresDB opens the database backing the key-value store and verifies
// the connection. The returned cleanup closes the handle; store backends
// built on it treat the handle as borrowed.
func NewPostgresDB(cfg *DBConfig, log *zap.SugaredLogger) (*sql.DB, func(), error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}
	log.Infow("postgres key-value store connected")

	cleanup := func() {
		if err := db.Close(); err != nil {
			log.Errorw("closing postgres connection", "error", err)
		}
	}
	return db, cleanup, nil
}

func NewRedisClient(ctx context.Context, cfg *RedisConfig, log *zap.SugaredLogger) (*redis.Client, func(), error) {
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	log.Infow("redis key-value store connected", "addr", cfg.Addr)

	cleanup := func() {
		if err := client.Close(); err != nil {
			log.Errorw("closing redis connection", "error", err)
		}
	}
	return client, cleanup, nil
}
