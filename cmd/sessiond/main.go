package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/rryowa/sessiond/internal/api"
	"github.com/rryowa/sessiond/internal/history"
	"github.com/rryowa/sessiond/internal/migrations"
	"github.com/rryowa/sessiond/internal/session"
	"github.com/rryowa/sessiond/internal/storage"
	"github.com/rryowa/sessiond/internal/storage/memory"
	pgstore "github.com/rryowa/sessiond/internal/storage/postgres"
	redisstore "github.com/rryowa/sessiond/internal/storage/redis"
	"github.com/rryowa/sessiond/internal/util"

	_ "github.com/lib/pq"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := util.NewZapLogger()

	kv, cleanup := newStore(ctx, logger)
	defer cleanup()
	defer kv.Close()

	tokens := api.NewTokenCache()
	client := api.NewClient(util.NewAPIConfig(), tokens, logger)
	localHistory := history.NewStore(kv, logger)

	manager := session.NewManager(session.Config{
		API:     client,
		Store:   kv,
		History: localHistory,
		Tokens:  tokens,
		Session: util.NewSessionConfig(),
		Logger:  logger,
	})

	synchronizer := session.NewSynchronizer(manager, kv, logger)
	if err := synchronizer.Run(ctx); err != nil {
		logger.Fatalw("starting synchronizer", "error", err)
	}

	if err := manager.Initialize(ctx); err != nil {
		logger.Warnw("session initialization failed", "error", err)
	}
	logger.Infow("session settled", "state", manager.Snapshot().State.String())

	// SIGHUP stands in for the host surfacing again after a suspend: the
	// synchronizer re-checks the persisted record against a possibly dead
	// refresh timer.
	visible := make(chan os.Signal, 1)
	signal.Notify(visible, syscall.SIGHUP)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutting down session agent...")
			return
		case <-visible:
			synchronizer.HandleVisible(ctx)
		}
	}
}

func newStore(ctx context.Context, logger *zap.SugaredLogger) (storage.KeyValueStore, func()) {
	switch os.Getenv("SESSION_STORE") {
	case "redis":
		cfg, err := util.NewRedisConfig()
		if err != nil {
			logger.Fatalw("redis store configuration", "error", err)
		}
		client, cleanup, err := util.NewRedisClient(ctx, cfg, logger)
		if err != nil {
			logger.Fatalw("redis store connection", "error", err)
		}
		return redisstore.NewStore(client, logger), cleanup

	case "postgres":
		cfg, err := util.NewDBConfig()
		if err != nil {
			logger.Fatalw("postgres store configuration", "error", err)
		}
		db, cleanup, err := util.NewPostgresDB(cfg, logger)
		if err != nil {
			logger.Fatalw("postgres store connection", "error", err)
		}
		if err := migrations.RunMigrations(db, logger); err != nil {
			logger.Fatalw("postgres store migrations", "error", err)
		}
		return pgstore.NewStore(db, cfg.DSN, logger), cleanup

	default:
		return memory.NewStore(logger), func() {}
	}
}
