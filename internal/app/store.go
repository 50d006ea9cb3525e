package app

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"jobretry/internal/config"
	"jobretry/internal/failure"
	"jobretry/internal/platform/pg"
	"jobretry/internal/platform/sqlite"
	"jobretry/internal/retry"
	"jobretry/internal/schedule"
	"jobretry/internal/store/memory"
	"jobretry/internal/store/postgres"
	redisstore "jobretry/internal/store/redis"
	sqlitestore "jobretry/internal/store/sqlite"
)

// Backend is everything the worker keeps in one store.
type Backend interface {
	retry.KV
	schedule.Store
	failure.Store
	Ping(ctx context.Context) error
}

var (
	_ Backend = (*memory.Store)(nil)
	_ Backend = (*sqlitestore.Store)(nil)
	_ Backend = (*postgres.Store)(nil)
	_ Backend = (*redisstore.Store)(nil)
)

// openBackend connects the configured store. The returned func releases it.
func openBackend(ctx context.Context, cfg config.Config, log *slog.Logger) (Backend, func(), error) {
	switch cfg.Store.Driver {
	case "memory":
		log.Warn("memory store: counters and delayed retries are lost on restart")
		return memory.New(), func() {}, nil

	case "sqlite":
		db, err := sqlite.Open(ctx, cfg.Store.SQLitePath, sqlite.DefaultOptions())
		if err != nil {
			return nil, nil, err
		}
		st, err := sqlitestore.New(db)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		log.Info("sqlite store ready", slog.String("path", cfg.Store.SQLitePath))
		return st, func() { _ = db.Close() }, nil

	case "postgres":
		dsn := cfg.Store.PostgresDSN
		pool, err := pg.NewPoolWithOptions(ctx, dsn, pg.DefaultPoolOptions().SizedFor(cfg.Worker.Concurrency))
		if err != nil {
			return nil, nil, err
		}
		if err := pg.WaitForPool(ctx, pool, pg.DefaultHealthCheckOptions()); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("postgres not reachable: %w", err)
		}
		info, err := postgres.Migrate(dsn)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		log.Info("postgres store ready", slog.Uint64("schema_version", uint64(info.FinalVersion)), slog.Bool("applied", info.Applied))
		return postgres.New(pool), pool.Close, nil

	case "redis":
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
		})
		st := redisstore.New(client)
		if err := st.Ping(ctx); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		log.Info("redis store ready", slog.String("addr", cfg.Store.RedisAddr), slog.Int("db", cfg.Store.RedisDB))
		return st, func() { _ = client.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}
