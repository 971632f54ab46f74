// Package app wires configuration into a ready service: repository, locker
// and settlement policy.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"bloompos/backend/internal/config"
	"bloompos/backend/internal/lock"
	"bloompos/backend/internal/service"
	"bloompos/backend/internal/settlement"
	"bloompos/backend/internal/store"
	"bloompos/backend/internal/store/memory"
	pgstore "bloompos/backend/internal/store/postgres"
)

type App struct {
	Service *service.Service
	Repo    store.Repository
	closers []func() error
}

// Build connects the repository and locker described by cfg. A configured
// but unreachable database is fatal; an unreachable redis falls back to the
// in-process locker.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	a := &App{}

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres unavailable and DATABASE_URL is set: %w", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		a.Repo = pg
		a.closers = append(a.closers, pg.Close)
		logger.Info("repository ready", "backend", "postgres")
	} else {
		a.Repo = memory.NewSeeded()
		logger.Info("repository ready", "backend", "memory")
	}

	var locker lock.Locker = lock.NewMemoryLocker()
	if cfg.RedisAddr != "" {
		redisLocker := lock.NewRedisLocker(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, logger)
		if err := redisLocker.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, using in-process locks", "error", err)
			_ = redisLocker.Close()
		} else {
			locker = redisLocker
			a.closers = append(a.closers, redisLocker.Close)
			logger.Info("locker ready", "backend", "redis")
		}
	} else {
		logger.Info("locker ready", "backend", "memory")
	}

	a.Service = service.New(a.Repo, locker, service.Options{
		Policy:      settlement.Policy{DownpaymentMinimum: cfg.DownpaymentMinimum},
		LockTimeout: cfg.LockTimeout,
		WarningDays: &cfg.ExpiryWarningDays,
		Logger:      logger,
	})
	return a, nil
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}
