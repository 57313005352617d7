package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	back "github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/tryon/internal/config"
)

// Connect opens a pgx pool and pings it, retrying the ping with exponential
// backoff up to cfg.ConnectRetries extra times while the database starts.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.MaxIdleConns)
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	bo := back.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = 0
	retries := cfg.ConnectRetries
	if retries < 0 {
		retries = 0
	}

	attempt := 0
	err = back.Retry(func() error {
		attempt++
		if err := pool.Ping(ctx); err != nil {
			slog.Warn("database ping failed", "attempt", attempt, "error", err)
			return err
		}
		return nil
	}, back.WithContext(back.WithMaxRetries(bo, uint64(retries)), ctx))
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}
