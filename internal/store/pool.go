package store

import (
	"context"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"memoryhub/internal/apperr"
	"memoryhub/internal/config"
)

// OpenPool creates a Postgres connection pool sized per cfg and verifies
// connectivity, retrying acquisition up to cfg.AcquireRetries times with
// exponential backoff (§4.2).
func OpenPool(ctx context.Context, cfg config.StoreConfig) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, apperr.Internal("parse store dsn", err)
	}
	if cfg.MinConns > 0 {
		pcfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	pcfg.MaxConnLifetime = time.Hour
	pcfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, apperr.Internal("create store pool", err)
	}

	retries := cfg.AcquireRetries
	if retries <= 0 {
		retries = 3
	}
	delay := cfg.AcquireBaseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	maxDelay := cfg.AcquireMaxDelay
	if maxDelay <= 0 {
		maxDelay = time.Second
	}

	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		cctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := pool.Ping(cctx)
		cancel()
		if err == nil {
			return pool, nil
		}
		lastErr = err
		if attempt == retries-1 {
			break
		}
		wait := delay * time.Duration(1<<uint(attempt))
		if wait > maxDelay {
			wait = maxDelay
		}
		wait = wait/2 + time.Duration(rand.Int63n(int64(wait/2+1)))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			pool.Close()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	pool.Close()
	return nil, apperr.Wrap(apperr.KindInternal, "store pool unavailable after retries", lastErr)
}
