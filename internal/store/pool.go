// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Playerid Contributors

// Package store bootstraps the PostgreSQL pool and owns the player schema.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// Ping retry defaults.
const (
	DefaultPingAttempts = 6
	DefaultPingBackoff  = 250 * time.Millisecond
	maxPingBackoff      = 5 * time.Second
)

// PoolOptions tunes OpenPool.
type PoolOptions struct {
	// PingAttempts bounds the ping retries. Zero selects DefaultPingAttempts.
	PingAttempts uint64
	// PingBackoff is the first retry delay; it doubles up to 5s.
	PingBackoff time.Duration
	// MaxConns overrides the pool size when non-zero.
	MaxConns int32
	Logger   *slog.Logger
}

// pinger is satisfied by *pgxpool.Pool.
type pinger interface {
	Ping(ctx context.Context) error
}

// OpenPool connects to databaseURL and waits until the database answers a
// ping, retrying with exponential backoff.
func OpenPool(ctx context.Context, databaseURL string, opts PoolOptions) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, oops.Code("DB_CONFIG_INVALID").With("operation", "parse database url").Wrap(err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}

	if err := waitForPing(ctx, pool, opts); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func waitForPing(ctx context.Context, db pinger, opts PoolOptions) error {
	attempts := opts.PingAttempts
	if attempts == 0 {
		attempts = DefaultPingAttempts
	}
	delay := opts.PingBackoff
	if delay <= 0 {
		delay = DefaultPingBackoff
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	backoff := retry.NewExponential(delay)
	backoff = retry.WithCappedDuration(maxPingBackoff, backoff)
	backoff = retry.WithMaxRetries(attempts-1, backoff)

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := db.Ping(ctx); err != nil {
			logger.WarnContext(ctx, "database not ready", "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return oops.Code("DB_PING_FAILED").With("attempts", attempt).Wrap(err)
	}
	return nil
}
