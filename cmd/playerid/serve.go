// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Playerid Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/pickiss/playerid/internal/auth"
	"github.com/pickiss/playerid/internal/auth/postgres"
	"github.com/pickiss/playerid/internal/auth/provider"
	"github.com/pickiss/playerid/internal/auth/provider/apple"
	"github.com/pickiss/playerid/internal/auth/provider/playgames"
	"github.com/pickiss/playerid/internal/config"
	"github.com/pickiss/playerid/internal/httpapi"
	"github.com/pickiss/playerid/internal/observability"
	"github.com/pickiss/playerid/internal/store"
	"github.com/pickiss/playerid/pkg/errutil"
)

// Pool is the database handle serve needs. *pgxpool.Pool satisfies it.
type Pool interface {
	postgres.Pool
	Ping(ctx context.Context) error
	Close()
}

// ServeDeps contains injectable dependencies for the serve command.
// Nil fields use their default implementations.
type ServeDeps struct {
	// PoolFactory opens the database pool.
	// Default: store.OpenPool
	PoolFactory func(ctx context.Context, url string, opts store.PoolOptions) (Pool, error)

	// MigratorFactory creates the schema migrator used by --migrate.
	// Default: store.NewMigrator
	MigratorFactory func(url string) (Migrator, error)

	// Listen binds the API listener.
	// Default: net.Listen
	Listen func(network, addr string) (net.Listener, error)
}

func (d *ServeDeps) withDefaults() *ServeDeps {
	out := ServeDeps{}
	if d != nil {
		out = *d
	}
	if out.PoolFactory == nil {
		out.PoolFactory = func(ctx context.Context, url string, opts store.PoolOptions) (Pool, error) {
			pool, err := store.OpenPool(ctx, url, opts)
			if err != nil {
				return nil, err
			}
			return poolAdapter{pool}, nil
		}
	}
	if out.MigratorFactory == nil {
		out.MigratorFactory = defaultMigrator
	}
	if out.Listen == nil {
		out.Listen = net.Listen
	}
	return &out
}

// poolAdapter narrows *pgxpool.Pool to Pool.
type poolAdapter struct {
	*pgxpool.Pool
}

type serveOptions struct {
	migrate bool
}

// NewServeCmd creates the serve subcommand.
func NewServeCmd(root *rootOptions) *cobra.Command {
	return newServeCmd(root, nil)
}

func newServeCmd(root *rootOptions, deps *ServeDeps) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the identity backend",
		Long: `Run the identity backend: the /v1/players HTTP API, the metrics and
health server, and the expired session purge job.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cmd, root, opts, deps.withDefaults())
		},
	}

	cmd.Flags().String("addr", "", "HTTP API listen address (default :8080)")
	cmd.Flags().String("min-client-version", "", "oldest accepted X-Client-Version")
	cmd.Flags().String("database-url", "", "PostgreSQL connection URL")
	cmd.Flags().String("metrics-addr", "", "metrics/health HTTP address (default 127.0.0.1:9100)")
	cmd.Flags().BoolVar(&opts.migrate, "migrate", false, "apply pending migrations before serving")

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, root *rootOptions, opts *serveOptions, deps *ServeDeps) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := root.loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.ValidateServer(); err != nil {
		return err
	}
	logger := setupLogging(cmd, cfg)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if opts.migrate {
		if err := migrateUp(deps, cfg.Database.URL); err != nil {
			return err
		}
		logger.InfoContext(ctx, "migrations applied")
	}

	pool, err := deps.PoolFactory(ctx, cfg.Database.URL, store.PoolOptions{
		PingAttempts: cfg.Database.PingAttempts,
		MaxConns:     cfg.Database.MaxConns,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	defer pool.Close()
	logger.InfoContext(ctx, "connected to database")

	obs := observability.NewServer(cfg.Metrics.Addr, pool.Ping, logger)
	svc, err := buildService(ctx, cfg, pool, obs.Metrics(), logger)
	if err != nil {
		return err
	}
	handler, err := httpapi.NewHandler(svc,
		httpapi.WithLogger(logger),
		httpapi.WithRecorder(obs.Metrics()),
		httpapi.WithMinClientVersion(cfg.Server.MinClientVersion),
	)
	if err != nil {
		return err
	}

	listener, err := deps.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return oops.Code("SERVE_LISTEN_FAILED").With("addr", cfg.Server.Addr).Wrap(err)
	}
	httpSrv := &http.Server{
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	apiErrCh := make(chan error, 1)
	go func() {
		defer close(apiErrCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			apiErrCh <- serveErr
		}
	}()
	logger.InfoContext(ctx, "HTTP API listening", "addr", listener.Addr().String())

	if cfg.Metrics.Addr != "" {
		obsErrCh, err := obs.Start()
		if err != nil {
			shutdownHTTP(httpSrv, cfg.ShutdownTimeout(), logger)
			return err
		}
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability", logger)
	}

	purgeDone := make(chan struct{})
	go func() {
		defer close(purgeDone)
		runPurger(ctx, svc.PurgeExpiredSessions, cfg.PurgeInterval(), logger)
	}()

	var serveErr error
	select {
	case err, ok := <-apiErrCh:
		if ok && err != nil {
			serveErr = oops.Code("SERVE_FAILED").Wrap(err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}
	cancel()

	shutdownHTTP(httpSrv, cfg.ShutdownTimeout(), logger)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer shutdownCancel()
	if err := obs.Stop(shutdownCtx); err != nil {
		logger.Warn("error stopping observability server", "error", err)
	}
	<-purgeDone

	logger.Info("shutdown complete")
	return serveErr
}

// buildService wires the repositories, verifiers and token issuer.
func buildService(ctx context.Context, cfg *config.Config, pool Pool, recorder auth.Recorder, logger *slog.Logger) (*auth.Service, error) {
	registry, err := buildRegistry(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if len(registry.Providers()) == 0 {
		logger.WarnContext(ctx, "no identity providers configured, only anonymous sign-in is available")
	}

	issuer, err := auth.NewTokenIssuer([]byte(cfg.Tokens.SigningKey), cfg.Tokens.Issuer, cfg.Tokens.Audience, cfg.TokenTTL())
	if err != nil {
		return nil, err
	}

	return auth.NewService(
		postgres.NewPlayerRepository(pool),
		postgres.NewIdentityRepository(pool),
		postgres.NewSessionRepository(pool),
		registry,
		issuer,
		auth.WithLogger(logger),
		auth.WithRecorder(recorder),
	)
}

// buildRegistry registers a verifier for every configured provider.
func buildRegistry(ctx context.Context, cfg *config.Config) (*provider.Registry, error) {
	registry, err := provider.NewRegistry()
	if err != nil {
		return nil, err
	}

	if c := cfg.Providers.Apple; c.Enabled() {
		v, err := apple.New(ctx, apple.Config{
			Issuer:    c.Issuer,
			KeysURL:   c.KeysURL,
			BundleIDs: c.BundleIDs,
		})
		if err != nil {
			return nil, err
		}
		if err := registry.Register(v); err != nil {
			return nil, err
		}
	}

	if c := cfg.Providers.GooglePlayGames; c.Enabled() {
		v, err := playgames.New(playgames.Config{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			TokenURL:     c.TokenURL,
			APIBaseURL:   c.APIBaseURL,
		})
		if err != nil {
			return nil, err
		}
		if err := registry.Register(v); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// runPurger deletes expired sessions every interval until ctx is done.
// A non-positive interval disables it.
func runPurger(ctx context.Context, purge func(context.Context) (int64, error), interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := purge(ctx)
			if err != nil {
				errutil.LogErrorContext(ctx, logger, "purge expired sessions failed", err)
				continue
			}
			if n > 0 {
				logger.InfoContext(ctx, "purged expired sessions", "count", n)
			}
		}
	}
}

func shutdownHTTP(srv *http.Server, timeout time.Duration, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("error stopping HTTP API", "error", err)
	}
}

// monitorServerErrors cancels the serve context when a server fails. It
// exits when the channel closes or ctx is done.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string, logger *slog.Logger) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			logger.Error("server error, triggering shutdown", "server", serverName, "error", err)
			cancel()
		}
	case <-ctx.Done():
	}
}
