// Package app provides the top-level application lifecycle for tradegate.
// It wires the pipeline components (gateway, parser, bus, risk, emergency,
// executor, stores, notifications) and runs them under one errgroup.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"tradegate/internal/config"
	"tradegate/internal/server"
	"tradegate/internal/server/handler"
)

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates an App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, verifies broker connectivity, starts the
// gateway and admin server goroutines, and blocks until the context is
// cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	// Fail fast on bad broker credentials instead of at the first alert.
	account, err := deps.Broker.GetAccount(ctx)
	if err != nil {
		return fmt.Errorf("app: broker account check: %w", err)
	}
	a.logger.InfoContext(ctx, "broker account verified",
		slog.String("account_key", account.AccountKey),
		slog.String("status", account.Status),
	)

	g, ctx := errgroup.WithContext(ctx)

	// Discord gateway feeding the pipeline.
	g.Go(func() error {
		return deps.Gateway.Run(ctx)
	})

	// Admin HTTP server.
	if a.cfg.Server.Enabled {
		srv := server.NewServer(server.Config{
			Port:   a.cfg.Server.Port,
			APIKey: a.cfg.Server.APIKey,
		}, server.Handlers{
			Health:    handler.NewHealthHandler(a.logger),
			Status:    handler.NewStatusHandler(deps.Risk, deps.Emergency, deps.Limits, a.logger),
			Positions: handler.NewPositionHandler(deps.Risk, a.logger),
			Audit:     handler.NewAuditHandler(deps.AuditStore, a.logger),
			Emergency: handler.NewEmergencyHandler(deps.Emergency, a.logger),
		}, a.logger)

		g.Go(func() error {
			return srv.Start()
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	a.logger.InfoContext(ctx, "pipeline running",
		slog.String("channel_id", a.cfg.Discord.ChannelID),
		slog.Int("max_open_positions", a.cfg.Risk.MaxOpenPositions),
		slog.Bool("kill_switch_engaged", a.cfg.Emergency.KillSwitchEngaged),
	)

	return g.Wait()
}

// Close tears down all resources in reverse registration order. It is safe
// to call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
