package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/tradeguard/internal/feed"
	"github.com/alanyoungcy/tradeguard/internal/server"
	"github.com/alanyoungcy/tradeguard/internal/server/handler"
	"github.com/alanyoungcy/tradeguard/internal/server/middleware"
	"github.com/alanyoungcy/tradeguard/internal/server/ws"
)

const shutdownTimeout = 10 * time.Second

// ServerMode serves the HTTP and WebSocket API and runs the scheduler. In a
// single-process deployment (no Redis) it also runs the background work a
// worker would otherwise own.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode", slog.Bool("distributed", deps.Distributed))

	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}
	g.Go(func() error {
		return deps.Scheduler.Run(ctx)
	})
	if !deps.Distributed {
		a.startBackground(ctx, g, deps)
	}

	return g.Wait()
}

// WorkerMode runs price ingestion, the notification relay and the scheduler
// without serving HTTP. Events reach it over the Redis bus.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting worker mode")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return deps.Scheduler.Run(ctx)
	})
	a.startBackground(ctx, g, deps)
	return g.Wait()
}

// startBackground adds quote ingestion and the notification relay to g.
func (a *App) startBackground(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if a.cfg.Feed.QuotesURL != "" {
		qs := feed.NewQuoteStream(a.cfg.Feed.QuotesURL, a.cfg.Feed.Symbols, deps.PriceCache, a.logger)
		g.Go(func() error {
			return qs.Run(ctx)
		})
	}

	// External publishers can push quotes on the bus; only meaningful when
	// the bus crosses process boundaries.
	if deps.Distributed && a.cfg.Feed.BusChannel != "" {
		ing := feed.NewBusIngester(deps.SignalBus, a.cfg.Feed.BusChannel, deps.PriceCache, a.logger)
		g.Go(func() error {
			return ing.Run(ctx)
		})
	}

	if deps.Notifier.Enabled() {
		g.Go(func() error {
			return deps.Notifier.Run(ctx, deps.SignalBus)
		})
	} else {
		a.logger.InfoContext(ctx, "no notification senders configured")
	}
}

// startHTTPServer adds the API server and the WebSocket hub to g. The server
// is shut down gracefully when the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	hub := ws.NewHub(deps.SignalBus, a.cfg.Mode, a.cfg.Server.CORSOrigins, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		Auth: middleware.AuthConfig{
			JWTSecret: a.cfg.Auth.JWTSecret,
			APIKeys:   a.cfg.Auth.APIKeys,
		},
		Limiter:            deps.RateLimiter,
		RateLimitPerMinute: a.cfg.Server.RateLimitPerMinute,
	}, server.Handlers{
		Health:   handler.NewHealthHandler(deps.HealthChecks, a.logger),
		Clock:    handler.NewClockHandler(deps.Clock, deps.Feed.Now),
		Sessions: handler.NewSessionHandler(deps.Sessions, a.logger),
		Audit:    handler.NewAuditHandler(deps.AuditStore, a.logger),
	}, hub, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening", slog.Int("port", a.cfg.Server.Port))
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
