package app

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/privymarket/internal/domain"
	"github.com/alanyoungcy/privymarket/internal/server"
	"github.com/alanyoungcy/privymarket/internal/server/middleware"
	"github.com/alanyoungcy/privymarket/internal/server/ws"
	"github.com/alanyoungcy/privymarket/internal/service"
	"github.com/alanyoungcy/privymarket/internal/settlement"
)

// services are the mode-independent collaborators built on top of the wired
// dependencies.
type services struct {
	markets *service.MarketService
	hub     *ws.Hub
}

// buildServices creates the settlement program and market service. With redis
// the hub relays from the signal bus; without it the hub is fed directly.
func (a *App) buildServices(deps *Dependencies, withHub bool) *services {
	program := settlement.New(deps.Ledger, a.clock, settlement.Options{
		ClaimWindow: a.cfg.Ledger.ClaimWindow.Duration,
	}, a.logger)

	publishers := service.FanOut(append([]domain.EventPublisher(nil), deps.Publishers...))

	var hub *ws.Hub
	if withHub {
		hub = ws.NewHub(deps.SignalBus, a.logger, ws.Config{
			Mode:           a.cfg.Mode,
			StartedAt:      a.startedAt,
			AllowedOrigins: a.cfg.Server.CORSOrigins,
		})
		if deps.SignalBus == nil {
			publishers = append(publishers, hub)
		}
	}

	var publisher domain.EventPublisher
	if len(publishers) > 0 {
		publisher = publishers
	}

	return &services{
		markets: service.NewMarketService(program, deps.MarketCache, publisher, deps.AuditStore, deps.Notifier, a.logger),
		hub:     hub,
	}
}

// ServerMode serves the HTTP and WebSocket API. The archive sweep runs
// alongside it when archive.enabled is set.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	svc := a.buildServices(deps, true)

	a.startHTTPServer(ctx, g, deps, svc)
	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		a.startArchiver(ctx, g, deps, svc)
	}

	return g.Wait()
}

// ArchiverMode runs only the archive sweep against a shared ledger.
func (a *App) ArchiverMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archiver mode")

	g, ctx := errgroup.WithContext(ctx)
	svc := a.buildServices(deps, false)
	a.startArchiver(ctx, g, deps, svc)
	return g.Wait()
}

// FullMode runs the API and the archive sweep in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	svc := a.buildServices(deps, true)

	a.startHTTPServer(ctx, g, deps, svc)
	if deps.Archiver != nil {
		a.startArchiver(ctx, g, deps, svc)
	} else {
		a.logger.WarnContext(ctx, "s3 disabled, archive sweep not started")
	}

	return g.Wait()
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svc *services) {
	limiter := deps.RateLimiter
	if limiter == nil {
		limiter = middleware.NewLocalLimiter()
	}

	srv := server.NewServer(server.Config{
		Addr:          a.cfg.Server.Addr,
		CORSOrigins:   a.cfg.Server.CORSOrigins,
		MaxSkew:       a.cfg.Server.MaxSkew.Duration,
		RateLimit:     a.cfg.Server.RateLimit,
		RateWindow:    a.cfg.Server.RateWindow.Duration,
		FaucetEnabled: a.cfg.Ledger.FaucetEnabled,
		FaucetMax:     a.cfg.Ledger.FaucetMax,
	}, server.Deps{
		Settlement: svc.markets,
		Hub:        svc.hub,
		Limiter:    limiter,
		Checks:     deps.Checks,
		Now:        a.clock.Now,
	}, a.logger)

	g.Go(func() error {
		return svc.hub.Run(ctx)
	})
	g.Go(func() error {
		return srv.Run(ctx)
	})
}

func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies, svc *services) {
	archive := service.NewArchiveService(svc.markets, deps.Archiver, deps.LockManager, service.ArchiveConfig{
		Interval:     a.cfg.Archive.Interval.Duration,
		AutoFinalize: a.cfg.Archive.AutoFinalize,
		LockTTL:      a.cfg.Archive.LockTTL.Duration,
	}, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "archive sweep started",
			slog.Duration("interval", a.cfg.Archive.Interval.Duration),
			slog.Bool("auto_finalize", a.cfg.Archive.AutoFinalize),
		)
		return archive.Run(ctx)
	})
}
