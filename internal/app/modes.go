package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/updownbot/internal/server"
	"github.com/alanyoungcy/updownbot/internal/server/handler"
	"github.com/alanyoungcy/updownbot/internal/server/ws"
	"github.com/alanyoungcy/updownbot/internal/service"
)

const shutdownTimeout = 5 * time.Second

// StandaloneMode runs the engine, payout dispatch, announcements and the HTTP
// API with no external infrastructure.
func (a *App) StandaloneMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting standalone mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startCore(ctx, g, deps)
	return g.Wait()
}

// FullMode runs everything StandaloneMode does and also mirrors quotes and
// events to Redis, journals settlements to Postgres and archives pruned
// rounds to S3.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	if deps.PriceCache != nil || deps.SignalBus != nil {
		mirror := service.NewQuoteMirror(deps.Engine, deps.PriceCache, deps.SignalBus, a.logger)
		g.Go(func() error { return mirror.Run(ctx) })
	}
	if deps.SettlementStore != nil {
		journal := service.NewSettlementJournal(deps.Engine, deps.SettlementStore, deps.AuditStore, a.logger)
		g.Go(func() error { return journal.Run(ctx) })
	}
	if deps.Archiver != nil {
		archiver := service.NewRoundArchiver(deps.Engine, deps.Archiver, deps.AuditStore, a.logger)
		g.Go(func() error { return archiver.Run(ctx) })
	}

	a.startCore(ctx, g, deps)
	return g.Wait()
}

// startCore starts the services shared by every mode. The engine starts
// last so every sink has subscribed before the first round opens.
func (a *App) startCore(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	dispatcher := service.NewPayoutDispatcher(deps.Engine, service.PayoutDispatcherConfig{
		Distributors: deps.Distributors,
		Locks:        deps.LockManager,
		LockTTL:      a.cfg.Distribution.LockTTL.Duration,
		Recorder:     payoutRecorder(deps),
		Notifier:     deps.Notifier,
	}, a.logger)
	g.Go(func() error { return dispatcher.Run(ctx) })

	if deps.Notifier.Enabled() {
		announcer := service.NewAnnouncer(deps.Engine, deps.Notifier, a.logger)
		g.Go(func() error { return announcer.Run(ctx) })
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}

	g.Go(func() error { return deps.Engine.Run(ctx) })
}

func payoutRecorder(deps *Dependencies) service.PayoutRecorder {
	if deps.Metrics == nil {
		return nil
	}
	return deps.Metrics
}

// startHTTPServer adds the API server and WebSocket hub to g. The server is
// shut down gracefully when the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	symbols := make([]string, 0, len(deps.Feed.Instruments()))
	for _, inst := range deps.Feed.Instruments() {
		symbols = append(symbols, inst.Symbol)
	}
	startedAt := time.Now().UTC()

	hub := ws.NewHub(deps.Engine, a.logger, ws.Config{
		Mode:           a.cfg.Mode,
		StartedAt:      startedAt,
		AllowedOrigins: a.cfg.Server.CORSOrigins,
	})
	g.Go(func() error { return hub.Run(ctx) })

	h := server.Handlers{
		Health: handler.NewHealthHandler(deps.Checks, a.logger),
		Status: handler.NewStatusHandler(a.cfg.Mode, symbols, startedAt, deps.Engine),
		Quotes: handler.NewQuoteHandler(deps.Engine),
		Rounds: handler.NewRoundHandler(deps.Engine, a.cfg.Game.BettingCutoff.Duration, handler.BetLimit{
			Limiter: deps.RateLimiter,
			Limit:   a.cfg.Server.BetRateLimit,
			Window:  a.cfg.Server.BetRateWindow.Duration,
		}, a.logger),
		Hub: hub,
	}
	if deps.SettlementStore != nil {
		h.Settlements = handler.NewSettlementHandler(deps.SettlementStore, a.logger)
	}
	if deps.Metrics != nil {
		h.Metrics = deps.Metrics.Handler()
	}

	if a.cfg.Server.APIKey == "" {
		a.logger.WarnContext(ctx, "server: api_key not set, admin settle route disabled")
	}
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		Limiter:     deps.RateLimiter,
		IPLimit:     a.cfg.Server.IPRateLimit,
		IPWindow:    a.cfg.Server.BetRateWindow.Duration,
		MetricsPath: a.cfg.Metrics.Path,
	}, h, a.logger)

	g.Go(func() error { return srv.Start(ctx) })
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			a.logger.WarnContext(ctx, "http server shutdown", slog.String("error", err.Error()))
		}
		return nil
	})
}
