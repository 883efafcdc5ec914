package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/updownbot/internal/blob/s3"
	"github.com/alanyoungcy/updownbot/internal/cache/redis"
	"github.com/alanyoungcy/updownbot/internal/config"
	"github.com/alanyoungcy/updownbot/internal/crypto"
	"github.com/alanyoungcy/updownbot/internal/distribution"
	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/engine"
	"github.com/alanyoungcy/updownbot/internal/metrics"
	"github.com/alanyoungcy/updownbot/internal/notify"
	"github.com/alanyoungcy/updownbot/internal/platform/coingecko"
	"github.com/alanyoungcy/updownbot/internal/pricing"
	"github.com/alanyoungcy/updownbot/internal/server/handler"
	"github.com/alanyoungcy/updownbot/internal/server/middleware"
	"github.com/alanyoungcy/updownbot/internal/store/postgres"
)

// Operating modes.
const (
	// ModeStandalone runs the engine with in-process collaborators only.
	ModeStandalone = "standalone"
	// ModeFull adds the Redis, Postgres and S3 sinks.
	ModeFull = "full"
)

// Dependencies bundles everything the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function. The
// store, cache and blob fields are nil in standalone mode.
type Dependencies struct {
	// Core
	Engine  *engine.Engine
	Feed    *pricing.Feed
	Metrics *metrics.Metrics

	// Stores
	SettlementStore domain.SettlementStore
	AuditStore      domain.AuditStore

	// Caches
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	Archiver *s3blob.Archiver

	// Payouts and notifications
	Distributors []distribution.Distributor
	Notifier     *notify.Notifier

	// Checks backs GET /api/health, keyed by collaborator name.
	Checks map[string]handler.Check
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Checks: map[string]handler.Check{}}

	// --- Metrics ---
	if cfg.Metrics.Enabled {
		deps.Metrics = metrics.New()
	}

	// --- Price feed and engine ---
	deps.Feed = newFeed(cfg, deps.Metrics, logger)
	var opts []engine.Option
	if deps.Metrics != nil {
		opts = append(opts, engine.WithRecorder(deps.Metrics))
	}
	deps.Engine = engine.New(engineConfig(cfg.Game), deps.Feed, logger, opts...)
	deps.RateLimiter = middleware.NewLocalLimiter()

	if strings.ToLower(cfg.Mode) == ModeFull {
		if err := wireInfra(ctx, cfg, deps, &closers); err != nil {
			cleanup()
			return nil, nil, err
		}
	}

	dists, err := distributors(cfg.Distribution, deps.SignalBus, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.Distributors = dists
	deps.Notifier = newNotifier(cfg.Notify, logger)

	return deps, cleanup, nil
}

// wireInfra connects Postgres, Redis and S3. Every connection it opens is
// registered in closers even when a later step fails.
func wireInfra(ctx context.Context, cfg *config.Config, deps *Dependencies, closers *[]func()) error {
	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Supabase.DSN,
		Host:     cfg.Supabase.Host,
		Port:     cfg.Supabase.Port,
		Database: cfg.Supabase.Database,
		User:     cfg.Supabase.User,
		Password: cfg.Supabase.Password,
		SSLMode:  cfg.Supabase.SSLMode,
		MaxConns: cfg.Supabase.PoolMaxConns,
		MinConns: cfg.Supabase.PoolMinConns,
	})
	if err != nil {
		return fmt.Errorf("wire: postgres: %w", err)
	}
	*closers = append(*closers, pgClient.Close)

	if cfg.Supabase.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			return fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.SettlementStore = postgres.NewSettlementStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)
	deps.Checks["postgres"] = pgClient.Ping

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		return fmt.Errorf("wire: redis: %w", err)
	}
	*closers = append(*closers, func() { _ = redisClient.Close() })

	deps.PriceCache = redis.NewPriceCache(redisClient, cfg.Redis.QuoteTTL.Duration)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)
	deps.Checks["redis"] = redisClient.Ping

	// --- S3 blob storage ---
	s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
		Endpoint:       cfg.S3.Endpoint,
		Region:         cfg.S3.Region,
		Bucket:         cfg.S3.Bucket,
		AccessKey:      cfg.S3.AccessKey,
		SecretKey:      cfg.S3.SecretKey,
		UseSSL:         cfg.S3.UseSSL,
		ForcePathStyle: cfg.S3.ForcePathStyle,
	})
	if err != nil {
		return fmt.Errorf("wire: s3: %w", err)
	}
	deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), cfg.S3.ArchivePrefix)
	deps.Checks["s3"] = s3Client.Health

	return nil
}

// newFeed builds the quote chain: the configured provider first, then the
// synthetic source that prices whatever the provider missed.
func newFeed(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) *pricing.Feed {
	var sources []pricing.Source
	if cfg.Quotes.Enabled {
		client := coingecko.NewClient(cfg.Quotes.BaseURL, cfg.Quotes.APIKey, cfg.Quotes.VsCurrency, cfg.Quotes.Timeout.Duration)
		sources = append(sources, pricing.NewProviderSource("coingecko", client))
	}
	sources = append(sources, pricing.NewSyntheticSource(
		cfg.Game.SyntheticSeed,
		cfg.Game.SyntheticMaxDriftPct,
		cfg.Game.SyntheticVariancePct,
	))

	opts := []pricing.FeedOption{pricing.WithHistoryLen(cfg.Game.QuoteHistory)}
	if m != nil {
		opts = append(opts, pricing.WithObserver(m))
	}
	return pricing.NewFeed(instruments(cfg.Game), sources, logger, opts...)
}

func instruments(g config.GameConfig) []domain.Instrument {
	roster := g.Roster()
	out := make([]domain.Instrument, 0, len(roster))
	for _, inst := range roster {
		out = append(out, domain.Instrument{
			Symbol:     strings.ToUpper(inst.Symbol),
			Name:       inst.Name,
			ProviderID: inst.ProviderID,
			BasePrice:  inst.BasePrice,
		})
	}
	return out
}

func engineConfig(g config.GameConfig) engine.Config {
	return engine.Config{
		RoundDuration:   g.RoundDuration.Duration,
		BettingCutoff:   g.BettingCutoff.Duration,
		RefreshInterval: g.PriceRefreshInterval.Duration,
		RespawnInterval: g.RespawnInterval.Duration,
		Retention:       g.Retention.Duration,
		PruneInterval:   g.PruneInterval.Duration,
		StartStagger:    g.StartStagger.Duration,
		MinStake:        g.MinStake,
		MaxStake:        g.MaxStake,
		Mailbox:         g.EventMailbox,
	}
}

// distributors returns the configured payout sinks, or a logging stand-in
// when none is configured.
func distributors(cfg config.DistributionConfig, bus domain.SignalBus, logger *slog.Logger) ([]distribution.Distributor, error) {
	var out []distribution.Distributor
	if cfg.WebhookURL != "" {
		opts, err := webhookOptions(cfg, logger)
		if err != nil {
			return nil, err
		}
		out = append(out, distribution.NewWebhookDistributor(cfg.WebhookURL, cfg.APIKey, cfg.Timeout.Duration, opts...))
	}
	if bus != nil && cfg.Stream != "" {
		out = append(out, distribution.NewStreamDistributor(bus, cfg.Stream))
	}
	if len(out) == 0 {
		out = append(out, distribution.NewLogDistributor(logger))
	}
	return out, nil
}

func webhookOptions(cfg config.DistributionConfig, logger *slog.Logger) ([]distribution.WebhookOption, error) {
	var opts []distribution.WebhookOption
	if cfg.WebhookSecret != "" {
		opts = append(opts, distribution.WithMACSecret(cfg.WebhookSecret))
	}

	key, err := crypto.LoadKey(crypto.KeySource{
		Hex:      cfg.SigningKey,
		File:     cfg.SigningKeyFile,
		Password: cfg.SigningKeyPassword,
	})
	if errors.Is(err, crypto.ErrNoKey) {
		return opts, nil
	}
	if err != nil {
		return nil, fmt.Errorf("wire: payout signing key: %w", err)
	}
	signer, err := crypto.NewSigner(key)
	if err != nil {
		return nil, fmt.Errorf("wire: payout signing key: %w", err)
	}
	logger.Info("payout batches will be signed", slog.String("signer", signer.Address().Hex()))
	return append(opts, distribution.WithSigner(signer)), nil
}

func newNotifier(cfg config.NotifyConfig, logger *slog.Logger) *notify.Notifier {
	var senders []notify.Sender
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(notify.DefaultTelegramAPI, cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.DiscordWebhookURL))
	}
	return notify.NewNotifier(senders, cfg.Events, logger)
}
