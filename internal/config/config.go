// Package config defines the top-level configuration for the up/down round
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by UPDOWN_* environment variables.
type Config struct {
	Game         GameConfig         `toml:"game"`
	Quotes       QuotesConfig       `toml:"quotes"`
	Supabase     SupabaseConfig     `toml:"supabase"`
	Redis        RedisConfig        `toml:"redis"`
	S3           S3Config           `toml:"s3"`
	Distribution DistributionConfig `toml:"distribution"`
	Server       ServerConfig       `toml:"server"`
	Notify       NotifyConfig       `toml:"notify"`
	Metrics      MetricsConfig      `toml:"metrics"`
	Mode         string             `toml:"mode"`
	LogLevel     string             `toml:"log_level"`
}

// InstrumentConfig is one roster entry.
type InstrumentConfig struct {
	Symbol     string          `toml:"symbol"`
	Name       string          `toml:"name"`
	ProviderID string          `toml:"provider_id"`
	BasePrice  decimal.Decimal `toml:"base_price"`
}

// GameConfig holds round timings, stake bounds and the instrument roster.
type GameConfig struct {
	Instruments []InstrumentConfig `toml:"instruments"`
	// Symbols optionally restricts the roster to a subset of Instruments.
	Symbols              []string        `toml:"symbols"`
	RoundDuration        duration        `toml:"round_duration"`
	BettingCutoff        duration        `toml:"betting_cutoff"`
	PriceRefreshInterval duration        `toml:"price_refresh_interval"`
	RespawnInterval      duration        `toml:"respawn_interval"`
	Retention            duration        `toml:"retention"`
	PruneInterval        duration        `toml:"prune_interval"`
	StartStagger         duration        `toml:"start_stagger"`
	MinStake             decimal.Decimal `toml:"min_stake"`
	MaxStake             decimal.Decimal `toml:"max_stake"` // zero means unbounded
	SyntheticSeed        int64           `toml:"synthetic_seed"`
	SyntheticMaxDriftPct float64         `toml:"synthetic_max_drift_pct"`
	SyntheticVariancePct float64         `toml:"synthetic_variance_pct"`
	QuoteHistory         int             `toml:"quote_history"`
	EventMailbox         int             `toml:"event_mailbox"`
}

// Roster returns the configured instruments, restricted to Symbols when set.
func (g GameConfig) Roster() []InstrumentConfig {
	if len(g.Symbols) == 0 {
		return g.Instruments
	}
	want := make(map[string]bool, len(g.Symbols))
	for _, s := range g.Symbols {
		want[strings.ToUpper(strings.TrimSpace(s))] = true
	}
	out := make([]InstrumentConfig, 0, len(g.Symbols))
	for _, inst := range g.Instruments {
		if want[strings.ToUpper(inst.Symbol)] {
			out = append(out, inst)
		}
	}
	return out
}

// QuotesConfig holds the upstream quote provider settings.
type QuotesConfig struct {
	Enabled    bool     `toml:"enabled"`
	BaseURL    string   `toml:"base_url"`
	APIKey     string   `toml:"api_key"`
	VsCurrency string   `toml:"vs_currency"`
	Timeout    duration `toml:"timeout"`
}

// SupabaseConfig holds PostgreSQL / Supabase connection parameters.
type SupabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	StreamMaxLen int64    `toml:"stream_max_len"`
	QuoteTTL     duration `toml:"quote_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	ArchivePrefix  string `toml:"archive_prefix"`
}

// DistributionConfig configures where settlement payouts are sent.
type DistributionConfig struct {
	WebhookURL string   `toml:"webhook_url"`
	APIKey     string   `toml:"api_key"`
	Timeout    duration `toml:"timeout"`
	// Stream is the Redis stream payouts are appended to in full mode.
	Stream  string   `toml:"stream"`
	LockTTL duration `toml:"lock_ttl"`
	// WebhookSecret enables an HMAC signature header on webhook bodies.
	WebhookSecret string `toml:"webhook_secret"`
	// The operator signing key, raw hex or an encrypted key file, adds an
	// EIP-191 signature header on webhook bodies.
	SigningKey         string `toml:"signing_key"`
	SigningKeyFile     string `toml:"signing_key_file"`
	SigningKeyPassword string `toml:"signing_key_password"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled       bool     `toml:"enabled"`
	Port          int      `toml:"port"`
	CORSOrigins   []string `toml:"cors_origins"`
	APIKey        string   `toml:"api_key"`
	BetRateLimit  int      `toml:"bet_rate_limit"`
	BetRateWindow duration `toml:"bet_rate_window"`
	// IPRateLimit caps bet requests per client IP per BetRateWindow.
	IPRateLimit int `toml:"ip_rate_limit"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Game: GameConfig{
			Instruments: []InstrumentConfig{
				{Symbol: "BTC", Name: "Bitcoin", ProviderID: "bitcoin", BasePrice: decimal.NewFromInt(60000)},
				{Symbol: "ETH", Name: "Ethereum", ProviderID: "ethereum", BasePrice: decimal.NewFromInt(3000)},
				{Symbol: "SOL", Name: "Solana", ProviderID: "solana", BasePrice: decimal.NewFromInt(150)},
				{Symbol: "BNB", Name: "BNB", ProviderID: "binancecoin", BasePrice: decimal.NewFromInt(550)},
				{Symbol: "XRP", Name: "XRP", ProviderID: "ripple", BasePrice: decimal.RequireFromString("0.6")},
				{Symbol: "DOGE", Name: "Dogecoin", ProviderID: "dogecoin", BasePrice: decimal.RequireFromString("0.15")},
			},
			RoundDuration:        duration{5 * time.Minute},
			BettingCutoff:        duration{60 * time.Second},
			PriceRefreshInterval: duration{30 * time.Second},
			RespawnInterval:      duration{3 * time.Minute},
			Retention:            duration{time.Hour},
			PruneInterval:        duration{5 * time.Minute},
			StartStagger:         duration{10 * time.Second},
			MinStake:             decimal.RequireFromString("0.001"),
			MaxStake:             decimal.Zero,
			SyntheticSeed:        1,
			SyntheticMaxDriftPct: 2,
			SyntheticVariancePct: 1,
			QuoteHistory:         64,
			EventMailbox:         1024,
		},
		Quotes: QuotesConfig{
			Enabled:    true,
			BaseURL:    "https://api.coingecko.com/api/v3",
			VsCurrency: "usd",
			Timeout:    duration{10 * time.Second},
		},
		Supabase: SupabaseConfig{
			DSN:           "",
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			DB:           0,
			PoolSize:     20,
			MaxRetries:   3,
			TLSEnabled:   false,
			StreamMaxLen: 10000,
			QuoteTTL:     duration{5 * time.Minute},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "updown-data",
			UseSSL:         false,
			ForcePathStyle: true,
			ArchivePrefix:  "rounds",
		},
		Distribution: DistributionConfig{
			Timeout: duration{10 * time.Second},
			Stream:  "payouts",
			LockTTL: duration{time.Minute},
		},
		Server: ServerConfig{
			Enabled:       true,
			Port:          8000,
			CORSOrigins:   []string{"http://localhost:3000", "http://localhost:5173"},
			BetRateLimit:  20,
			BetRateWindow: duration{time.Minute},
			IPRateLimit:   120,
		},
		Notify: NotifyConfig{
			Events: []string{"round_settled", "error"},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Mode:     "standalone",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"standalone": true,
	"full":       true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: standalone, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Game
	errs = append(errs, c.Game.validate()...)

	// Quotes
	if c.Quotes.Enabled && c.Quotes.BaseURL == "" {
		errs = append(errs, "quotes: base_url must not be empty when enabled")
	}

	// The external sinks are only wired in full mode.
	if strings.ToLower(c.Mode) == "full" {
		if strings.TrimSpace(c.Supabase.DSN) == "" {
			if c.Supabase.Host == "" {
				errs = append(errs, "supabase: host must not be empty (or set supabase.dsn)")
			}
			if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
				errs = append(errs, fmt.Sprintf("supabase: port must be 1-65535, got %d", c.Supabase.Port))
			}
			if c.Supabase.Database == "" {
				errs = append(errs, "supabase: database must not be empty")
			}
		}
		if c.Supabase.PoolMaxConns < 1 {
			errs = append(errs, "supabase: pool_max_conns must be >= 1")
		}
		if c.Supabase.PoolMinConns < 0 {
			errs = append(errs, "supabase: pool_min_conns must be >= 0")
		}
		if c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
			errs = append(errs, "supabase: pool_min_conns must not exceed pool_max_conns")
		}

		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}

		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.BetRateLimit < 0 || c.Server.IPRateLimit < 0 {
			errs = append(errs, "server: bet_rate_limit and ip_rate_limit must be >= 0")
		}
		if c.Server.APIKey != "" && strings.TrimSpace(c.Server.APIKey) != c.Server.APIKey {
			errs = append(errs, "server: api_key must not have leading or trailing whitespace")
		}
	}

	// Metrics
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, fmt.Sprintf("metrics: path must start with /, got %q", c.Metrics.Path))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (g GameConfig) validate() []string {
	var errs []string

	roster := g.Roster()
	if len(roster) == 0 {
		errs = append(errs, "game: instrument roster must not be empty")
	}
	seen := make(map[string]bool, len(roster))
	for i, inst := range roster {
		if inst.Symbol == "" {
			errs = append(errs, fmt.Sprintf("game: instruments[%d]: symbol must not be empty", i))
			continue
		}
		if seen[inst.Symbol] {
			errs = append(errs, fmt.Sprintf("game: duplicate instrument %q", inst.Symbol))
		}
		seen[inst.Symbol] = true
		if inst.ProviderID == "" {
			errs = append(errs, fmt.Sprintf("game: instrument %s: provider_id must not be empty", inst.Symbol))
		}
		if !inst.BasePrice.IsPositive() {
			errs = append(errs, fmt.Sprintf("game: instrument %s: base_price must be > 0", inst.Symbol))
		}
	}

	positive := []struct {
		name string
		d    time.Duration
	}{
		{"round_duration", g.RoundDuration.Duration},
		{"price_refresh_interval", g.PriceRefreshInterval.Duration},
		{"respawn_interval", g.RespawnInterval.Duration},
		{"retention", g.Retention.Duration},
		{"prune_interval", g.PruneInterval.Duration},
	}
	for _, p := range positive {
		if p.d <= 0 {
			errs = append(errs, fmt.Sprintf("game: %s must be > 0", p.name))
		}
	}
	if g.BettingCutoff.Duration < 0 || g.BettingCutoff.Duration >= g.RoundDuration.Duration {
		errs = append(errs, "game: betting_cutoff must be >= 0 and shorter than round_duration")
	}
	if g.StartStagger.Duration < 0 {
		errs = append(errs, "game: start_stagger must be >= 0")
	}
	if g.MinStake.IsNegative() {
		errs = append(errs, "game: min_stake must be >= 0")
	}
	if g.MaxStake.IsNegative() {
		errs = append(errs, "game: max_stake must be >= 0")
	}
	if g.MaxStake.IsPositive() && g.MaxStake.LessThan(g.MinStake) {
		errs = append(errs, "game: max_stake must not be below min_stake")
	}
	if g.SyntheticMaxDriftPct <= 0 || g.SyntheticMaxDriftPct >= 100 {
		errs = append(errs, "game: synthetic_max_drift_pct must be in (0, 100)")
	}
	if g.QuoteHistory < 1 {
		errs = append(errs, "game: quote_history must be >= 1")
	}
	return errs
}
