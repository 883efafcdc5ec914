package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies UPDOWN_* environment variable overrides, and
// returns the final Config. An empty path skips the file and uses defaults
// plus environment. The returned Config has NOT been validated; the caller
// should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known UPDOWN_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Game ──
	setStringSlice(&cfg.Game.Symbols, "UPDOWN_GAME_SYMBOLS")
	setDuration(&cfg.Game.RoundDuration, "UPDOWN_GAME_ROUND_DURATION")
	setDuration(&cfg.Game.BettingCutoff, "UPDOWN_GAME_BETTING_CUTOFF")
	setDuration(&cfg.Game.PriceRefreshInterval, "UPDOWN_GAME_PRICE_REFRESH_INTERVAL")
	setDuration(&cfg.Game.RespawnInterval, "UPDOWN_GAME_RESPAWN_INTERVAL")
	setDuration(&cfg.Game.Retention, "UPDOWN_GAME_RETENTION")
	setDuration(&cfg.Game.PruneInterval, "UPDOWN_GAME_PRUNE_INTERVAL")
	setDuration(&cfg.Game.StartStagger, "UPDOWN_GAME_START_STAGGER")
	setDecimal(&cfg.Game.MinStake, "UPDOWN_GAME_MIN_STAKE")
	setDecimal(&cfg.Game.MaxStake, "UPDOWN_GAME_MAX_STAKE")
	setInt64(&cfg.Game.SyntheticSeed, "UPDOWN_GAME_SYNTHETIC_SEED")
	setFloat64(&cfg.Game.SyntheticMaxDriftPct, "UPDOWN_GAME_SYNTHETIC_MAX_DRIFT_PCT")

	// ── Quotes ──
	setBool(&cfg.Quotes.Enabled, "UPDOWN_QUOTES_ENABLED")
	setStr(&cfg.Quotes.BaseURL, "UPDOWN_QUOTES_BASE_URL")
	setStr(&cfg.Quotes.APIKey, "UPDOWN_QUOTES_API_KEY")
	setStr(&cfg.Quotes.VsCurrency, "UPDOWN_QUOTES_VS_CURRENCY")
	setDuration(&cfg.Quotes.Timeout, "UPDOWN_QUOTES_TIMEOUT")

	// ── Supabase ──
	setStr(&cfg.Supabase.DSN, "UPDOWN_SUPABASE_DSN")
	setStr(&cfg.Supabase.DSN, "UPDOWN_SUPABASE_URL") // compatibility alias
	setStr(&cfg.Supabase.Host, "UPDOWN_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "UPDOWN_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "UPDOWN_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "UPDOWN_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "UPDOWN_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "UPDOWN_SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "UPDOWN_SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "UPDOWN_SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "UPDOWN_SUPABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "UPDOWN_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "UPDOWN_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "UPDOWN_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "UPDOWN_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "UPDOWN_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "UPDOWN_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "UPDOWN_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "UPDOWN_S3_REGION")
	setStr(&cfg.S3.Bucket, "UPDOWN_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "UPDOWN_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "UPDOWN_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "UPDOWN_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "UPDOWN_S3_FORCE_PATH_STYLE")

	// ── Distribution ──
	setStr(&cfg.Distribution.WebhookURL, "UPDOWN_DISTRIBUTION_WEBHOOK_URL")
	setStr(&cfg.Distribution.APIKey, "UPDOWN_DISTRIBUTION_API_KEY")
	setDuration(&cfg.Distribution.Timeout, "UPDOWN_DISTRIBUTION_TIMEOUT")
	setStr(&cfg.Distribution.Stream, "UPDOWN_DISTRIBUTION_STREAM")
	setStr(&cfg.Distribution.WebhookSecret, "UPDOWN_DISTRIBUTION_WEBHOOK_SECRET")
	setStr(&cfg.Distribution.SigningKey, "UPDOWN_DISTRIBUTION_SIGNING_KEY")
	setStr(&cfg.Distribution.SigningKeyFile, "UPDOWN_DISTRIBUTION_SIGNING_KEY_FILE")
	setStr(&cfg.Distribution.SigningKeyPassword, "UPDOWN_DISTRIBUTION_SIGNING_KEY_PASSWORD")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "UPDOWN_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "UPDOWN_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "UPDOWN_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "UPDOWN_SERVER_API_KEY")
	setInt(&cfg.Server.BetRateLimit, "UPDOWN_SERVER_BET_RATE_LIMIT")
	setDuration(&cfg.Server.BetRateWindow, "UPDOWN_SERVER_BET_RATE_WINDOW")
	setInt(&cfg.Server.IPRateLimit, "UPDOWN_SERVER_IP_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "UPDOWN_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "UPDOWN_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "UPDOWN_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "UPDOWN_NOTIFY_EVENTS")

	// ── Metrics ──
	setBool(&cfg.Metrics.Enabled, "UPDOWN_METRICS_ENABLED")

	// ── Top-level ──
	setStr(&cfg.Mode, "UPDOWN_MODE")
	setStr(&cfg.LogLevel, "UPDOWN_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setDecimal(dst *decimal.Decimal, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			*dst = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
