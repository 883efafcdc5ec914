package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Defaults().Validate() = %v", err)
	}
	cfg.Mode = "full"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("full mode defaults: %v", err)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
mode = "full"
log_level = "debug"

[game]
round_duration = "2m"
betting_cutoff = "15s"
min_stake = "0.5"
max_stake = "100"

[[game.instruments]]
symbol = "BTC"
name = "Bitcoin"
provider_id = "bitcoin"
base_price = "64000"

[[game.instruments]]
symbol = "ETH"
name = "Ethereum"
provider_id = "ethereum"
base_price = "3400.5"

[server]
port = 9090
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("UPDOWN_SERVER_PORT", "9191")
	t.Setenv("UPDOWN_GAME_RETENTION", "30m")
	t.Setenv("UPDOWN_REDIS_PASSWORD", "hunter2")
	t.Setenv("UPDOWN_GAME_SYMBOLS", "eth")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.Mode != "full" || cfg.LogLevel != "debug" {
		t.Errorf("mode/log_level = %s/%s", cfg.Mode, cfg.LogLevel)
	}
	if cfg.Game.RoundDuration.Duration != 2*time.Minute || cfg.Game.BettingCutoff.Duration != 15*time.Second {
		t.Errorf("timings = %v/%v", cfg.Game.RoundDuration, cfg.Game.BettingCutoff)
	}
	if cfg.Game.Retention.Duration != 30*time.Minute {
		t.Errorf("retention = %v, want env override", cfg.Game.Retention)
	}
	if cfg.Game.PriceRefreshInterval.Duration != 30*time.Second {
		t.Errorf("refresh interval default lost: %v", cfg.Game.PriceRefreshInterval)
	}
	if !cfg.Game.MinStake.Equal(decimal.RequireFromString("0.5")) || !cfg.Game.MaxStake.Equal(decimal.NewFromInt(100)) {
		t.Errorf("stake bounds = %s/%s", cfg.Game.MinStake, cfg.Game.MaxStake)
	}
	if len(cfg.Game.Instruments) != 2 {
		t.Fatalf("instruments = %+v", cfg.Game.Instruments)
	}
	roster := cfg.Game.Roster()
	if len(roster) != 1 || roster[0].Symbol != "ETH" || !roster[0].BasePrice.Equal(decimal.RequireFromString("3400.5")) {
		t.Errorf("roster = %+v", roster)
	}
	if cfg.Server.Port != 9191 {
		t.Errorf("port = %d, want env override", cfg.Server.Port)
	}
	if cfg.Redis.Password != "hunter2" {
		t.Errorf("redis password not applied")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadNoPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\"): %v", err)
	}
	if len(cfg.Game.Instruments) != len(Defaults().Game.Instruments) {
		t.Errorf("defaults not used")
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad mode", func(c *Config) { c.Mode = "trade" }, "unknown mode"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "unknown log_level"},
		{"empty roster", func(c *Config) { c.Game.Instruments = nil }, "roster must not be empty"},
		{"unknown symbol filter", func(c *Config) { c.Game.Symbols = []string{"XYZ"} }, "roster must not be empty"},
		{"duplicate symbol", func(c *Config) {
			c.Game.Instruments = append(c.Game.Instruments, c.Game.Instruments[0])
		}, "duplicate instrument"},
		{"zero base price", func(c *Config) { c.Game.Instruments[0].BasePrice = decimal.Zero }, "base_price"},
		{"cutoff longer than round", func(c *Config) { c.Game.BettingCutoff = duration{10 * time.Minute} }, "betting_cutoff"},
		{"zero duration", func(c *Config) { c.Game.RoundDuration = duration{} }, "round_duration"},
		{"max below min", func(c *Config) {
			c.Game.MinStake = decimal.NewFromInt(5)
			c.Game.MaxStake = decimal.NewFromInt(1)
		}, "max_stake"},
		{"full mode needs redis", func(c *Config) {
			c.Mode = "full"
			c.Redis.Addr = ""
		}, "redis: addr"},
		{"server port", func(c *Config) { c.Server.Port = 70000 }, "server: port"},
		{"padded api key", func(c *Config) { c.Server.APIKey = " secret " }, "server: api_key"},
		{"metrics path", func(c *Config) { c.Metrics.Path = "metrics" }, "metrics: path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestStandaloneSkipsSinkValidation(t *testing.T) {
	cfg := Defaults()
	cfg.Redis.Addr = ""
	cfg.S3.Bucket = ""
	if err := cfg.Validate(); err != nil {
		t.Errorf("standalone mode rejected missing sinks: %v", err)
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Redis.Password = "secret"
	cfg.Server.APIKey = "key"
	cfg.Notify.TelegramToken = "tok"
	cfg.S3.SecretKey = ""

	out := RedactedConfig(&cfg)
	if out.Redis.Password != redacted || out.Server.APIKey != redacted || out.Notify.TelegramToken != redacted {
		t.Errorf("secrets not redacted: %+v", out)
	}
	if out.S3.SecretKey != "" {
		t.Errorf("empty secret became %q", out.S3.SecretKey)
	}
	if cfg.Redis.Password != "secret" {
		t.Error("original mutated")
	}
	out.Server.CORSOrigins[0] = "changed"
	if cfg.Server.CORSOrigins[0] == "changed" {
		t.Error("redacted copy shares CORS slice")
	}
}

func TestDurationText(t *testing.T) {
	var d duration
	if err := d.UnmarshalText([]byte("90s")); err != nil || d.Duration != 90*time.Second {
		t.Fatalf("UnmarshalText = %v, %v", d, err)
	}
	b, _ := d.MarshalText()
	if string(b) != "1m30s" {
		t.Errorf("MarshalText = %s", b)
	}
	if err := d.UnmarshalText([]byte("soon")); err == nil {
		t.Error("expected parse error")
	}
}

func TestExampleConfigLoads(t *testing.T) {
	cfg, err := Load("../../config.example.toml")
	if err != nil {
		t.Fatalf("Load(example) error = %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("example config invalid: %v", err)
	}
	if got := len(cfg.Game.Roster()); got != 2 {
		t.Errorf("example roster = %d instruments, want 2", got)
	}
	if cfg.Server.IPRateLimit != 120 || cfg.Distribution.LockTTL.Duration != time.Minute {
		t.Errorf("server/distribution = %+v / %+v", cfg.Server, cfg.Distribution)
	}
}
