package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/updownbot/internal/config"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func standaloneConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Quotes.Enabled = false
	cfg.Server.Enabled = false
	return &cfg
}

func TestWireStandalone(t *testing.T) {
	deps, cleanup, err := Wire(context.Background(), standaloneConfig(), discard())
	if err != nil {
		t.Fatalf("Wire() error = %v", err)
	}
	defer cleanup()

	if deps.Engine == nil || deps.Feed == nil || deps.Metrics == nil {
		t.Fatal("core dependencies missing")
	}
	if deps.SettlementStore != nil || deps.SignalBus != nil || deps.Archiver != nil {
		t.Error("standalone mode wired external infrastructure")
	}
	if deps.RateLimiter == nil {
		t.Error("standalone mode has no bet rate limiter")
	}
	if len(deps.Distributors) != 1 || deps.Distributors[0].Name() != "log" {
		t.Errorf("distributors = %v, want the log distributor only", deps.Distributors)
	}
	if deps.Notifier.Enabled() {
		t.Error("notifier enabled without credentials")
	}
	if got := len(deps.Feed.Instruments()); got != 6 {
		t.Errorf("instruments = %d, want 6", got)
	}
}

func TestInstrumentsUsesSymbolFilter(t *testing.T) {
	g := config.Defaults().Game
	g.Symbols = []string{"eth", "BTC"}
	got := instruments(g)
	if len(got) != 2 || got[0].Symbol != "BTC" || got[1].Symbol != "ETH" {
		t.Fatalf("instruments = %+v, want BTC, ETH in roster order", got)
	}
	if !got[1].BasePrice.Equal(decimal.NewFromInt(3000)) {
		t.Errorf("ETH base price = %s", got[1].BasePrice)
	}
}

func TestEngineConfigFromGame(t *testing.T) {
	g := config.Defaults().Game
	ec := engineConfig(g)
	if ec.RoundDuration != 5*time.Minute || ec.BettingCutoff != time.Minute {
		t.Errorf("timings = %v / %v", ec.RoundDuration, ec.BettingCutoff)
	}
	if !ec.MinStake.Equal(g.MinStake) || !ec.MaxStake.IsZero() {
		t.Errorf("stake bounds = %s..%s", ec.MinStake, ec.MaxStake)
	}
	if ec.Mailbox != g.EventMailbox {
		t.Errorf("mailbox = %d, want %d", ec.Mailbox, g.EventMailbox)
	}
}

func TestDistributorsFromConfig(t *testing.T) {
	cfg := config.Defaults().Distribution
	cfg.WebhookURL = "http://payouts.local/hook"
	got, err := distributors(cfg, nil, discard())
	if err != nil {
		t.Fatalf("distributors() error = %v", err)
	}
	if len(got) != 1 || got[0].Name() != "webhook" {
		t.Errorf("distributors = %v, want webhook only (no bus for the stream)", got)
	}

	cfg.SigningKey = "0xnot-a-key"
	if _, err := distributors(cfg, nil, discard()); err == nil {
		t.Error("distributors() accepted an invalid signing key")
	}
}

func TestStandaloneModeStopsOnCancel(t *testing.T) {
	cfg := standaloneConfig()
	a := New(cfg, discard())
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunRejectsUnknownMode(t *testing.T) {
	cfg := standaloneConfig()
	cfg.Mode = "backtest"
	a := New(cfg, discard())
	defer a.Close()
	if err := a.Run(context.Background()); err == nil {
		t.Fatal("Run() accepted an unknown mode")
	}
}
