package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/pricing"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type failingProvider struct{}

func (failingProvider) FetchQuotes(context.Context, []string) (map[string]domain.ProviderQuote, error) {
	return nil, errors.New("HTTP 500: internal error")
}

type fixedProvider map[string]float64

func (p fixedProvider) FetchQuotes(_ context.Context, ids []string) (map[string]domain.ProviderQuote, error) {
	out := map[string]domain.ProviderQuote{}
	for _, id := range ids {
		if v, ok := p[id]; ok {
			out[id] = domain.ProviderQuote{Price: v}
		}
	}
	return out, nil
}

type recorder struct {
	mu       sync.Mutex
	opened   int
	settled  int
	placed   int
	rejected []string
	pruned   int
}

func (r *recorder) add(n *int, d int) {
	r.mu.Lock()
	*n += d
	r.mu.Unlock()
}

func (r *recorder) RoundOpened(string)                      { r.add(&r.opened, 1) }
func (r *recorder) RoundSettled(string, int, time.Duration) { r.add(&r.settled, 1) }
func (r *recorder) SettleFailed(string)                     {}
func (r *recorder) BetPlaced(string)                        { r.add(&r.placed, 1) }
func (r *recorder) RoundsPruned(n int)                      { r.add(&r.pruned, n) }
func (r *recorder) ActiveRounds(int)                        {}
func (r *recorder) EventDropped(string, EventType)          {}

func (r *recorder) BetRejected(reason string) {
	r.mu.Lock()
	r.rejected = append(r.rejected, reason)
	r.mu.Unlock()
}

func roster() []domain.Instrument {
	return []domain.Instrument{
		{Symbol: "BTC", Name: "Bitcoin", ProviderID: "bitcoin", BasePrice: decimal.NewFromInt(60000)},
		{Symbol: "ETH", Name: "Ethereum", ProviderID: "ethereum", BasePrice: decimal.NewFromInt(3400)},
	}
}

func newTestEngine(t *testing.T, provider pricing.QuoteProvider) (*Engine, *fakeClock, *recorder) {
	t.Helper()
	clk := &fakeClock{now: t0}
	rec := &recorder{}
	feed := pricing.NewFeed(roster(), []pricing.Source{
		pricing.NewProviderSource("coingecko", provider),
		pricing.NewSyntheticSource(1, 2, 1),
	}, testLogger(), pricing.WithClock(clk.Now))
	e := New(DefaultConfig(), feed, testLogger(), WithClock(clk.Now), WithRecorder(rec))
	return e, clk, rec
}

// drain collects whatever is queued on sub without blocking.
func drain(sub *Subscription) []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func ofType(evs []Event, typ EventType) []Event {
	var out []Event
	for _, ev := range evs {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func TestStaggeredStart(t *testing.T) {
	e, clk, _ := newTestEngine(t, fixedProvider{"bitcoin": 64000, "ethereum": 3400})
	sub := e.Subscribe("test")
	ctx := context.Background()

	e.Refresh(ctx)
	e.ScheduleInitial()
	e.RunDue(ctx)
	if got := e.ActiveRounds(); len(got) != 1 || got[0].Symbol != "BTC" {
		t.Fatalf("active after start = %+v, want BTC only", got)
	}

	clk.Advance(10 * time.Second)
	e.RunDue(ctx)
	active := e.ActiveRounds()
	if len(active) != 2 {
		t.Fatalf("active after stagger = %d, want 2", len(active))
	}
	if d := active[1].StartTime.Sub(active[0].StartTime); d != 10*time.Second {
		t.Errorf("stagger = %v, want 10s", d)
	}
	if !active[0].StartPrice.Equal(decimal.NewFromInt(64000)) {
		t.Errorf("BTC start price = %s", active[0].StartPrice)
	}

	evs := drain(sub)
	if n := len(ofType(evs, EventPriceUpdate)); n != 1 {
		t.Errorf("%d price updates, want 1", n)
	}
	if n := len(ofType(evs, EventRoundOpened)); n != 2 {
		t.Errorf("%d round_opened events, want 2", n)
	}
}

func TestExpirySettlesOnce(t *testing.T) {
	e, clk, rec := newTestEngine(t, fixedProvider{"bitcoin": 64000, "ethereum": 3400})
	ctx := context.Background()
	e.Refresh(ctx)
	e.ScheduleInitial()
	e.RunDue(ctx)
	btc, _ := e.ActiveRound("BTC")
	sub := e.Subscribe("test", EventRoundSettled)

	if _, err := e.PlaceBet(ctx, btc.ID, "alice", domain.DirectionUp, decimal.RequireFromString("0.02")); err != nil {
		t.Fatalf("PlaceBet: %v", err)
	}

	clk.Advance(5 * time.Minute)
	e.RunDue(ctx)

	settled := drain(sub)
	if len(settled) != 1 || settled[0].Result.RoundID != btc.ID {
		t.Fatalf("settled events = %+v", settled)
	}
	res := settled[0].Result
	if res.WinningDirection != domain.DirectionDown {
		t.Errorf("unchanged price resolved %s, want down", res.WinningDirection)
	}
	if len(res.Winners) != 0 || !res.PayoutMultiplier.IsZero() {
		t.Errorf("winners = %d, multiplier %s", len(res.Winners), res.PayoutMultiplier)
	}

	// Defensive tick and explicit settle must not settle again.
	e.Refresh(ctx)
	if _, ok, err := e.Settle(ctx, btc.ID); ok || err != nil {
		t.Errorf("Settle on ended round = %v, %v", ok, err)
	}
	if extra := drain(sub); len(extra) != 0 {
		t.Errorf("extra settlements = %+v", extra)
	}
	if rec.settled != 1 {
		t.Errorf("recorder settled = %d, want 1", rec.settled)
	}
	if _, ok := e.ActiveRound("ETH"); !ok {
		t.Error("staggered ETH round did not open")
	}
}

func TestRefreshSettlesDueRounds(t *testing.T) {
	e, clk, _ := newTestEngine(t, fixedProvider{"bitcoin": 64000, "ethereum": 3400})
	ctx := context.Background()
	e.Refresh(ctx)
	e.ScheduleInitial()
	e.RunDue(ctx)

	clk.Advance(6 * time.Minute)
	e.Refresh(ctx) // ETH open task is still queued, BTC expiry is only caught here

	btc := e.EndedRounds()
	if len(btc) != 1 || btc[0].Symbol != "BTC" || !btc[0].EndPrice.Valid {
		t.Fatalf("ended = %+v", btc)
	}
}

func TestProviderDownStillOpensRounds(t *testing.T) {
	e, clk, _ := newTestEngine(t, failingProvider{})
	ctx := context.Background()

	first := e.Refresh(ctx)
	e.ScheduleInitial()
	e.RunDue(ctx)
	clk.Advance(10 * time.Second)
	e.RunDue(ctx)

	for i := 0; i < 5; i++ {
		clk.Advance(30 * time.Second)
		for _, q := range e.Refresh(ctx) {
			if q.Source != pricing.SyntheticName {
				t.Errorf("%s source = %s", q.Symbol, q.Source)
			}
		}
	}
	if len(first) != 2 {
		t.Fatalf("initial quotes = %d", len(first))
	}
	active := e.ActiveRounds()
	if len(active) != 2 {
		t.Fatalf("active = %d, want 2", len(active))
	}
	for _, rd := range active {
		if !rd.StartPrice.IsPositive() {
			t.Errorf("%s opened at %s", rd.Symbol, rd.StartPrice)
		}
	}
}

func TestSettlementUsesEndTimeQuote(t *testing.T) {
	prov := fixedProvider{"bitcoin": 100, "ethereum": 100}
	e, clk, _ := newTestEngine(t, prov)
	ctx := context.Background()
	e.Refresh(ctx)
	e.ScheduleInitial()
	e.RunDue(ctx)
	btc, _ := e.ActiveRound("BTC")

	clk.Advance(5 * time.Minute)
	prov["bitcoin"] = 110
	e.feed.Refresh(ctx) // observed exactly at end time
	clk.Advance(40 * time.Second)
	prov["bitcoin"] = 90
	e.feed.Refresh(ctx) // observed after end time

	res, ok, err := e.Settle(ctx, btc.ID)
	if err != nil || !ok {
		t.Fatalf("Settle = %v, %v", ok, err)
	}
	if !res.EndPrice.Equal(decimal.NewFromInt(110)) || res.WinningDirection != domain.DirectionUp {
		t.Errorf("settled at %s (%s), want 110 up", res.EndPrice, res.WinningDirection)
	}
}

func TestRespawnAndPrune(t *testing.T) {
	e, clk, rec := newTestEngine(t, fixedProvider{"bitcoin": 64000, "ethereum": 3400})
	ctx := context.Background()
	e.Refresh(ctx)
	e.Respawn(ctx)
	if len(e.ActiveRounds()) != 2 {
		t.Fatalf("respawn opened %d rounds", len(e.ActiveRounds()))
	}
	e.Respawn(ctx)
	if rec.opened != 2 {
		t.Errorf("second respawn opened more rounds: %d", rec.opened)
	}

	clk.Advance(5 * time.Minute)
	e.RunDue(ctx)
	if len(e.ActiveRounds()) != 0 {
		t.Fatalf("rounds still active after expiry")
	}
	e.Respawn(ctx)
	if len(e.ActiveRounds()) != 2 {
		t.Errorf("respawn after expiry opened %d rounds", len(e.ActiveRounds()))
	}

	sub := e.Subscribe("test", EventRoundsPruned)
	if removed := e.Prune(ctx); len(removed) != 0 {
		t.Errorf("pruned %d rounds inside retention", len(removed))
	}
	clk.Advance(61 * time.Minute)
	removed := e.Prune(ctx)
	if len(removed) != 2 {
		t.Fatalf("pruned %d rounds, want 2", len(removed))
	}
	if evs := drain(sub); len(evs) != 1 || len(evs[0].Pruned) != 2 {
		t.Errorf("prune events = %+v", evs)
	}
	if rec.pruned != 2 {
		t.Errorf("recorder pruned = %d", rec.pruned)
	}
}

func TestPlaceBetEvents(t *testing.T) {
	e, clk, rec := newTestEngine(t, fixedProvider{"bitcoin": 64000, "ethereum": 3400})
	ctx := context.Background()
	e.Refresh(ctx)
	e.Respawn(ctx)
	eth, _ := e.ActiveRound("ETH")

	var (
		mu   sync.Mutex
		seen []domain.Bet
		done = make(chan struct{}, 1)
	)
	cancel := e.OnBetPlaced(func(b domain.Bet) {
		mu.Lock()
		seen = append(seen, b)
		mu.Unlock()
		done <- struct{}{}
	})
	defer cancel()

	bet, err := e.PlaceBet(ctx, eth.ID, "0x52908400098527886e0f7030069857d2e4169ee7", domain.DirectionDown, decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("PlaceBet: %v", err)
	}
	if bet.Bettor != "0x52908400098527886E0F7030069857D2E4169EE7" {
		t.Errorf("bettor = %s", bet.Bettor)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("OnBetPlaced callback not called")
	}
	mu.Lock()
	if len(seen) != 1 || seen[0].ID != bet.ID {
		t.Errorf("callback saw %+v", seen)
	}
	mu.Unlock()

	clk.Advance(4*time.Minute + 15*time.Second)
	_, err = e.PlaceBet(ctx, eth.ID, "bob", domain.DirectionUp, decimal.NewFromInt(1))
	if !errors.Is(err, domain.ErrBettingClosed) {
		t.Errorf("late bet err = %v", err)
	}
	if len(rec.rejected) != 1 || rec.rejected[0] != string(domain.RejectBettingClosed) {
		t.Errorf("rejections = %v", rec.rejected)
	}
	if rec.placed != 1 {
		t.Errorf("placed = %d", rec.placed)
	}
}

func TestRunSettlesRounds(t *testing.T) {
	feed := pricing.NewFeed(roster(), []pricing.Source{
		pricing.NewProviderSource("coingecko", fixedProvider{"bitcoin": 1, "ethereum": 2}),
	}, testLogger())
	cfg := DefaultConfig()
	cfg.RoundDuration = 150 * time.Millisecond
	cfg.StartStagger = 20 * time.Millisecond
	cfg.RefreshInterval = 50 * time.Millisecond
	cfg.BettingCutoff = 0
	e := New(cfg, feed, testLogger())
	sub := e.Subscribe("test", EventRoundSettled)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- e.Run(ctx) }()

	settled := map[string]bool{}
	deadline := time.After(5 * time.Second)
	for len(settled) < 2 {
		select {
		case ev := <-sub.C:
			settled[ev.Result.Symbol] = true
		case <-deadline:
			t.Fatalf("settled only %v before timeout", settled)
		}
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	for range sub.C {
		// buffered events; the loop ends once the bus is closed
	}
}
