package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/updownbot/internal/distribution"
	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/engine"
	"github.com/alanyoungcy/updownbot/internal/notify"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type busSource struct{ bus *engine.Bus }

func (b busSource) Subscribe(name string, types ...engine.EventType) *engine.Subscription {
	return b.bus.Subscribe(name, 16, types...)
}

func newSource() busSource { return busSource{engine.NewBus(discard(), nil)} }

func settled(winners ...domain.Bet) domain.SettlementResult {
	return domain.SettlementResult{
		RoundID:          "r-1",
		Symbol:           "BTC",
		WinningDirection: domain.DirectionUp,
		StartPrice:       decimal.NewFromInt(100),
		EndPrice:         decimal.NewFromInt(101),
		TotalPool:        decimal.NewFromInt(30),
		WinningPool:      decimal.NewFromInt(10),
		Winners:          winners,
		PayoutMultiplier: decimal.NewFromInt(3),
		EndTime:          t0,
		SettledAt:        t0,
	}
}

func winner(id string, stake int64) domain.Bet {
	return domain.Bet{ID: id, RoundID: "r-1", Bettor: "alice", Direction: domain.DirectionUp, Stake: decimal.NewFromInt(stake)}
}

type recordingDistributor struct {
	name  string
	err   error
	mu    sync.Mutex
	calls [][]domain.Payout
}

func (d *recordingDistributor) DistributeWinnings(_ context.Context, _ string, payouts []domain.Payout) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, payouts)
	return d.err
}

func (d *recordingDistributor) Name() string { return d.name }

func (d *recordingDistributor) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

type memLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func (l *memLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = map[string]bool{}
	}
	if l.held[key] {
		return nil, domain.ErrLockHeld
	}
	l.held[key] = true
	return func() {}, nil
}

type failureCount map[string]int

func (f failureCount) PayoutFailed(name string) { f[name]++ }

func TestDispatchDeliversToEveryDistributor(t *testing.T) {
	good := &recordingDistributor{name: "good"}
	bad := &recordingDistributor{name: "bad", err: errors.New("boom")}
	failures := failureCount{}
	d := NewPayoutDispatcher(newSource(), PayoutDispatcherConfig{
		Distributors: []distribution.Distributor{bad, good},
		Recorder:     failures,
	}, discard())

	err := d.Dispatch(context.Background(), settled(winner("b1", 10)))
	if err == nil || !strings.Contains(err.Error(), "bad") {
		t.Fatalf("Dispatch() error = %v, want failure naming bad", err)
	}
	if good.count() != 1 || bad.count() != 1 {
		t.Fatalf("calls good=%d bad=%d, want 1 each", good.count(), bad.count())
	}
	if got := good.calls[0][0].Amount; !got.Equal(decimal.NewFromInt(30)) {
		t.Errorf("payout amount = %s, want 30", got)
	}
	if failures["bad"] != 1 || failures["good"] != 0 {
		t.Errorf("failures = %v", failures)
	}
}

func TestDispatchSkipsRoundsWithoutWinners(t *testing.T) {
	dist := &recordingDistributor{name: "d"}
	d := NewPayoutDispatcher(newSource(), PayoutDispatcherConfig{Distributors: []distribution.Distributor{dist}}, discard())
	if err := d.Dispatch(context.Background(), settled()); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if dist.count() != 0 {
		t.Errorf("distributor called %d times for a round with no winners", dist.count())
	}
}

func TestDispatchOncePerRoundUnderLock(t *testing.T) {
	dist := &recordingDistributor{name: "d"}
	locks := &memLocks{}
	d := NewPayoutDispatcher(newSource(), PayoutDispatcherConfig{
		Distributors: []distribution.Distributor{dist},
		Locks:        locks,
	}, discard())

	res := settled(winner("b1", 10))
	for i := 0; i < 3; i++ {
		if err := d.Dispatch(context.Background(), res); err != nil {
			t.Fatalf("Dispatch() #%d error = %v", i, err)
		}
	}
	if dist.count() != 1 {
		t.Errorf("distributor called %d times, want 1", dist.count())
	}
	if !locks.held["payout:r-1"] {
		t.Error("lock payout:r-1 was not taken")
	}
}

func TestPayoutDispatcherRun(t *testing.T) {
	bus := engine.NewBus(discard(), nil)
	dist := &recordingDistributor{name: "d"}
	d := NewPayoutDispatcher(busSource{bus}, PayoutDispatcherConfig{Distributors: []distribution.Distributor{dist}}, discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	waitFor(t, func() bool { return bus.Subscribers() == 1 })
	res := settled(winner("b1", 10))
	bus.Publish(engine.Event{Type: engine.EventBetPlaced, At: t0})
	bus.Publish(engine.Event{Type: engine.EventRoundSettled, At: t0, Result: &res})

	waitFor(t, func() bool { return dist.count() == 1 })
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() = %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type memCache struct{ quotes map[string]domain.Quote }

func (c *memCache) SetQuote(_ context.Context, q domain.Quote) error {
	c.quotes[q.Symbol] = q
	return nil
}

func (c *memCache) GetQuote(_ context.Context, symbol string) (domain.Quote, error) {
	q, ok := c.quotes[symbol]
	if !ok {
		return domain.Quote{}, domain.ErrNotFound
	}
	return q, nil
}

func (c *memCache) GetQuotes(_ context.Context, _ []string) (map[string]domain.Quote, error) {
	return c.quotes, nil
}

type published struct {
	channel string
	payload []byte
}

type memBus struct{ msgs []published }

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.msgs = append(b.msgs, published{channel, payload})
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }
func (b *memBus) StreamAppend(context.Context, string, []byte) error       { return nil }
func (b *memBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func TestQuoteMirrorHandle(t *testing.T) {
	cache := &memCache{quotes: map[string]domain.Quote{}}
	bus := &memBus{}
	m := NewQuoteMirror(newSource(), cache, bus, discard())
	ctx := context.Background()

	quotes := []domain.Quote{
		{Symbol: "BTC", Price: decimal.NewFromInt(60000)},
		{Symbol: "ETH", Price: decimal.NewFromInt(3000)},
	}
	m.Handle(ctx, engine.Event{Type: engine.EventPriceUpdate, At: t0, Quotes: quotes})
	rd := domain.Round{ID: "r-1", Symbol: "BTC"}
	m.Handle(ctx, engine.Event{Type: engine.EventRoundOpened, At: t0, Round: &rd})
	res := settled()
	m.Handle(ctx, engine.Event{Type: engine.EventRoundSettled, At: t0, Result: &res})

	if len(cache.quotes) != 2 {
		t.Errorf("cached %d quotes, want 2", len(cache.quotes))
	}
	wantChannels := []string{ChannelPrices, ChannelRounds, ChannelSettlements}
	if len(bus.msgs) != len(wantChannels) {
		t.Fatalf("published %d messages, want %d", len(bus.msgs), len(wantChannels))
	}
	for i, want := range wantChannels {
		if bus.msgs[i].channel != want {
			t.Errorf("message %d channel = %q, want %q", i, bus.msgs[i].channel, want)
		}
	}

	var ev struct {
		Type   string `json:"type"`
		Result struct {
			RoundID string `json:"round_id"`
		} `json:"result"`
	}
	if err := json.Unmarshal(bus.msgs[2].payload, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Type != "round_settled" || ev.Result.RoundID != "r-1" {
		t.Errorf("payload = %s", bus.msgs[2].payload)
	}
}

type memSettlements struct {
	inserted []domain.SettlementResult
	err      error
}

func (s *memSettlements) Insert(_ context.Context, res domain.SettlementResult) error {
	if s.err != nil {
		return s.err
	}
	s.inserted = append(s.inserted, res)
	return nil
}

func (s *memSettlements) GetByRoundID(context.Context, string) (domain.SettlementRecord, error) {
	return domain.SettlementRecord{}, domain.ErrNotFound
}

func (s *memSettlements) ListRecent(context.Context, string, domain.ListOpts) ([]domain.SettlementRecord, error) {
	return nil, nil
}

type memAudit struct{ entries []domain.AuditEntry }

func (a *memAudit) Log(_ context.Context, event string, detail map[string]any) error {
	a.entries = append(a.entries, domain.AuditEntry{Event: event, Detail: detail})
	return nil
}

func (a *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return a.entries, nil
}

func TestSettlementJournalHandle(t *testing.T) {
	tests := []struct {
		name       string
		storeErr   error
		wantRows   int
		wantAudits []string
	}{
		{"journals and audits", nil, 1, []string{AuditRoundOpened, AuditRoundSettled}},
		{"store failure skips settle audit", errors.New("db down"), 0, []string{AuditRoundOpened}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := &memSettlements{err: tc.storeErr}
			audit := &memAudit{}
			j := NewSettlementJournal(newSource(), store, audit, discard())

			rd := domain.Round{ID: "r-1", Symbol: "BTC", StartPrice: decimal.NewFromInt(100), EndTime: t0}
			res := settled(winner("b1", 10))
			j.Handle(context.Background(), engine.Event{Type: engine.EventRoundOpened, Round: &rd})
			j.Handle(context.Background(), engine.Event{Type: engine.EventRoundSettled, Result: &res})

			if len(store.inserted) != tc.wantRows {
				t.Errorf("inserted %d rows, want %d", len(store.inserted), tc.wantRows)
			}
			if len(audit.entries) != len(tc.wantAudits) {
				t.Fatalf("audit entries = %d, want %d", len(audit.entries), len(tc.wantAudits))
			}
			for i, want := range tc.wantAudits {
				if audit.entries[i].Event != want {
					t.Errorf("audit %d = %q, want %q", i, audit.entries[i].Event, want)
				}
			}
		})
	}
}

type memArchive struct {
	batches [][]domain.Round
}

func (a *memArchive) ArchiveRounds(_ context.Context, rounds []domain.Round, _ time.Time) (string, error) {
	a.batches = append(a.batches, rounds)
	return "rounds/2026-03-01/x.jsonl", nil
}

func TestRoundArchiverHandle(t *testing.T) {
	writer := &memArchive{}
	audit := &memAudit{}
	a := NewRoundArchiver(newSource(), writer, audit, discard())

	a.Handle(context.Background(), engine.Event{Type: engine.EventRoundsPruned, At: t0})
	pruned := []domain.Round{{ID: "r-1"}, {ID: "r-2"}}
	a.Handle(context.Background(), engine.Event{Type: engine.EventRoundsPruned, At: t0, Pruned: pruned})

	if len(writer.batches) != 1 || len(writer.batches[0]) != 2 {
		t.Fatalf("batches = %v, want one batch of 2", writer.batches)
	}
	if len(audit.entries) != 1 || audit.entries[0].Event != AuditRoundsArchive {
		t.Fatalf("audit = %+v", audit.entries)
	}
	ids, _ := audit.entries[0].Detail["round_ids"].([]string)
	if len(ids) != 2 || ids[0] != "r-1" {
		t.Errorf("round_ids = %v", audit.entries[0].Detail["round_ids"])
	}
}

type memSender struct{ titles []string }

func (s *memSender) Send(_ context.Context, title, _ string) error {
	s.titles = append(s.titles, title)
	return nil
}

func (s *memSender) Name() string { return "mem" }

func TestAnnouncerHandle(t *testing.T) {
	sender := &memSender{}
	n := notify.NewNotifier([]notify.Sender{sender}, []string{notify.EventRoundSettled}, discard())
	a := NewAnnouncer(newSource(), n, discard())

	rd := domain.Round{ID: "r-1", Symbol: "BTC", StartPrice: decimal.NewFromInt(100), EndTime: t0}
	res := settled(winner("b1", 10))
	a.Handle(context.Background(), engine.Event{Type: engine.EventRoundOpened, Round: &rd})
	a.Handle(context.Background(), engine.Event{Type: engine.EventRoundSettled, Result: &res})

	if len(sender.titles) != 1 || sender.titles[0] != "BTC settled up" {
		t.Errorf("titles = %v, want [BTC settled up]", sender.titles)
	}
}
