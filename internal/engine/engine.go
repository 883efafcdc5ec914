// Package engine runs the round lifecycle: it refreshes quotes, opens one
// round per instrument, accepts bets, settles rounds when they expire and
// publishes every state change on an event bus.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/pricing"
	"github.com/alanyoungcy/updownbot/internal/round"
)

// Config holds the game timings and stake bounds.
type Config struct {
	RoundDuration   time.Duration
	BettingCutoff   time.Duration
	RefreshInterval time.Duration
	RespawnInterval time.Duration
	Retention       time.Duration
	PruneInterval   time.Duration
	StartStagger    time.Duration
	MinStake        decimal.Decimal
	MaxStake        decimal.Decimal
	Mailbox         int
}

// DefaultConfig returns the standard game timings.
func DefaultConfig() Config {
	return Config{
		RoundDuration:   5 * time.Minute,
		BettingCutoff:   60 * time.Second,
		RefreshInterval: 30 * time.Second,
		RespawnInterval: 3 * time.Minute,
		Retention:       time.Hour,
		PruneInterval:   5 * time.Minute,
		StartStagger:    10 * time.Second,
		Mailbox:         DefaultMailbox,
	}
}

// Recorder receives engine metrics. All methods must be safe for concurrent use.
type Recorder interface {
	RoundOpened(symbol string)
	RoundSettled(symbol string, winners int, lag time.Duration)
	SettleFailed(symbol string)
	BetPlaced(symbol string)
	BetRejected(reason string)
	RoundsPruned(n int)
	ActiveRounds(n int)
	EventDropped(subscriber string, typ EventType)
}

type noopRecorder struct{}

func (noopRecorder) RoundOpened(string)                      {}
func (noopRecorder) RoundSettled(string, int, time.Duration) {}
func (noopRecorder) SettleFailed(string)                     {}
func (noopRecorder) BetPlaced(string)                        {}
func (noopRecorder) BetRejected(string)                      {}
func (noopRecorder) RoundsPruned(int)                        {}
func (noopRecorder) ActiveRounds(int)                        {}
func (noopRecorder) EventDropped(string, EventType)          {}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now for round timings and bet cutoffs.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithRecorder reports engine activity to r.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.metrics = r
		}
	}
}

// Engine owns the round registry and drives the round lifecycle. Create one
// with New and start it with Run.
type Engine struct {
	cfg     Config
	feed    *pricing.Feed
	reg     *round.Registry
	ledger  *round.Ledger
	settler *round.Settler
	queue   *round.ExpiryQueue
	bus     *Bus
	now     func() time.Time
	metrics Recorder
	logger  *slog.Logger
	wake    chan struct{}
}

// New creates an Engine reading quotes from feed.
func New(cfg Config, feed *pricing.Feed, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		cfg:     cfg,
		feed:    feed,
		reg:     round.NewRegistry(),
		queue:   round.NewExpiryQueue(),
		now:     time.Now,
		metrics: noopRecorder{},
		logger:  logger.With(slog.String("component", "engine")),
		wake:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.bus = NewBus(logger, e.metrics)
	e.ledger = round.NewLedger(e.reg, round.LedgerConfig{
		Cutoff:   cfg.BettingCutoff,
		MinStake: cfg.MinStake,
		MaxStake: cfg.MaxStake,
	}, e.now)
	e.settler = round.NewSettler(e.reg, feed, e.now)
	return e
}

// Bus returns the engine's event bus.
func (e *Engine) Bus() *Bus { return e.bus }

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// Run performs an initial quote refresh, schedules the staggered opening of
// one round per instrument, then runs the scheduling, refresh and pruning
// loops until ctx is cancelled. The bus is closed on return.
func (e *Engine) Run(ctx context.Context) error {
	defer e.bus.Close()

	e.Refresh(ctx)
	e.ScheduleInitial()

	e.logger.InfoContext(ctx, "engine started",
		slog.Int("instruments", len(e.feed.Instruments())),
		slog.Duration("round_duration", e.cfg.RoundDuration),
		slog.Duration("betting_cutoff", e.cfg.BettingCutoff),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.scheduleLoop(gctx) })
	g.Go(func() error { return e.refreshLoop(gctx) })
	g.Go(func() error { return e.pruneLoop(gctx) })
	err := g.Wait()

	e.logger.Info("engine stopped")
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("engine: %w", err)
	}
	return nil
}

// ScheduleInitial queues one round open per instrument, staggered by
// StartStagger per roster index.
func (e *Engine) ScheduleInitial() {
	now := e.now()
	for i, inst := range e.feed.Instruments() {
		e.push(round.Task{
			At:   now.Add(time.Duration(i) * e.cfg.StartStagger),
			Kind: round.TaskOpen,
			Key:  inst.Symbol,
		})
	}
}

func (e *Engine) push(t round.Task) {
	e.queue.Push(t)
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// idleWait bounds how long the scheduler sleeps when nothing is queued.
const idleWait = time.Minute

func (e *Engine) scheduleLoop(ctx context.Context) error {
	respawn := time.NewTicker(e.cfg.RespawnInterval)
	defer respawn.Stop()
	timer := time.NewTimer(idleWait)
	defer timer.Stop()

	for {
		e.RunDue(ctx)

		wait := idleWait
		if next, ok := e.queue.Peek(); ok {
			wait = max(next.At.Sub(e.now()), 0)
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		case <-e.wake:
		case <-respawn.C:
			e.Respawn(ctx)
		}
	}
}

func (e *Engine) refreshLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.Refresh(ctx)
		}
	}
}

func (e *Engine) pruneLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.PruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.Prune(ctx)
		}
	}
}

// Refresh updates quotes, publishes price_update and settles any active
// round whose end time has passed.
func (e *Engine) Refresh(ctx context.Context) []domain.Quote {
	quotes := e.feed.Refresh(ctx)
	e.bus.Publish(Event{Type: EventPriceUpdate, At: e.now(), Quotes: quotes})

	for _, id := range e.reg.Due(e.now()) {
		e.settle(ctx, id)
	}
	return quotes
}

// RunDue executes every queued open and expiry whose deadline has passed.
func (e *Engine) RunDue(ctx context.Context) {
	for _, t := range e.queue.PopDue(e.now()) {
		switch t.Kind {
		case round.TaskOpen:
			e.open(ctx, t.Key)
		case round.TaskExpire:
			e.settle(ctx, t.Key)
		}
	}
}

// Respawn opens a round now for every instrument that has none.
func (e *Engine) Respawn(ctx context.Context) {
	for _, inst := range e.feed.Instruments() {
		if _, ok := e.reg.GetActive(inst.Symbol); ok {
			continue
		}
		e.open(ctx, inst.Symbol)
	}
}

// Prune discards ended rounds older than the retention window and publishes
// them as rounds_pruned.
func (e *Engine) Prune(ctx context.Context) []domain.Round {
	removed := e.reg.PruneEnded(e.now(), e.cfg.Retention)
	if len(removed) == 0 {
		return nil
	}
	e.metrics.RoundsPruned(len(removed))
	e.bus.Publish(Event{Type: EventRoundsPruned, At: e.now(), Pruned: removed})
	e.logger.DebugContext(ctx, "pruned ended rounds", slog.Int("count", len(removed)))
	return removed
}

func (e *Engine) open(ctx context.Context, symbol string) {
	q, ok := e.feed.Quote(symbol)
	if !ok {
		e.logger.WarnContext(ctx, "no quote yet, skipping round open", slog.String("symbol", symbol))
		return
	}

	rd, err := e.reg.Open(symbol, q.Price, e.now(), e.cfg.RoundDuration)
	if errors.Is(err, domain.ErrActiveRoundExists) {
		return
	}
	if err != nil {
		e.logger.ErrorContext(ctx, "open round failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		return
	}

	e.push(round.Task{At: rd.EndTime, Kind: round.TaskExpire, Key: rd.ID})
	e.metrics.RoundOpened(symbol)
	e.reportActive()
	e.bus.Publish(Event{Type: EventRoundOpened, At: rd.StartTime, Round: &rd})

	e.logger.InfoContext(ctx, "round opened",
		slog.String("round_id", rd.ID),
		slog.String("symbol", symbol),
		slog.String("start_price", rd.StartPrice.String()),
		slog.Time("end_time", rd.EndTime),
	)
}

func (e *Engine) settle(ctx context.Context, roundID string) (domain.SettlementResult, bool, error) {
	res, settled, err := e.settler.Settle(roundID)
	if err != nil {
		symbol := ""
		if rd, ok := e.reg.Get(roundID); ok {
			symbol = rd.Symbol
		}
		e.metrics.SettleFailed(symbol)
		e.logger.WarnContext(ctx, "settlement deferred",
			slog.String("round_id", roundID),
			slog.String("error", err.Error()),
		)
		return res, false, err
	}
	if !settled {
		return res, false, nil
	}

	e.metrics.RoundSettled(res.Symbol, len(res.Winners), res.SettledAt.Sub(res.EndTime))
	e.reportActive()
	e.bus.Publish(Event{Type: EventRoundSettled, At: res.SettledAt, Result: &res})

	e.logger.InfoContext(ctx, "round settled",
		slog.String("round_id", res.RoundID),
		slog.String("symbol", res.Symbol),
		slog.String("winning_direction", string(res.WinningDirection)),
		slog.String("end_price", res.EndPrice.String()),
		slog.String("total_pool", res.TotalPool.String()),
		slog.String("multiplier", res.PayoutMultiplier.String()),
		slog.Int("winners", len(res.Winners)),
	)
	return res, true, nil
}

func (e *Engine) reportActive() {
	active, _ := e.reg.Counts()
	e.metrics.ActiveRounds(active)
}
