package engine

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// CurrentQuotes returns the latest quote per instrument in roster order.
func (e *Engine) CurrentQuotes() []domain.Quote {
	return e.feed.Quotes()
}

// Instruments returns the configured roster.
func (e *Engine) Instruments() []domain.Instrument {
	return e.feed.Instruments()
}

// ActiveRounds returns read-only snapshots of all active rounds.
func (e *Engine) ActiveRounds() []domain.Round {
	return e.reg.Active()
}

// EndedRounds returns snapshots of retained ended rounds, newest first.
func (e *Engine) EndedRounds() []domain.Round {
	return e.reg.Ended()
}

// Round returns a snapshot of any retained round.
func (e *Engine) Round(id string) (domain.Round, bool) {
	return e.reg.Get(id)
}

// ActiveRound returns the active round for symbol.
func (e *Engine) ActiveRound(symbol string) (domain.Round, bool) {
	return e.reg.GetActive(symbol)
}

// RoundCounts returns the number of active and retained ended rounds.
func (e *Engine) RoundCounts() (active, ended int) {
	return e.reg.Counts()
}

// PlaceBet validates and records a bet, publishing bet_placed on success.
// Rejections are returned as *domain.BetRejectedError.
func (e *Engine) PlaceBet(ctx context.Context, roundID, bettor string, dir domain.Direction, stake decimal.Decimal) (domain.Bet, error) {
	bet, err := e.ledger.PlaceBet(roundID, bettor, dir, stake)
	if err != nil {
		if reason, ok := domain.RejectionReason(err); ok {
			e.metrics.BetRejected(string(reason))
		}
		return domain.Bet{}, err
	}

	symbol := ""
	if rd, ok := e.reg.Get(roundID); ok {
		symbol = rd.Symbol
	}
	e.metrics.BetPlaced(symbol)
	e.bus.Publish(Event{Type: EventBetPlaced, At: bet.PlacedAt, Bet: &bet})
	e.logger.DebugContext(ctx, "bet placed",
		slog.String("bet_id", bet.ID),
		slog.String("round_id", roundID),
		slog.String("direction", string(dir)),
		slog.String("stake", stake.String()),
	)
	return bet, nil
}

// Settle ends a round immediately. Settling an ended round returns false
// and publishes nothing.
func (e *Engine) Settle(ctx context.Context, roundID string) (domain.SettlementResult, bool, error) {
	return e.settle(ctx, roundID)
}

// Subscribe registers a bus listener; see Bus.Subscribe.
func (e *Engine) Subscribe(name string, types ...EventType) *Subscription {
	return e.bus.Subscribe(name, e.cfg.Mailbox, types...)
}

// OnPriceUpdate calls fn with every published quote set until the returned
// cancel func is called or the engine stops.
func (e *Engine) OnPriceUpdate(fn func([]domain.Quote)) (cancel func()) {
	return e.on("on_price_update", EventPriceUpdate, func(ev Event) { fn(ev.Quotes) })
}

// OnRoundOpened calls fn for every opened round.
func (e *Engine) OnRoundOpened(fn func(domain.Round)) (cancel func()) {
	return e.on("on_round_opened", EventRoundOpened, func(ev Event) { fn(*ev.Round) })
}

// OnBetPlaced calls fn for every accepted bet.
func (e *Engine) OnBetPlaced(fn func(domain.Bet)) (cancel func()) {
	return e.on("on_bet_placed", EventBetPlaced, func(ev Event) { fn(*ev.Bet) })
}

// OnRoundSettled calls fn with every settlement result.
func (e *Engine) OnRoundSettled(fn func(domain.SettlementResult)) (cancel func()) {
	return e.on("on_round_settled", EventRoundSettled, func(ev Event) { fn(*ev.Result) })
}

func (e *Engine) on(name string, typ EventType, fn func(Event)) func() {
	sub := e.Subscribe(name, typ)
	go func() {
		for ev := range sub.C {
			fn(ev)
		}
	}()
	return sub.Close
}

// Subscribers returns the number of live bus subscriptions.
func (e *Engine) Subscribers() int {
	return e.bus.Subscribers()
}
