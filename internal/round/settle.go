package round

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// multiplierPrecision is the number of decimal places kept when dividing the
// total pool by the winning pool.
const multiplierPrecision = 18

// Settle computes the pari-mutuel outcome of rd closing at endPrice. It is a
// pure function of its inputs.
//
// The round is won by "up" only when the end price is strictly greater than
// the start price; an unchanged price resolves to "down". When nobody backed
// the winning side the multiplier is zero and there are no winners.
func Settle(rd domain.Round, endPrice decimal.Decimal, settledAt time.Time) domain.SettlementResult {
	winner := domain.DirectionDown
	if endPrice.GreaterThan(rd.StartPrice) {
		winner = domain.DirectionUp
	}

	total := decimal.Zero
	winning := decimal.Zero
	winners := []domain.Bet{}
	for _, b := range rd.Bets {
		total = total.Add(b.Stake)
		if b.Direction == winner {
			winning = winning.Add(b.Stake)
			winners = append(winners, b)
		}
	}

	multiplier := decimal.Zero
	if winning.IsPositive() {
		multiplier = total.DivRound(winning, multiplierPrecision)
	} else {
		winners = []domain.Bet{}
	}

	return domain.SettlementResult{
		RoundID:          rd.ID,
		Symbol:           rd.Symbol,
		WinningDirection: winner,
		StartPrice:       rd.StartPrice,
		EndPrice:         endPrice,
		TotalPool:        total,
		WinningPool:      winning,
		Winners:          winners,
		PayoutMultiplier: multiplier,
		EndTime:          rd.EndTime,
		SettledAt:        settledAt,
	}
}

// QuoteHistory resolves the price of an instrument at a point in time.
type QuoteHistory interface {
	QuoteAt(symbol string, t time.Time) (domain.Quote, bool)
}

// Settler closes rounds against the quote observed at their end time, so a
// late timer still settles at the price the round was meant to close on.
type Settler struct {
	reg    *Registry
	quotes QuoteHistory
	now    func() time.Time
}

// NewSettler creates a Settler. A nil clock defaults to time.Now.
func NewSettler(reg *Registry, quotes QuoteHistory, now func() time.Time) *Settler {
	if now == nil {
		now = time.Now
	}
	return &Settler{reg: reg, quotes: quotes, now: now}
}

// Settle ends the round and returns its result. Settling a round that has
// already ended returns false and no error. When no quote is available the
// round stays active and ErrNoQuote is returned.
func (s *Settler) Settle(roundID string) (domain.SettlementResult, bool, error) {
	rd, ok := s.reg.Get(roundID)
	if !ok {
		return domain.SettlementResult{}, false, fmt.Errorf("round: settle %s: %w", roundID, domain.ErrRoundNotFound)
	}
	if rd.Status == domain.RoundStatusEnded {
		return domain.SettlementResult{}, false, nil
	}

	q, ok := s.quotes.QuoteAt(rd.Symbol, rd.EndTime)
	if !ok {
		return domain.SettlementResult{}, false, fmt.Errorf("round: settle %s: %w", roundID, domain.ErrNoQuote)
	}
	return s.reg.Finalize(roundID, q.Price, s.now())
}
