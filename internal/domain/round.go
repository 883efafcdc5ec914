package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the side of a wager.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// ParseDirection accepts "up" or "down" in any case.
func ParseDirection(s string) (Direction, bool) {
	d := Direction(strings.ToLower(strings.TrimSpace(s)))
	return d, d.Valid()
}

// Valid reports whether d is one of the known directions.
func (d Direction) Valid() bool {
	return d == DirectionUp || d == DirectionDown
}

// RoundStatus is the lifecycle state of a round.
type RoundStatus string

const (
	RoundStatusActive RoundStatus = "active"
	RoundStatusEnded  RoundStatus = "ended"
)

// Round is one timed betting window on an instrument.
type Round struct {
	ID         string              `json:"id"`
	Symbol     string              `json:"symbol"`
	StartPrice decimal.Decimal     `json:"start_price"`
	EndPrice   decimal.NullDecimal `json:"end_price"`
	StartTime  time.Time           `json:"start_time"`
	EndTime    time.Time           `json:"end_time"`
	Status     RoundStatus         `json:"status"`
	SettledAt  *time.Time          `json:"settled_at,omitempty"`
	Bets       []Bet               `json:"bets"`
}

// Clone returns a deep copy of the round.
func (r Round) Clone() Round {
	c := r
	if r.Bets != nil {
		c.Bets = make([]Bet, len(r.Bets))
		copy(c.Bets, r.Bets)
	}
	return c
}

// Pool returns the total staked on each side.
func (r Round) Pool() (up, down decimal.Decimal) {
	for _, b := range r.Bets {
		if b.Direction == DirectionUp {
			up = up.Add(b.Stake)
		} else {
			down = down.Add(b.Stake)
		}
	}
	return up, down
}

// EndedAt returns when the round actually ended: its settlement time, or its
// deadline while it has not been settled.
func (r Round) EndedAt() time.Time {
	if r.SettledAt != nil {
		return *r.SettledAt
	}
	return r.EndTime
}

// TimeLeft returns how long until the round's deadline, never negative.
func (r Round) TimeLeft(now time.Time) time.Duration {
	d := r.EndTime.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Bet is an immutable wager on a round.
type Bet struct {
	ID        string          `json:"id"`
	RoundID   string          `json:"round_id"`
	Bettor    string          `json:"bettor"`
	Direction Direction       `json:"direction"`
	Stake     decimal.Decimal `json:"stake"`
	PlacedAt  time.Time       `json:"placed_at"`
}

// PayoutPrecision is the number of decimal places payouts are truncated to.
const PayoutPrecision = 8

// SettlementResult is the outcome of settling a round. It is produced once
// per round and never modified.
type SettlementResult struct {
	RoundID          string          `json:"round_id"`
	Symbol           string          `json:"symbol"`
	WinningDirection Direction       `json:"winning_direction"`
	StartPrice       decimal.Decimal `json:"start_price"`
	EndPrice         decimal.Decimal `json:"end_price"`
	TotalPool        decimal.Decimal `json:"total_pool"`
	WinningPool      decimal.Decimal `json:"winning_pool"`
	Winners          []Bet           `json:"winners"`
	PayoutMultiplier decimal.Decimal `json:"payout_multiplier"`
	EndTime          time.Time       `json:"end_time"`
	SettledAt        time.Time       `json:"settled_at"`
}

// Payout is the amount owed to a single winning bet.
type Payout struct {
	BetID   string          `json:"bet_id"`
	RoundID string          `json:"round_id"`
	Bettor  string          `json:"bettor"`
	Stake   decimal.Decimal `json:"stake"`
	Amount  decimal.Decimal `json:"amount"`
}

// Payouts computes stake × multiplier for every winner, truncated to
// PayoutPrecision places. Empty when there are no winners.
func (s SettlementResult) Payouts() []Payout {
	if len(s.Winners) == 0 {
		return nil
	}
	out := make([]Payout, 0, len(s.Winners))
	for _, w := range s.Winners {
		out = append(out, Payout{
			BetID:   w.ID,
			RoundID: s.RoundID,
			Bettor:  w.Bettor,
			Stake:   w.Stake,
			Amount:  w.Stake.Mul(s.PayoutMultiplier).Truncate(PayoutPrecision),
		})
	}
	return out
}
