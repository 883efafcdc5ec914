package round

import (
	"errors"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// LedgerConfig holds the bet acceptance rules.
type LedgerConfig struct {
	Cutoff   time.Duration   // no bets once EndTime - now is below this
	MinStake decimal.Decimal // zero disables the check
	MaxStake decimal.Decimal // zero means unbounded
}

// Ledger validates and records bets against rounds in a Registry.
type Ledger struct {
	reg   *Registry
	cfg   LedgerConfig
	now   func() time.Time
	newID func() string
}

// NewLedger creates a Ledger. A nil clock defaults to time.Now.
func NewLedger(reg *Registry, cfg LedgerConfig, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{reg: reg, cfg: cfg, now: now, newID: uuid.NewString}
}

// PlaceBet records a wager on roundID. The checks run in order and the first
// failure is returned as a *domain.BetRejectedError: the round must exist, be
// active, still be before the betting cutoff, and the stake must be positive.
// Direction, bettor and stake bounds are checked after those.
func (l *Ledger) PlaceBet(roundID, bettor string, dir domain.Direction, stake decimal.Decimal) (domain.Bet, error) {
	var bet domain.Bet
	err := l.reg.update(roundID, func(rd *domain.Round) error {
		now := l.now()
		if reason, ok := l.check(rd, now, bettor, dir, stake); !ok {
			return &domain.BetRejectedError{Reason: reason, RoundID: roundID}
		}
		bet = domain.Bet{
			ID:        l.newID(),
			RoundID:   rd.ID,
			Bettor:    NormalizeBettor(bettor),
			Direction: dir,
			Stake:     stake,
			PlacedAt:  now,
		}
		rd.Bets = append(rd.Bets, bet)
		return nil
	})
	if errors.Is(err, domain.ErrRoundNotFound) {
		return domain.Bet{}, &domain.BetRejectedError{Reason: domain.RejectRoundNotFound, RoundID: roundID}
	}
	if err != nil {
		return domain.Bet{}, err
	}
	return bet, nil
}

func (l *Ledger) check(rd *domain.Round, now time.Time, bettor string, dir domain.Direction, stake decimal.Decimal) (domain.RejectReason, bool) {
	switch {
	case rd.Status != domain.RoundStatusActive:
		return domain.RejectRoundClosed, false
	case rd.EndTime.Sub(now) < l.cfg.Cutoff:
		return domain.RejectBettingClosed, false
	case !stake.IsPositive():
		return domain.RejectInvalidStake, false
	case !dir.Valid():
		return domain.RejectInvalidDirection, false
	case NormalizeBettor(bettor) == "":
		return domain.RejectInvalidBettor, false
	case l.cfg.MinStake.IsPositive() && stake.LessThan(l.cfg.MinStake):
		return domain.RejectStakeBelowMinimum, false
	case l.cfg.MaxStake.IsPositive() && stake.GreaterThan(l.cfg.MaxStake):
		return domain.RejectStakeAboveMaximum, false
	}
	return "", true
}

// NormalizeBettor trims the bettor identity and rewrites hex wallet addresses
// in EIP-55 checksum form. Other identities are kept as given.
func NormalizeBettor(s string) string {
	s = strings.TrimSpace(s)
	if common.IsHexAddress(s) {
		return common.HexToAddress(s).Hex()
	}
	return s
}
