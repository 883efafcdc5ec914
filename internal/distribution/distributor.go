// Package distribution hands settled payouts to whatever moves the funds.
// Distributors are fire-and-forget sinks: their outcome never feeds back
// into round or bet state.
package distribution

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// Distributor delivers the payouts of one settled round.
type Distributor interface {
	DistributeWinnings(ctx context.Context, roundID string, payouts []domain.Payout) error
	// Name identifies the distributor in logs and metrics.
	Name() string
}

// Batch is the wire form of one round's payouts.
type Batch struct {
	RoundID string          `json:"round_id"`
	Total   decimal.Decimal `json:"total"`
	Payouts []domain.Payout `json:"payouts"`
	SentAt  time.Time       `json:"sent_at"`
}

// NewBatch builds a Batch and sums its payout amounts.
func NewBatch(roundID string, payouts []domain.Payout, now time.Time) Batch {
	total := decimal.Zero
	for _, p := range payouts {
		total = total.Add(p.Amount)
	}
	if payouts == nil {
		payouts = []domain.Payout{}
	}
	return Batch{RoundID: roundID, Total: total, Payouts: payouts, SentAt: now.UTC()}
}

// LogDistributor only logs payouts. It stands in for a real distributor when
// the engine runs without external infrastructure.
type LogDistributor struct {
	logger *slog.Logger
}

// NewLogDistributor creates a LogDistributor.
func NewLogDistributor(logger *slog.Logger) *LogDistributor {
	return &LogDistributor{logger: logger.With(slog.String("component", "payout_log"))}
}

// DistributeWinnings logs one line per payout.
func (d *LogDistributor) DistributeWinnings(ctx context.Context, roundID string, payouts []domain.Payout) error {
	for _, p := range payouts {
		d.logger.InfoContext(ctx, "payout",
			slog.String("round_id", roundID),
			slog.String("bet_id", p.BetID),
			slog.String("bettor", p.Bettor),
			slog.String("stake", p.Stake.String()),
			slog.String("amount", p.Amount.String()),
		)
	}
	return nil
}

// Name returns "log".
func (d *LogDistributor) Name() string { return "log" }
