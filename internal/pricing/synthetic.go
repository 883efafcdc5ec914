package pricing

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// SyntheticName is the Source name of SyntheticSource quotes.
const SyntheticName = "synthetic"

const pricePlaces = 8

var minPrice = decimal.New(1, -pricePlaces)

// SyntheticSource generates seeded pseudo-random quotes. With a previous
// quote it moves the price by a uniform random percentage within
// ±MaxDriftPct; without one it starts from the instrument's base price with
// ±BaseVariancePct variance. It prices every instrument and never fails.
type SyntheticSource struct {
	maxDrift     float64
	baseVariance float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSyntheticSource creates a source. Percentages are given as e.g. 2 for 2%.
// Zero values default to 2% drift and 1% base variance.
func NewSyntheticSource(seed int64, maxDriftPct, baseVariancePct float64) *SyntheticSource {
	if maxDriftPct <= 0 {
		maxDriftPct = 2
	}
	if baseVariancePct <= 0 {
		baseVariancePct = 1
	}
	return &SyntheticSource{
		maxDrift:     maxDriftPct / 100,
		baseVariance: baseVariancePct / 100,
		rng:          rand.New(rand.NewSource(seed)),
	}
}

// Name implements Source.
func (s *SyntheticSource) Name() string { return SyntheticName }

// Fetch implements Source.
func (s *SyntheticSource) Fetch(_ context.Context, instruments []domain.Instrument, prev map[string]domain.Quote, now time.Time) (map[string]domain.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]domain.Quote, len(instruments))
	for _, inst := range instruments {
		q := domain.Quote{
			Symbol:    inst.Symbol,
			Name:      inst.Name,
			Source:    SyntheticName,
			UpdatedAt: now,
		}
		if p, ok := prev[inst.Symbol]; ok && p.Price.IsPositive() {
			q.Price = s.nudge(p.Price, s.maxDrift)
			q.Change24h = p.Change24h
			q.MarketCap = p.MarketCap
			q.Volume24h = p.Volume24h
		} else {
			base := inst.BasePrice
			if !base.IsPositive() {
				base = decimal.NewFromInt(1)
			}
			q.Price = s.nudge(base, s.baseVariance)
		}
		out[inst.Symbol] = q
	}
	return out, nil
}

// nudge moves price by a uniform random fraction in [-pct, +pct], keeping the
// result within those bounds after rounding and strictly positive.
func (s *SyntheticSource) nudge(price decimal.Decimal, pct float64) decimal.Decimal {
	u := (s.rng.Float64()*2 - 1) * pct
	next := price.Mul(decimal.NewFromFloat(1 + u)).Round(pricePlaces)

	span := decimal.NewFromFloat(pct)
	lo := price.Mul(decimal.NewFromInt(1).Sub(span))
	hi := price.Mul(decimal.NewFromInt(1).Add(span))
	if next.GreaterThan(hi) {
		next = hi
	}
	if next.LessThan(lo) {
		next = lo
	}
	if !next.IsPositive() {
		next = minPrice
	}
	return next
}
