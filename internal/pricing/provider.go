package pricing

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// QuoteProvider is an upstream market data API keyed by provider id.
type QuoteProvider interface {
	FetchQuotes(ctx context.Context, ids []string) (map[string]domain.ProviderQuote, error)
}

// ProviderSource adapts a QuoteProvider to the Source interface.
type ProviderSource struct {
	name     string
	provider QuoteProvider
}

// NewProviderSource wraps provider under the given source name.
func NewProviderSource(name string, provider QuoteProvider) *ProviderSource {
	return &ProviderSource{name: name, provider: provider}
}

// Name implements Source.
func (p *ProviderSource) Name() string { return p.name }

// Fetch implements Source with a single batched provider call.
func (p *ProviderSource) Fetch(ctx context.Context, instruments []domain.Instrument, _ map[string]domain.Quote, now time.Time) (map[string]domain.Quote, error) {
	ids := make([]string, 0, len(instruments))
	for _, inst := range instruments {
		ids = append(ids, inst.ProviderID)
	}

	raw, err := p.provider.FetchQuotes(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("pricing: %s fetch: %w", p.name, err)
	}

	out := make(map[string]domain.Quote, len(raw))
	for _, inst := range instruments {
		pq, ok := raw[inst.ProviderID]
		if !ok || pq.Price <= 0 {
			continue
		}
		out[inst.Symbol] = domain.Quote{
			Symbol:    inst.Symbol,
			Name:      inst.Name,
			Price:     decimal.NewFromFloat(pq.Price),
			Change24h: pq.Change24h,
			MarketCap: pq.MarketCap,
			Volume24h: pq.Volume24h,
			Source:    p.name,
			UpdatedAt: now,
		}
	}
	return out, nil
}
