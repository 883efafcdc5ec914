package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Instrument is a tradable asset in the game roster.
type Instrument struct {
	Symbol     string          // e.g. "BTC"
	Name       string          // display name, e.g. "Bitcoin"
	ProviderID string          // id used by the quote provider, e.g. "bitcoin"
	BasePrice  decimal.Decimal // seed price for synthetic quotes
}

// Quote is the latest observed price for an instrument. Quotes are replaced
// wholesale on every refresh and never mutated in place.
type Quote struct {
	Symbol    string          `json:"symbol"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Change24h float64         `json:"change_24h"`
	MarketCap float64         `json:"market_cap"`
	Volume24h float64         `json:"volume_24h"`
	Source    string          `json:"source"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ProviderQuote is a raw quote returned by an upstream market data provider,
// keyed by provider id rather than symbol.
type ProviderQuote struct {
	Price     float64
	Change24h float64
	MarketCap float64
	Volume24h float64
}
