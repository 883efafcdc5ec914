package handler

import (
	"net/http"
	"strings"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// QuoteSource supplies the latest quotes.
type QuoteSource interface {
	CurrentQuotes() []domain.Quote
}

// QuoteHandler serves the latest instrument quotes.
type QuoteHandler struct {
	quotes QuoteSource
}

// NewQuoteHandler creates a QuoteHandler.
func NewQuoteHandler(quotes QuoteSource) *QuoteHandler {
	return &QuoteHandler{quotes: quotes}
}

type quotesResponse struct {
	Quotes []domain.Quote `json:"quotes"`
}

// ListQuotes returns the latest quote per instrument, optionally filtered by
// a comma-separated symbols list.
// GET /api/quotes?symbols=BTC,ETH
func (h *QuoteHandler) ListQuotes(w http.ResponseWriter, r *http.Request) {
	all := h.quotes.CurrentQuotes()

	want := map[string]bool{}
	for _, s := range strings.Split(r.URL.Query().Get("symbols"), ",") {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			want[s] = true
		}
	}

	out := make([]domain.Quote, 0, len(all))
	for _, q := range all {
		if len(want) == 0 || want[q.Symbol] {
			out = append(out, q)
		}
	}
	writeJSON(w, http.StatusOK, quotesResponse{Quotes: out})
}
