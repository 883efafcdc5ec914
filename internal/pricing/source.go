// Package pricing maintains the current quote for every instrument in the
// roster. Quotes come from an ordered chain of sources; each source only sees
// the instruments the previous ones could not price, and the synthetic source
// at the end of the chain always fills the rest.
package pricing

import (
	"context"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// Source produces quotes for a set of instruments. prev holds the last known
// quote per symbol and may be empty. Returned quotes are keyed by symbol; a
// source may omit instruments it cannot price.
type Source interface {
	Name() string
	Fetch(ctx context.Context, instruments []domain.Instrument, prev map[string]domain.Quote, now time.Time) (map[string]domain.Quote, error)
}

// Observer receives refresh outcomes, typically for metrics.
type Observer interface {
	QuotesFetched(source string, n int)
	SourceFailed(source string)
}

type noopObserver struct{}

func (noopObserver) QuotesFetched(string, int) {}
func (noopObserver) SourceFailed(string)       {}
