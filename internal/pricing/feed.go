package pricing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// DefaultHistoryLen is the number of observations kept per instrument.
const DefaultHistoryLen = 64

// Feed holds the latest quote per instrument and a short history used to
// resolve the price at a past instant. It is safe for concurrent use.
type Feed struct {
	instruments []domain.Instrument
	sources     []Source
	historyLen  int
	now         func() time.Time
	observer    Observer
	logger      *slog.Logger

	mu      sync.RWMutex
	current map[string]domain.Quote
	history map[string][]domain.Quote
}

// FeedOption configures a Feed.
type FeedOption func(*Feed)

// WithHistoryLen sets the per-instrument history length.
func WithHistoryLen(n int) FeedOption {
	return func(f *Feed) {
		if n > 0 {
			f.historyLen = n
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) FeedOption {
	return func(f *Feed) {
		if now != nil {
			f.now = now
		}
	}
}

// WithObserver reports refresh outcomes to o.
func WithObserver(o Observer) FeedOption {
	return func(f *Feed) {
		if o != nil {
			f.observer = o
		}
	}
}

// NewFeed creates a Feed for the roster. sources are tried in order on every
// refresh; the last one should be a SyntheticSource so that every instrument
// always gets a quote.
func NewFeed(instruments []domain.Instrument, sources []Source, logger *slog.Logger, opts ...FeedOption) *Feed {
	f := &Feed{
		instruments: instruments,
		sources:     sources,
		historyLen:  DefaultHistoryLen,
		now:         time.Now,
		observer:    noopObserver{},
		logger:      logger.With(slog.String("component", "price_feed")),
		current:     make(map[string]domain.Quote, len(instruments)),
		history:     make(map[string][]domain.Quote, len(instruments)),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Instruments returns the roster.
func (f *Feed) Instruments() []domain.Instrument {
	out := make([]domain.Instrument, len(f.instruments))
	copy(out, f.instruments)
	return out
}

// Refresh runs the source chain and replaces the current quote set. It never
// fails: a source error is logged and the next source backfills. The result
// is in roster order.
func (f *Feed) Refresh(ctx context.Context) []domain.Quote {
	now := f.now()

	f.mu.RLock()
	prev := make(map[string]domain.Quote, len(f.current))
	for k, v := range f.current {
		prev[k] = v
	}
	f.mu.RUnlock()

	next := make(map[string]domain.Quote, len(f.instruments))
	missing := f.instruments
	for _, src := range f.sources {
		if len(missing) == 0 {
			break
		}
		got, err := src.Fetch(ctx, missing, prev, now)
		if err != nil {
			f.observer.SourceFailed(src.Name())
			f.logger.WarnContext(ctx, "price source failed, falling back",
				slog.String("source", src.Name()),
				slog.Int("instruments", len(missing)),
				slog.String("error", err.Error()),
			)
			continue
		}

		var still []domain.Instrument
		n := 0
		for _, inst := range missing {
			q, ok := got[inst.Symbol]
			if !ok || !q.Price.IsPositive() {
				still = append(still, inst)
				continue
			}
			q.Symbol = inst.Symbol
			if q.Name == "" {
				q.Name = inst.Name
			}
			if q.UpdatedAt.IsZero() {
				q.UpdatedAt = now
			}
			next[inst.Symbol] = q
			n++
		}
		if n > 0 {
			f.observer.QuotesFetched(src.Name(), n)
		}
		if len(still) > 0 {
			f.logger.DebugContext(ctx, "price source incomplete",
				slog.String("source", src.Name()),
				slog.Int("missing", len(still)),
			)
		}
		missing = still
	}

	if len(missing) > 0 {
		f.logger.ErrorContext(ctx, "no source priced instruments, keeping previous quotes",
			slog.Int("missing", len(missing)),
		)
		for _, inst := range missing {
			if q, ok := prev[inst.Symbol]; ok {
				next[inst.Symbol] = q
			}
		}
	}

	f.mu.Lock()
	for sym, q := range next {
		if old, ok := f.current[sym]; ok && old.UpdatedAt.Equal(q.UpdatedAt) {
			continue
		}
		h := append(f.history[sym], q)
		if len(h) > f.historyLen {
			h = h[len(h)-f.historyLen:]
		}
		f.history[sym] = h
	}
	f.current = next
	f.mu.Unlock()

	return f.ordered(next)
}

// Quote returns the latest quote for symbol.
func (f *Feed) Quote(symbol string) (domain.Quote, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	q, ok := f.current[symbol]
	return q, ok
}

// Quotes returns the latest quotes in roster order.
func (f *Feed) Quotes() []domain.Quote {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.ordered(f.current)
}

// QuoteAt returns the latest observation for symbol taken at or before t.
// When every retained observation is later than t, the oldest one is
// returned.
func (f *Feed) QuoteAt(symbol string, t time.Time) (domain.Quote, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	h := f.history[symbol]
	if len(h) == 0 {
		return domain.Quote{}, false
	}
	for i := len(h) - 1; i >= 0; i-- {
		if !h[i].UpdatedAt.After(t) {
			return h[i], true
		}
	}
	return h[0], true
}

func (f *Feed) ordered(m map[string]domain.Quote) []domain.Quote {
	out := make([]domain.Quote, 0, len(m))
	for _, inst := range f.instruments {
		if q, ok := m[inst.Symbol]; ok {
			out = append(out, q)
		}
	}
	return out
}
