// Package round owns the in-memory state of betting rounds: the registry of
// rounds per instrument, the bet ledger, settlement and the time-ordered
// scheduling queue.
package round

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// entry guards a single round. The registry lock is always taken before an
// entry lock, never the other way round.
type entry struct {
	mu    sync.Mutex
	round domain.Round
}

// Registry holds every live and recently ended round. At most one round per
// instrument is active at a time. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	rounds map[string]*entry // by round id
	active map[string]string // symbol -> active round id
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{
		rounds: make(map[string]*entry),
		active: make(map[string]string),
	}
}

// Open creates a new active round for symbol. The existence check and insert
// are atomic, so two concurrent opens for the same instrument cannot both
// succeed.
func (r *Registry) Open(symbol string, startPrice decimal.Decimal, start time.Time, duration time.Duration) (domain.Round, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.active[symbol]; ok {
		return domain.Round{}, fmt.Errorf("round: open %s (active %s): %w", symbol, id, domain.ErrActiveRoundExists)
	}

	id := r.uniqueID(symbol, start)
	rd := domain.Round{
		ID:         id,
		Symbol:     symbol,
		StartPrice: startPrice,
		StartTime:  start,
		EndTime:    start.Add(duration),
		Status:     domain.RoundStatusActive,
	}
	r.rounds[id] = &entry{round: rd}
	r.active[symbol] = id
	return rd.Clone(), nil
}

// uniqueID derives the round id from symbol and start time, appending a
// counter when two rounds for the same symbol start in the same millisecond.
// Caller holds r.mu.
func (r *Registry) uniqueID(symbol string, start time.Time) string {
	base := fmt.Sprintf("%s-%d", symbol, start.UnixMilli())
	id := base
	for n := 2; ; n++ {
		if _, taken := r.rounds[id]; !taken {
			return id
		}
		id = fmt.Sprintf("%s-%d", base, n)
	}
}

// Get returns a snapshot of the round with the given id.
func (r *Registry) Get(id string) (domain.Round, bool) {
	r.mu.RLock()
	e, ok := r.rounds[id]
	r.mu.RUnlock()
	if !ok {
		return domain.Round{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.round.Clone(), true
}

// GetActive returns a snapshot of the active round for symbol, if any.
func (r *Registry) GetActive(symbol string) (domain.Round, bool) {
	r.mu.RLock()
	id, ok := r.active[symbol]
	var e *entry
	if ok {
		e = r.rounds[id]
	}
	r.mu.RUnlock()
	if e == nil {
		return domain.Round{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.round.Clone(), true
}

// Active returns snapshots of all active rounds ordered by symbol.
func (r *Registry) Active() []domain.Round {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Round, 0, len(r.active))
	for _, id := range r.active {
		e := r.rounds[id]
		e.mu.Lock()
		out = append(out, e.round.Clone())
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Ended returns snapshots of retained ended rounds, most recently ended first.
func (r *Registry) Ended() []domain.Round {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Round, 0, len(r.rounds)-len(r.active))
	for _, e := range r.rounds {
		e.mu.Lock()
		if e.round.Status == domain.RoundStatusEnded {
			out = append(out, e.round.Clone())
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EndTime.Equal(out[j].EndTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].EndTime.After(out[j].EndTime)
	})
	return out
}

// Due returns the ids of active rounds whose end time is at or before now.
func (r *Registry) Due(now time.Time) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for _, id := range r.active {
		e := r.rounds[id]
		e.mu.Lock()
		if !e.round.EndTime.After(now) {
			ids = append(ids, id)
		}
		e.mu.Unlock()
	}
	sort.Strings(ids)
	return ids
}

// Counts returns the number of active and retained ended rounds.
func (r *Registry) Counts() (active, ended int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active), len(r.rounds) - len(r.active)
}

// update runs fn against the live round under its lock. Used by the ledger to
// append bets.
func (r *Registry) update(id string, fn func(rd *domain.Round) error) error {
	r.mu.RLock()
	e, ok := r.rounds[id]
	r.mu.RUnlock()
	if !ok {
		return domain.ErrRoundNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(&e.round)
}

// Finalize ends an active round with endPrice and computes its settlement.
// The bet list read and the status transition happen under the same lock, so
// no bet can be accepted after the result is computed. It returns false when
// the round has already ended.
func (r *Registry) Finalize(id string, endPrice decimal.Decimal, settledAt time.Time) (domain.SettlementResult, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.rounds[id]
	if !ok {
		return domain.SettlementResult{}, false, fmt.Errorf("round: finalize %s: %w", id, domain.ErrRoundNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.round.Status == domain.RoundStatusEnded {
		return domain.SettlementResult{}, false, nil
	}

	res := Settle(e.round, endPrice, settledAt)
	e.round.EndPrice = decimal.NewNullDecimal(endPrice)
	e.round.Status = domain.RoundStatusEnded
	e.round.SettledAt = &settledAt
	if r.active[e.round.Symbol] == id {
		delete(r.active, e.round.Symbol)
	}
	return res, true, nil
}

// PruneEnded discards rounds that ended, by settlement time, before
// now - retention and returns them.
func (r *Registry) PruneEnded(now time.Time, retention time.Duration) []domain.Round {
	cutoff := now.Add(-retention)

	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []domain.Round
	for id, e := range r.rounds {
		e.mu.Lock()
		if e.round.Status == domain.RoundStatusEnded && e.round.EndedAt().Before(cutoff) {
			removed = append(removed, e.round.Clone())
			delete(r.rounds, id)
		}
		e.mu.Unlock()
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i].ID < removed[j].ID })
	return removed
}
