package engine

import (
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// EventType names an engine event.
type EventType string

const (
	EventPriceUpdate  EventType = "price_update"
	EventRoundOpened  EventType = "round_opened"
	EventBetPlaced    EventType = "bet_placed"
	EventRoundSettled EventType = "round_settled"
	EventRoundsPruned EventType = "rounds_pruned"
)

// Event is a single engine notification. Exactly one payload field is set,
// matching Type. Payloads are copies and safe to retain.
type Event struct {
	Type   EventType                `json:"type"`
	At     time.Time                `json:"at"`
	Quotes []domain.Quote           `json:"quotes,omitempty"`
	Round  *domain.Round            `json:"round,omitempty"`
	Bet    *domain.Bet              `json:"bet,omitempty"`
	Result *domain.SettlementResult `json:"result,omitempty"`
	Pruned []domain.Round           `json:"pruned,omitempty"`
}

// DefaultMailbox is the per-subscriber buffer used when none is given.
const DefaultMailbox = 1024

// DropObserver is told when a slow subscriber loses an event.
type DropObserver interface {
	EventDropped(subscriber string, typ EventType)
}

// Subscription receives events through C until Close is called or the bus
// is closed.
type Subscription struct {
	C <-chan Event

	name  string
	ch    chan Event
	types map[EventType]bool
	bus   *Bus
	once  sync.Once
}

// Close unsubscribes and closes C.
func (s *Subscription) Close() {
	s.once.Do(func() { s.bus.remove(s) })
}

func (s *Subscription) wants(t EventType) bool {
	return len(s.types) == 0 || s.types[t]
}

// Bus fans engine events out to subscribers. Publish never blocks: every
// subscriber has its own bounded mailbox, and when one is full the oldest
// queued event is dropped to make room.
type Bus struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool
	drops  DropObserver
	logger *slog.Logger
}

// NewBus creates an event bus.
func NewBus(logger *slog.Logger, drops DropObserver) *Bus {
	return &Bus{
		subs:   make(map[*Subscription]struct{}),
		drops:  drops,
		logger: logger.With(slog.String("component", "event_bus")),
	}
}

// Subscribe registers a listener. With no types it receives every event.
// A buffer of zero or less uses DefaultMailbox.
func (b *Bus) Subscribe(name string, buffer int, types ...EventType) *Subscription {
	if buffer <= 0 {
		buffer = DefaultMailbox
	}
	ch := make(chan Event, buffer)
	s := &Subscription{C: ch, name: name, ch: ch, bus: b}
	if len(types) > 0 {
		s.types = make(map[EventType]bool, len(types))
		for _, t := range types {
			s.types[t] = true
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

// Publish delivers ev to every interested subscriber.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		if !s.wants(ev.Type) {
			continue
		}
		b.deliver(s, ev)
	}
}

func (b *Bus) deliver(s *Subscription, ev Event) {
	for {
		select {
		case s.ch <- ev:
			return
		default:
		}
		select {
		case old := <-s.ch:
			if b.drops != nil {
				b.drops.EventDropped(s.name, old.Type)
			}
			b.logger.Warn("subscriber mailbox full, dropped oldest event",
				slog.String("subscriber", s.name),
				slog.String("dropped", string(old.Type)),
			)
		default:
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscription. Later publishes are dropped and later
// subscriptions are returned already closed.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		close(s.ch)
		delete(b.subs, s)
	}
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s]; !ok {
		return
	}
	delete(b.subs, s)
	close(s.ch)
}
