package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/engine"
)

// Pub/sub channels the mirror republishes engine events on.
const (
	ChannelPrices      = "prices"
	ChannelRounds      = "rounds"
	ChannelBets        = "bets"
	ChannelSettlements = "settlements"
)

// QuoteMirror copies the engine's quotes into a PriceCache and republishes
// every engine event as JSON on the SignalBus, so bots outside the process
// can follow the game. Either sink may be nil.
type QuoteMirror struct {
	sub    *engine.Subscription
	cache  domain.PriceCache
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewQuoteMirror creates a QuoteMirror.
func NewQuoteMirror(src EventSource, cache domain.PriceCache, bus domain.SignalBus, logger *slog.Logger) *QuoteMirror {
	return &QuoteMirror{
		sub:    src.Subscribe("quote_mirror"),
		cache:  cache,
		bus:    bus,
		logger: logger.With(slog.String("component", "quote_mirror")),
	}
}

// Run mirrors events until ctx is cancelled.
func (m *QuoteMirror) Run(ctx context.Context) error {
	return consume(ctx, m.sub, m.Handle)
}

// Handle mirrors a single event.
func (m *QuoteMirror) Handle(ctx context.Context, ev engine.Event) {
	if ev.Type == engine.EventPriceUpdate && m.cache != nil {
		for _, q := range ev.Quotes {
			if err := m.cache.SetQuote(ctx, q); err != nil {
				m.logger.WarnContext(ctx, "cache quote failed",
					slog.String("symbol", q.Symbol),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	channel := channelFor(ev.Type)
	if channel == "" || m.bus == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		m.logger.ErrorContext(ctx, "marshal event failed",
			slog.String("type", string(ev.Type)),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := m.bus.Publish(ctx, channel, payload); err != nil {
		m.logger.WarnContext(ctx, "publish event failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}

func channelFor(t engine.EventType) string {
	switch t {
	case engine.EventPriceUpdate:
		return ChannelPrices
	case engine.EventRoundOpened, engine.EventRoundsPruned:
		return ChannelRounds
	case engine.EventBetPlaced:
		return ChannelBets
	case engine.EventRoundSettled:
		return ChannelSettlements
	default:
		return ""
	}
}
