package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/updownbot/internal/engine"
	"github.com/alanyoungcy/updownbot/internal/notify"
)

// Announcer posts round openings and settlements to the operator's chat
// channels.
type Announcer struct {
	sub      *engine.Subscription
	notifier *notify.Notifier
	logger   *slog.Logger
}

// NewAnnouncer creates an Announcer.
func NewAnnouncer(src EventSource, notifier *notify.Notifier, logger *slog.Logger) *Announcer {
	return &Announcer{
		sub:      src.Subscribe("announcer", engine.EventRoundOpened, engine.EventRoundSettled),
		notifier: notifier,
		logger:   logger.With(slog.String("component", "announcer")),
	}
}

// Run announces events until ctx is cancelled.
func (a *Announcer) Run(ctx context.Context) error {
	return consume(ctx, a.sub, a.Handle)
}

// Handle announces a single event.
func (a *Announcer) Handle(ctx context.Context, ev engine.Event) {
	event, title, msg := describe(ev)
	if event == "" {
		return
	}
	if err := a.notifier.Notify(ctx, event, title, msg); err != nil {
		a.logger.WarnContext(ctx, "announcement failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func describe(ev engine.Event) (event, title, msg string) {
	switch {
	case ev.Type == engine.EventRoundOpened && ev.Round != nil:
		r := ev.Round
		return notify.EventRoundOpened,
			fmt.Sprintf("%s round open", r.Symbol),
			fmt.Sprintf("Round %s opened at %s, closes %s UTC.",
				r.ID, r.StartPrice.String(), r.EndTime.UTC().Format("15:04:05"))
	case ev.Type == engine.EventRoundSettled && ev.Result != nil:
		res := ev.Result
		return notify.EventRoundSettled,
			fmt.Sprintf("%s settled %s", res.Symbol, res.WinningDirection),
			fmt.Sprintf("Round %s: %s -> %s. Pool %s, %d winner(s), multiplier %s.",
				res.RoundID, res.StartPrice.String(), res.EndPrice.String(),
				res.TotalPool.String(), len(res.Winners), res.PayoutMultiplier.String())
	default:
		return "", "", ""
	}
}
