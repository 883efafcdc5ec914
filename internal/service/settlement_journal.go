package service

import (
	"context"
	"log/slog"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/engine"
)

// Audit event names written by the journal and archiver.
const (
	AuditRoundOpened   = "round_opened"
	AuditRoundSettled  = "round_settled"
	AuditRoundsArchive = "rounds_archived"
)

// SettlementJournal writes settlement results and an audit trail to
// durable storage. The journal is never read back into the engine.
type SettlementJournal struct {
	sub    *engine.Subscription
	store  domain.SettlementStore
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewSettlementJournal creates a SettlementJournal. audit may be nil.
func NewSettlementJournal(src EventSource, store domain.SettlementStore, audit domain.AuditStore, logger *slog.Logger) *SettlementJournal {
	return &SettlementJournal{
		sub:    src.Subscribe("settlement_journal", engine.EventRoundOpened, engine.EventRoundSettled),
		store:  store,
		audit:  audit,
		logger: logger.With(slog.String("component", "settlement_journal")),
	}
}

// Run journals events until ctx is cancelled.
func (j *SettlementJournal) Run(ctx context.Context) error {
	return consume(ctx, j.sub, j.Handle)
}

// Handle journals a single event.
func (j *SettlementJournal) Handle(ctx context.Context, ev engine.Event) {
	switch {
	case ev.Type == engine.EventRoundSettled && ev.Result != nil:
		res := *ev.Result
		if err := j.store.Insert(ctx, res); err != nil {
			j.logger.ErrorContext(ctx, "journal settlement failed",
				slog.String("round_id", res.RoundID),
				slog.String("error", err.Error()),
			)
			return
		}
		j.log(ctx, AuditRoundSettled, map[string]any{
			"round_id":          res.RoundID,
			"symbol":            res.Symbol,
			"winning_direction": string(res.WinningDirection),
			"total_pool":        res.TotalPool.String(),
			"winners":           len(res.Winners),
		})
	case ev.Type == engine.EventRoundOpened && ev.Round != nil:
		j.log(ctx, AuditRoundOpened, map[string]any{
			"round_id":    ev.Round.ID,
			"symbol":      ev.Round.Symbol,
			"start_price": ev.Round.StartPrice.String(),
			"end_time":    ev.Round.EndTime,
		})
	}
}

func (j *SettlementJournal) log(ctx context.Context, event string, detail map[string]any) {
	if j.audit == nil {
		return
	}
	if err := j.audit.Log(ctx, event, detail); err != nil {
		j.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
