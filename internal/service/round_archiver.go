package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/engine"
)

// RoundWriter uploads a batch of rounds and returns the object key.
type RoundWriter interface {
	ArchiveRounds(ctx context.Context, rounds []domain.Round, at time.Time) (string, error)
}

// RoundArchiver uploads the rounds discarded by retention pruning, so the
// game's full history survives the in-memory retention window.
type RoundArchiver struct {
	sub    *engine.Subscription
	writer RoundWriter
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewRoundArchiver creates a RoundArchiver. audit may be nil.
func NewRoundArchiver(src EventSource, writer RoundWriter, audit domain.AuditStore, logger *slog.Logger) *RoundArchiver {
	return &RoundArchiver{
		sub:    src.Subscribe("round_archiver", engine.EventRoundsPruned),
		writer: writer,
		audit:  audit,
		logger: logger.With(slog.String("component", "round_archiver")),
	}
}

// Run archives pruned rounds until ctx is cancelled.
func (a *RoundArchiver) Run(ctx context.Context) error {
	return consume(ctx, a.sub, a.Handle)
}

// Handle archives the rounds carried by a rounds_pruned event.
func (a *RoundArchiver) Handle(ctx context.Context, ev engine.Event) {
	if ev.Type != engine.EventRoundsPruned || len(ev.Pruned) == 0 {
		return
	}
	key, err := a.writer.ArchiveRounds(ctx, ev.Pruned, ev.At)
	if err != nil {
		a.logger.ErrorContext(ctx, "archive rounds failed",
			slog.Int("rounds", len(ev.Pruned)),
			slog.String("error", err.Error()),
		)
		return
	}
	a.logger.InfoContext(ctx, "rounds archived",
		slog.String("key", key),
		slog.Int("rounds", len(ev.Pruned)),
	)

	if a.audit == nil {
		return
	}
	ids := make([]string, 0, len(ev.Pruned))
	for _, r := range ev.Pruned {
		ids = append(ids, r.ID)
	}
	if err := a.audit.Log(ctx, AuditRoundsArchive, map[string]any{"key": key, "round_ids": ids}); err != nil {
		a.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
	}
}
