package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// SettlementRecord is a journaled settlement result.
type SettlementRecord struct {
	RoundID          string    `json:"round_id"`
	Symbol           string    `json:"symbol"`
	WinningDirection Direction `json:"winning_direction"`
	StartPrice       string    `json:"start_price"`
	EndPrice         string    `json:"end_price"`
	TotalPool        string    `json:"total_pool"`
	WinningPool      string    `json:"winning_pool"`
	PayoutMultiplier string    `json:"payout_multiplier"`
	WinnerCount      int       `json:"winner_count"`
	EndTime          time.Time `json:"end_time"`
	SettledAt        time.Time `json:"settled_at"`
}

// SettlementStore persists settlement results. It is a write-behind journal,
// never read back into engine state.
type SettlementStore interface {
	Insert(ctx context.Context, res SettlementResult) error
	GetByRoundID(ctx context.Context, roundID string) (SettlementRecord, error)
	ListRecent(ctx context.Context, symbol string, opts ListOpts) ([]SettlementRecord, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
