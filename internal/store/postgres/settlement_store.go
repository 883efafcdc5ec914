package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// SettlementStore implements domain.SettlementStore using PostgreSQL.
// Decimal values cross the wire as text and are cast to NUMERIC server-side.
type SettlementStore struct {
	pool *pgxpool.Pool
}

// NewSettlementStore creates a new SettlementStore backed by the given pool.
func NewSettlementStore(pool *pgxpool.Pool) *SettlementStore {
	return &SettlementStore{pool: pool}
}

const settlementSelectCols = `round_id, symbol, winning_direction,
	start_price::text, end_price::text, total_pool::text, winning_pool::text,
	payout_multiplier::text, winner_count, end_time, settled_at`

// Insert journals a settlement result and its payouts in one transaction.
// A round that is already journaled is left untouched.
func (s *SettlementStore) Insert(ctx context.Context, res domain.SettlementResult) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin settlement %s: %w", res.RoundID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const insertSettlement = `
		INSERT INTO settlements (
			round_id, symbol, winning_direction,
			start_price, end_price, total_pool, winning_pool, payout_multiplier,
			winner_count, end_time, settled_at
		) VALUES (
			$1, $2, $3,
			$4::numeric, $5::numeric, $6::numeric, $7::numeric, $8::numeric,
			$9, $10, $11
		) ON CONFLICT (round_id) DO NOTHING`

	tag, err := tx.Exec(ctx, insertSettlement,
		res.RoundID, res.Symbol, string(res.WinningDirection),
		res.StartPrice.String(), res.EndPrice.String(), res.TotalPool.String(),
		res.WinningPool.String(), res.PayoutMultiplier.String(),
		len(res.Winners), res.EndTime, res.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert settlement %s: %w", res.RoundID, err)
	}
	if tag.RowsAffected() == 0 {
		return nil
	}

	payouts := res.Payouts()
	if len(payouts) > 0 {
		const insertPayout = `
			INSERT INTO settlement_payouts (bet_id, round_id, bettor, stake, amount)
			VALUES ($1, $2, $3, $4::numeric, $5::numeric)
			ON CONFLICT (bet_id) DO NOTHING`

		batch := &pgx.Batch{}
		for _, p := range payouts {
			batch.Queue(insertPayout, p.BetID, p.RoundID, p.Bettor, p.Stake.String(), p.Amount.String())
		}
		br := tx.SendBatch(ctx, batch)
		for i := range payouts {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("postgres: insert payout %d of %s: %w", i, res.RoundID, err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("postgres: close payout batch %s: %w", res.RoundID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit settlement %s: %w", res.RoundID, err)
	}
	return nil
}

// GetByRoundID returns the journaled settlement for a round, or
// domain.ErrNotFound.
func (s *SettlementStore) GetByRoundID(ctx context.Context, roundID string) (domain.SettlementRecord, error) {
	query := `SELECT ` + settlementSelectCols + ` FROM settlements WHERE round_id = $1`
	rec, err := scanSettlement(s.pool.QueryRow(ctx, query, roundID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SettlementRecord{}, domain.ErrNotFound
		}
		return domain.SettlementRecord{}, fmt.Errorf("postgres: get settlement %s: %w", roundID, err)
	}
	return rec, nil
}

// ListRecent returns journaled settlements newest first. An empty symbol
// lists every instrument.
func (s *SettlementStore) ListRecent(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.SettlementRecord, error) {
	var f filter
	if symbol != "" {
		f.add("symbol = $%d", symbol)
	}
	f.timeRange("settled_at", opts.Since, opts.Until)
	query, args := f.build(`SELECT `+settlementSelectCols+` FROM settlements`, "settled_at DESC", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settlements: %w", err)
	}
	defer rows.Close()

	var out []domain.SettlementRecord
	for rows.Next() {
		rec, err := scanSettlement(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan settlement: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list settlements rows: %w", err)
	}
	return out, nil
}

func scanSettlement(row pgx.Row) (domain.SettlementRecord, error) {
	var (
		rec domain.SettlementRecord
		dir string
	)
	err := row.Scan(
		&rec.RoundID, &rec.Symbol, &dir,
		&rec.StartPrice, &rec.EndPrice, &rec.TotalPool, &rec.WinningPool,
		&rec.PayoutMultiplier, &rec.WinnerCount, &rec.EndTime, &rec.SettledAt,
	)
	rec.WinningDirection = domain.Direction(dir)
	return rec, err
}

// Compile-time interface check.
var _ domain.SettlementStore = (*SettlementStore)(nil)
