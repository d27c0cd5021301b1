package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradeguard/internal/domain"
)

// TradeJournal implements domain.TradeJournal using PostgreSQL.
type TradeJournal struct {
	pool *pgxpool.Pool
}

// NewTradeJournal creates a new TradeJournal backed by the given connection pool.
func NewTradeJournal(pool *pgxpool.Pool) *TradeJournal {
	return &TradeJournal{pool: pool}
}

// Money columns are read back as text so decimals survive exactly.
const tradeSelectCols = `id, session_id, trader_id, position_id, symbol, direction, shares,
	entry_price::text, exit_price::text, realized_pnl::text, opened_at, closed_at, reason`

// RecordTrade inserts a closed trade. Re-recording the same ID is a no-op.
func (j *TradeJournal) RecordTrade(ctx context.Context, rec domain.TradeRecord) error {
	const query = `
		INSERT INTO trade_journal (
			id, session_id, trader_id, position_id, symbol, direction, shares,
			entry_price, exit_price, realized_pnl, opened_at, closed_at, reason
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8::numeric, $9::numeric, $10::numeric, $11, $12, $13
		) ON CONFLICT (id) DO NOTHING`
	_, err := j.pool.Exec(ctx, query,
		rec.ID, rec.SessionID, rec.TraderID, rec.PositionID, rec.Symbol, string(rec.Direction), rec.Shares,
		rec.EntryPrice.String(), rec.ExitPrice.String(), rec.RealizedPnL.String(),
		rec.OpenedAt, rec.ClosedAt, rec.Reason,
	)
	if err != nil {
		return fmt.Errorf("postgres: record trade %s: %w", rec.ID, err)
	}
	return nil
}

// ListBySession returns a session's trades in close order.
func (j *TradeJournal) ListBySession(ctx context.Context, sessionID string) ([]domain.TradeRecord, error) {
	rows, err := j.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trade_journal WHERE session_id = $1 ORDER BY closed_at, id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades %s: %w", sessionID, err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades %s: %w", sessionID, err)
	}
	return trades, nil
}

func scanTradeRows(rows pgx.Rows) ([]domain.TradeRecord, error) {
	var out []domain.TradeRecord
	for rows.Next() {
		var (
			t                domain.TradeRecord
			dir              string
			entry, exit, pnl string
		)
		if err := rows.Scan(
			&t.ID, &t.SessionID, &t.TraderID, &t.PositionID, &t.Symbol, &dir, &t.Shares,
			&entry, &exit, &pnl, &t.OpenedAt, &t.ClosedAt, &t.Reason,
		); err != nil {
			return nil, err
		}
		t.Direction = domain.Direction(dir)
		var err error
		if t.EntryPrice, err = decimal.NewFromString(entry); err != nil {
			return nil, fmt.Errorf("entry_price: %w", err)
		}
		if t.ExitPrice, err = decimal.NewFromString(exit); err != nil {
			return nil, fmt.Errorf("exit_price: %w", err)
		}
		if t.RealizedPnL, err = decimal.NewFromString(pnl); err != nil {
			return nil, fmt.Errorf("realized_pnl: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

var _ domain.TradeJournal = (*TradeJournal)(nil)
