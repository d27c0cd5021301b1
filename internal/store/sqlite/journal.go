package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradeguard/internal/domain"
)

// TradeJournal implements domain.TradeJournal.
type TradeJournal struct {
	db *sql.DB
}

// RecordTrade inserts a closed trade. Re-recording the same ID is a no-op.
func (j *TradeJournal) RecordTrade(ctx context.Context, t domain.TradeRecord) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO trade_journal
		(id, session_id, trader_id, position_id, symbol, direction, shares,
		 entry_price, exit_price, realized_pnl, opened_at, closed_at, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.SessionID, t.TraderID, t.PositionID, t.Symbol, string(t.Direction), t.Shares,
		t.EntryPrice.String(), t.ExitPrice.String(), t.RealizedPnL.String(),
		formatTime(t.OpenedAt), formatTime(t.ClosedAt), t.Reason,
	)
	if err != nil {
		return fmt.Errorf("sqlite: record trade %s: %w", t.ID, err)
	}
	return nil
}

// ListBySession returns a session's trades in close order.
func (j *TradeJournal) ListBySession(ctx context.Context, sessionID string) ([]domain.TradeRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, session_id, trader_id, position_id, symbol, direction, shares,
		       entry_price, exit_price, realized_pnl, opened_at, closed_at, reason
		FROM trade_journal
		WHERE session_id = ?
		ORDER BY closed_at ASC, id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list trades %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []domain.TradeRecord
	for rows.Next() {
		var (
			rec                domain.TradeRecord
			dir                string
			entry, exit, pnl   string
			openedAt, closedAt string
		)
		if err := rows.Scan(
			&rec.ID, &rec.SessionID, &rec.TraderID, &rec.PositionID, &rec.Symbol, &dir, &rec.Shares,
			&entry, &exit, &pnl, &openedAt, &closedAt, &rec.Reason,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scan trade: %w", err)
		}
		rec.Direction = domain.Direction(dir)
		if rec.EntryPrice, err = decimal.NewFromString(entry); err != nil {
			return nil, fmt.Errorf("sqlite: trade %s entry_price: %w", rec.ID, err)
		}
		if rec.ExitPrice, err = decimal.NewFromString(exit); err != nil {
			return nil, fmt.Errorf("sqlite: trade %s exit_price: %w", rec.ID, err)
		}
		if rec.RealizedPnL, err = decimal.NewFromString(pnl); err != nil {
			return nil, fmt.Errorf("sqlite: trade %s realized_pnl: %w", rec.ID, err)
		}
		if rec.OpenedAt, err = parseTime(openedAt); err != nil {
			return nil, fmt.Errorf("sqlite: trade %s opened_at: %w", rec.ID, err)
		}
		if rec.ClosedAt, err = parseTime(closedAt); err != nil {
			return nil, fmt.Errorf("sqlite: trade %s closed_at: %w", rec.ID, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list trades %s: %w", sessionID, err)
	}
	return out, nil
}

// AuditStore implements domain.AuditStore.
type AuditStore struct {
	db  *sql.DB
	now func() time.Time
}

func (a *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	var detailJSON any
	if detail != nil {
		b, err := json.Marshal(detail)
		if err != nil {
			return fmt.Errorf("sqlite: marshal audit detail: %w", err)
		}
		detailJSON = string(b)
	}
	if _, err := a.db.ExecContext(ctx,
		`INSERT INTO audit_log (event, detail, created_at) VALUES (?, ?, ?)`,
		event, detailJSON, formatTime(a.now()),
	); err != nil {
		return fmt.Errorf("sqlite: log audit event %s: %w", event, err)
	}
	return nil
}

// List returns entries newest first.
func (a *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	if opts.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, formatTime(*opts.Since))
	}
	if opts.Until != nil {
		where = append(where, "created_at <= ?")
		args = append(args, formatTime(*opts.Until))
	}
	query := `SELECT id, event, detail, created_at FROM audit_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC"
	if opts.Limit > 0 || opts.Offset > 0 {
		limit := opts.Limit
		if limit <= 0 {
			limit = -1
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, opts.Offset)
	}

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list audit entries: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var (
			e         domain.AuditEntry
			detail    sql.NullString
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.Event, &detail, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan audit entry: %w", err)
		}
		if detail.Valid {
			if err := json.Unmarshal([]byte(detail.String), &e.Detail); err != nil {
				return nil, fmt.Errorf("sqlite: unmarshal audit detail: %w", err)
			}
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("sqlite: audit %d created_at: %w", e.ID, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list audit entries: %w", err)
	}
	return out, nil
}

var (
	_ domain.TradeJournal = (*TradeJournal)(nil)
	_ domain.AuditStore   = (*AuditStore)(nil)
)
