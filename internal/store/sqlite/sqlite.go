// Package sqlite persists trading sessions, the trade journal and the audit
// log in a single local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/alanyoungcy/tradeguard/internal/domain"
)

// DB owns the database handle shared by the stores in this package.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies Schema.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// One writer at a time; SQLite serialises writes anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &DB{db: db}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Sessions returns the session store.
func (d *DB) Sessions() *SessionStore { return &SessionStore{db: d.db} }

// Journal returns the trade journal.
func (d *DB) Journal() *TradeJournal { return &TradeJournal{db: d.db} }

// Audit returns the audit log.
func (d *DB) Audit() *AuditStore { return &AuditStore{db: d.db, now: time.Now} }

// SessionStore implements domain.SessionStore.
type SessionStore struct {
	db *sql.DB
}

func (s *SessionStore) Create(ctx context.Context, sess domain.TradingSession) error {
	snapshot, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("sqlite: marshal session %s: %w", sess.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO trading_sessions (id, trader_id, trading_date, snapshot, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.TraderID, sess.TradingDate, string(snapshot), sess.Version,
		formatTime(sess.CreatedAt), formatTime(sess.UpdatedAt),
	)
	if err != nil {
		var se sqlite3.Error
		if errors.As(err, &se) && (se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey) {
			return fmt.Errorf("sqlite: create session %s/%s: %w", sess.TraderID, sess.TradingDate, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("sqlite: create session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *SessionStore) Update(ctx context.Context, sess domain.TradingSession) error {
	snapshot, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("sqlite: marshal session %s: %w", sess.ID, err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE trading_sessions SET snapshot = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		string(snapshot), sess.Version, formatTime(sess.UpdatedAt), sess.ID, sess.Version-1,
	)
	if err != nil {
		return fmt.Errorf("sqlite: update session %s: %w", sess.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	var one int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM trading_sessions WHERE id = ?`, sess.ID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("sqlite: update session %s: %w", sess.ID, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("sqlite: update session %s: %w", sess.ID, err)
	}
	return fmt.Errorf("sqlite: update session %s at version %d: %w", sess.ID, sess.Version, domain.ErrConflict)
}

func (s *SessionStore) GetByID(ctx context.Context, id string) (domain.TradingSession, error) {
	sess, err := scanSnapshot(s.db.QueryRowContext(ctx, `SELECT snapshot FROM trading_sessions WHERE id = ?`, id))
	if err != nil {
		return domain.TradingSession{}, fmt.Errorf("sqlite: get session %s: %w", id, err)
	}
	return sess, nil
}

func (s *SessionStore) GetByTraderDate(ctx context.Context, traderID, tradingDate string) (domain.TradingSession, error) {
	sess, err := scanSnapshot(s.db.QueryRowContext(ctx,
		`SELECT snapshot FROM trading_sessions WHERE trader_id = ? AND trading_date = ?`,
		traderID, tradingDate,
	))
	if err != nil {
		return domain.TradingSession{}, fmt.Errorf("sqlite: get session %s/%s: %w", traderID, tradingDate, err)
	}
	return sess, nil
}

func (s *SessionStore) ListByDate(ctx context.Context, tradingDate string) ([]domain.TradingSession, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT snapshot FROM trading_sessions WHERE trading_date = ? ORDER BY created_at ASC`,
		tradingDate,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list sessions %s: %w", tradingDate, err)
	}
	defer rows.Close()

	var out []domain.TradingSession
	for rows.Next() {
		sess, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: list sessions %s: %w", tradingDate, err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list sessions %s: %w", tradingDate, err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row scanner) (domain.TradingSession, error) {
	var data string
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.TradingSession{}, domain.ErrNotFound
		}
		return domain.TradingSession{}, err
	}
	var sess domain.TradingSession
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return domain.TradingSession{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return sess, nil
}

// timeLayout is fixed-width so text order matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

var _ domain.SessionStore = (*SessionStore)(nil)
