package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/tradeguard/internal/domain"
)

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// SessionStore implements domain.SessionStore. The full session is kept as a
// JSONB snapshot next to the columns used for lookups and versioning.
type SessionStore struct {
	pool *pgxpool.Pool
}

// NewSessionStore creates a new SessionStore backed by the given connection pool.
func NewSessionStore(pool *pgxpool.Pool) *SessionStore {
	return &SessionStore{pool: pool}
}

// Create inserts a new session. A second session for the same trader and
// day yields domain.ErrAlreadyExists.
func (s *SessionStore) Create(ctx context.Context, sess domain.TradingSession) error {
	snapshot, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("postgres: marshal session %s: %w", sess.ID, err)
	}

	const query = `
		INSERT INTO trading_sessions (id, trader_id, trading_date, snapshot, version, created_at, updated_at)
		VALUES ($1, $2, $3::date, $4, $5, $6, $7)`
	_, err = s.pool.Exec(ctx, query,
		sess.ID, sess.TraderID, sess.TradingDate, snapshot, sess.Version, sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("postgres: create session %s/%s: %w", sess.TraderID, sess.TradingDate, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create session %s: %w", sess.ID, err)
	}
	return nil
}

// Update writes sess only if the stored version is sess.Version-1.
func (s *SessionStore) Update(ctx context.Context, sess domain.TradingSession) error {
	snapshot, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("postgres: marshal session %s: %w", sess.ID, err)
	}

	const query = `
		UPDATE trading_sessions
		SET snapshot = $2, version = $3, updated_at = $4
		WHERE id = $1 AND version = $3 - 1`
	tag, err := s.pool.Exec(ctx, query, sess.ID, snapshot, sess.Version, sess.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: update session %s: %w", sess.ID, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM trading_sessions WHERE id = $1)`, sess.ID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("postgres: update session %s: %w", sess.ID, err)
	}
	if !exists {
		return fmt.Errorf("postgres: update session %s: %w", sess.ID, domain.ErrNotFound)
	}
	return fmt.Errorf("postgres: update session %s at version %d: %w", sess.ID, sess.Version, domain.ErrConflict)
}

// GetByID retrieves a session by its ID.
func (s *SessionStore) GetByID(ctx context.Context, id string) (domain.TradingSession, error) {
	row := s.pool.QueryRow(ctx, `SELECT snapshot FROM trading_sessions WHERE id = $1`, id)
	sess, err := scanSnapshot(row)
	if err != nil {
		return domain.TradingSession{}, fmt.Errorf("postgres: get session %s: %w", id, err)
	}
	return sess, nil
}

// GetByTraderDate retrieves the one session a trader has on a trading day.
func (s *SessionStore) GetByTraderDate(ctx context.Context, traderID, tradingDate string) (domain.TradingSession, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT snapshot FROM trading_sessions WHERE trader_id = $1 AND trading_date = $2::date`,
		traderID, tradingDate,
	)
	sess, err := scanSnapshot(row)
	if err != nil {
		return domain.TradingSession{}, fmt.Errorf("postgres: get session %s/%s: %w", traderID, tradingDate, err)
	}
	return sess, nil
}

// ListByDate returns every session of a trading day, oldest first.
func (s *SessionStore) ListByDate(ctx context.Context, tradingDate string) ([]domain.TradingSession, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT snapshot FROM trading_sessions WHERE trading_date = $1::date ORDER BY created_at`,
		tradingDate,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list sessions %s: %w", tradingDate, err)
	}
	defer rows.Close()

	var out []domain.TradingSession
	for rows.Next() {
		sess, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: list sessions %s: %w", tradingDate, err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list sessions %s rows: %w", tradingDate, err)
	}
	return out, nil
}

func scanSnapshot(row pgx.Row) (domain.TradingSession, error) {
	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TradingSession{}, domain.ErrNotFound
		}
		return domain.TradingSession{}, err
	}
	var sess domain.TradingSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return domain.TradingSession{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return sess, nil
}

var _ domain.SessionStore = (*SessionStore)(nil)
