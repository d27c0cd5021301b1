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

// SessionStore persists TradingSession snapshots. Update is optimistic: the
// caller passes the session with Version already incremented, and the store
// returns ErrConflict when the stored version is not Version-1.
type SessionStore interface {
	Create(ctx context.Context, s TradingSession) error
	Update(ctx context.Context, s TradingSession) error
	GetByID(ctx context.Context, id string) (TradingSession, error)
	GetByTraderDate(ctx context.Context, traderID, tradingDate string) (TradingSession, error)
	ListByDate(ctx context.Context, tradingDate string) ([]TradingSession, error)
}

// TradeJournal records closed trades.
type TradeJournal interface {
	RecordTrade(ctx context.Context, rec TradeRecord) error
	ListBySession(ctx context.Context, sessionID string) ([]TradeRecord, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
