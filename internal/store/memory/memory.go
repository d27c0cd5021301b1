// Package memory provides in-process implementations of the session, audit
// and journal stores for single-node runs and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/tradeguard/internal/domain"
)

// SessionStore keeps sessions in a map keyed by ID.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]domain.TradingSession
}

// NewSessionStore creates an empty SessionStore.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]domain.TradingSession)}
}

func (s *SessionStore) Create(_ context.Context, sess domain.TradingSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sess.ID]; ok {
		return fmt.Errorf("memory: create session %q: %w", sess.ID, domain.ErrAlreadyExists)
	}
	for _, existing := range s.sessions {
		if existing.TraderID == sess.TraderID && existing.TradingDate == sess.TradingDate {
			return fmt.Errorf("memory: create session for %s/%s: %w", sess.TraderID, sess.TradingDate, domain.ErrAlreadyExists)
		}
	}
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

func (s *SessionStore) Update(_ context.Context, sess domain.TradingSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.sessions[sess.ID]
	if !ok {
		return fmt.Errorf("memory: update session %q: %w", sess.ID, domain.ErrNotFound)
	}
	if cur.Version != sess.Version-1 {
		return fmt.Errorf("memory: update session %q at version %d: %w", sess.ID, sess.Version, domain.ErrConflict)
	}
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

func (s *SessionStore) GetByID(_ context.Context, id string) (domain.TradingSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return domain.TradingSession{}, fmt.Errorf("memory: get session %q: %w", id, domain.ErrNotFound)
	}
	return sess.Clone(), nil
}

func (s *SessionStore) GetByTraderDate(_ context.Context, traderID, tradingDate string) (domain.TradingSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sess := range s.sessions {
		if sess.TraderID == traderID && sess.TradingDate == tradingDate {
			return sess.Clone(), nil
		}
	}
	return domain.TradingSession{}, fmt.Errorf("memory: get session %s/%s: %w", traderID, tradingDate, domain.ErrNotFound)
}

func (s *SessionStore) ListByDate(_ context.Context, tradingDate string) ([]domain.TradingSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.TradingSession
	for _, sess := range s.sessions {
		if sess.TradingDate == tradingDate {
			out = append(out, sess.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// AuditStore is an append-only slice of entries.
type AuditStore struct {
	mu      sync.RWMutex
	entries []domain.AuditEntry
}

// NewAuditStore creates an empty AuditStore.
func NewAuditStore() *AuditStore {
	return &AuditStore{}
}

func (a *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.entries = append(a.entries, domain.AuditEntry{
		ID:        int64(len(a.entries) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

// List returns entries newest first.
func (a *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var out []domain.AuditEntry
	for i := len(a.entries) - 1; i >= 0; i-- {
		e := a.entries[i]
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && e.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, e)
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// TradeJournal keeps closed trades per session.
type TradeJournal struct {
	mu     sync.RWMutex
	trades map[string][]domain.TradeRecord
}

// NewTradeJournal creates an empty TradeJournal.
func NewTradeJournal() *TradeJournal {
	return &TradeJournal{trades: make(map[string][]domain.TradeRecord)}
}

func (j *TradeJournal) RecordTrade(_ context.Context, rec domain.TradeRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.trades[rec.SessionID] = append(j.trades[rec.SessionID], rec)
	return nil
}

func (j *TradeJournal) ListBySession(_ context.Context, sessionID string) ([]domain.TradeRecord, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return append([]domain.TradeRecord(nil), j.trades[sessionID]...), nil
}

var (
	_ domain.SessionStore = (*SessionStore)(nil)
	_ domain.AuditStore   = (*AuditStore)(nil)
	_ domain.TradeJournal = (*TradeJournal)(nil)
)
