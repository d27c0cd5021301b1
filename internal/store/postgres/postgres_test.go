package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradeguard/internal/config"
	"github.com/alanyoungcy/tradeguard/internal/domain"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://x", DSN(config.PostgresConfig{DSN: "postgres://x", Host: "ignored"}))

	got := DSN(config.PostgresConfig{Host: "db", User: "u", Password: "p@ss", Database: "tg"})
	assert.Equal(t, "postgres://u:p%40ss@db:5432/tg?sslmode=disable", got)
}

// testClient connects to TRADEGUARD_TEST_POSTGRES_DSN or skips.
func testClient(t *testing.T) *Client {
	t.Helper()
	dsn := os.Getenv("TRADEGUARD_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TRADEGUARD_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	c, err := New(ctx, config.PostgresConfig{DSN: dsn, PoolMaxConns: 4})
	require.NoError(t, err)
	require.NoError(t, c.RunMigrations(ctx))
	t.Cleanup(c.Close)
	return c
}

func newSession(trader string) domain.TradingSession {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return domain.TradingSession{
		ID:          uuid.NewString(),
		TraderID:    trader,
		TradingDate: "2026-10-13",
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestSessionStore(t *testing.T) {
	c := testClient(t)
	store := NewSessionStore(c.Pool())
	ctx := context.Background()
	trader := "trader-" + uuid.NewString()

	sess := newSession(trader)
	require.NoError(t, store.Create(ctx, sess))

	dup := newSession(trader)
	assert.ErrorIs(t, store.Create(ctx, dup), domain.ErrAlreadyExists)

	got, err := store.GetByTraderDate(ctx, trader, "2026-10-13")
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)

	got.Version = 2
	got.CircuitBreaker.ConsecutiveLosses = 1
	got.CircuitBreaker.DailyLossTotal = decimal.RequireFromString("120.5")
	require.NoError(t, store.Update(ctx, got))

	// A writer holding the old version loses.
	stale := sess
	stale.Version = 2
	assert.ErrorIs(t, store.Update(ctx, stale), domain.ErrConflict)

	missing := newSession(trader)
	missing.Version = 2
	assert.ErrorIs(t, store.Update(ctx, missing), domain.ErrNotFound)

	byID, err := store.GetByID(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), byID.Version)
	assert.Equal(t, "120.5", byID.CircuitBreaker.DailyLossTotal.String())

	list, err := store.ListByDate(ctx, "2026-10-13")
	require.NoError(t, err)
	assert.NotEmpty(t, list)

	_, err = store.GetByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTradeJournalAndAudit(t *testing.T) {
	c := testClient(t)
	sessions := NewSessionStore(c.Pool())
	journal := NewTradeJournal(c.Pool())
	audit := NewAuditStore(c.Pool())
	ctx := context.Background()

	sess := newSession("trader-" + uuid.NewString())
	require.NoError(t, sessions.Create(ctx, sess))

	rec := domain.TradeRecord{
		ID:          uuid.NewString(),
		SessionID:   sess.ID,
		TraderID:    sess.TraderID,
		PositionID:  uuid.NewString(),
		Symbol:      "AAPL",
		Direction:   domain.DirectionLong,
		Shares:      200,
		EntryPrice:  decimal.RequireFromString("50.00"),
		ExitPrice:   decimal.RequireFromString("49.00"),
		RealizedPnL: decimal.RequireFromString("-200.00"),
		OpenedAt:    sess.CreatedAt,
		ClosedAt:    sess.CreatedAt.Add(time.Minute),
	}
	require.NoError(t, journal.RecordTrade(ctx, rec))
	require.NoError(t, journal.RecordTrade(ctx, rec))

	trades, err := journal.ListBySession(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.True(t, rec.RealizedPnL.Equal(trades[0].RealizedPnL))
	assert.Equal(t, domain.DirectionLong, trades[0].Direction)

	event := "test_" + uuid.NewString()
	require.NoError(t, audit.Log(ctx, event, map[string]any{"session_id": sess.ID}))
	entries, err := audit.List(ctx, domain.ListOpts{Limit: 50})
	require.NoError(t, err)
	require.NotEmpty(t, entries)
}
