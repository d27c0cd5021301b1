package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradeguard/internal/broker"
	"github.com/alanyoungcy/tradeguard/internal/config"
	"github.com/alanyoungcy/tradeguard/internal/feed"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestWireInMemory(t *testing.T) {
	cfg := config.Defaults()
	deps, cleanup, err := Wire(context.Background(), &cfg, discard())
	require.NoError(t, err)
	defer cleanup()

	assert.False(t, deps.Distributed)
	assert.Nil(t, deps.LockManager)
	assert.Nil(t, deps.RateLimiter)
	assert.Nil(t, deps.Archiver)
	assert.IsType(t, &broker.Paper{}, deps.Broker)
	assert.IsType(t, &feed.StaticFeed{}, deps.PriceCache)
	assert.NotNil(t, deps.Sessions)
	assert.NotNil(t, deps.Scheduler)
	assert.False(t, deps.Notifier.Enabled())
	assert.Empty(t, deps.HealthChecks)
}

func TestWireSQLiteAndHTTPBroker(t *testing.T) {
	cfg := config.Defaults()
	cfg.Storage = "sqlite"
	cfg.SQLite.Path = filepath.Join(t.TempDir(), "tg.db")
	cfg.Broker.Kind = "http"
	cfg.Broker.BaseURL = "http://127.0.0.1:1"
	cfg.Broker.APISecret = "secret"
	cfg.Notify.DiscordWebhookURL = "http://127.0.0.1:1/hook"

	deps, cleanup, err := Wire(context.Background(), &cfg, discard())
	require.NoError(t, err)
	defer cleanup()

	assert.IsType(t, &broker.HTTP{}, deps.Broker)
	assert.True(t, deps.Notifier.Enabled())

	sess, err := deps.Sessions.StartSession(context.Background(), "alice")
	require.NoError(t, err)
	got, err := deps.SessionStore.GetByID(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.TraderID)
}

func TestWireFailsOnUnreachableRedis(t *testing.T) {
	cfg := config.Defaults()
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = "127.0.0.1:1"
	cfg.Redis.MaxRetries = 0

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := Wire(ctx, &cfg, discard())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wire: redis")
}

func TestRunStopsCleanlyOnCancel(t *testing.T) {
	cfg := config.Defaults()
	cfg.Server.Enabled = false

	a := New(&cfg, discard())
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
	}
}

func TestRunRejectsUnknownMode(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = "backtest"
	a := New(&cfg, discard())
	defer a.Close()
	assert.Error(t, a.Run(context.Background()))
}
