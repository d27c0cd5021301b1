package redis

import (
	"context"
	"io"
	"log/slog"
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

// testClient connects to TRADEGUARD_TEST_REDIS_ADDR or skips.
func testClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("TRADEGUARD_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TRADEGUARD_TEST_REDIS_ADDR not set")
	}
	c, err := New(context.Background(), config.RedisConfig{Addr: addr, PoolSize: 4})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "tradeguard:price:AAPL", priceKey("aapl"))
	assert.Equal(t, "tradeguard:session:alice:2026-10-13", sessionKey("alice", "2026-10-13"))
	assert.Equal(t, "tradeguard:lock:execute:s1", lockKey("execute:s1"))

	now := time.Unix(120, 0)
	assert.Equal(t, rateLimitKey("ip", time.Minute, now), rateLimitKey("ip", time.Minute, now.Add(59*time.Second)))
	assert.NotEqual(t, rateLimitKey("ip", time.Minute, now), rateLimitKey("ip", time.Minute, now.Add(60*time.Second)))
}

func TestLockManager(t *testing.T) {
	c := testClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()
	key := "test:" + uuid.NewString()

	unlock, err := lm.Acquire(ctx, key, 5*time.Second)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, key, 5*time.Second)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()

	unlock2, err := lm.Acquire(ctx, key, 5*time.Second)
	require.NoError(t, err)
	unlock2()
}

func TestSessionCache(t *testing.T) {
	c := testClient(t)
	sc := NewSessionCache(c)
	ctx := context.Background()
	trader := "trader-" + uuid.NewString()

	_, err := sc.Get(ctx, trader, "2026-10-13")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	s := domain.TradingSession{ID: "s1", TraderID: trader, TradingDate: "2026-10-13", Version: 3}
	s.CircuitBreaker.DailyLossTotal = decimal.RequireFromString("125.50")
	require.NoError(t, sc.Set(ctx, s, time.Now().Add(time.Minute)))

	got, err := sc.Get(ctx, trader, "2026-10-13")
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Version)
	assert.True(t, s.CircuitBreaker.DailyLossTotal.Equal(got.CircuitBreaker.DailyLossTotal))

	// Already expired: nothing written.
	other := s
	other.TradingDate = "2026-10-12"
	require.NoError(t, sc.Set(ctx, other, time.Now().Add(-time.Second)))
	_, err = sc.Get(ctx, trader, "2026-10-12")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPriceCache(t *testing.T) {
	c := testClient(t)
	pc := NewPriceCache(c, time.Minute)
	ctx := context.Background()
	sym := "T" + uuid.NewString()[:6]

	_, _, err := pc.GetPrice(ctx, sym)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	ts := time.Unix(1700000000, 0)
	require.NoError(t, pc.SetPrice(ctx, sym, decimal.RequireFromString("187.25"), ts))
	price, at, err := pc.GetPrice(ctx, sym)
	require.NoError(t, err)
	assert.Equal(t, "187.25", price.String())
	assert.True(t, ts.Equal(at))
}

func TestSignalBus(t *testing.T) {
	c := testClient(t)
	bus := NewSignalBus(c, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	channel := "test_" + uuid.NewString()

	ch, err := bus.Subscribe(ctx, channel)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, channel, []byte("hello")))

	select {
	case got := <-ch:
		assert.Equal(t, "hello", string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("no message")
	}

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed")
	}
}

func TestRateLimiter(t *testing.T) {
	c := testClient(t)
	rl := NewRateLimiter(c)
	ctx := context.Background()
	key := "test:" + uuid.NewString()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, key, 3, time.Hour)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := rl.Allow(ctx, key, 3, time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = rl.Allow(ctx, key, 3, 0)
	assert.Error(t, err)
}
