package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/tradeguard/internal/domain"
)

// SessionCache stores the current day's session snapshot as JSON at
// "tradeguard:session:{trader}:{date}". Entries expire at the end of the
// trading day so a stale snapshot can never be served tomorrow.
type SessionCache struct {
	rdb *redis.Client
}

// NewSessionCache creates a SessionCache backed by the given Client.
func NewSessionCache(c *Client) *SessionCache {
	return &SessionCache{rdb: c.Underlying()}
}

func sessionKey(traderID, tradingDate string) string {
	return "tradeguard:session:" + traderID + ":" + tradingDate
}

// Set writes the snapshot. An expiry in the past is a no-op.
func (sc *SessionCache) Set(ctx context.Context, s domain.TradingSession, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("redis: marshal session %s: %w", s.ID, err)
	}
	if err := sc.rdb.Set(ctx, sessionKey(s.TraderID, s.TradingDate), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set session %s: %w", s.ID, err)
	}
	return nil
}

// Get returns domain.ErrNotFound on a cache miss.
func (sc *SessionCache) Get(ctx context.Context, traderID, tradingDate string) (domain.TradingSession, error) {
	data, err := sc.rdb.Get(ctx, sessionKey(traderID, tradingDate)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.TradingSession{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.TradingSession{}, fmt.Errorf("redis: get session %s/%s: %w", traderID, tradingDate, err)
	}
	var s domain.TradingSession
	if err := json.Unmarshal(data, &s); err != nil {
		return domain.TradingSession{}, fmt.Errorf("redis: decode session %s/%s: %w", traderID, tradingDate, err)
	}
	return s, nil
}

var _ domain.SessionCache = (*SessionCache)(nil)
