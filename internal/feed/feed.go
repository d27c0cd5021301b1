// Package feed implements domain.MarketDataFeed.
package feed

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradeguard/internal/domain"
)

// CacheFeed reads last prices from a PriceCache that some upstream process
// keeps warm. Prices older than maxAge are refused.
type CacheFeed struct {
	prices domain.PriceCache
	maxAge time.Duration
	now    func() time.Time
}

// NewCacheFeed creates a CacheFeed. A zero maxAge accepts any age.
func NewCacheFeed(prices domain.PriceCache, maxAge time.Duration, now func() time.Time) *CacheFeed {
	if now == nil {
		now = time.Now
	}
	return &CacheFeed{prices: prices, maxAge: maxAge, now: now}
}

// CurrentPrice returns the cached price for symbol.
func (f *CacheFeed) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	price, ts, err := f.prices.GetPrice(ctx, strings.ToUpper(symbol))
	if err != nil {
		return decimal.Zero, fmt.Errorf("feed: price %s: %w", symbol, err)
	}
	if f.maxAge > 0 && f.now().Sub(ts) > f.maxAge {
		return decimal.Zero, fmt.Errorf("feed: price %s is stale (%s old): %w", symbol, f.now().Sub(ts).Round(time.Second), domain.ErrNotFound)
	}
	return price, nil
}

// Now returns the authoritative current time.
func (f *CacheFeed) Now() time.Time { return f.now() }

// StaticFeed serves prices set by hand. It is used by the paper broker and
// in tests.
type StaticFeed struct {
	mu     sync.RWMutex
	prices map[string]stampedPrice
	now    func() time.Time
}

type stampedPrice struct {
	price decimal.Decimal
	at    time.Time
}

// NewStaticFeed creates an empty StaticFeed.
func NewStaticFeed(now func() time.Time) *StaticFeed {
	if now == nil {
		now = time.Now
	}
	return &StaticFeed{prices: make(map[string]stampedPrice), now: now}
}

// Set records the price for symbol, stamped with the feed's current time.
func (f *StaticFeed) Set(symbol string, price decimal.Decimal) {
	f.store(symbol, price, f.now())
}

// SetPrice implements domain.PriceCache so a StaticFeed can back a CacheFeed.
// The quote keeps ts; a zero ts is stamped with the feed's current time.
func (f *StaticFeed) SetPrice(_ context.Context, symbol string, price decimal.Decimal, ts time.Time) error {
	if ts.IsZero() {
		ts = f.now()
	}
	f.store(symbol, price, ts)
	return nil
}

func (f *StaticFeed) store(symbol string, price decimal.Decimal, ts time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[strings.ToUpper(symbol)] = stampedPrice{price: price, at: ts}
}

// GetPrice implements domain.PriceCache. The returned time is when the quote
// was recorded, so a CacheFeed in front of it can refuse stale prices.
func (f *StaticFeed) GetPrice(_ context.Context, symbol string) (decimal.Decimal, time.Time, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	q, ok := f.prices[strings.ToUpper(symbol)]
	if !ok {
		return decimal.Zero, time.Time{}, fmt.Errorf("feed: price %s: %w", symbol, domain.ErrNotFound)
	}
	return q.price, q.at, nil
}

func (f *StaticFeed) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	p, _, err := f.GetPrice(ctx, symbol)
	return p, err
}

func (f *StaticFeed) Now() time.Time { return f.now() }

var (
	_ domain.MarketDataFeed = (*CacheFeed)(nil)
	_ domain.MarketDataFeed = (*StaticFeed)(nil)
	_ domain.PriceCache     = (*StaticFeed)(nil)
)
