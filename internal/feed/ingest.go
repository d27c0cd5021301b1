package feed

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradeguard/internal/domain"
)

// Quote is the JSON shape of a price tick, both on the bus and on the quote
// stream. Price wins; otherwise the bid/ask midpoint is used.
type Quote struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Timestamp string          `json:"timestamp,omitempty"`
}

var errBadQuote = errors.New("feed: quote has no symbol or price")

// last returns the usable price and its time, defaulting the time to now.
func (q Quote) last(now time.Time) (string, decimal.Decimal, time.Time, error) {
	sym := strings.ToUpper(strings.TrimSpace(q.Symbol))
	price := q.Price
	if !price.IsPositive() && q.Bid.IsPositive() && q.Ask.IsPositive() {
		price = q.Bid.Add(q.Ask).Div(decimal.NewFromInt(2))
	}
	if sym == "" || !price.IsPositive() {
		return "", decimal.Zero, time.Time{}, errBadQuote
	}
	ts := now
	if q.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339Nano, q.Timestamp); err == nil {
			ts = t
		}
	}
	return sym, price, ts, nil
}

// BusIngester copies price ticks published on a SignalBus channel into a
// PriceCache, so any process can feed prices without a direct connection.
type BusIngester struct {
	bus     domain.SignalBus
	channel string
	prices  domain.PriceCache
	now     func() time.Time
	logger  *slog.Logger
}

// NewBusIngester creates a BusIngester for channel.
func NewBusIngester(bus domain.SignalBus, channel string, prices domain.PriceCache, logger *slog.Logger) *BusIngester {
	return &BusIngester{
		bus:     bus,
		channel: channel,
		prices:  prices,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "price_ingest")),
	}
}

// Run consumes ticks until ctx is done or the subscription closes.
func (b *BusIngester) Run(ctx context.Context) error {
	ch, err := b.bus.Subscribe(ctx, b.channel)
	if err != nil {
		return err
	}
	b.logger.Info("price ingest started", slog.String("channel", b.channel))
	defer b.logger.Info("price ingest stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			if err := b.handle(ctx, data); err != nil {
				b.logger.Debug("price ingest: dropped tick",
					slog.String("error", err.Error()),
					slog.Int("payload_len", len(data)),
				)
			}
		}
	}
}

func (b *BusIngester) handle(ctx context.Context, data []byte) error {
	var q Quote
	if err := json.Unmarshal(data, &q); err != nil {
		return err
	}
	sym, price, ts, err := q.last(b.now())
	if err != nil {
		return err
	}
	return b.prices.SetPrice(ctx, sym, price, ts)
}
