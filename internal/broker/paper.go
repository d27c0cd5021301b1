// Package broker implements domain.BrokerAdapter: an in-memory paper broker
// for dry runs and an HTTP client for a real order router.
package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradeguard/internal/domain"
)

var bpsDivisor = decimal.NewFromInt(10_000)

// Paper fills every order immediately at the feed price moved against the
// trader by a fixed slippage. Nothing leaves the process.
type Paper struct {
	feed     domain.MarketDataFeed
	slippage decimal.Decimal // fraction, not bps

	mu     sync.Mutex
	equity decimal.Decimal
	orders []domain.OrderRequest
}

// NewPaper creates a paper broker that reports equity and charges
// slippageBps on every fill.
func NewPaper(feed domain.MarketDataFeed, equity decimal.Decimal, slippageBps float64) *Paper {
	return &Paper{
		feed:     feed,
		equity:   equity,
		slippage: decimal.NewFromFloat(slippageBps).Div(bpsDivisor),
	}
}

func (p *Paper) Name() string { return "paper" }

// SubmitOrder fills req at the current price. A missing price is a rejection,
// not an error, since the order never reached a venue.
func (p *Paper) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.OrderResult{}, err
	}
	now := p.feed.Now()

	price, err := p.feed.CurrentPrice(ctx, req.Symbol)
	if err != nil {
		return domain.OrderResult{
			Success:     false,
			Status:      domain.OrderStatusRejected,
			Message:     fmt.Sprintf("no price for %s", req.Symbol),
			SubmittedAt: now,
		}, nil
	}

	fill := price.Mul(decimal.NewFromInt(1).Add(p.slippage))
	if req.Direction == domain.DirectionShort {
		fill = price.Mul(decimal.NewFromInt(1).Sub(p.slippage))
	}

	p.mu.Lock()
	p.orders = append(p.orders, req)
	p.mu.Unlock()

	return domain.OrderResult{
		Success:     true,
		OrderID:     "paper-" + uuid.NewString(),
		Status:      domain.OrderStatusFilled,
		FilledPrice: fill.Round(2),
		SubmittedAt: now,
	}, nil
}

// Equity implements domain.AccountProvider.
func (p *Paper) Equity(context.Context) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.equity, nil
}

// SetEquity replaces the simulated account equity.
func (p *Paper) SetEquity(e decimal.Decimal) {
	p.mu.Lock()
	p.equity = e
	p.mu.Unlock()
}

// Orders returns a copy of every accepted order, oldest first.
func (p *Paper) Orders() []domain.OrderRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.OrderRequest(nil), p.orders...)
}

var (
	_ domain.BrokerAdapter   = (*Paper)(nil)
	_ domain.AccountProvider = (*Paper)(nil)
)
