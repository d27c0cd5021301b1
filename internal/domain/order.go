package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus tracks what the broker reported for a submission.
type OrderStatus string

const (
	OrderStatusAccepted OrderStatus = "accepted"
	OrderStatusFilled   OrderStatus = "filled"
	OrderStatusRejected OrderStatus = "rejected"
)

// OrderRequest is the one order the execution guard hands to the broker,
// bracketed by the exit plan.
type OrderRequest struct {
	ClientOrderID string          `json:"client_order_id"`
	SessionID     string          `json:"session_id"`
	Symbol        string          `json:"symbol"`
	Direction     Direction       `json:"direction"`
	Shares        int64           `json:"shares"`
	StopLossPrice decimal.Decimal `json:"stop_loss_price"`
	Target1Price  decimal.Decimal `json:"target1_price"`
	Target1Shares int64           `json:"target1_shares"`
	Exit          ExitPlan        `json:"exit_plan"`
}

// OrderResult is the broker's answer to a submission.
type OrderResult struct {
	Success     bool            `json:"success"`
	OrderID     string          `json:"order_id"`
	Status      OrderStatus     `json:"status"`
	Message     string          `json:"message,omitempty"`
	FilledPrice decimal.Decimal `json:"filled_price"`
	SubmittedAt time.Time       `json:"submitted_at"`
}

// ExecutionResult is returned by a successful execution.
type ExecutionResult struct {
	Order    OrderResult `json:"order"`
	Position Position    `json:"position"`
}

// BrokerAdapter routes orders. The core never retries SubmitOrder.
type BrokerAdapter interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	Name() string
}

// AccountProvider is optionally implemented by brokers that know the
// account equity used for sizing.
type AccountProvider interface {
	Equity(ctx context.Context) (decimal.Decimal, error)
}

// MarketDataFeed supplies prices and the authoritative current time.
type MarketDataFeed interface {
	CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	Now() time.Time
}
