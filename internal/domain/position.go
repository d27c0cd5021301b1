package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TrailRule describes how the runner's stop follows price after target 1.
type TrailRule struct {
	Kind     string          `json:"kind"` // "r_multiple"
	Distance decimal.Decimal `json:"distance"`
}

// ExitPlan is generated once at execution time and travels with the position
// for its whole lifecycle.
type ExitPlan struct {
	StopLossPrice                  decimal.Decimal `json:"stop_loss_price"`
	Target1Price                   decimal.Decimal `json:"target1_price"`
	Target1Shares                  int64           `json:"target1_shares"`
	RunnerShares                   int64           `json:"runner_shares"`
	MoveStopToBreakevenAfterTarget bool            `json:"move_stop_to_breakeven_after_target1"`
	RunnerTrailing                 TrailRule       `json:"runner_trailing"`
}

// Position is the single open position a session may hold.
type Position struct {
	ID            string          `json:"id"`
	SessionID     string          `json:"session_id"`
	OrderID       string          `json:"order_id"`
	Symbol        string          `json:"symbol"`
	Direction     Direction       `json:"direction"`
	Shares        int64           `json:"shares"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	MaxRiskAmount decimal.Decimal `json:"max_risk_amount"`
	Exit          ExitPlan        `json:"exit_plan"`
	OpenedAt      time.Time       `json:"opened_at"`
}

// TradeRecord is the journal row written when a position closes.
type TradeRecord struct {
	ID          string          `json:"id"`
	SessionID   string          `json:"session_id"`
	TraderID    string          `json:"trader_id"`
	PositionID  string          `json:"position_id"`
	Symbol      string          `json:"symbol"`
	Direction   Direction       `json:"direction"`
	Shares      int64           `json:"shares"`
	EntryPrice  decimal.Decimal `json:"entry_price"`
	ExitPrice   decimal.Decimal `json:"exit_price"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	OpenedAt    time.Time       `json:"opened_at"`
	ClosedAt    time.Time       `json:"closed_at"`
	Reason      string          `json:"reason"`
}
