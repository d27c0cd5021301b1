// Package risk computes position sizes from account equity and a stop price.
package risk

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradeguard/internal/domain"
)

// Policy holds the sizing parameters that are configured, not entered.
type Policy struct {
	RiskPercentPerTrade decimal.Decimal
	ScaleOutRatio       decimal.Decimal
	RewardRiskMultiple  decimal.Decimal
}

// Input is what changes from trade to trade.
type Input struct {
	AccountEquity decimal.Decimal
	EntryPrice    decimal.Decimal
	StopLossPrice decimal.Decimal
	Direction     domain.Direction
}

// PositionSizeResult is a read-only sizing decision. Only Calculator can
// produce one, so share counts can never be edited by a caller.
type PositionSizeResult struct {
	shares        int64
	target1Shares int64
	runnerShares  int64
	entryPrice    decimal.Decimal
	stopLossPrice decimal.Decimal
	target1Price  decimal.Decimal
	perShareRisk  decimal.Decimal
	maxRiskAmount decimal.Decimal
	direction     domain.Direction
	errors        []string
}

func (r PositionSizeResult) Shares() int64                  { return r.shares }
func (r PositionSizeResult) Target1Shares() int64           { return r.target1Shares }
func (r PositionSizeResult) RunnerShares() int64            { return r.runnerShares }
func (r PositionSizeResult) EntryPrice() decimal.Decimal    { return r.entryPrice }
func (r PositionSizeResult) StopLossPrice() decimal.Decimal { return r.stopLossPrice }
func (r PositionSizeResult) Target1Price() decimal.Decimal  { return r.target1Price }
func (r PositionSizeResult) PerShareRisk() decimal.Decimal  { return r.perShareRisk }
func (r PositionSizeResult) MaxRiskAmount() decimal.Decimal { return r.maxRiskAmount }
func (r PositionSizeResult) Direction() domain.Direction    { return r.direction }

// IsValid is true exactly when there are no errors.
func (r PositionSizeResult) IsValid() bool { return len(r.errors) == 0 }

// Errors returns a copy of the validation messages.
func (r PositionSizeResult) Errors() []string {
	return append([]string(nil), r.errors...)
}

// MarshalJSON renders the result for API responses.
func (r PositionSizeResult) MarshalJSON() ([]byte, error) {
	errs := r.errors
	if errs == nil {
		errs = []string{}
	}
	return json.Marshal(struct {
		Shares        int64            `json:"shares"`
		EntryPrice    decimal.Decimal  `json:"entry_price"`
		StopLossPrice decimal.Decimal  `json:"stop_loss_price"`
		Target1Price  decimal.Decimal  `json:"target1_price"`
		Target1Shares int64            `json:"target1_shares"`
		RunnerShares  int64            `json:"runner_shares"`
		MaxRiskAmount decimal.Decimal  `json:"max_risk_amount"`
		Direction     domain.Direction `json:"direction"`
		IsValid       bool             `json:"is_valid"`
		Errors        []string         `json:"errors"`
	}{
		Shares:        r.shares,
		EntryPrice:    r.entryPrice,
		StopLossPrice: r.stopLossPrice,
		Target1Price:  r.target1Price,
		Target1Shares: r.target1Shares,
		RunnerShares:  r.runnerShares,
		MaxRiskAmount: r.maxRiskAmount,
		Direction:     r.direction,
		IsValid:       r.IsValid(),
		Errors:        errs,
	})
}

// Validation messages.
const (
	ErrMsgStopEqualsEntry = "stop must differ from entry"
	ErrMsgSizeRoundsZero  = "position size rounds to zero"
)

// moneyPlaces is the precision money values are rounded to.
const moneyPlaces = 2

// Calculator sizes positions under a fixed Policy.
type Calculator struct {
	policy Policy
}

// NewCalculator validates the policy and returns a Calculator.
func NewCalculator(p Policy) (*Calculator, error) {
	one := decimal.NewFromInt(1)
	switch {
	case !p.RiskPercentPerTrade.IsPositive() || p.RiskPercentPerTrade.GreaterThan(one):
		return nil, fmt.Errorf("risk: risk percent per trade must be in (0, 1], got %s", p.RiskPercentPerTrade)
	case p.ScaleOutRatio.IsNegative() || p.ScaleOutRatio.GreaterThan(one):
		return nil, fmt.Errorf("risk: scale-out ratio must be in [0, 1], got %s", p.ScaleOutRatio)
	case !p.RewardRiskMultiple.IsPositive():
		return nil, fmt.Errorf("risk: reward:risk multiple must be positive, got %s", p.RewardRiskMultiple)
	}
	return &Calculator{policy: p}, nil
}

// Policy returns the calculator's policy.
func (c *Calculator) Policy() Policy { return c.policy }

// ComputePositionSize returns the sizing for in. Invalid inputs never panic
// and are never clamped; they yield a result with IsValid false and zero
// share counts.
func (c *Calculator) ComputePositionSize(in Input) PositionSizeResult {
	res := PositionSizeResult{
		entryPrice:    in.EntryPrice,
		stopLossPrice: in.StopLossPrice,
		direction:     in.Direction,
	}

	if !in.AccountEquity.IsPositive() {
		res.errors = append(res.errors, "account equity must be positive")
	}
	if !in.EntryPrice.IsPositive() {
		res.errors = append(res.errors, "entry price must be positive")
	}
	if !in.StopLossPrice.IsPositive() {
		res.errors = append(res.errors, "stop loss price must be positive")
	}
	if !in.Direction.Valid() {
		res.errors = append(res.errors, fmt.Sprintf("unknown direction %q", in.Direction))
	}
	if len(res.errors) > 0 {
		return res
	}

	perShareRisk := in.EntryPrice.Sub(in.StopLossPrice).Abs()
	if !perShareRisk.IsPositive() {
		res.errors = append(res.errors, ErrMsgStopEqualsEntry)
		return res
	}
	if in.Direction == domain.DirectionLong && in.StopLossPrice.GreaterThan(in.EntryPrice) {
		res.errors = append(res.errors, "stop must be below entry for a long")
		return res
	}
	if in.Direction == domain.DirectionShort && in.StopLossPrice.LessThan(in.EntryPrice) {
		res.errors = append(res.errors, "stop must be above entry for a short")
		return res
	}
	res.perShareRisk = perShareRisk

	budget := in.AccountEquity.Mul(c.policy.RiskPercentPerTrade)
	shares := budget.Div(perShareRisk).Floor().IntPart()
	if shares < 1 {
		res.errors = append(res.errors, ErrMsgSizeRoundsZero)
		return res
	}

	t1 := decimal.NewFromInt(shares).Mul(c.policy.ScaleOutRatio).Round(0).IntPart()
	if t1 > shares {
		t1 = shares
	}

	reward := perShareRisk.Mul(c.policy.RewardRiskMultiple)
	target := in.EntryPrice.Add(reward)
	if in.Direction == domain.DirectionShort {
		target = in.EntryPrice.Sub(reward)
	}
	if !target.IsPositive() {
		res.errors = append(res.errors, "target price would be at or below zero")
		return res
	}

	res.shares = shares
	res.target1Shares = t1
	res.runnerShares = shares - t1
	res.target1Price = target.Round(moneyPlaces)
	// Risk is re-derived from the whole-share count actually traded.
	res.maxRiskAmount = decimal.NewFromInt(shares).Mul(perShareRisk).Round(moneyPlaces)
	return res
}
