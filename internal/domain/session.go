package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the layout of TradingSession.TradingDate.
const DateLayout = "2006-01-02"

// PreflightAnswers are the three checklist affirmations a trader submits.
type PreflightAnswers struct {
	CalmFocused      bool `json:"calm_focused"`
	LossLimitDefined bool `json:"loss_limit_defined"`
	RiskAccepted     bool `json:"risk_accepted"`
}

// PreflightRecord is written once per session when all answers are true.
type PreflightRecord struct {
	CalmFocused      bool      `json:"calm_focused"`
	LossLimitDefined bool      `json:"loss_limit_defined"`
	RiskAccepted     bool      `json:"risk_accepted"`
	ConfirmedAt      time.Time `json:"confirmed_at"`
	ConfirmedBy      string    `json:"confirmed_by"`
}

// Lock reasons recorded on CircuitBreakerState.LockReason.
const (
	LockReasonConsecutiveLosses = "max consecutive losses"
	LockReasonDailyLossCap      = "daily loss cap"
)

// CircuitBreakerState tracks intraday losses for one session. DailyLossTotal
// is the accumulated magnitude of losing trades and is never negative.
type CircuitBreakerState struct {
	ConsecutiveLosses int             `json:"consecutive_losses"`
	DailyLossTotal    decimal.Decimal `json:"daily_loss_total"`
	IsLocked          bool            `json:"is_locked"`
	LockReason        string          `json:"lock_reason,omitempty"`
	LockedUntil       *time.Time      `json:"locked_until,omitempty"`
}

// TradingSession is the aggregate root for one trader on one trading day.
type TradingSession struct {
	ID                string              `json:"id"`
	TraderID          string              `json:"trader_id"`
	TradingDate       string              `json:"trading_date"`
	Preflight         *PreflightRecord    `json:"preflight,omitempty"`
	CircuitBreaker    CircuitBreakerState `json:"circuit_breaker"`
	HasActivePosition bool                `json:"has_active_position"`
	ActivePosition    *Position           `json:"active_position,omitempty"`
	Version           int64               `json:"version"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

// PreflightConfirmed reports whether the checklist has been written.
func (s TradingSession) PreflightConfirmed() bool {
	return s.Preflight != nil
}

// Clone returns a deep copy so callers can mutate without aliasing.
func (s TradingSession) Clone() TradingSession {
	out := s
	if s.Preflight != nil {
		p := *s.Preflight
		out.Preflight = &p
	}
	if s.CircuitBreaker.LockedUntil != nil {
		t := *s.CircuitBreaker.LockedUntil
		out.CircuitBreaker.LockedUntil = &t
	}
	if s.ActivePosition != nil {
		p := *s.ActivePosition
		out.ActivePosition = &p
	}
	return out
}
