// Package breaker implements the intraday loss circuit breaker.
package breaker

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradeguard/internal/domain"
)

// Config holds the lockout thresholds.
type Config struct {
	// MaxConsecutiveLosses locks trading once this many losses occur in a row.
	MaxConsecutiveLosses int
	// DailyLossCap locks trading once the day's accumulated losses exceed it.
	DailyLossCap decimal.Decimal
}

// Breaker applies trade results to a CircuitBreakerState. It holds no state of
// its own; the state belongs to the TradingSession.
type Breaker struct {
	cfg        Config
	endOfDayFn func(time.Time) time.Time
}

// New creates a Breaker. endOfDay maps an instant to the end of its trading
// day and is used to stamp LockedUntil.
func New(cfg Config, endOfDay func(time.Time) time.Time) (*Breaker, error) {
	if cfg.MaxConsecutiveLosses < 1 {
		return nil, fmt.Errorf("breaker: max consecutive losses must be >= 1, got %d", cfg.MaxConsecutiveLosses)
	}
	if !cfg.DailyLossCap.IsPositive() {
		return nil, fmt.Errorf("breaker: daily loss cap must be positive, got %s", cfg.DailyLossCap)
	}
	if endOfDay == nil {
		return nil, fmt.Errorf("breaker: end-of-day func is required")
	}
	return &Breaker{cfg: cfg, endOfDayFn: endOfDay}, nil
}

// RecordTradeResult returns the state after a trade closing with pnl. A
// negative pnl is a loss, positive a win, zero a scratch that changes nothing.
// Once locked the state stays locked and keeps its first reason.
func (b *Breaker) RecordTradeResult(state domain.CircuitBreakerState, pnl decimal.Decimal, now time.Time) domain.CircuitBreakerState {
	next := state
	if state.LockedUntil != nil {
		t := *state.LockedUntil
		next.LockedUntil = &t
	}

	switch {
	case pnl.IsNegative():
		next.ConsecutiveLosses++
		next.DailyLossTotal = next.DailyLossTotal.Add(pnl.Abs())
	case pnl.IsPositive():
		next.ConsecutiveLosses = 0
	}

	if next.IsLocked {
		return next
	}

	reason := ""
	switch {
	case next.ConsecutiveLosses >= b.cfg.MaxConsecutiveLosses:
		reason = domain.LockReasonConsecutiveLosses
	case next.DailyLossTotal.GreaterThan(b.cfg.DailyLossCap):
		reason = domain.LockReasonDailyLossCap
	}
	if reason != "" {
		until := b.endOfDayFn(now)
		next.IsLocked = true
		next.LockReason = reason
		next.LockedUntil = &until
	}
	return next
}

// IsLocked reports whether state blocks trading at now. A lock lasts until the
// end of the trading day it was set on.
func (b *Breaker) IsLocked(state domain.CircuitBreakerState, now time.Time) bool {
	return IsLocked(state, now)
}

// IsLocked is the stateless form of Breaker.IsLocked.
func IsLocked(state domain.CircuitBreakerState, now time.Time) bool {
	if !state.IsLocked {
		return false
	}
	if state.LockedUntil == nil {
		return true
	}
	return now.Before(*state.LockedUntil)
}

// JustLocked reports whether next is the transition into a lock from prev.
func JustLocked(prev, next domain.CircuitBreakerState) bool {
	return !prev.IsLocked && next.IsLocked
}
