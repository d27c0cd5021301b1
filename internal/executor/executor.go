package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/tradeguard/internal/breaker"
	"github.com/alanyoungcy/tradeguard/internal/domain"
	"github.com/alanyoungcy/tradeguard/internal/preflight"
	"github.com/alanyoungcy/tradeguard/internal/risk"
)

// SessionTx is how the guard reads the latest session snapshot and writes the
// post-fill snapshot. The service layer implements it over its store.
type SessionTx interface {
	Load(ctx context.Context, sessionID string) (domain.TradingSession, error)
	Commit(ctx context.Context, s domain.TradingSession) error
}

// Request is one confirmed execution intent.
type Request struct {
	SessionID string
	Symbol    string
	Direction domain.Direction
	Sizing    risk.PositionSizeResult
	Status    domain.MarketStatus
	Now       time.Time
}

// Guard decides whether a session may execute and submits at most one order
// per session at a time.
type Guard struct {
	broker   domain.BrokerAdapter
	locks    domain.LockManager
	lockTTL  time.Duration
	inflight *InFlight
	logger   *slog.Logger
}

// NewGuard creates a Guard that routes orders through broker.
func NewGuard(broker domain.BrokerAdapter, logger *slog.Logger) *Guard {
	return &Guard{
		broker:   broker,
		lockTTL:  30 * time.Second,
		inflight: NewInFlight(),
		logger:   logger.With(slog.String("component", "executor")),
	}
}

// SetLockManager adds a distributed lock around submissions so two processes
// serving the same session cannot both submit. ttl bounds how long a crashed
// holder can block the session.
func (g *Guard) SetLockManager(locks domain.LockManager, ttl time.Duration) {
	g.locks = locks
	if ttl > 0 {
		g.lockTTL = ttl
	}
}

// InFlight exposes the in-process guard.
func (g *Guard) InFlight() *InFlight { return g.inflight }

// DisabledReason returns the single highest-priority reason execution is not
// allowed, or ReasonNone.
func DisabledReason(s domain.TradingSession, status domain.MarketStatus, sizing risk.PositionSizeResult, now time.Time) domain.DisabledReason {
	if reason := SessionReason(s, status, now); reason != domain.ReasonNone {
		return reason
	}
	switch {
	case s.HasActivePosition:
		return domain.ReasonActivePosition
	case !sizing.IsValid():
		return domain.ReasonInvalidSizing
	case !s.PreflightConfirmed():
		return domain.ReasonPreflightRequired
	}
	return domain.ReasonNone
}

// SessionReason covers the checks that come before any sizing: the breaker
// lock, then the market window. It returns ReasonNone when both pass.
func SessionReason(s domain.TradingSession, status domain.MarketStatus, now time.Time) domain.DisabledReason {
	switch {
	case breaker.IsLocked(s.CircuitBreaker, now):
		return domain.ReasonLocked
	case status == domain.MarketNoTradeZone:
		return domain.ReasonNoTradeZone
	case status == domain.MarketClosed:
		return domain.ReasonMarketClosed
	case status == domain.MarketPreMarket:
		return domain.ReasonPreMarket
	case status != domain.MarketOpen:
		return domain.ReasonMarketClosed
	}
	return domain.ReasonNone
}

// CanExecute is true only when every execution condition holds.
func CanExecute(s domain.TradingSession, status domain.MarketStatus, sizing risk.PositionSizeResult, now time.Time) bool {
	return DisabledReason(s, status, sizing, now) == domain.ReasonNone
}

// DisabledReason is the method form of the package function.
func (g *Guard) DisabledReason(s domain.TradingSession, status domain.MarketStatus, sizing risk.PositionSizeResult, now time.Time) domain.DisabledReason {
	return DisabledReason(s, status, sizing, now)
}

// CanExecute is the method form of the package function.
func (g *Guard) CanExecute(s domain.TradingSession, status domain.MarketStatus, sizing risk.PositionSizeResult, now time.Time) bool {
	return CanExecute(s, status, sizing, now)
}

// ReasonError maps a disabled reason to its typed error.
func ReasonError(reason domain.DisabledReason, s domain.TradingSession, status domain.MarketStatus, sizing risk.PositionSizeResult) error {
	switch reason {
	case domain.ReasonLocked:
		return &domain.LockedError{Reason: s.CircuitBreaker.LockReason}
	case domain.ReasonNoTradeZone, domain.ReasonMarketClosed, domain.ReasonPreMarket:
		return &domain.MarketClosedError{Status: status}
	case domain.ReasonInvalidSizing:
		return &domain.ValidationError{Reason: reason, Errors: sizing.Errors()}
	case domain.ReasonPreflightRequired:
		return &domain.RejectedError{Reason: preflight.ReasonIncomplete}
	default:
		return &domain.ValidationError{Reason: reason}
	}
}

// Execute submits exactly one order for req and, on success, records the
// position and its exit plan on the session. The broker is never retried.
// On any failure the session is left as it was and the guard is released.
func (g *Guard) Execute(ctx context.Context, tx SessionTx, req Request) (domain.ExecutionResult, error) {
	release, ok := g.inflight.Acquire(req.SessionID)
	if !ok {
		return domain.ExecutionResult{}, &domain.AlreadyExecutingError{SessionID: req.SessionID}
	}
	defer release()

	if g.locks != nil {
		unlock, err := g.locks.Acquire(ctx, "execute:"+req.SessionID, g.lockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			return domain.ExecutionResult{}, &domain.AlreadyExecutingError{SessionID: req.SessionID}
		}
		if err != nil {
			return domain.ExecutionResult{}, fmt.Errorf("executor: acquire lock: %w", err)
		}
		defer unlock()
	}

	// Decide on the stored session, not on whatever the caller saw earlier.
	s, err := tx.Load(ctx, req.SessionID)
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("executor: load session: %w", err)
	}

	log := g.logger.With(
		slog.String("session_id", s.ID),
		slog.String("trader_id", s.TraderID),
		slog.String("symbol", req.Symbol),
		slog.String("direction", string(req.Direction)),
	)

	if reason := DisabledReason(s, req.Status, req.Sizing, req.Now); reason != domain.ReasonNone {
		log.Info("execution blocked", slog.String("reason", string(reason)))
		return domain.ExecutionResult{}, ReasonError(reason, s, req.Status, req.Sizing)
	}
	if req.Symbol == "" {
		return domain.ExecutionResult{}, &domain.ValidationError{
			Reason: domain.ReasonInvalidSizing,
			Errors: []string{"symbol is required"},
		}
	}
	if req.Direction != req.Sizing.Direction() {
		return domain.ExecutionResult{}, &domain.ValidationError{
			Reason: domain.ReasonInvalidSizing,
			Errors: []string{fmt.Sprintf("direction %q does not match sizing direction %q", req.Direction, req.Sizing.Direction())},
		}
	}

	plan := ExitPlanFor(req.Sizing)
	order := domain.OrderRequest{
		ClientOrderID: uuid.New().String(),
		SessionID:     s.ID,
		Symbol:        req.Symbol,
		Direction:     req.Direction,
		Shares:        req.Sizing.Shares(),
		StopLossPrice: req.Sizing.StopLossPrice(),
		Target1Price:  req.Sizing.Target1Price(),
		Target1Shares: req.Sizing.Target1Shares(),
		Exit:          plan,
	}

	result, err := g.broker.SubmitOrder(ctx, order)
	if err != nil {
		unknown := ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		log.Error("order submission failed",
			slog.String("client_order_id", order.ClientOrderID),
			slog.Bool("status_unknown", unknown),
			slog.String("error", err.Error()),
		)
		return domain.ExecutionResult{}, &domain.BrokerError{Err: err, Unknown: unknown}
	}
	if !result.Success {
		log.Warn("order rejected",
			slog.String("order_id", result.OrderID),
			slog.String("status", string(result.Status)),
			slog.String("message", result.Message),
		)
		msg := result.Message
		if msg == "" {
			msg = "order rejected"
		}
		return domain.ExecutionResult{Order: result}, &domain.BrokerError{Message: msg}
	}

	entry := result.FilledPrice
	if !entry.IsPositive() {
		entry = req.Sizing.EntryPrice()
	}
	pos := domain.Position{
		ID:            uuid.New().String(),
		SessionID:     s.ID,
		OrderID:       result.OrderID,
		Symbol:        req.Symbol,
		Direction:     req.Direction,
		Shares:        req.Sizing.Shares(),
		EntryPrice:    entry,
		MaxRiskAmount: req.Sizing.MaxRiskAmount(),
		Exit:          plan,
		OpenedAt:      req.Now,
	}

	next := s.Clone()
	next.HasActivePosition = true
	next.ActivePosition = &pos
	if err := tx.Commit(ctx, next); err != nil {
		// The order is live at the broker; the caller must reconcile.
		log.Error("order placed but session commit failed",
			slog.String("order_id", result.OrderID),
			slog.String("error", err.Error()),
		)
		return domain.ExecutionResult{Order: result, Position: pos}, fmt.Errorf("executor: commit after fill (order %s): %w", result.OrderID, err)
	}

	log.Info("order placed",
		slog.String("order_id", result.OrderID),
		slog.Int64("shares", pos.Shares),
		slog.String("entry", entry.String()),
	)
	return domain.ExecutionResult{Order: result, Position: pos}, nil
}
