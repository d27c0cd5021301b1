package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradeguard/internal/breaker"
	"github.com/alanyoungcy/tradeguard/internal/clock"
	"github.com/alanyoungcy/tradeguard/internal/domain"
	"github.com/alanyoungcy/tradeguard/internal/executor"
	"github.com/alanyoungcy/tradeguard/internal/metrics"
	"github.com/alanyoungcy/tradeguard/internal/preflight"
	"github.com/alanyoungcy/tradeguard/internal/risk"
)

// SessionDeps are the collaborators of a SessionService. Cache, Audit and
// Journal are optional.
type SessionDeps struct {
	Store   domain.SessionStore
	Cache   domain.SessionCache
	Audit   domain.AuditStore
	Journal domain.TradeJournal
	Bus     domain.SignalBus
	Feed    domain.MarketDataFeed
	Broker  domain.BrokerAdapter
	Clock   *clock.Clock
	Calc    *risk.Calculator
	Breaker *breaker.Breaker
	Guard   *executor.Guard
	// AccountEquity is used for sizing when the broker cannot report equity.
	AccountEquity decimal.Decimal
}

// SizeRequest carries the per-trade inputs. A zero EntryPrice means "use the
// feed's current price".
type SizeRequest struct {
	Symbol        string           `json:"symbol"`
	Direction     domain.Direction `json:"direction"`
	EntryPrice    decimal.Decimal  `json:"entry_price"`
	StopLossPrice decimal.Decimal  `json:"stop_loss_price"`
}

// Evaluation is the read-only answer to "may I execute right now?".
type Evaluation struct {
	Status     domain.MarketStatus     `json:"market_status"`
	Sizing     risk.PositionSizeResult `json:"sizing"`
	CanExecute bool                    `json:"can_execute"`
	Reason     domain.DisabledReason   `json:"disabled_reason,omitempty"`
	Message    string                  `json:"message,omitempty"`
	At         time.Time               `json:"at"`
}

// CloseRequest reports how the active position ended. When RealizedPnL is nil
// it is computed from ExitPrice; a zero ExitPrice means the feed's price.
type CloseRequest struct {
	ExitPrice   decimal.Decimal  `json:"exit_price"`
	RealizedPnL *decimal.Decimal `json:"realized_pnl,omitempty"`
	Reason      string           `json:"reason"`
}

// SessionService owns the lifecycle of TradingSessions: start, preflight,
// sizing, execution and trade close. Every mutation is persisted, cached,
// audited and published as a SessionEvent.
type SessionService struct {
	store   domain.SessionStore
	cache   domain.SessionCache
	audit   domain.AuditStore
	journal domain.TradeJournal
	bus     domain.SignalBus
	feed    domain.MarketDataFeed
	broker  domain.BrokerAdapter
	clock   *clock.Clock
	calc    *risk.Calculator
	breaker *breaker.Breaker
	gate    preflight.Gate
	guard   *executor.Guard
	equity  decimal.Decimal
	logger  *slog.Logger

	// mu guards locks; each session's mutations are serialised by its own mutex.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewSessionService creates a SessionService.
func NewSessionService(deps SessionDeps, logger *slog.Logger) *SessionService {
	return &SessionService{
		store:   deps.Store,
		cache:   deps.Cache,
		audit:   deps.Audit,
		journal: deps.Journal,
		bus:     deps.Bus,
		feed:    deps.Feed,
		broker:  deps.Broker,
		clock:   deps.Clock,
		calc:    deps.Calc,
		breaker: deps.Breaker,
		gate:    preflight.NewGate(),
		guard:   deps.Guard,
		equity:  deps.AccountEquity,
		logger:  logger.With(slog.String("component", "session_service")),
		locks:   make(map[string]*sync.Mutex),
	}
}

func (s *SessionService) lock(sessionID string) func() {
	s.mu.Lock()
	m, ok := s.locks[sessionID]
	if !ok {
		m = &sync.Mutex{}
		s.locks[sessionID] = m
	}
	s.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// Now returns the feed's authoritative time.
func (s *SessionService) Now() time.Time { return s.feed.Now() }

// Clock returns the market clock.
func (s *SessionService) Clock() *clock.Clock { return s.clock }

// StartSession returns the trader's session for the current trading day,
// creating it on first call. A session that already exists is returned as
// stored, so a restart never clears a breaker lock.
func (s *SessionService) StartSession(ctx context.Context, traderID string) (domain.TradingSession, error) {
	traderID = strings.TrimSpace(traderID)
	if traderID == "" {
		return domain.TradingSession{}, &domain.ValidationError{Errors: []string{"trader id is required"}}
	}
	now := s.feed.Now()
	date := s.clock.TradingDate(now)

	// The store is authoritative: a failed cache write after persist would
	// leave an older snapshot in the cache.
	existing, err := s.store.GetByTraderDate(ctx, traderID, date)
	if err == nil {
		s.cacheSet(ctx, existing, now)
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		if cached, ok := s.cachedSession(ctx, traderID, date); ok {
			s.logger.WarnContext(ctx, "session_service: store lookup failed, serving cached session",
				slog.String("trader_id", traderID),
				slog.Int64("version", cached.Version),
				slog.String("error", err.Error()),
			)
			return cached, nil
		}
		return domain.TradingSession{}, fmt.Errorf("session_service: lookup session: %w", err)
	}

	sess := domain.TradingSession{
		ID:          ulid.Make().String(),
		TraderID:    traderID,
		TradingDate: date,
		CircuitBreaker: domain.CircuitBreakerState{
			DailyLossTotal: decimal.Zero,
		},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Create(ctx, sess); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			// Lost a race with another start for the same trader and day.
			return s.store.GetByTraderDate(ctx, traderID, date)
		}
		return domain.TradingSession{}, fmt.Errorf("session_service: create session: %w", err)
	}
	s.cacheSet(ctx, sess, now)
	metrics.ActiveSessions.Inc()

	s.emit(ctx, domain.EventSessionStarted, sess, map[string]any{
		"trading_date": date,
	})
	s.logger.InfoContext(ctx, "session_service: session started",
		slog.String("session_id", sess.ID),
		slog.String("trader_id", traderID),
		slog.String("trading_date", date),
	)
	return sess, nil
}

// Get returns a session by ID regardless of its trading date.
func (s *SessionService) Get(ctx context.Context, sessionID string) (domain.TradingSession, error) {
	sess, err := s.store.GetByID(ctx, sessionID)
	if err != nil {
		return domain.TradingSession{}, fmt.Errorf("session_service: get session %q: %w", sessionID, err)
	}
	return sess, nil
}

// Trades returns the journal for a session.
func (s *SessionService) Trades(ctx context.Context, sessionID string) ([]domain.TradeRecord, error) {
	if s.journal == nil {
		return nil, nil
	}
	recs, err := s.journal.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session_service: list trades: %w", err)
	}
	return recs, nil
}

// sessionStatus is the market status as it applies to sess: a session from
// another trading day sees the market as closed.
func (s *SessionService) sessionStatus(sess domain.TradingSession, now time.Time) domain.MarketStatus {
	if sess.TradingDate != s.clock.TradingDate(now) {
		return domain.MarketClosed
	}
	return s.clock.Status(now)
}

// loadCurrent fetches a session that may still be mutated: it must belong to
// the current trading day.
func (s *SessionService) loadCurrent(ctx context.Context, sessionID string, now time.Time) (domain.TradingSession, error) {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return domain.TradingSession{}, err
	}
	if sess.TradingDate != s.clock.TradingDate(now) {
		return domain.TradingSession{}, fmt.Errorf("session_service: session %q (%s): %w", sessionID, sess.TradingDate, domain.ErrSessionStale)
	}
	return sess, nil
}

// ConfirmPreflight writes the checklist record. It succeeds once per session.
func (s *SessionService) ConfirmPreflight(ctx context.Context, sessionID string, answers domain.PreflightAnswers) (domain.TradingSession, error) {
	unlock := s.lock(sessionID)
	defer unlock()

	now := s.feed.Now()
	sess, err := s.loadCurrent(ctx, sessionID, now)
	if err != nil {
		return domain.TradingSession{}, err
	}
	if sess.PreflightConfirmed() {
		return domain.TradingSession{}, fmt.Errorf("session_service: preflight for %q: %w", sessionID, domain.ErrAlreadyExists)
	}

	rec, err := s.gate.Confirm(answers, sess.TraderID, now)
	if err != nil {
		metrics.Preflight.WithLabelValues("rejected").Inc()
		var rej *domain.RejectedError
		missing := []string(nil)
		if errors.As(err, &rej) {
			missing = rej.Missing
		}
		s.emit(ctx, domain.EventPreflightRejected, sess, map[string]any{"missing": missing})
		return domain.TradingSession{}, err
	}

	sess.Preflight = &rec
	if err := s.persist(ctx, &sess, now); err != nil {
		return domain.TradingSession{}, err
	}
	metrics.Preflight.WithLabelValues("confirmed").Inc()
	s.emit(ctx, domain.EventPreflightConfirmed, sess, nil)
	s.logger.InfoContext(ctx, "session_service: preflight confirmed",
		slog.String("session_id", sess.ID),
		slog.String("trader_id", sess.TraderID),
	)
	return sess, nil
}

// Size computes a fresh PositionSizeResult for req.
func (s *SessionService) Size(ctx context.Context, req SizeRequest) (risk.PositionSizeResult, error) {
	equity, err := s.accountEquity(ctx)
	if err != nil {
		return risk.PositionSizeResult{}, err
	}
	entry := req.EntryPrice
	if entry.IsZero() {
		if req.Symbol == "" {
			return risk.PositionSizeResult{}, &domain.ValidationError{Errors: []string{"symbol or entry price is required"}}
		}
		entry, err = s.feed.CurrentPrice(ctx, req.Symbol)
		if err != nil {
			return risk.PositionSizeResult{}, fmt.Errorf("session_service: current price: %w", err)
		}
	}
	return s.calc.ComputePositionSize(risk.Input{
		AccountEquity: equity,
		EntryPrice:    entry,
		StopLossPrice: req.StopLossPrice,
		Direction:     req.Direction,
	}), nil
}

func (s *SessionService) accountEquity(ctx context.Context) (decimal.Decimal, error) {
	if ap, ok := s.broker.(domain.AccountProvider); ok {
		eq, err := ap.Equity(ctx)
		if err != nil {
			return decimal.Zero, fmt.Errorf("session_service: account equity: %w", err)
		}
		return eq, nil
	}
	return s.equity, nil
}

// Evaluate reports whether the session could execute req right now and, if
// not, the single highest-priority reason.
func (s *SessionService) Evaluate(ctx context.Context, sessionID string, req SizeRequest) (Evaluation, error) {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return Evaluation{}, err
	}
	now := s.feed.Now()
	status := s.sessionStatus(sess, now)
	sizing, err := s.Size(ctx, req)
	if err != nil {
		// A lock or a closed window outranks anything sizing can report.
		reason := executor.SessionReason(sess, status, now)
		if reason == domain.ReasonNone {
			return Evaluation{}, err
		}
		return Evaluation{
			Status:  status,
			Reason:  reason,
			Message: reason.Message(),
			At:      now,
		}, nil
	}
	reason := s.guard.DisabledReason(sess, status, sizing, now)
	return Evaluation{
		Status:     status,
		Sizing:     sizing,
		CanExecute: reason == domain.ReasonNone,
		Reason:     reason,
		Message:    reason.Message(),
		At:         now,
	}, nil
}

// Execute sizes req on the server, then submits it through the execution
// guard. Client-supplied share counts are never accepted.
func (s *SessionService) Execute(ctx context.Context, sessionID string, req SizeRequest) (domain.ExecutionResult, error) {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return domain.ExecutionResult{}, err
	}
	now := s.feed.Now()
	// Staleness is reported when the guard loads the session.
	status := s.clock.Status(now)
	if reason := executor.SessionReason(sess, status, now); reason != domain.ReasonNone {
		err := executor.ReasonError(reason, sess, status, risk.PositionSizeResult{})
		s.recordExecutionFailure(ctx, sessionID, err)
		return domain.ExecutionResult{}, err
	}

	sizing, err := s.Size(ctx, req)
	if err != nil {
		return domain.ExecutionResult{}, err
	}

	res, err := s.guard.Execute(ctx, sessionTx{svc: s, now: now}, executor.Request{
		SessionID: sessionID,
		Symbol:    strings.ToUpper(req.Symbol),
		Direction: req.Direction,
		Sizing:    sizing,
		Status:    status,
		Now:       now,
	})
	if err != nil {
		s.recordExecutionFailure(ctx, sessionID, err)
		return res, err
	}

	metrics.Executions.WithLabelValues("submitted").Inc()
	if sess, getErr := s.Get(ctx, sessionID); getErr == nil {
		s.emit(ctx, domain.EventExecutionSubmitted, sess, map[string]any{
			"order_id":      res.Order.OrderID,
			"symbol":        res.Position.Symbol,
			"direction":     string(res.Position.Direction),
			"shares":        res.Position.Shares,
			"entry_price":   res.Position.EntryPrice.String(),
			"stop_loss":     res.Position.Exit.StopLossPrice.String(),
			"target1_price": res.Position.Exit.Target1Price.String(),
		})
	}
	return res, nil
}

func (s *SessionService) recordExecutionFailure(ctx context.Context, sessionID string, err error) {
	var (
		locked  *domain.LockedError
		closed  *domain.MarketClosedError
		valErr  *domain.ValidationError
		rej     *domain.RejectedError
		already *domain.AlreadyExecutingError
		brkErr  *domain.BrokerError
	)
	switch {
	case errors.As(err, &locked):
		metrics.ExecutionBlocked.WithLabelValues(string(domain.ReasonLocked)).Inc()
	case errors.As(err, &closed):
		metrics.ExecutionBlocked.WithLabelValues(string(closed.Status)).Inc()
	case errors.As(err, &valErr):
		reason := valErr.Reason
		if reason == domain.ReasonNone {
			reason = domain.ReasonInvalidSizing
		}
		metrics.ExecutionBlocked.WithLabelValues(string(reason)).Inc()
	case errors.As(err, &rej):
		metrics.ExecutionBlocked.WithLabelValues(string(domain.ReasonPreflightRequired)).Inc()
	case errors.As(err, &already):
		metrics.ExecutionBlocked.WithLabelValues("already_executing").Inc()
	case errors.As(err, &brkErr):
		result := "failed"
		if brkErr.Unknown {
			result = "unknown"
		}
		metrics.Executions.WithLabelValues(result).Inc()
		if sess, getErr := s.Get(ctx, sessionID); getErr == nil {
			s.emit(ctx, domain.EventExecutionFailed, sess, map[string]any{
				"error":          brkErr.Error(),
				"status_unknown": brkErr.Unknown,
			})
		}
	default:
		metrics.Executions.WithLabelValues("error").Inc()
	}
}

// CloseTrade records the outcome of the active position, feeds it to the
// circuit breaker and clears the position.
func (s *SessionService) CloseTrade(ctx context.Context, sessionID string, req CloseRequest) (domain.TradingSession, domain.TradeRecord, error) {
	unlock := s.lock(sessionID)
	defer unlock()

	now := s.feed.Now()
	sess, err := s.loadCurrent(ctx, sessionID, now)
	if err != nil {
		return domain.TradingSession{}, domain.TradeRecord{}, err
	}
	if !sess.HasActivePosition || sess.ActivePosition == nil {
		return domain.TradingSession{}, domain.TradeRecord{}, fmt.Errorf("session_service: close trade on %q: %w", sessionID, domain.ErrNoPosition)
	}
	pos := *sess.ActivePosition

	exit := req.ExitPrice
	if exit.IsZero() && req.RealizedPnL == nil {
		exit, err = s.feed.CurrentPrice(ctx, pos.Symbol)
		if err != nil {
			return domain.TradingSession{}, domain.TradeRecord{}, fmt.Errorf("session_service: exit price: %w", err)
		}
	}
	if exit.IsNegative() {
		return domain.TradingSession{}, domain.TradeRecord{}, &domain.ValidationError{Errors: []string{"exit price must not be negative"}}
	}

	var pnl decimal.Decimal
	if req.RealizedPnL != nil {
		pnl = *req.RealizedPnL
	} else {
		pnl = exit.Sub(pos.EntryPrice).Mul(decimal.NewFromInt(pos.Shares))
		if pos.Direction == domain.DirectionShort {
			pnl = pnl.Neg()
		}
	}

	prev := sess.CircuitBreaker
	sess.CircuitBreaker = s.breaker.RecordTradeResult(prev, pnl, now)
	sess.HasActivePosition = false
	sess.ActivePosition = nil
	if err := s.persist(ctx, &sess, now); err != nil {
		return domain.TradingSession{}, domain.TradeRecord{}, err
	}

	rec := domain.TradeRecord{
		ID:          ulid.Make().String(),
		SessionID:   sess.ID,
		TraderID:    sess.TraderID,
		PositionID:  pos.ID,
		Symbol:      pos.Symbol,
		Direction:   pos.Direction,
		Shares:      pos.Shares,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   exit,
		RealizedPnL: pnl,
		OpenedAt:    pos.OpenedAt,
		ClosedAt:    now,
		Reason:      req.Reason,
	}
	if s.journal != nil {
		if err := s.journal.RecordTrade(ctx, rec); err != nil {
			s.logger.ErrorContext(ctx, "session_service: journal trade failed",
				slog.String("session_id", sess.ID),
				slog.String("trade_id", rec.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	result := "scratch"
	switch {
	case pnl.IsNegative():
		result = "loss"
	case pnl.IsPositive():
		result = "win"
	}
	metrics.TradesClosed.WithLabelValues(result).Inc()

	s.emit(ctx, domain.EventTradeClosed, sess, map[string]any{
		"trade_id":           rec.ID,
		"symbol":             rec.Symbol,
		"realized_pnl":       pnl.String(),
		"consecutive_losses": sess.CircuitBreaker.ConsecutiveLosses,
		"daily_loss_total":   sess.CircuitBreaker.DailyLossTotal.String(),
	})
	if breaker.JustLocked(prev, sess.CircuitBreaker) {
		metrics.BreakerLocks.WithLabelValues(sess.CircuitBreaker.LockReason).Inc()
		s.emit(ctx, domain.EventBreakerLocked, sess, map[string]any{
			"lock_reason":  sess.CircuitBreaker.LockReason,
			"locked_until": sess.CircuitBreaker.LockedUntil,
		})
		s.logger.WarnContext(ctx, "session_service: circuit breaker locked",
			slog.String("session_id", sess.ID),
			slog.String("trader_id", sess.TraderID),
			slog.String("reason", sess.CircuitBreaker.LockReason),
		)
	}

	s.logger.InfoContext(ctx, "session_service: trade closed",
		slog.String("session_id", sess.ID),
		slog.String("symbol", rec.Symbol),
		slog.String("pnl", pnl.String()),
	)
	return sess, rec, nil
}

// persist bumps the version, writes the snapshot and refreshes the cache.
func (s *SessionService) persist(ctx context.Context, sess *domain.TradingSession, now time.Time) error {
	sess.Version++
	sess.UpdatedAt = now
	if err := s.store.Update(ctx, *sess); err != nil {
		return fmt.Errorf("session_service: update session %q: %w", sess.ID, err)
	}
	s.cacheSet(ctx, *sess, now)
	return nil
}

// cachedSession is the read-only fallback used while the store is
// unreachable. Mutations still go through the store.
func (s *SessionService) cachedSession(ctx context.Context, traderID, date string) (domain.TradingSession, bool) {
	if s.cache == nil {
		return domain.TradingSession{}, false
	}
	cached, err := s.cache.Get(ctx, traderID, date)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "session_service: cache get failed",
				slog.String("trader_id", traderID),
				slog.String("error", err.Error()),
			)
		}
		return domain.TradingSession{}, false
	}
	return cached, true
}

func (s *SessionService) cacheSet(ctx context.Context, sess domain.TradingSession, now time.Time) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, sess, s.clock.EndOfTradingDay(now)); err != nil {
		s.logger.WarnContext(ctx, "session_service: cache set failed",
			slog.String("session_id", sess.ID),
			slog.String("error", err.Error()),
		)
	}
}

// emit audits and publishes a session event. Failures are logged, never
// returned: the snapshot is already durable by the time events go out.
func (s *SessionService) emit(ctx context.Context, kind domain.EventKind, sess domain.TradingSession, data map[string]any) {
	evt := domain.SessionEvent{
		Kind:      kind,
		SessionID: sess.ID,
		TraderID:  sess.TraderID,
		At:        s.feed.Now(),
		Data:      data,
	}

	if s.audit != nil {
		detail := map[string]any{
			"session_id": sess.ID,
			"trader_id":  sess.TraderID,
			"version":    sess.Version,
		}
		for k, v := range data {
			detail[k] = v
		}
		if err := s.audit.Log(ctx, string(kind), detail); err != nil {
			s.logger.WarnContext(ctx, "session_service: audit log failed",
				slog.String("session_id", sess.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		s.logger.WarnContext(ctx, "session_service: marshal event failed", slog.String("error", err.Error()))
		return
	}
	if err := s.bus.Publish(ctx, domain.SessionEventsChannel, payload); err != nil {
		s.logger.WarnContext(ctx, "session_service: publish event failed",
			slog.String("session_id", sess.ID),
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
	}
}

// sessionTx lets the execution guard read and commit through the service.
type sessionTx struct {
	svc *SessionService
	now time.Time
}

func (t sessionTx) Load(ctx context.Context, sessionID string) (domain.TradingSession, error) {
	return t.svc.loadCurrent(ctx, sessionID, t.now)
}

func (t sessionTx) Commit(ctx context.Context, sess domain.TradingSession) error {
	unlock := t.svc.lock(sess.ID)
	defer unlock()
	return t.svc.persist(ctx, &sess, t.now)
}
