package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradeguard/internal/domain"
	"github.com/alanyoungcy/tradeguard/internal/risk"
)

var testNow = time.Date(2026, 10, 13, 14, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeBroker struct {
	mu     sync.Mutex
	calls  []domain.OrderRequest
	result domain.OrderResult
	err    error
	// block, when set, is waited on before returning.
	block   chan struct{}
	entered chan struct{}
}

func (b *fakeBroker) Name() string { return "fake" }

func (b *fakeBroker) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	b.mu.Lock()
	b.calls = append(b.calls, req)
	b.mu.Unlock()
	if b.entered != nil {
		b.entered <- struct{}{}
	}
	if b.block != nil {
		select {
		case <-b.block:
		case <-ctx.Done():
			return domain.OrderResult{}, ctx.Err()
		}
	}
	return b.result, b.err
}

func (b *fakeBroker) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

type memTx struct {
	mu       sync.Mutex
	session  domain.TradingSession
	commits  int
	loadErr  error
	commitFn func(domain.TradingSession) error
}

func (m *memTx) Load(_ context.Context, _ string) (domain.TradingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return domain.TradingSession{}, m.loadErr
	}
	return m.session.Clone(), nil
}

func (m *memTx) Commit(_ context.Context, s domain.TradingSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.commitFn != nil {
		if err := m.commitFn(s); err != nil {
			return err
		}
	}
	m.session = s
	m.commits++
	return nil
}

func (m *memTx) snapshot() domain.TradingSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.Clone()
}

func readySession() domain.TradingSession {
	return domain.TradingSession{
		ID:          "sess-1",
		TraderID:    "trader-1",
		TradingDate: "2026-10-13",
		Preflight: &domain.PreflightRecord{
			CalmFocused: true, LossLimitDefined: true, RiskAccepted: true,
			ConfirmedAt: testNow, ConfirmedBy: "trader-1",
		},
	}
}

func sizing(t *testing.T, entry, stop string, dir domain.Direction) risk.PositionSizeResult {
	t.Helper()
	c, err := risk.NewCalculator(risk.Policy{
		RiskPercentPerTrade: decimal.RequireFromString("0.02"),
		ScaleOutRatio:       decimal.RequireFromString("0.5"),
		RewardRiskMultiple:  decimal.RequireFromString("1"),
	})
	require.NoError(t, err)
	return c.ComputePositionSize(risk.Input{
		AccountEquity: decimal.RequireFromString("10000"),
		EntryPrice:    decimal.RequireFromString(entry),
		StopLossPrice: decimal.RequireFromString(stop),
		Direction:     dir,
	})
}

func filledBroker() *fakeBroker {
	return &fakeBroker{result: domain.OrderResult{
		Success:     true,
		OrderID:     "ord-1",
		Status:      domain.OrderStatusFilled,
		FilledPrice: decimal.RequireFromString("50.02"),
	}}
}

func request(t *testing.T) Request {
	return Request{
		SessionID: "sess-1",
		Symbol:    "AAPL",
		Direction: domain.DirectionLong,
		Sizing:    sizing(t, "50", "49", domain.DirectionLong),
		Status:    domain.MarketOpen,
		Now:       testNow,
	}
}

func TestDisabledReason_EachConditionIndependently(t *testing.T) {
	t.Parallel()
	valid := sizing(t, "50", "49", domain.DirectionLong)
	invalid := sizing(t, "50", "50", domain.DirectionLong)
	until := testNow.Add(time.Hour)

	locked := readySession()
	locked.CircuitBreaker = domain.CircuitBreakerState{IsLocked: true, LockReason: domain.LockReasonConsecutiveLosses, LockedUntil: &until}
	active := readySession()
	active.HasActivePosition = true
	noPreflight := readySession()
	noPreflight.Preflight = nil

	tests := []struct {
		name    string
		session domain.TradingSession
		status  domain.MarketStatus
		sizing  risk.PositionSizeResult
		want    domain.DisabledReason
	}{
		{"all favorable", readySession(), domain.MarketOpen, valid, domain.ReasonNone},
		{"locked", locked, domain.MarketOpen, valid, domain.ReasonLocked},
		{"no trade zone", readySession(), domain.MarketNoTradeZone, valid, domain.ReasonNoTradeZone},
		{"closed", readySession(), domain.MarketClosed, valid, domain.ReasonMarketClosed},
		{"pre market", readySession(), domain.MarketPreMarket, valid, domain.ReasonPreMarket},
		{"active position", active, domain.MarketOpen, valid, domain.ReasonActivePosition},
		{"invalid sizing", readySession(), domain.MarketOpen, invalid, domain.ReasonInvalidSizing},
		{"preflight missing", noPreflight, domain.MarketOpen, valid, domain.ReasonPreflightRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DisabledReason(tt.session, tt.status, tt.sizing, testNow))
			assert.Equal(t, tt.want == domain.ReasonNone, CanExecute(tt.session, tt.status, tt.sizing, testNow))
		})
	}
}

func TestDisabledReason_Priority(t *testing.T) {
	t.Parallel()
	invalid := sizing(t, "50", "50", domain.DirectionLong)

	s := readySession()
	s.Preflight = nil
	s.HasActivePosition = true
	s.CircuitBreaker.IsLocked = true

	assert.Equal(t, domain.ReasonLocked, DisabledReason(s, domain.MarketNoTradeZone, invalid, testNow))
	s.CircuitBreaker.IsLocked = false
	assert.Equal(t, domain.ReasonNoTradeZone, DisabledReason(s, domain.MarketNoTradeZone, invalid, testNow))
	assert.Equal(t, domain.ReasonMarketClosed, DisabledReason(s, domain.MarketClosed, invalid, testNow))
	assert.Equal(t, domain.ReasonPreMarket, DisabledReason(s, domain.MarketPreMarket, invalid, testNow))
	assert.Equal(t, domain.ReasonActivePosition, DisabledReason(s, domain.MarketOpen, invalid, testNow))
	s.HasActivePosition = false
	assert.Equal(t, domain.ReasonInvalidSizing, DisabledReason(s, domain.MarketOpen, invalid, testNow))
}

func TestDisabledReason_NoTradeZoneMessage(t *testing.T) {
	t.Parallel()
	r := DisabledReason(readySession(), domain.MarketNoTradeZone, sizing(t, "50", "49", domain.DirectionLong), testNow)
	assert.Equal(t, "market settling", r.Message())
}

func TestExecute_Success(t *testing.T) {
	t.Parallel()
	b := filledBroker()
	tx := &memTx{session: readySession()}
	g := NewGuard(b, discardLogger())

	res, err := g.Execute(context.Background(), tx, request(t))
	require.NoError(t, err)

	require.Equal(t, 1, b.callCount())
	order := b.calls[0]
	assert.Equal(t, int64(200), order.Shares)
	assert.Equal(t, int64(100), order.Target1Shares)
	assert.True(t, order.Target1Price.Equal(decimal.RequireFromString("51")))
	assert.True(t, order.StopLossPrice.Equal(decimal.RequireFromString("49")))
	assert.NotEmpty(t, order.ClientOrderID)

	assert.Equal(t, "ord-1", res.Position.OrderID)
	assert.True(t, res.Position.EntryPrice.Equal(decimal.RequireFromString("50.02")))
	assert.True(t, res.Position.Exit.MoveStopToBreakevenAfterTarget)
	assert.Equal(t, int64(100), res.Position.Exit.RunnerShares)
	assert.Equal(t, TrailKindRMultiple, res.Position.Exit.RunnerTrailing.Kind)

	stored := tx.snapshot()
	assert.True(t, stored.HasActivePosition)
	require.NotNil(t, stored.ActivePosition)
	assert.Equal(t, res.Position.ID, stored.ActivePosition.ID)
	assert.False(t, g.InFlight().Held("sess-1"))
}

func TestExecute_LockedAfterTwoLossesIgnoresSizing(t *testing.T) {
	t.Parallel()
	b := filledBroker()
	s := readySession()
	s.CircuitBreaker = domain.CircuitBreakerState{
		ConsecutiveLosses: 2, IsLocked: true, LockReason: domain.LockReasonConsecutiveLosses,
	}
	tx := &memTx{session: s}
	g := NewGuard(b, discardLogger())

	for _, sz := range []risk.PositionSizeResult{
		sizing(t, "50", "49", domain.DirectionLong),
		sizing(t, "50", "50", domain.DirectionLong),
	} {
		req := request(t)
		req.Sizing = sz
		_, err := g.Execute(context.Background(), tx, req)
		var locked *domain.LockedError
		require.True(t, errors.As(err, &locked))
		assert.Equal(t, domain.LockReasonConsecutiveLosses, locked.Reason)
	}
	assert.Zero(t, b.callCount())
}

func TestExecute_LockedBeforeInputChecks(t *testing.T) {
	t.Parallel()
	s := readySession()
	s.CircuitBreaker = domain.CircuitBreakerState{
		ConsecutiveLosses: 2, IsLocked: true, LockReason: domain.LockReasonConsecutiveLosses,
	}

	for name, mutate := range map[string]func(*Request){
		"empty symbol":       func(r *Request) { r.Symbol = "" },
		"direction mismatch": func(r *Request) { r.Direction = domain.DirectionShort },
		"closed market":      func(r *Request) { r.Status = domain.MarketClosed },
	} {
		t.Run(name, func(t *testing.T) {
			b := filledBroker()
			tx := &memTx{session: s}
			req := request(t)
			mutate(&req)

			_, err := NewGuard(b, discardLogger()).Execute(context.Background(), tx, req)
			var locked *domain.LockedError
			require.ErrorAs(t, err, &locked)
			assert.Zero(t, b.callCount())
		})
	}
}

func TestExecute_MarketWindowBeforeSymbolCheck(t *testing.T) {
	t.Parallel()
	req := request(t)
	req.Symbol = ""
	req.Status = domain.MarketNoTradeZone

	_, err := NewGuard(filledBroker(), discardLogger()).Execute(context.Background(), &memTx{session: readySession()}, req)
	assert.ErrorIs(t, err, domain.ErrMarketClosed)
}

func TestSessionReason(t *testing.T) {
	t.Parallel()
	locked := readySession()
	locked.CircuitBreaker = domain.CircuitBreakerState{IsLocked: true, LockReason: domain.LockReasonDailyLossCap}

	assert.Equal(t, domain.ReasonLocked, SessionReason(locked, domain.MarketNoTradeZone, testNow))
	assert.Equal(t, domain.ReasonPreMarket, SessionReason(readySession(), domain.MarketPreMarket, testNow))
	assert.Equal(t, domain.ReasonNone, SessionReason(readySession(), domain.MarketOpen, testNow))
}

func TestExecute_BlockedErrors(t *testing.T) {
	t.Parallel()

	active := readySession()
	active.HasActivePosition = true
	noPreflight := readySession()
	noPreflight.Preflight = nil

	tests := []struct {
		name    string
		session domain.TradingSession
		mutate  func(*Request)
		target  error
	}{
		{"no trade zone", readySession(), func(r *Request) { r.Status = domain.MarketNoTradeZone }, domain.ErrMarketClosed},
		{"closed", readySession(), func(r *Request) { r.Status = domain.MarketClosed }, domain.ErrMarketClosed},
		{"active position", active, func(*Request) {}, domain.ErrValidation},
		{"invalid sizing", readySession(), func(r *Request) { r.Sizing = sizing(t, "50", "50", domain.DirectionLong) }, domain.ErrValidation},
		{"preflight missing", noPreflight, func(*Request) {}, domain.ErrPreflightRejected},
		{"direction mismatch", readySession(), func(r *Request) { r.Direction = domain.DirectionShort }, domain.ErrValidation},
		{"missing symbol", readySession(), func(r *Request) { r.Symbol = "" }, domain.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := filledBroker()
			tx := &memTx{session: tt.session}
			g := NewGuard(b, discardLogger())
			req := request(t)
			tt.mutate(&req)

			_, err := g.Execute(context.Background(), tx, req)
			assert.ErrorIs(t, err, tt.target)
			assert.Zero(t, b.callCount())
			assert.Zero(t, tx.commits)
		})
	}
}

func TestExecute_RejectsConcurrentCall(t *testing.T) {
	t.Parallel()
	b := filledBroker()
	b.block = make(chan struct{})
	b.entered = make(chan struct{}, 1)
	tx := &memTx{session: readySession()}
	g := NewGuard(b, discardLogger())

	done := make(chan error, 1)
	go func() {
		_, err := g.Execute(context.Background(), tx, request(t))
		done <- err
	}()
	<-b.entered

	_, err := g.Execute(context.Background(), tx, request(t))
	var already *domain.AlreadyExecutingError
	require.True(t, errors.As(err, &already))
	assert.Equal(t, "sess-1", already.SessionID)

	close(b.block)
	require.NoError(t, <-done)
	assert.Equal(t, 1, b.callCount())
	assert.False(t, g.InFlight().Held("sess-1"))
}

func TestExecute_BrokerFailureLeavesSessionUnchanged(t *testing.T) {
	t.Parallel()
	b := &fakeBroker{err: errors.New("connection refused")}
	tx := &memTx{session: readySession()}
	g := NewGuard(b, discardLogger())

	_, err := g.Execute(context.Background(), tx, request(t))
	var be *domain.BrokerError
	require.True(t, errors.As(err, &be))
	assert.False(t, be.Unknown)
	assert.ErrorIs(t, err, domain.ErrBroker)

	assert.False(t, tx.snapshot().HasActivePosition)
	assert.Zero(t, tx.commits)
	assert.False(t, g.InFlight().Held("sess-1"))

	// Not retried, and the session is executable again.
	b.err = nil
	b.result = filledBroker().result
	_, err = g.Execute(context.Background(), tx, request(t))
	require.NoError(t, err)
	assert.Equal(t, 2, b.callCount())
}

func TestExecute_BrokerRejection(t *testing.T) {
	t.Parallel()
	b := &fakeBroker{result: domain.OrderResult{Success: false, Status: domain.OrderStatusRejected, Message: "insufficient buying power"}}
	tx := &memTx{session: readySession()}
	g := NewGuard(b, discardLogger())

	_, err := g.Execute(context.Background(), tx, request(t))
	require.ErrorIs(t, err, domain.ErrBroker)
	assert.Contains(t, err.Error(), "insufficient buying power")
	assert.False(t, tx.snapshot().HasActivePosition)
}

func TestExecute_CancellationClearsGuard(t *testing.T) {
	t.Parallel()
	b := filledBroker()
	b.block = make(chan struct{})
	tx := &memTx{session: readySession()}
	g := NewGuard(b, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := g.Execute(ctx, tx, request(t))
	var be *domain.BrokerError
	require.True(t, errors.As(err, &be))
	assert.True(t, be.Unknown)
	assert.Contains(t, err.Error(), "re-query")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.False(t, g.InFlight().Held("sess-1"))
	assert.False(t, tx.snapshot().HasActivePosition)
}

func TestExecute_CommitFailureReportsOrder(t *testing.T) {
	t.Parallel()
	b := filledBroker()
	tx := &memTx{session: readySession(), commitFn: func(domain.TradingSession) error { return domain.ErrConflict }}
	g := NewGuard(b, discardLogger())

	res, err := g.Execute(context.Background(), tx, request(t))
	require.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, "ord-1", res.Order.OrderID)
	assert.False(t, g.InFlight().Held("sess-1"))
}

type heldLocks struct{}

func (heldLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, domain.ErrLockHeld
}

func TestExecute_DistributedLockHeld(t *testing.T) {
	t.Parallel()
	b := filledBroker()
	tx := &memTx{session: readySession()}
	g := NewGuard(b, discardLogger())
	g.SetLockManager(heldLocks{}, time.Second)

	_, err := g.Execute(context.Background(), tx, request(t))
	assert.ErrorIs(t, err, domain.ErrAlreadyExecuting)
	assert.Zero(t, b.callCount())
	assert.False(t, g.InFlight().Held("sess-1"))
}

func TestInFlight_ReleaseIsIdempotent(t *testing.T) {
	t.Parallel()
	f := NewInFlight()

	release, ok := f.Acquire("a")
	require.True(t, ok)
	_, ok = f.Acquire("a")
	assert.False(t, ok)

	release()
	release()
	assert.Equal(t, 0, f.Len())

	release2, ok := f.Acquire("a")
	require.True(t, ok)
	// A stale release from the first holder must not free the new one.
	release()
	assert.True(t, f.Held("a"))
	release2()
	assert.False(t, f.Held("a"))
}
