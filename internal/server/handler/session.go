package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradeguard/internal/domain"
	"github.com/alanyoungcy/tradeguard/internal/risk"
	"github.com/alanyoungcy/tradeguard/internal/service"
)

// SessionService defines what the session handler requires from the
// service layer.
type SessionService interface {
	StartSession(ctx context.Context, traderID string) (domain.TradingSession, error)
	Get(ctx context.Context, sessionID string) (domain.TradingSession, error)
	Trades(ctx context.Context, sessionID string) ([]domain.TradeRecord, error)
	ConfirmPreflight(ctx context.Context, sessionID string, answers domain.PreflightAnswers) (domain.TradingSession, error)
	Size(ctx context.Context, req service.SizeRequest) (risk.PositionSizeResult, error)
	Evaluate(ctx context.Context, sessionID string, req service.SizeRequest) (service.Evaluation, error)
	Execute(ctx context.Context, sessionID string, req service.SizeRequest) (domain.ExecutionResult, error)
	CloseTrade(ctx context.Context, sessionID string, req service.CloseRequest) (domain.TradingSession, domain.TradeRecord, error)
}

// SessionHandler serves the trading session endpoints.
type SessionHandler struct {
	sessions SessionService
	logger   *slog.Logger
}

// NewSessionHandler creates a SessionHandler.
func NewSessionHandler(sessions SessionService, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		logger:   logger.With(slog.String("handler", "session")),
	}
}

type startSessionRequest struct {
	TraderID string `json:"trader_id"`
}

// Start returns today's session for the caller, creating it if needed.
// POST /api/sessions
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}

	trader := requestTrader(r)
	switch {
	case trader == "":
		trader = req.TraderID
	case req.TraderID != "" && req.TraderID != trader:
		writeError(w, http.StatusForbidden, "forbidden", "trader_id does not match credentials")
		return
	}

	sess, err := h.sessions.StartSession(r.Context(), trader)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// owned loads the {id} session and checks it belongs to the caller. Foreign
// sessions are reported as not found.
func (h *SessionHandler) owned(w http.ResponseWriter, r *http.Request) (domain.TradingSession, bool) {
	id := r.PathValue("id")
	sess, err := h.sessions.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return domain.TradingSession{}, false
	}
	if trader := requestTrader(r); trader != "" && trader != sess.TraderID {
		writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("session %q not found", id))
		return domain.TradingSession{}, false
	}
	return sess, true
}

// Get returns a session snapshot.
// GET /api/sessions/{id}
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.owned(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// ConfirmPreflight submits the checklist.
// POST /api/sessions/{id}/preflight
func (h *SessionHandler) ConfirmPreflight(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.owned(w, r)
	if !ok {
		return
	}
	var answers domain.PreflightAnswers
	if !decodeBody(w, r, &answers) {
		return
	}
	updated, err := h.sessions.ConfirmPreflight(r.Context(), sess.ID, answers)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// Size computes a position size without touching the session.
// POST /api/sessions/{id}/sizing
func (h *SessionHandler) Size(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.owned(w, r); !ok {
		return
	}
	var req service.SizeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := h.sessions.Size(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Evaluate reports whether the trade in the query could execute now.
// GET /api/sessions/{id}/evaluate?symbol=&direction=&entry_price=&stop_loss_price=
func (h *SessionHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.owned(w, r)
	if !ok {
		return
	}
	req, err := sizeRequestFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	ev, err := h.sessions.Evaluate(r.Context(), sess.ID, req)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func sizeRequestFromQuery(r *http.Request) (service.SizeRequest, error) {
	q := r.URL.Query()
	req := service.SizeRequest{
		Symbol:    strings.TrimSpace(q.Get("symbol")),
		Direction: domain.Direction(strings.ToLower(q.Get("direction"))),
	}
	for name, dst := range map[string]*decimal.Decimal{
		"entry_price":     &req.EntryPrice,
		"stop_loss_price": &req.StopLossPrice,
	} {
		if v := q.Get(name); v != "" {
			d, err := decimal.NewFromString(v)
			if err != nil {
				return req, fmt.Errorf("%s must be a decimal", name)
			}
			*dst = d
		}
	}
	return req, nil
}

// Execute sizes and submits an order. Share counts are always computed
// server-side.
// POST /api/sessions/{id}/execute
func (h *SessionHandler) Execute(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.owned(w, r)
	if !ok {
		return
	}
	var req service.SizeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := h.sessions.Execute(r.Context(), sess.ID, req)
	if err != nil {
		// Report the broker order whenever one exists, e.g. a fill whose
		// commit failed.
		if res.Order.OrderID != "" {
			status, code := statusFor(err)
			h.logger.WarnContext(r.Context(), "handler: execute failed with broker order",
				slog.String("session_id", sess.ID),
				slog.String("order_id", res.Order.OrderID),
				slog.String("error", err.Error()),
			)
			writeJSON(w, status, errorBody{Error: err.Error(), Code: code, Order: &res.Order})
			return
		}
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

type closeTradeResponse struct {
	Session domain.TradingSession `json:"session"`
	Trade   domain.TradeRecord    `json:"trade"`
}

// CloseTrade records the end of the active position.
// POST /api/sessions/{id}/trades
func (h *SessionHandler) CloseTrade(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.owned(w, r)
	if !ok {
		return
	}
	var req service.CloseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	updated, rec, err := h.sessions.CloseTrade(r.Context(), sess.ID, req)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, closeTradeResponse{Session: updated, Trade: rec})
}

type listTradesResponse struct {
	Trades []domain.TradeRecord `json:"trades"`
}

// ListTrades returns the session's trade journal.
// GET /api/sessions/{id}/trades
func (h *SessionHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.owned(w, r)
	if !ok {
		return
	}
	trades, err := h.sessions.Trades(r.Context(), sess.ID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if trades == nil {
		trades = []domain.TradeRecord{}
	}
	writeJSON(w, http.StatusOK, listTradesResponse{Trades: trades})
}
