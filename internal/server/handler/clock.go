package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/tradeguard/internal/clock"
	"github.com/alanyoungcy/tradeguard/internal/domain"
)

// ClockHandler exposes the market clock so clients can render countdowns
// without trusting their own time.
type ClockHandler struct {
	clock *clock.Clock
	now   func() time.Time
}

// NewClockHandler creates a ClockHandler; now is the feed's clock.
func NewClockHandler(c *clock.Clock, now func() time.Time) *ClockHandler {
	return &ClockHandler{clock: c, now: now}
}

type clockResponse struct {
	Now          time.Time           `json:"now"`
	TradingDate  string              `json:"trading_date"`
	Status       domain.MarketStatus `json:"status"`
	TradingDay   bool                `json:"trading_day"`
	Open         *time.Time          `json:"open,omitempty"`
	Close        *time.Time          `json:"close,omitempty"`
	NoTradeUntil *time.Time          `json:"no_trade_until,omitempty"`
}

// Get returns the market status at the server's current instant.
// GET /api/clock
func (h *ClockHandler) Get(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	resp := clockResponse{
		Now:         now,
		TradingDate: h.clock.TradingDate(now),
		Status:      h.clock.Status(now),
		TradingDay:  h.clock.IsTradingDay(now),
	}
	if open, closeAt, ok := h.clock.SessionBounds(now); ok {
		nt := open.Add(h.clock.NoTradeZone())
		resp.Open, resp.Close, resp.NoTradeUntil = &open, &closeAt, &nt
	}
	writeJSON(w, http.StatusOK, resp)
}
