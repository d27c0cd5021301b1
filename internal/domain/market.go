package domain

// MarketStatus classifies a wall-clock instant against the exchange calendar.
// It is always derived, never stored.
type MarketStatus string

const (
	MarketPreMarket   MarketStatus = "pre_market"
	MarketOpen        MarketStatus = "open"
	MarketNoTradeZone MarketStatus = "no_trade_zone"
	MarketClosed      MarketStatus = "closed"
)

// Direction is the side of a trade.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirectionLong || d == DirectionShort
}

// DisabledReason explains why execution is currently not allowed. The empty
// reason means execution is permitted.
type DisabledReason string

const (
	ReasonNone              DisabledReason = ""
	ReasonLocked            DisabledReason = "locked"
	ReasonNoTradeZone       DisabledReason = "no_trade_zone"
	ReasonMarketClosed      DisabledReason = "market_closed"
	ReasonPreMarket         DisabledReason = "pre_market"
	ReasonActivePosition    DisabledReason = "active_position"
	ReasonInvalidSizing     DisabledReason = "invalid_sizing"
	ReasonPreflightRequired DisabledReason = "preflight_required"
)

var reasonMessages = map[DisabledReason]string{
	ReasonLocked:            "trading locked for the day",
	ReasonNoTradeZone:       "market settling",
	ReasonMarketClosed:      "market closed",
	ReasonPreMarket:         "pre-market, wait for the open",
	ReasonActivePosition:    "a position is already open",
	ReasonInvalidSizing:     "position size invalid",
	ReasonPreflightRequired: "complete the preflight checklist",
}

// Message returns the human-readable text shown to the trader.
func (r DisabledReason) Message() string {
	if m, ok := reasonMessages[r]; ok {
		return m
	}
	return ""
}
