// Package clock classifies wall-clock instants against an exchange calendar.
// Everything here is a pure function of the instant passed in; the clock never
// reads the system time itself.
package clock

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/tradeguard/internal/domain"
)

// TimeOfDay is an exchange-local wall-clock time.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("clock: parse time of day %q: %w", s, err)
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// on returns the instant of t on the calendar day of day, in day's location.
func (t TimeOfDay) on(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour, t.Minute, 0, 0, day.Location())
}

// Calendar describes one exchange's regular session.
type Calendar struct {
	Location      *time.Location
	PreMarketOpen TimeOfDay
	RegularOpen   TimeOfDay
	RegularClose  TimeOfDay
	// Holidays are full-day closures keyed by "2006-01-02".
	Holidays map[string]bool
	// EarlyCloses override RegularClose for half days.
	EarlyCloses map[string]TimeOfDay
}

// NYSE returns the US equities calendar without holidays.
func NYSE() Calendar {
	return Calendar{
		Location:      LoadLocation("America/New_York"),
		PreMarketOpen: TimeOfDay{Hour: 4},
		RegularOpen:   TimeOfDay{Hour: 9, Minute: 30},
		RegularClose:  TimeOfDay{Hour: 16},
		Holidays:      map[string]bool{},
		EarlyCloses:   map[string]TimeOfDay{},
	}
}

// LoadLocation loads a named zone and falls back to US Eastern standard time
// when the zoneinfo database is unavailable.
func LoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone("ET", -5*60*60)
	}
	return loc
}

// Clock answers market-time questions for a calendar and no-trade window.
type Clock struct {
	cal         Calendar
	noTradeZone time.Duration
}

// New creates a Clock. noTradeZone is the settling window after the open.
func New(cal Calendar, noTradeZone time.Duration) *Clock {
	if cal.Location == nil {
		cal.Location = time.UTC
	}
	if cal.Holidays == nil {
		cal.Holidays = map[string]bool{}
	}
	if cal.EarlyCloses == nil {
		cal.EarlyCloses = map[string]TimeOfDay{}
	}
	return &Clock{cal: cal, noTradeZone: noTradeZone}
}

// Location returns the exchange time zone.
func (c *Clock) Location() *time.Location {
	return c.cal.Location
}

// NoTradeZone returns the configured settling window.
func (c *Clock) NoTradeZone() time.Duration {
	return c.noTradeZone
}

// TradingDate returns the exchange-local calendar date of now.
func (c *Clock) TradingDate(now time.Time) string {
	return now.In(c.cal.Location).Format(domain.DateLayout)
}

// IsTradingDay reports whether the exchange holds a regular session on the
// exchange-local date of now.
func (c *Clock) IsTradingDay(now time.Time) bool {
	local := now.In(c.cal.Location)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !c.cal.Holidays[local.Format(domain.DateLayout)]
}

// SessionBounds returns the regular open and close on the date of now. ok is
// false on weekends and holidays.
func (c *Clock) SessionBounds(now time.Time) (open, close time.Time, ok bool) {
	if !c.IsTradingDay(now) {
		return time.Time{}, time.Time{}, false
	}
	local := now.In(c.cal.Location)
	closeAt := c.cal.RegularClose
	if early, found := c.cal.EarlyCloses[local.Format(domain.DateLayout)]; found {
		closeAt = early
	}
	return c.cal.RegularOpen.on(local), closeAt.on(local), true
}

// Status classifies now.
func (c *Clock) Status(now time.Time) domain.MarketStatus {
	open, closeAt, ok := c.SessionBounds(now)
	if !ok {
		return domain.MarketClosed
	}
	local := now.In(c.cal.Location)
	preOpen := c.cal.PreMarketOpen.on(local)

	switch {
	case !local.Before(closeAt):
		return domain.MarketClosed
	case !local.Before(open.Add(c.noTradeZone)):
		return domain.MarketOpen
	case !local.Before(open):
		return domain.MarketNoTradeZone
	case !local.Before(preOpen):
		return domain.MarketPreMarket
	default:
		return domain.MarketClosed
	}
}

// IsNoTradeZone reports whether now falls in the settling window after the open.
func (c *Clock) IsNoTradeZone(now time.Time) bool {
	return c.Status(now) == domain.MarketNoTradeZone
}

// EndOfTradingDay returns the exchange-local midnight that ends the date of now.
func (c *Clock) EndOfTradingDay(now time.Time) time.Time {
	local := now.In(c.cal.Location)
	return time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, c.cal.Location)
}
