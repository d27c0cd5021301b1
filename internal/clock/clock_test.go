package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradeguard/internal/domain"
)

func testClock(t *testing.T) (*Clock, *time.Location) {
	t.Helper()
	cal := NYSE()
	cal.Holidays["2026-12-25"] = true
	cal.EarlyCloses["2026-11-27"] = TimeOfDay{Hour: 13}
	return New(cal, 15*time.Minute), cal.Location
}

func TestStatus(t *testing.T) {
	t.Parallel()
	c, loc := testClock(t)

	// 2026-10-13 is a Tuesday.
	at := func(h, m int) time.Time { return time.Date(2026, 10, 13, h, m, 0, 0, loc) }

	tests := []struct {
		name string
		now  time.Time
		want domain.MarketStatus
	}{
		{"overnight", at(3, 59), domain.MarketClosed},
		{"premarket start", at(4, 0), domain.MarketPreMarket},
		{"premarket late", at(9, 29), domain.MarketPreMarket},
		{"open bell", at(9, 30), domain.MarketNoTradeZone},
		{"settling", at(9, 44), domain.MarketNoTradeZone},
		{"settled", at(9, 45), domain.MarketOpen},
		{"afternoon", at(15, 59), domain.MarketOpen},
		{"close bell", at(16, 0), domain.MarketClosed},
		{"evening", at(20, 0), domain.MarketClosed},
		{"saturday", time.Date(2026, 10, 17, 11, 0, 0, 0, loc), domain.MarketClosed},
		{"holiday", time.Date(2026, 12, 25, 11, 0, 0, 0, loc), domain.MarketClosed},
		{"early close open", time.Date(2026, 11, 27, 12, 59, 0, 0, loc), domain.MarketOpen},
		{"early close shut", time.Date(2026, 11, 27, 13, 0, 0, 0, loc), domain.MarketClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Status(tt.now))
		})
	}
}

func TestStatusUsesExchangeZone(t *testing.T) {
	t.Parallel()
	c, loc := testClock(t)

	local := time.Date(2026, 10, 13, 10, 0, 0, 0, loc)
	assert.Equal(t, domain.MarketOpen, c.Status(local.UTC()))
}

func TestIsNoTradeZone(t *testing.T) {
	t.Parallel()
	c, loc := testClock(t)

	assert.True(t, c.IsNoTradeZone(time.Date(2026, 10, 13, 9, 35, 0, 0, loc)))
	assert.False(t, c.IsNoTradeZone(time.Date(2026, 10, 13, 9, 50, 0, 0, loc)))
	assert.False(t, c.IsNoTradeZone(time.Date(2026, 10, 17, 9, 35, 0, 0, loc)))
}

func TestZeroNoTradeZone(t *testing.T) {
	t.Parallel()
	cal := NYSE()
	c := New(cal, 0)

	assert.Equal(t, domain.MarketOpen, c.Status(time.Date(2026, 10, 13, 9, 30, 0, 0, cal.Location)))
}

func TestTradingDateAndEndOfDay(t *testing.T) {
	t.Parallel()
	c, loc := testClock(t)

	now := time.Date(2026, 10, 13, 23, 30, 0, 0, loc)
	assert.Equal(t, "2026-10-13", c.TradingDate(now))
	// 03:30 UTC on the 14th is still the 13th in New York.
	assert.Equal(t, "2026-10-13", c.TradingDate(now.UTC()))

	end := c.EndOfTradingDay(now)
	assert.Equal(t, time.Date(2026, 10, 14, 0, 0, 0, 0, loc), end)
	assert.True(t, now.Before(end))
}

func TestParseTimeOfDay(t *testing.T) {
	t.Parallel()

	tod, err := ParseTimeOfDay("09:30")
	require.NoError(t, err)
	assert.Equal(t, TimeOfDay{Hour: 9, Minute: 30}, tod)
	assert.Equal(t, "09:30", tod.String())

	_, err = ParseTimeOfDay("9.30am")
	assert.Error(t, err)
}
