package scheduler

import (
	"time"

	"github.com/rs/zerolog"
)

// TradingWindow is a single trading period within a day, in exchange
// local time.
type TradingWindow struct {
	OpenHour    int
	OpenMinute  int
	CloseHour   int
	CloseMinute int
}

// EquityCalendar gates equity cycles to regular US exchange sessions:
// weekdays, outside holidays, within a conservative core window.
type EquityCalendar struct {
	tz       *time.Location
	window   TradingWindow
	holidays map[string]bool
	log      zerolog.Logger
}

// NewEquityCalendar builds the US equity calendar. Falls back to UTC
// when the exchange timezone is unavailable.
func NewEquityCalendar(log zerolog.Logger) *EquityCalendar {
	tz, err := time.LoadLocation("America/New_York")
	if err != nil {
		log.Warn().Err(err).Msg("Exchange timezone unavailable, using UTC")
		tz = time.UTC
	}

	// Conservative 5-hour core window, clear of auction volatility at
	// the open and close.
	cal := &EquityCalendar{
		tz:       tz,
		window:   TradingWindow{OpenHour: 10, CloseHour: 15},
		holidays: make(map[string]bool),
		log:      log.With().Str("component", "market_hours").Logger(),
	}

	for _, day := range []time.Time{
		time.Date(2026, 1, 1, 0, 0, 0, 0, tz),   // New Year's Day
		time.Date(2026, 1, 19, 0, 0, 0, 0, tz),  // MLK Day
		time.Date(2026, 2, 16, 0, 0, 0, 0, tz),  // Presidents Day
		time.Date(2026, 4, 3, 0, 0, 0, 0, tz),   // Good Friday
		time.Date(2026, 5, 25, 0, 0, 0, 0, tz),  // Memorial Day
		time.Date(2026, 6, 19, 0, 0, 0, 0, tz),  // Juneteenth
		time.Date(2026, 7, 3, 0, 0, 0, 0, tz),   // Independence Day (observed)
		time.Date(2026, 9, 7, 0, 0, 0, 0, tz),   // Labor Day
		time.Date(2026, 11, 26, 0, 0, 0, 0, tz), // Thanksgiving
		time.Date(2026, 12, 25, 0, 0, 0, 0, tz), // Christmas
	} {
		cal.holidays[day.Format("2006-01-02")] = true
	}
	return cal
}

// IsOpen reports whether the equity market is tradeable at t.
func (c *EquityCalendar) IsOpen(t time.Time) bool {
	local := t.In(c.tz)

	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	if c.holidays[local.Format("2006-01-02")] {
		return false
	}

	open := time.Date(local.Year(), local.Month(), local.Day(),
		c.window.OpenHour, c.window.OpenMinute, 0, 0, c.tz)
	close := time.Date(local.Year(), local.Month(), local.Day(),
		c.window.CloseHour, c.window.CloseMinute, 0, 0, c.tz)

	return !local.Before(open) && local.Before(close)
}

// CryptoCalendar never closes.
type CryptoCalendar struct{}

// NewCryptoCalendar returns the always-open crypto calendar.
func NewCryptoCalendar() *CryptoCalendar {
	return &CryptoCalendar{}
}

// IsOpen always reports true; crypto markets trade continuously.
func (c *CryptoCalendar) IsOpen(t time.Time) bool {
	return true
}
