package orchestrator

import (
	"sync"
	"time"

	"github.com/quantpulse/quantpulse/internal/domain"
)

// DailyLimiter caps the number of cycles per local calendar day per
// market class. Counts reset on date rollover, not on a rolling 24h
// window, so they align to midnight boundaries.
type DailyLimiter struct {
	mu     sync.Mutex
	limits map[domain.MarketClass]int
	counts map[domain.MarketClass]int
	dates  map[domain.MarketClass]string
}

// NewDailyLimiter returns a limiter with the given per-class caps.
func NewDailyLimiter(limits map[domain.MarketClass]int) *DailyLimiter {
	l := &DailyLimiter{
		limits: make(map[domain.MarketClass]int, len(limits)),
		counts: make(map[domain.MarketClass]int, len(limits)),
		dates:  make(map[domain.MarketClass]string, len(limits)),
	}
	for market, limit := range limits {
		l.limits[market] = limit
	}
	return l
}

// CheckAndReserve reserves one run for the market class on the local
// calendar date of now. It returns false without reserving when the
// daily cap has been reached.
func (l *DailyLimiter) CheckAndReserve(market domain.MarketClass, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	today := now.Format("2006-01-02")
	if l.dates[market] != today {
		l.dates[market] = today
		l.counts[market] = 0
	}

	limit, ok := l.limits[market]
	if !ok {
		return false
	}
	if l.counts[market] >= limit {
		return false
	}

	l.counts[market]++
	return true
}

// Used returns the number of reservations taken for the market class on
// the local calendar date of now.
func (l *DailyLimiter) Used(market domain.MarketClass, now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.dates[market] != now.Format("2006-01-02") {
		return 0
	}
	return l.counts[market]
}

// Limit returns the configured daily cap for the market class.
func (l *DailyLimiter) Limit(market domain.MarketClass) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limits[market]
}
