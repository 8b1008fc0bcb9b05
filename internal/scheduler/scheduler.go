// Package scheduler provides the cron-backed periodic triggers that
// fire cycle runs, and the market-hours calendars that gate them.
package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/quantpulse/quantpulse/internal/domain"
)

// CronScheduler arms one periodic trigger per market class on a shared
// cron runner. Re-arming a market replaces its previous trigger, which
// is how emergency mode slows a cadence without restarting.
type CronScheduler struct {
	cron *cron.Cron
	log  zerolog.Logger

	mu      sync.Mutex
	entries map[domain.MarketClass]cron.EntryID
}

// New creates a scheduler; triggers fire only after Start.
func New(log zerolog.Logger) *CronScheduler {
	return &CronScheduler{
		cron:    cron.New(),
		log:     log.With().Str("component", "scheduler").Logger(),
		entries: make(map[domain.MarketClass]cron.EntryID),
	}
}

// Arm registers (or replaces) the periodic trigger for a market class.
func (s *CronScheduler) Arm(market domain.MarketClass, interval time.Duration, fire func()) error {
	if interval <= 0 {
		return fmt.Errorf("non-positive interval for market %s", market)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.entries[market]; ok {
		s.cron.Remove(old)
	}

	spec := fmt.Sprintf("@every %s", interval)
	id, err := s.cron.AddFunc(spec, func() {
		s.log.Debug().Str("market", string(market)).Msg("Trigger fired")
		fire()
	})
	if err != nil {
		return fmt.Errorf("arm %s trigger: %w", market, err)
	}

	s.entries[market] = id
	s.log.Info().
		Str("market", string(market)).
		Str("schedule", spec).
		Msg("Trigger armed")
	return nil
}

// Start begins firing armed triggers.
func (s *CronScheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("Scheduler started")
}

// Stop disarms all triggers and waits for any running fire callback to
// return.
func (s *CronScheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}
