package orchestrator

import (
	"time"

	"github.com/quantpulse/quantpulse/internal/domain"
)

// MarketStatus is the per-market slice of a status snapshot.
type MarketStatus struct {
	Market         domain.MarketClass  `json:"market"`
	Symbols        []string            `json:"symbols"`
	Interval       time.Duration       `json:"interval"`
	TradingEnabled bool                `json:"trading_enabled"`
	AIEnabled      bool                `json:"ai_enabled"`
	RunCount       int                 `json:"run_count"`
	RunsToday      int                 `json:"runs_today"`
	DailyLimit     int                 `json:"daily_limit"`
	InFlight       bool                `json:"in_flight"`
	LastCycle      *domain.CycleRecord `json:"last_cycle,omitempty"`
}

// StatusSnapshot is a point-in-time view of the orchestrator. It is
// assembled from copies, never from live cycle state, so callers can
// hold it without synchronization.
type StatusSnapshot struct {
	Started     bool                                 `json:"started"`
	Time        time.Time                            `json:"time"`
	HealthScore float64                              `json:"health_score"`
	Recovery    RecoverySnapshot                     `json:"recovery"`
	Markets     map[domain.MarketClass]*MarketStatus `json:"markets"`
}

// Status reports the orchestrator's current state.
func (o *Orchestrator) Status() StatusSnapshot {
	now := o.clock.Now()

	snap := StatusSnapshot{
		Time:        now,
		HealthScore: o.health.Score(),
		Recovery:    o.recovery.Snapshot(),
		Markets:     make(map[domain.MarketClass]*MarketStatus, len(o.configs)),
	}

	o.mu.Lock()
	snap.Started = o.started
	for market, cfg := range o.configs {
		ms := &MarketStatus{
			Market:         market,
			Symbols:        append([]string(nil), cfg.Symbols...),
			Interval:       cfg.Interval,
			TradingEnabled: cfg.TradingEnabled,
			AIEnabled:      cfg.AIEnabled,
			RunCount:       o.runCounts[market],
			RunsToday:      o.limiter.Used(market, now),
			DailyLimit:     o.limiter.Limit(market),
			InFlight:       o.running[market].Load(),
		}
		if rec, ok := o.current[market]; ok {
			copied := rec
			copied.Symbols = append([]string(nil), rec.Symbols...)
			copied.Errors = append([]string(nil), rec.Errors...)
			copied.PhaseTimings = make(map[domain.Phase]time.Duration, len(rec.PhaseTimings))
			for phase, d := range rec.PhaseTimings {
				copied.PhaseTimings[phase] = d
			}
			ms.LastCycle = &copied
		}
		snap.Markets[market] = ms
	}
	o.mu.Unlock()

	return snap
}

// Health returns the current bounded health score.
func (o *Orchestrator) Health() float64 {
	return o.health.Score()
}

// RecoveryState returns the recovery protocol's current state name.
func (o *Orchestrator) RecoveryState() RecoveryStateName {
	return o.recovery.State()
}

// IsShutdown reports whether the orchestrator reached terminal
// shutdown and refuses further cycles until process restart.
func (o *Orchestrator) IsShutdown() bool {
	return o.recovery.IsShutdown()
}
