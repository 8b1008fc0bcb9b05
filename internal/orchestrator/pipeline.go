package orchestrator

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/quantpulse/quantpulse/internal/domain"
	"github.com/quantpulse/quantpulse/internal/events"
)

// Reporting period lengths handed to the reflection/report generators.
const (
	reflectionPeriodDays = 7
	reportPeriodDays     = 30
)

// RunOptions control the conditional phases of one cycle run.
type RunOptions struct {
	// DisableAI and DisableTrading force-skip the risk-bearing phases
	// regardless of config flags. Used by the recovery test cycle.
	DisableAI      bool
	DisableTrading bool
	// RunReflection and RunReport enable the periodic phases; the
	// orchestrator derives them from the per-class run counters.
	RunReflection bool
	RunReport     bool
}

// Pipeline executes the ordered phases of one cycle for one market
// class. Phases are strictly sequential: each phase's output feeds the
// next.
type Pipeline struct {
	collab Collaborators
	health *HealthTracker
	bus    *events.Bus
	clock  Clock
	log    zerolog.Logger
}

// NewPipeline creates a pipeline over the given collaborators.
func NewPipeline(collab Collaborators, health *HealthTracker, bus *events.Bus, clock Clock, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		collab: collab,
		health: health,
		bus:    bus,
		clock:  clock,
		log:    log.With().Str("component", "pipeline").Logger(),
	}
}

// Run drives rec through the phase sequence, mutating it in place.
// A returned error is always a *PhaseError; AI analysis failures are
// recorded but never returned (non-fatal to the cycle, fatal to the
// health score).
func (p *Pipeline) Run(ctx context.Context, rec *domain.CycleRecord, cfg domain.MarketConfig, opts RunOptions) error {
	log := p.log.With().Str("cycle", rec.ID).Str("market", string(rec.Market)).Logger()

	var startValue float64
	if err := p.runPhase(rec, domain.PhaseStarting, func() error {
		snap, err := p.collab.Portfolio.Snapshot(ctx)
		if err != nil {
			return fmt.Errorf("baseline portfolio snapshot: %w", err)
		}
		startValue = snap.TotalValue
		return nil
	}); err != nil {
		return err
	}

	var points []domain.PricePoint
	if err := p.runPhase(rec, domain.PhaseDataIngestion, func() error {
		var err error
		points, err = p.collab.Data.Fetch(ctx, cfg.Symbols, cfg.Market)
		return err
	}); err != nil {
		return err
	}

	var features []domain.FeatureSet
	if err := p.runPhase(rec, domain.PhaseFeatureComputation, func() error {
		var err error
		features, err = p.collab.Features.Compute(ctx, cfg.Symbols, points)
		return err
	}); err != nil {
		return err
	}

	var signals []domain.Signal
	if err := p.runPhase(rec, domain.PhaseSignalGeneration, func() error {
		var err error
		signals, err = p.collab.Signals.Generate(ctx, features)
		if err == nil {
			rec.SignalsGenerated = len(signals)
		}
		return err
	}); err != nil {
		return err
	}

	analyses := p.analyzeSignals(ctx, rec, cfg, opts, signals, log)

	if err := p.executeTrades(ctx, rec, cfg, opts, signals, analyses, startValue, log); err != nil {
		return err
	}

	if err := p.runPhase(rec, domain.PhasePortfolioUpdate, func() error {
		snap, err := p.collab.Portfolio.Snapshot(ctx)
		if err != nil {
			return fmt.Errorf("portfolio snapshot: %w", err)
		}
		rec.PortfolioDelta = snap.TotalValue - startValue
		rec.DailyPnL = snap.DailyPnL
		return nil
	}); err != nil {
		return err
	}

	// Reflection and reporting run on their periodic cadence only, and
	// failures there never fail an otherwise successful cycle.
	if opts.RunReflection {
		p.runSoftPhase(rec, domain.PhaseReflection, log, func() error {
			_, err := p.collab.Reflection.Generate(ctx, reflectionPeriodDays)
			return err
		})
	}
	if opts.RunReport {
		p.runSoftPhase(rec, domain.PhaseReporting, log, func() error {
			_, err := p.collab.Reporter.Generate(ctx, reportPeriodDays)
			return err
		})
	}

	rec.Phase = domain.PhaseCompleted
	return nil
}

// analyzeSignals runs the conditional AI analysis phase. The reasoning
// service may be unreachable; the first failure marks the phase
// degraded, costs one health step, and the cycle continues without
// analyses for the remaining signals.
func (p *Pipeline) analyzeSignals(
	ctx context.Context,
	rec *domain.CycleRecord,
	cfg domain.MarketConfig,
	opts RunOptions,
	signals []domain.Signal,
	log zerolog.Logger,
) map[string]*domain.Analysis {
	analyses := make(map[string]*domain.Analysis)

	if opts.DisableAI || !cfg.AIEnabled {
		return analyses
	}
	if !p.health.Allows(domain.PhaseAIAnalysis) {
		log.Warn().Float64("health", p.health.Score()).Msg("Health below AI analysis threshold, skipping phase")
		return analyses
	}

	rec.Phase = domain.PhaseAIAnalysis
	start := p.clock.Now()
	defer func() {
		rec.PhaseTimings[domain.PhaseAIAnalysis] = p.clock.Now().Sub(start)
	}()

	for _, sig := range signals {
		if sig.Action == domain.SignalHold {
			continue
		}
		analysis, err := p.collab.Reasoner.Analyze(ctx, sig.Symbol, sig)
		if err != nil {
			rec.RecordError(fmt.Sprintf("ai_analysis: %v", err))
			p.health.OnError()
			log.Warn().Err(err).Str("symbol", sig.Symbol).Msg("Reasoning service failed, continuing without analysis")
			break
		}
		analyses[sig.Symbol] = &analysis
	}

	return analyses
}

func (p *Pipeline) executeTrades(
	ctx context.Context,
	rec *domain.CycleRecord,
	cfg domain.MarketConfig,
	opts RunOptions,
	signals []domain.Signal,
	analyses map[string]*domain.Analysis,
	portfolioValue float64,
	log zerolog.Logger,
) error {
	if opts.DisableTrading || !cfg.TradingEnabled {
		return nil
	}
	if !p.health.Allows(domain.PhaseTradeExecution) {
		log.Warn().Float64("health", p.health.Score()).Msg("Health below trade execution threshold, skipping phase")
		return nil
	}

	return p.runPhase(rec, domain.PhaseTradeExecution, func() error {
		for _, sig := range signals {
			if sig.Action == domain.SignalHold {
				continue
			}
			trade, err := p.collab.Execution.EvaluateAndExecute(ctx, sig, analyses[sig.Symbol], portfolioValue)
			if err != nil {
				return fmt.Errorf("execute %s: %w", sig.Symbol, err)
			}
			if trade == nil {
				continue
			}
			rec.TradesExecuted++
			p.bus.Publish(events.TradeExecuted, &events.TradeExecutedData{
				Symbol:   trade.Symbol,
				Side:     trade.Side,
				Quantity: trade.Quantity,
				Price:    trade.Price,
			})
		}
		return nil
	})
}

// runPhase advances rec to phase, times fn, and wraps failures in a
// PhaseError with rec parked in the Error state.
func (p *Pipeline) runPhase(rec *domain.CycleRecord, phase domain.Phase, fn func() error) error {
	rec.Phase = phase
	start := p.clock.Now()
	err := fn()
	rec.PhaseTimings[phase] = p.clock.Now().Sub(start)

	if err != nil {
		rec.Phase = domain.PhaseError
		return NewPhaseError(phase, err)
	}
	return nil
}

// runSoftPhase is runPhase for phases whose failure is recorded but
// never fails the cycle.
func (p *Pipeline) runSoftPhase(rec *domain.CycleRecord, phase domain.Phase, log zerolog.Logger, fn func() error) {
	rec.Phase = phase
	start := p.clock.Now()
	err := fn()
	rec.PhaseTimings[phase] = p.clock.Now().Sub(start)

	if err != nil {
		rec.RecordError(fmt.Sprintf("%s: %v", phase, err))
		log.Warn().Err(err).Str("phase", string(phase)).Msg("Periodic phase failed, cycle unaffected")
	}
}
