// Package orchestrator drives the periodic multi-phase trading cycles
// for both market classes. It owns the mutual-exclusion invariant that
// at most one cycle per market class runs at a time, the per-class
// daily run caps, the rolling health score, and the graduated
// error-recovery protocol.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quantpulse/quantpulse/internal/config"
	"github.com/quantpulse/quantpulse/internal/domain"
	"github.com/quantpulse/quantpulse/internal/events"
)

// MarketGate reports whether a market class is inside its active hours
// at time t. A nil gate means always open.
type MarketGate func(t time.Time) bool

// Scheduler abstracts the periodic trigger source armed by Start.
// Arm replaces any existing trigger for the market class.
type Scheduler interface {
	Arm(market domain.MarketClass, interval time.Duration, fire func()) error
	Start()
	Stop()
}

// SnapshotWriter persists a best-effort post-mortem snapshot during
// emergency shutdown and returns its location.
type SnapshotWriter interface {
	Write(ctx context.Context, snap RecoverySnapshot) (string, error)
}

// Options bundle the orchestrator's construction dependencies.
type Options struct {
	Config        *config.Config
	Collaborators Collaborators
	Scheduler     Scheduler
	Bus           *events.Bus
	Clock         Clock
	Snapshots     SnapshotWriter
	Gates         map[domain.MarketClass]MarketGate
	Log           zerolog.Logger
}

// Orchestrator composes the pipeline, rate limiter, health tracker, and
// recovery controller behind the start/stop/run-once/status contract.
type Orchestrator struct {
	log       zerolog.Logger
	clock     Clock
	bus       *events.Bus
	sched     Scheduler
	store     CycleStore
	pipeline  *Pipeline
	health    *HealthTracker
	limiter   *DailyLimiter
	recovery  *RecoveryController
	snapshots SnapshotWriter
	gates     map[domain.MarketClass]MarketGate

	stopTimeout time.Duration

	// lifecycleMu serializes Start and Stop so two concurrent Start
	// calls cannot both validate and arm the scheduler.
	lifecycleMu sync.Mutex

	mu        sync.Mutex
	configs   map[domain.MarketClass]*domain.MarketConfig
	originals map[domain.MarketClass]domain.MarketConfig
	runCounts map[domain.MarketClass]int
	current   map[domain.MarketClass]domain.CycleRecord
	started   bool
	baseCtx   context.Context
	cancel    context.CancelFunc

	running  map[domain.MarketClass]*atomic.Bool
	inFlight sync.WaitGroup
}

// New constructs an orchestrator. State starts healthy and in the
// Normal recovery state; a process restart deliberately resets health
// and recovery to baseline.
func New(opts Options) *Orchestrator {
	health := NewHealthTracker()

	o := &Orchestrator{
		log:         opts.Log.With().Str("component", "orchestrator").Logger(),
		clock:       opts.Clock,
		bus:         opts.Bus,
		sched:       opts.Scheduler,
		store:       opts.Collaborators.Store,
		health:      health,
		snapshots:   opts.Snapshots,
		gates:       opts.Gates,
		stopTimeout: opts.Config.StopTimeout,
		configs:     make(map[domain.MarketClass]*domain.MarketConfig),
		originals:   make(map[domain.MarketClass]domain.MarketConfig),
		runCounts:   make(map[domain.MarketClass]int),
		current:     make(map[domain.MarketClass]domain.CycleRecord),
		running: map[domain.MarketClass]*atomic.Bool{
			domain.MarketEquity: {},
			domain.MarketCrypto: {},
		},
	}

	for _, mc := range []domain.MarketConfig{opts.Config.Equity, opts.Config.Crypto} {
		clone := mc.Clone()
		o.configs[mc.Market] = &clone
		o.originals[mc.Market] = mc.Clone()
	}

	o.limiter = NewDailyLimiter(map[domain.MarketClass]int{
		domain.MarketEquity: opts.Config.Equity.MaxDailyRuns,
		domain.MarketCrypto: opts.Config.Crypto.MaxDailyRuns,
	})

	o.pipeline = NewPipeline(opts.Collaborators, health, opts.Bus, opts.Clock, opts.Log)

	o.recovery = NewRecoveryController(
		opts.Config.Recovery,
		health,
		opts.Clock,
		opts.Bus,
		opts.Collaborators.Diagnostics,
		opts.Log,
	)
	o.recovery.SetHooks(RecoveryHooks{
		NarrowScope:     o.narrowScope,
		RestoreScope:    o.restoreScope,
		RunMinimalCycle: o.runMinimalCycle,
		PersistSnapshot: o.persistSnapshot,
		StopScheduling:  o.stopScheduling,
	})

	return o
}

// Start validates configuration, arms both periodic triggers, and
// returns once armed. A *ConfigurationError is returned when invariants
// are violated; Start never partially arms.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.lifecycleMu.Lock()
	defer o.lifecycleMu.Unlock()

	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return nil
	}
	o.mu.Unlock()

	if err := o.validate(ctx); err != nil {
		return err
	}

	o.mu.Lock()
	o.baseCtx, o.cancel = context.WithCancel(context.Background())
	for market, cfg := range o.configs {
		if err := o.sched.Arm(market, cfg.Interval, o.fire(market)); err != nil {
			o.cancel()
			o.mu.Unlock()
			return &ConfigurationError{Reason: "failed to arm scheduler for " + string(market) + ": " + err.Error()}
		}
	}
	o.started = true
	o.mu.Unlock()

	o.sched.Start()
	o.log.Info().Msg("Orchestrator started, both market triggers armed")
	return nil
}

// Stop disarms the triggers and waits, bounded by the configured stop
// timeout, for in-flight cycles to reach a terminal status. On timeout
// it proceeds anyway with a warning; phases are expected to be short
// and idempotent, so no forced cancellation beyond the context.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.lifecycleMu.Lock()
	defer o.lifecycleMu.Unlock()

	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return nil
	}
	o.started = false
	cancel := o.cancel
	o.mu.Unlock()

	// Aborts emergency cooldowns and backoff sleeps first so the
	// scheduler is not left waiting on a sleeping cycle.
	cancel()
	o.sched.Stop()

	done := make(chan struct{})
	go func() {
		o.inFlight.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.log.Info().Msg("Orchestrator stopped")
	case <-time.After(o.stopTimeout):
		o.log.Warn().Dur("timeout", o.stopTimeout).Msg("Stop timeout elapsed with cycle still in flight, proceeding")
	case <-ctx.Done():
		o.log.Warn().Err(ctx.Err()).Msg("Stop context cancelled while waiting for in-flight cycle")
	}
	return nil
}

// RunOnce executes one full cycle for the market class. It returns the
// completed record (Success or Failed) or, before any cycle work
// happens, one of the taxonomy errors: ShutdownError, ErrMarketClosed,
// ConcurrencyError, RateLimitError. A Failed record is not an error:
// the failure has already been routed through the recovery controller.
func (o *Orchestrator) RunOnce(ctx context.Context, market domain.MarketClass) (*domain.CycleRecord, error) {
	if !market.Valid() {
		return nil, &ConfigurationError{Reason: "unknown market class: " + string(market)}
	}
	if o.recovery.IsShutdown() {
		return nil, &ShutdownError{}
	}
	if gate := o.gates[market]; gate != nil && !gate(o.clock.Now()) {
		return nil, ErrMarketClosed
	}

	flag := o.running[market]
	if !flag.CompareAndSwap(false, true) {
		return nil, &ConcurrencyError{Market: market}
	}
	defer flag.Store(false)

	if !o.limiter.CheckAndReserve(market, o.clock.Now()) {
		return nil, &RateLimitError{Market: market, Limit: o.limiter.Limit(market)}
	}

	o.inFlight.Add(1)
	defer o.inFlight.Done()

	o.mu.Lock()
	cfg := o.configs[market].Clone()
	next := o.runCounts[market] + 1
	base := o.baseCtx
	o.mu.Unlock()

	// Manual triggers arrive with request-scoped contexts. Tying the
	// cycle to the orchestrator's lifetime keeps its collaborator
	// calls and any backoff or cooldown sleep cancellable by Stop.
	if base != nil && base.Err() == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(base, cancel)
		defer stop()
	}

	opts := RunOptions{
		RunReflection: next%cfg.ReflectionEvery == 0,
		RunReport:     next%cfg.ReportEvery == 0,
	}

	rec := o.newRecord(market, cfg.Symbols)
	o.publishCurrent(rec)
	o.bus.Publish(events.CycleStarted, &events.CycleStartedData{
		CycleID: rec.ID,
		Market:  string(market),
		Symbols: len(cfg.Symbols),
	})
	o.log.Info().Str("cycle", rec.ID).Str("market", string(market)).Int("run", next).Msg("Starting cycle")

	err := o.pipeline.Run(ctx, rec, cfg, opts)
	rec.CompletedAt = o.clock.Now()

	if err == nil {
		rec.Status = domain.StatusSuccess
		o.mu.Lock()
		o.runCounts[market]++
		o.mu.Unlock()

		o.recovery.OnSuccess(len(rec.Errors) == 0)
		o.bus.Publish(events.CycleCompleted, &events.CycleCompletedData{
			CycleID: rec.ID,
			Market:  string(market),
			Signals: rec.SignalsGenerated,
			Trades:  rec.TradesExecuted,
			Delta:   rec.PortfolioDelta,
		})
		o.log.Info().
			Str("cycle", rec.ID).
			Int("signals", rec.SignalsGenerated).
			Int("trades", rec.TradesExecuted).
			Msg("Cycle completed successfully")
	} else {
		var phaseErr *PhaseError
		failedPhase := domain.PhaseError
		if errors.As(err, &phaseErr) {
			failedPhase = phaseErr.Phase
		}

		rec.Status = domain.StatusFailed
		rec.RecordError(err.Error())
		o.bus.Publish(events.CycleFailed, &events.CycleFailedData{
			CycleID: rec.ID,
			Market:  string(market),
			Phase:   string(failedPhase),
			Error:   err.Error(),
		})
		o.log.Error().Err(err).Str("cycle", rec.ID).Str("phase", string(failedPhase)).Msg("Cycle failed")

		// May block: backoff sleep, or the full emergency protocol.
		o.recovery.OnFailure(ctx, market, failedPhase)
	}

	o.publishCurrent(rec)
	o.saveRecord(rec)

	if o.recovery.IsShutdown() {
		return rec, &ShutdownError{}
	}
	return rec, nil
}

// fire wraps RunOnce for the scheduler: a busy or capped market is
// skipped and logged, never queued.
func (o *Orchestrator) fire(market domain.MarketClass) func() {
	return func() {
		o.mu.Lock()
		ctx := o.baseCtx
		o.mu.Unlock()
		if ctx == nil {
			return
		}

		_, err := o.RunOnce(ctx, market)
		switch {
		case err == nil:
		case errors.Is(err, ErrMarketClosed):
			o.log.Debug().Str("market", string(market)).Msg("Market closed, trigger skipped")
			o.bus.Publish(events.CycleSkipped, &events.CycleSkippedData{Market: string(market), Reason: "market_closed"})
		default:
			var concErr *ConcurrencyError
			var rateErr *RateLimitError
			var downErr *ShutdownError
			switch {
			case errors.As(err, &concErr):
				o.log.Warn().Str("market", string(market)).Msg("Previous cycle still running, trigger skipped")
				o.bus.Publish(events.CycleSkipped, &events.CycleSkippedData{Market: string(market), Reason: "busy"})
			case errors.As(err, &rateErr):
				o.log.Info().Str("market", string(market)).Int("limit", rateErr.Limit).Msg("Daily run cap reached, trigger skipped")
				o.bus.Publish(events.CycleSkipped, &events.CycleSkippedData{Market: string(market), Reason: "rate_limited"})
			case errors.As(err, &downErr):
				o.log.Warn().Str("market", string(market)).Msg("Orchestrator shut down, trigger ignored")
			default:
				o.log.Error().Err(err).Str("market", string(market)).Msg("Scheduled cycle error")
			}
		}
	}
}

func (o *Orchestrator) validate(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	for market, cfg := range o.configs {
		if len(cfg.Symbols) == 0 {
			return &ConfigurationError{Reason: string(market) + ": empty symbol list"}
		}
		maxInterval := config.MaxEquityIntervalMinutes
		if market == domain.MarketCrypto {
			maxInterval = config.MaxCryptoIntervalMinutes
		}
		minutes := int(cfg.Interval / time.Minute)
		if minutes < config.MinIntervalMinutes || minutes > maxInterval {
			return &ConfigurationError{Reason: string(market) + ": interval outside permitted bounds"}
		}
	}

	// The cycle store is the one dependency cycles cannot run without.
	if checker, ok := o.store.(HealthChecker); ok {
		if err := checker.HealthCheck(ctx); err != nil {
			return &ConfigurationError{Reason: "cycle store unreachable: " + err.Error()}
		}
	}
	return nil
}

func (o *Orchestrator) newRecord(market domain.MarketClass, symbols []string) *domain.CycleRecord {
	return &domain.CycleRecord{
		ID:           uuid.NewString(),
		Market:       market,
		StartedAt:    o.clock.Now(),
		Phase:        domain.PhaseStarting,
		Status:       domain.StatusRunning,
		Symbols:      append([]string(nil), symbols...),
		PhaseTimings: make(map[domain.Phase]time.Duration),
	}
}

// publishCurrent stores an immutable copy of the record for the status
// surface; Status never reads live pipeline state.
func (o *Orchestrator) publishCurrent(rec *domain.CycleRecord) {
	copied := *rec
	copied.Symbols = append([]string(nil), rec.Symbols...)
	copied.Errors = append([]string(nil), rec.Errors...)
	copied.PhaseTimings = make(map[domain.Phase]time.Duration, len(rec.PhaseTimings))
	for phase, d := range rec.PhaseTimings {
		copied.PhaseTimings[phase] = d
	}

	o.mu.Lock()
	o.current[rec.Market] = copied
	o.mu.Unlock()
}

func (o *Orchestrator) saveRecord(rec *domain.CycleRecord) {
	saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := o.store.SaveCycleRecord(saveCtx, rec); err != nil {
		o.log.Error().Err(err).Str("cycle", rec.ID).Msg("Failed to persist cycle record")
	}
}

// minDiagnosticSymbols is the scope emergency mode narrows each market
// to: enough to tell symbol-specific failures from systemic ones.
const minDiagnosticSymbols = 2

// narrowScope slows both cadences and shrinks both symbol lists to the
// diagnostic subset. Re-arms the triggers so the slower cadence takes
// effect immediately.
func (o *Orchestrator) narrowScope() {
	o.mu.Lock()
	defer o.mu.Unlock()

	for market, cfg := range o.configs {
		maxInterval := time.Duration(config.MaxEquityIntervalMinutes) * time.Minute
		if market == domain.MarketCrypto {
			maxInterval = time.Duration(config.MaxCryptoIntervalMinutes) * time.Minute
		}

		cfg.Interval *= 2
		if cfg.Interval > maxInterval {
			cfg.Interval = maxInterval
		}

		n := minDiagnosticSymbols
		if len(cfg.Symbols) < n {
			n = len(cfg.Symbols)
		}
		cfg.Symbols = append([]string(nil), cfg.Symbols[:n]...)

		o.rearmLocked(market, cfg)
		o.log.Warn().
			Str("market", string(market)).
			Dur("interval", cfg.Interval).
			Strs("symbols", cfg.Symbols).
			Msg("Market scope narrowed for emergency mode")
	}
}

// restoreScope returns both markets to a conservative scope: original
// cadence, but only the first half of the original symbol list until
// further successes rebuild confidence. Narrower than full scope by
// design; the next process restart restores everything.
func (o *Orchestrator) restoreScope() {
	o.mu.Lock()
	defer o.mu.Unlock()

	for market, cfg := range o.configs {
		orig := o.originals[market]

		n := (len(orig.Symbols) + 1) / 2
		if n < minDiagnosticSymbols {
			n = minDiagnosticSymbols
		}
		if n > len(orig.Symbols) {
			n = len(orig.Symbols)
		}

		cfg.Interval = orig.Interval
		cfg.Symbols = append([]string(nil), orig.Symbols[:n]...)

		o.rearmLocked(market, cfg)
		o.log.Info().
			Str("market", string(market)).
			Strs("symbols", cfg.Symbols).
			Msg("Market scope restored to conservative subset")
	}
}

func (o *Orchestrator) rearmLocked(market domain.MarketClass, cfg *domain.MarketConfig) {
	if !o.started {
		return
	}
	if err := o.sched.Arm(market, cfg.Interval, o.fire(market)); err != nil {
		o.log.Error().Err(err).Str("market", string(market)).Msg("Failed to re-arm trigger")
	}
}

// runMinimalCycle is the recovery test: one single-symbol cycle with
// trading and AI analysis disabled. It runs on the failing cycle's
// goroutine, so the per-class mutual exclusion still holds.
func (o *Orchestrator) runMinimalCycle(ctx context.Context, market domain.MarketClass) error {
	o.mu.Lock()
	cfg := o.configs[market].Clone()
	o.mu.Unlock()

	if len(cfg.Symbols) > 1 {
		cfg.Symbols = cfg.Symbols[:1]
	}

	rec := o.newRecord(market, cfg.Symbols)
	err := o.pipeline.Run(ctx, rec, cfg, RunOptions{DisableAI: true, DisableTrading: true})
	rec.CompletedAt = o.clock.Now()
	if err != nil {
		rec.Status = domain.StatusFailed
		rec.RecordError(err.Error())
	} else {
		rec.Status = domain.StatusSuccess
	}

	o.saveRecord(rec)
	return err
}

func (o *Orchestrator) persistSnapshot(ctx context.Context, snap RecoverySnapshot) (string, error) {
	if o.snapshots == nil {
		return "", nil
	}
	return o.snapshots.Write(ctx, snap)
}

func (o *Orchestrator) stopScheduling() {
	// Runs on the failing cycle's goroutine, which may itself be a
	// scheduler-fired job; stopping asynchronously avoids the scheduler
	// waiting on the very job that is stopping it.
	go o.sched.Stop()
	o.log.Warn().Msg("Triggers disarmed; run-once calls refused until restart")
}
