package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantpulse/quantpulse/internal/config"
	"github.com/quantpulse/quantpulse/internal/domain"
	"github.com/quantpulse/quantpulse/internal/events"
)

// RecoveryStateName identifies a state of the error-recovery protocol.
type RecoveryStateName string

const (
	StateNormal       RecoveryStateName = "normal"
	StateBackoff      RecoveryStateName = "backoff"
	StateEmergency    RecoveryStateName = "emergency"
	StateRecoveryTest RecoveryStateName = "recovery_test"
	StateRestored     RecoveryStateName = "restored"
	StateShutdown     RecoveryStateName = "shutdown"
)

// phaseBackoffMultiplier weighs retry delays by how costly a phase is
// to reach again: failures in late, expensive phases back off longer
// than failures in cheap early ones. The exact values are tuning
// constants; only the ordering matters.
var phaseBackoffMultiplier = map[domain.Phase]int{
	domain.PhaseStarting:           1,
	domain.PhaseDataIngestion:      1,
	domain.PhaseFeatureComputation: 1,
	domain.PhaseSignalGeneration:   2,
	domain.PhaseAIAnalysis:         4,
	domain.PhaseTradeExecution:     4,
	domain.PhasePortfolioUpdate:    2,
	domain.PhaseReflection:         1,
	domain.PhaseReporting:          1,
}

// RecoverySnapshot is a read-only copy of the controller's state, used
// by the status endpoint and the post-mortem snapshot.
type RecoverySnapshot struct {
	State             RecoveryStateName    `json:"state" msgpack:"state"`
	ErrorCount        int                  `json:"error_count" msgpack:"error_count"`
	ConsecutiveErrors int                  `json:"consecutive_errors" msgpack:"consecutive_errors"`
	LastSuccess       time.Time            `json:"last_success" msgpack:"last_success"`
	Emergency         bool                 `json:"emergency" msgpack:"emergency"`
	Shutdown          bool                 `json:"shutdown" msgpack:"shutdown"`
	PhaseAttempts     map[domain.Phase]int `json:"phase_attempts" msgpack:"phase_attempts"`
	HealthScore       float64              `json:"health_score" msgpack:"health_score"`
}

// RecoveryHooks are the orchestrator-side actions the controller drives
// during escalation. Injected to keep the state machine free of
// scheduling and config concerns.
type RecoveryHooks struct {
	// NarrowScope slows both market cadences and shrinks symbol lists
	// to the minimal diagnostic subset.
	NarrowScope func()
	// RestoreScope restores a conservative (not full) operating scope.
	RestoreScope func()
	// RunMinimalCycle executes one single-symbol cycle with trading and
	// AI analysis disabled, for the market that triggered escalation.
	RunMinimalCycle func(ctx context.Context, market domain.MarketClass) error
	// PersistSnapshot writes a best-effort post-mortem snapshot and
	// returns its location.
	PersistSnapshot func(ctx context.Context, snap RecoverySnapshot) (string, error)
	// StopScheduling disarms both periodic triggers.
	StopScheduling func()
}

// RecoveryController classifies failures, computes per-phase backoff,
// and escalates Normal -> Backoff -> Emergency -> RecoveryTest ->
// Restored (or Shutdown). It is shared by both market classes; counters
// are global by design.
type RecoveryController struct {
	cfg         config.RecoveryConfig
	health      *HealthTracker
	clock       Clock
	bus         *events.Bus
	hooks       RecoveryHooks
	diagnostics []HealthChecker
	log         zerolog.Logger

	mu            sync.Mutex
	state         RecoveryStateName
	errorCount    int
	consecutive   int
	lastSuccess   time.Time
	emergency     bool
	shutdown      bool
	phaseAttempts map[domain.Phase]int
}

// NewRecoveryController creates a controller in the Normal state.
func NewRecoveryController(
	cfg config.RecoveryConfig,
	health *HealthTracker,
	clock Clock,
	bus *events.Bus,
	diagnostics []HealthChecker,
	log zerolog.Logger,
) *RecoveryController {
	return &RecoveryController{
		cfg:           cfg,
		health:        health,
		clock:         clock,
		bus:           bus,
		diagnostics:   diagnostics,
		log:           log.With().Str("component", "recovery").Logger(),
		state:         StateNormal,
		phaseAttempts: make(map[domain.Phase]int),
	}
}

// SetHooks wires the orchestrator-side actions. Must be called before
// the first failure is handled.
func (c *RecoveryController) SetHooks(hooks RecoveryHooks) {
	c.hooks = hooks
}

// OnFailure handles one phase failure. It may block: backoff sleeps and
// the emergency cooldown happen on the failing cycle's goroutine and
// are cancellable through ctx.
func (c *RecoveryController) OnFailure(ctx context.Context, market domain.MarketClass, phase domain.Phase) {
	c.mu.Lock()
	c.errorCount++
	c.consecutive++
	c.phaseAttempts[phase]++
	errorCount := c.errorCount
	consecutive := c.consecutive
	alreadyEmergency := c.emergency
	c.mu.Unlock()

	c.health.OnError()

	c.log.Warn().
		Str("market", string(market)).
		Str("phase", string(phase)).
		Int("consecutive_errors", consecutive).
		Int("total_errors", errorCount).
		Msg("Cycle failure handled")

	switch {
	case consecutive >= c.cfg.MaxConsecutiveErrors && !alreadyEmergency:
		c.enterEmergency(ctx, market)
	case errorCount >= c.cfg.MaxTotalErrors:
		c.triggerShutdown(ctx, "total error budget exhausted")
	default:
		c.backoff(ctx, phase, consecutive)
	}
}

// OnSuccess records a successful cycle. Recovery is deliberately
// asymmetric: consecutive errors reset to zero and the total count is
// halved, so exiting degradation does not require unwinding every past
// failure one by one. Only a clean cycle earns the health step up; a
// cycle that completed with recorded errors (a degraded AI phase, a
// failed periodic report) resets the counters without masking the
// health cost those errors already charged.
func (c *RecoveryController) OnSuccess(clean bool) {
	c.mu.Lock()
	c.consecutive = 0
	c.errorCount /= 2
	c.lastSuccess = c.clock.Now()
	wasEmergency := c.emergency
	c.emergency = false
	if c.state != StateShutdown {
		c.state = StateNormal
	}
	c.mu.Unlock()

	if clean {
		c.health.OnSuccess()
	}

	if wasEmergency {
		if c.hooks.RestoreScope != nil {
			c.hooks.RestoreScope()
		}
		c.bus.Publish(events.EmergencyCleared, &events.EmergencyData{
			HealthScore: c.health.Score(),
			Cleared:     true,
		})
		c.log.Info().Msg("Emergency flag cleared after successful cycle")
	}
}

// State returns the current protocol state.
func (c *RecoveryController) State() RecoveryStateName {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsShutdown reports whether the controller reached terminal shutdown.
func (c *RecoveryController) IsShutdown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shutdown
}

// InEmergency reports whether emergency mode is active.
func (c *RecoveryController) InEmergency() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.emergency
}

// Snapshot returns a copy of the controller state.
func (c *RecoveryController) Snapshot() RecoverySnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	attempts := make(map[domain.Phase]int, len(c.phaseAttempts))
	for phase, n := range c.phaseAttempts {
		attempts[phase] = n
	}
	return RecoverySnapshot{
		State:             c.state,
		ErrorCount:        c.errorCount,
		ConsecutiveErrors: c.consecutive,
		LastSuccess:       c.lastSuccess,
		Emergency:         c.emergency,
		Shutdown:          c.shutdown,
		PhaseAttempts:     attempts,
		HealthScore:       c.health.Score(),
	}
}

// BackoffDelay computes the retry delay for a failure in the given
// phase after n consecutive errors. The growth factor is capped so a
// long failure streak cannot push delays past the configured maximum.
func (c *RecoveryController) BackoffDelay(phase domain.Phase, consecutive int) time.Duration {
	multiplier := phaseBackoffMultiplier[phase]
	if multiplier < 1 {
		multiplier = 1
	}
	growth := consecutive
	if growth > 5 {
		growth = 5
	}
	if growth < 1 {
		growth = 1
	}

	delay := c.cfg.BaseDelay * time.Duration(multiplier*growth)
	if delay > c.cfg.MaxDelay {
		delay = c.cfg.MaxDelay
	}
	return delay
}

func (c *RecoveryController) backoff(ctx context.Context, phase domain.Phase, consecutive int) {
	c.setState(StateBackoff)

	delay := c.BackoffDelay(phase, consecutive)
	c.log.Info().
		Str("phase", string(phase)).
		Dur("delay", delay).
		Msg("Backing off before next scheduled trigger")

	// The next periodic trigger is the retry; no retry-within-cycle.
	if err := c.clock.Sleep(ctx, delay); err != nil {
		c.log.Debug().Err(err).Msg("Backoff sleep cancelled")
	}
}

func (c *RecoveryController) enterEmergency(ctx context.Context, market domain.MarketClass) {
	c.mu.Lock()
	c.emergency = true
	c.state = StateEmergency
	consecutive := c.consecutive
	errorCount := c.errorCount
	c.mu.Unlock()

	c.log.Error().
		Str("market", string(market)).
		Int("consecutive_errors", consecutive).
		Msg("Entering emergency mode")

	c.bus.Publish(events.EmergencyEntered, &events.EmergencyData{
		ConsecutiveErrors: consecutive,
		TotalErrors:       errorCount,
		HealthScore:       c.health.Score(),
	})

	if c.hooks.NarrowScope != nil {
		c.hooks.NarrowScope()
	}

	c.runDiagnostics(ctx)

	c.log.Info().Dur("cooldown", c.cfg.EmergencyCooldown).Msg("Emergency cooldown before recovery test")
	if err := c.clock.Sleep(ctx, c.cfg.EmergencyCooldown); err != nil {
		// stop() was called; leave the emergency flag in place for the
		// status surface and do not attempt the recovery test.
		c.log.Warn().Err(err).Msg("Emergency cooldown interrupted")
		return
	}

	c.recoveryTest(ctx, market)
}

// runDiagnostics probes every health-checkable collaborator and
// overrides the health score with the fraction that responded.
func (c *RecoveryController) runDiagnostics(ctx context.Context) {
	if len(c.diagnostics) == 0 {
		return
	}

	healthy := 0
	for _, checker := range c.diagnostics {
		if err := checker.HealthCheck(ctx); err != nil {
			c.log.Warn().Err(err).Str("dependency", checker.Name()).Msg("Dependency unhealthy")
			continue
		}
		c.log.Debug().Str("dependency", checker.Name()).Msg("Dependency healthy")
		healthy++
	}

	fraction := float64(healthy) / float64(len(c.diagnostics))
	c.health.Override(fraction)
	c.log.Info().
		Int("healthy", healthy).
		Int("total", len(c.diagnostics)).
		Float64("health_score", c.health.Score()).
		Msg("Dependency diagnostic complete")
}

func (c *RecoveryController) recoveryTest(ctx context.Context, market domain.MarketClass) {
	c.setState(StateRecoveryTest)
	c.log.Info().Str("market", string(market)).Msg("Running recovery test cycle")

	var err error
	if c.hooks.RunMinimalCycle != nil {
		err = c.hooks.RunMinimalCycle(ctx, market)
	}

	c.bus.Publish(events.RecoveryTestRun, &events.RecoveryTestData{
		Market:  string(market),
		Success: err == nil,
	})

	if err != nil {
		c.log.Error().Err(err).Msg("Recovery test failed")
		c.triggerShutdown(ctx, "recovery test failed")
		return
	}

	c.mu.Lock()
	c.consecutive /= 2
	c.emergency = false
	c.state = StateRestored
	c.mu.Unlock()

	if c.hooks.RestoreScope != nil {
		c.hooks.RestoreScope()
	}
	c.health.Boost(restoredHealthScore)

	c.bus.Publish(events.EmergencyCleared, &events.EmergencyData{
		HealthScore: c.health.Score(),
		Cleared:     true,
	})
	c.log.Info().Msg("Recovery test succeeded, emergency cleared")
}

// restoredHealthScore is the partial health credit after a successful
// recovery test; deliberately below the trade-execution threshold so
// trading stays gated until real successes accumulate.
const restoredHealthScore = 0.6

func (c *RecoveryController) triggerShutdown(ctx context.Context, reason string) {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return
	}
	c.shutdown = true
	c.state = StateShutdown
	errorCount := c.errorCount
	c.mu.Unlock()

	c.log.Error().Str("reason", reason).Int("total_errors", errorCount).Msg("Emergency shutdown")

	snapshotPath := ""
	if c.hooks.PersistSnapshot != nil {
		path, err := c.hooks.PersistSnapshot(ctx, c.Snapshot())
		if err != nil {
			c.log.Error().Err(err).Msg("Failed to persist post-mortem snapshot")
		} else {
			snapshotPath = path
		}
	}

	if c.hooks.StopScheduling != nil {
		c.hooks.StopScheduling()
	}

	c.bus.Publish(events.ShutdownTriggered, &events.ShutdownData{
		TotalErrors:  errorCount,
		Reason:       reason,
		SnapshotPath: snapshotPath,
	})
}

func (c *RecoveryController) setState(s RecoveryStateName) {
	c.mu.Lock()
	if c.state != StateShutdown {
		c.state = s
	}
	c.mu.Unlock()
}
