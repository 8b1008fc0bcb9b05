package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantpulse/quantpulse/internal/config"
	"github.com/quantpulse/quantpulse/internal/domain"
	"github.com/quantpulse/quantpulse/internal/events"
)

type hookRecorder struct {
	mu         sync.Mutex
	narrowed   int
	restored   int
	stopped    int
	minimal    int
	minimalErr error
	snaps      []RecoverySnapshot
	snapErr    error
}

func (h *hookRecorder) hooks() RecoveryHooks {
	return RecoveryHooks{
		NarrowScope: func() {
			h.mu.Lock()
			h.narrowed++
			h.mu.Unlock()
		},
		RestoreScope: func() {
			h.mu.Lock()
			h.restored++
			h.mu.Unlock()
		},
		RunMinimalCycle: func(ctx context.Context, market domain.MarketClass) error {
			h.mu.Lock()
			h.minimal++
			h.mu.Unlock()
			return h.minimalErr
		},
		PersistSnapshot: func(ctx context.Context, snap RecoverySnapshot) (string, error) {
			h.mu.Lock()
			h.snaps = append(h.snaps, snap)
			h.mu.Unlock()
			return "/tmp/snapshot.msgpack", h.snapErr
		},
		StopScheduling: func() {
			h.mu.Lock()
			h.stopped++
			h.mu.Unlock()
		},
	}
}

func newTestController(cfg config.RecoveryConfig, diagnostics []HealthChecker) (*RecoveryController, *HealthTracker, *fakeClock, *hookRecorder, *eventRecorder) {
	health := NewHealthTracker()
	clock := newFakeClock()
	bus := events.NewBus()
	rec := &eventRecorder{}
	rec.subscribe(bus)

	hooks := &hookRecorder{}
	ctrl := NewRecoveryController(cfg, health, clock, bus, diagnostics, zerolog.Nop())
	ctrl.SetHooks(hooks.hooks())
	return ctrl, health, clock, hooks, rec
}

func defaultRecoveryConfig() config.RecoveryConfig {
	return config.RecoveryConfig{
		MaxConsecutiveErrors: 3,
		MaxTotalErrors:       5,
		BaseDelay:            30 * time.Second,
		MaxDelay:             15 * time.Minute,
		EmergencyCooldown:    10 * time.Minute,
	}
}

func TestBackoffDelayWeighsPhaseAndStreak(t *testing.T) {
	ctrl, _, _, _, _ := newTestController(defaultRecoveryConfig(), nil)

	tests := []struct {
		name        string
		phase       domain.Phase
		consecutive int
		want        time.Duration
	}{
		{"cheap phase first failure", domain.PhaseDataIngestion, 1, 30 * time.Second},
		{"cheap phase third failure", domain.PhaseDataIngestion, 3, 90 * time.Second},
		{"signal phase second failure", domain.PhaseSignalGeneration, 2, 2 * time.Minute},
		{"expensive phase fifth failure", domain.PhaseAIAnalysis, 5, 10 * time.Minute},
		{"streak growth is capped", domain.PhaseAIAnalysis, 12, 10 * time.Minute},
		{"unknown phase falls back to base", domain.Phase("bogus"), 1, 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ctrl.BackoffDelay(tt.phase, tt.consecutive))
		})
	}
}

func TestBackoffDelayNeverExceedsMax(t *testing.T) {
	cfg := defaultRecoveryConfig()
	cfg.BaseDelay = 5 * time.Minute
	ctrl, _, _, _, _ := newTestController(cfg, nil)

	// 5m * 4 * 5 = 100m, far past the cap.
	assert.Equal(t, 15*time.Minute, ctrl.BackoffDelay(domain.PhaseAIAnalysis, 5))
}

func TestFailuresBackOffBeforeEscalating(t *testing.T) {
	ctrl, _, clock, hooks, _ := newTestController(defaultRecoveryConfig(), nil)
	ctx := context.Background()

	ctrl.OnFailure(ctx, domain.MarketEquity, domain.PhaseDataIngestion)
	assert.Equal(t, StateBackoff, ctrl.State())

	ctrl.OnFailure(ctx, domain.MarketEquity, domain.PhaseDataIngestion)
	assert.Equal(t, StateBackoff, ctrl.State())
	assert.Equal(t, 0, hooks.narrowed, "no escalation below the consecutive threshold")

	// Growing backoff: 30s for the first failure, 60s for the second.
	assert.Equal(t, []time.Duration{30 * time.Second, 60 * time.Second}, clock.Sleeps())
}

func TestConsecutiveFailuresDriveFullEmergencyCycle(t *testing.T) {
	ctrl, health, clock, hooks, rec := newTestController(defaultRecoveryConfig(), nil)
	ctx := context.Background()

	ctrl.OnFailure(ctx, domain.MarketEquity, domain.PhaseDataIngestion)
	ctrl.OnFailure(ctx, domain.MarketEquity, domain.PhaseDataIngestion)
	ctrl.OnFailure(ctx, domain.MarketEquity, domain.PhaseDataIngestion)

	// Third failure: narrow, cool down, run the recovery test, restore.
	assert.Equal(t, 1, hooks.narrowed)
	assert.Equal(t, 1, hooks.minimal)
	assert.Equal(t, 1, hooks.restored)
	assert.Equal(t, 0, hooks.stopped)

	sleeps := clock.Sleeps()
	require.Len(t, sleeps, 3)
	assert.Equal(t, 10*time.Minute, sleeps[2], "cooldown precedes the recovery test")

	assert.Equal(t, StateRestored, ctrl.State())
	assert.False(t, ctrl.InEmergency())
	assert.False(t, ctrl.IsShutdown())

	// Three error steps down; the recovery credit only raises scores
	// already below it, so the trade-execution gate stays closed.
	assert.InDelta(t, 0.7, health.Score(), 1e-9)

	snap := ctrl.Snapshot()
	assert.Equal(t, 1, snap.ConsecutiveErrors, "recovery test halves the streak")
	assert.Equal(t, 3, snap.ErrorCount, "total errors survive the recovery test")

	assert.Equal(t, 1, rec.Count(events.EmergencyEntered))
	assert.Equal(t, 1, rec.Count(events.RecoveryTestRun))
	assert.Equal(t, 1, rec.Count(events.EmergencyCleared))
}

func TestEmergencyEnteredOncePerEpisode(t *testing.T) {
	ctrl, _, _, hooks, rec := newTestController(defaultRecoveryConfig(), nil)

	// Cancelled context interrupts the cooldown, so the emergency
	// episode stays open across further failures.
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	ctrl.OnFailure(cancelled, domain.MarketEquity, domain.PhaseDataIngestion)
	ctrl.OnFailure(cancelled, domain.MarketEquity, domain.PhaseDataIngestion)
	ctrl.OnFailure(cancelled, domain.MarketEquity, domain.PhaseDataIngestion)
	require.True(t, ctrl.InEmergency())
	require.Equal(t, 1, hooks.narrowed)
	assert.Equal(t, 0, hooks.minimal, "interrupted cooldown skips the recovery test")

	// A fourth failure inside the open episode must not re-enter.
	ctrl.OnFailure(cancelled, domain.MarketEquity, domain.PhaseDataIngestion)
	assert.Equal(t, 1, hooks.narrowed)
	assert.Equal(t, 1, rec.Count(events.EmergencyEntered))

	// The fifth failure exhausts the total budget instead.
	ctrl.OnFailure(cancelled, domain.MarketEquity, domain.PhaseDataIngestion)
	assert.True(t, ctrl.IsShutdown())
	assert.Equal(t, 1, rec.Count(events.ShutdownTriggered))
}

func TestRecoveryTestFailureTriggersShutdown(t *testing.T) {
	ctrl, _, _, hooks, rec := newTestController(defaultRecoveryConfig(), nil)
	hooks.minimalErr = errors.New("data source still down")
	ctx := context.Background()

	ctrl.OnFailure(ctx, domain.MarketEquity, domain.PhaseDataIngestion)
	ctrl.OnFailure(ctx, domain.MarketEquity, domain.PhaseDataIngestion)
	ctrl.OnFailure(ctx, domain.MarketEquity, domain.PhaseDataIngestion)

	assert.True(t, ctrl.IsShutdown())
	assert.Equal(t, StateShutdown, ctrl.State())
	assert.Equal(t, 1, hooks.stopped)
	require.Len(t, hooks.snaps, 1, "post-mortem snapshot persisted on shutdown")
	assert.Equal(t, 3, hooks.snaps[0].ErrorCount)
	assert.Equal(t, 0, hooks.restored, "failed recovery never restores scope")
	assert.Equal(t, 1, rec.Count(events.ShutdownTriggered))

	// Shutdown is terminal: success afterwards does not revive it.
	ctrl.OnSuccess(true)
	assert.Equal(t, StateShutdown, ctrl.State())
	assert.True(t, ctrl.IsShutdown())
}

func TestShutdownIsIdempotent(t *testing.T) {
	cfg := defaultRecoveryConfig()
	cfg.MaxTotalErrors = 1
	cfg.MaxConsecutiveErrors = 10
	ctrl, _, _, hooks, _ := newTestController(cfg, nil)
	ctx := context.Background()

	ctrl.OnFailure(ctx, domain.MarketCrypto, domain.PhaseDataIngestion)
	ctrl.OnFailure(ctx, domain.MarketCrypto, domain.PhaseDataIngestion)

	assert.True(t, ctrl.IsShutdown())
	assert.Len(t, hooks.snaps, 1)
	assert.Equal(t, 1, hooks.stopped)
}

func TestSnapshotFailureDoesNotBlockShutdown(t *testing.T) {
	cfg := defaultRecoveryConfig()
	cfg.MaxTotalErrors = 1
	cfg.MaxConsecutiveErrors = 10
	ctrl, _, _, hooks, _ := newTestController(cfg, nil)
	hooks.snapErr = errors.New("bucket unreachable")

	ctrl.OnFailure(context.Background(), domain.MarketCrypto, domain.PhaseDataIngestion)

	assert.True(t, ctrl.IsShutdown())
	assert.Equal(t, 1, hooks.stopped, "scheduling stops even when the snapshot fails")
}

func TestSuccessResetsAsymmetrically(t *testing.T) {
	ctrl, health, _, _, _ := newTestController(defaultRecoveryConfig(), nil)
	ctx := context.Background()

	ctrl.OnFailure(ctx, domain.MarketEquity, domain.PhaseDataIngestion)
	ctrl.OnFailure(ctx, domain.MarketEquity, domain.PhaseSignalGeneration)
	require.InDelta(t, 0.8, health.Score(), 1e-9)

	ctrl.OnSuccess(true)

	snap := ctrl.Snapshot()
	assert.Equal(t, 0, snap.ConsecutiveErrors, "streak resets fully")
	assert.Equal(t, 1, snap.ErrorCount, "total count only halves")
	assert.Equal(t, StateNormal, ctrl.State())
	assert.InDelta(t, 0.9, health.Score(), 1e-9)
	assert.False(t, snap.LastSuccess.IsZero())
}

func TestDegradedSuccessResetsCountersWithoutHealthCredit(t *testing.T) {
	ctrl, health, _, _, _ := newTestController(defaultRecoveryConfig(), nil)
	ctx := context.Background()

	ctrl.OnFailure(ctx, domain.MarketEquity, domain.PhaseDataIngestion)
	require.InDelta(t, 0.9, health.Score(), 1e-9)

	// A cycle that completed with recorded errors still resets the
	// counters, but the health score stays where the errors left it.
	ctrl.OnSuccess(false)

	snap := ctrl.Snapshot()
	assert.Equal(t, 0, snap.ConsecutiveErrors)
	assert.Equal(t, StateNormal, ctrl.State())
	assert.InDelta(t, 0.9, health.Score(), 1e-9)
}

func TestDiagnosticsOverrideHealthWithHealthyFraction(t *testing.T) {
	diagnostics := []HealthChecker{
		&fakeChecker{name: "market_data"},
		&fakeChecker{name: "reasoning", err: errors.New("connection refused")},
	}
	ctrl, health, _, _, _ := newTestController(defaultRecoveryConfig(), diagnostics)

	// Interrupt the cooldown so the recovery test's health boost does
	// not mask the diagnostic override.
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	ctrl.OnFailure(cancelled, domain.MarketEquity, domain.PhaseDataIngestion)
	ctrl.OnFailure(cancelled, domain.MarketEquity, domain.PhaseDataIngestion)
	ctrl.OnFailure(cancelled, domain.MarketEquity, domain.PhaseDataIngestion)

	assert.InDelta(t, 0.5, health.Score(), 1e-9, "one of two dependencies healthy")
}

func TestPhaseAttemptsAreTracked(t *testing.T) {
	ctrl, _, _, _, _ := newTestController(defaultRecoveryConfig(), nil)
	ctx := context.Background()

	ctrl.OnFailure(ctx, domain.MarketEquity, domain.PhaseDataIngestion)
	ctrl.OnFailure(ctx, domain.MarketCrypto, domain.PhaseDataIngestion)

	snap := ctrl.Snapshot()
	assert.Equal(t, 2, snap.PhaseAttempts[domain.PhaseDataIngestion])
}
