package orchestrator

import (
	"sync"

	"github.com/quantpulse/quantpulse/internal/domain"
)

// Health score bounds and per-step drift. The contract is monotonic
// bounded drift, not a statistical model: slow to degrade, slow to
// recover, never outside [floor, ceiling].
const (
	healthFloor   = 0.1
	healthCeiling = 1.0
	healthStep    = 0.1
)

// Phase gate thresholds. Risk-bearing phases require more health.
const (
	aiAnalysisThreshold     = 0.5
	tradeExecutionThreshold = 0.7
)

// HealthTracker maintains the bounded system-health score that gates
// risk-bearing phases. Safe for concurrent use.
type HealthTracker struct {
	mu    sync.Mutex
	score float64
}

// NewHealthTracker returns a tracker starting at full health.
func NewHealthTracker() *HealthTracker {
	return &HealthTracker{score: healthCeiling}
}

// OnSuccess nudges the score up after a fully successful cycle.
func (h *HealthTracker) OnSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.score = clampScore(h.score + healthStep)
}

// OnError nudges the score down after a handled error.
func (h *HealthTracker) OnError() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.score = clampScore(h.score - healthStep)
}

// Score returns the current health score.
func (h *HealthTracker) Score() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.score
}

// Override replaces the score, clamped to bounds. Used by the emergency
// diagnostic to reflect the measured fraction of healthy dependencies.
func (h *HealthTracker) Override(score float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.score = clampScore(score)
}

// Boost raises the score to at least floor(min), clamped to bounds.
// Used for the partial recovery credit after a successful recovery test.
func (h *HealthTracker) Boost(min float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.score < min {
		h.score = clampScore(min)
	}
}

// Allows reports whether the current score permits the given phase.
// Phases without a threshold are always allowed.
func (h *HealthTracker) Allows(phase domain.Phase) bool {
	score := h.Score()
	switch phase {
	case domain.PhaseAIAnalysis:
		return score > aiAnalysisThreshold
	case domain.PhaseTradeExecution:
		return score > tradeExecutionThreshold
	default:
		return true
	}
}

func clampScore(s float64) float64 {
	if s < healthFloor {
		return healthFloor
	}
	if s > healthCeiling {
		return healthCeiling
	}
	return s
}
