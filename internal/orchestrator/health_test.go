package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quantpulse/quantpulse/internal/domain"
)

func TestHealthTrackerStartsAtFullHealth(t *testing.T) {
	h := NewHealthTracker()
	assert.InDelta(t, 1.0, h.Score(), 1e-9)
}

func TestHealthTrackerStepsDownAndUp(t *testing.T) {
	h := NewHealthTracker()

	h.OnError()
	assert.InDelta(t, 0.9, h.Score(), 1e-9)

	h.OnError()
	assert.InDelta(t, 0.8, h.Score(), 1e-9)

	h.OnSuccess()
	assert.InDelta(t, 0.9, h.Score(), 1e-9)
}

func TestHealthTrackerNeverLeavesBounds(t *testing.T) {
	h := NewHealthTracker()

	for i := 0; i < 20; i++ {
		h.OnError()
	}
	assert.InDelta(t, 0.1, h.Score(), 1e-9)

	for i := 0; i < 20; i++ {
		h.OnSuccess()
	}
	assert.InDelta(t, 1.0, h.Score(), 1e-9)
}

func TestHealthTrackerOverrideClamps(t *testing.T) {
	h := NewHealthTracker()

	h.Override(0.0)
	assert.InDelta(t, 0.1, h.Score(), 1e-9)

	h.Override(2.0)
	assert.InDelta(t, 1.0, h.Score(), 1e-9)

	h.Override(0.5)
	assert.InDelta(t, 0.5, h.Score(), 1e-9)
}

func TestHealthTrackerBoostOnlyRaises(t *testing.T) {
	h := NewHealthTracker()

	h.Override(0.2)
	h.Boost(0.6)
	assert.InDelta(t, 0.6, h.Score(), 1e-9)

	h.Override(0.8)
	h.Boost(0.6)
	assert.InDelta(t, 0.8, h.Score(), 1e-9)
}

func TestHealthTrackerPhaseGates(t *testing.T) {
	tests := []struct {
		name       string
		score      float64
		allowAI    bool
		allowTrade bool
	}{
		{"full health allows everything", 1.0, true, true},
		{"above trade threshold", 0.8, true, true},
		{"at trade threshold blocks trading", 0.7, true, false},
		{"between thresholds", 0.6, true, false},
		{"at AI threshold blocks both", 0.5, false, false},
		{"floor blocks both", 0.1, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthTracker()
			h.Override(tt.score)

			assert.Equal(t, tt.allowAI, h.Allows(domain.PhaseAIAnalysis))
			assert.Equal(t, tt.allowTrade, h.Allows(domain.PhaseTradeExecution))
			assert.True(t, h.Allows(domain.PhaseDataIngestion), "unthresholded phases are always allowed")
		})
	}
}
