package orchestrator

import (
	"errors"
	"fmt"

	"github.com/quantpulse/quantpulse/internal/domain"
)

// ErrMarketClosed is returned when a trigger fires outside the market's
// active hours. It is not a fault: the run is skipped, never queued.
var ErrMarketClosed = errors.New("market closed")

// ConfigurationError indicates invalid configuration at startup.
// It is fatal and never retried.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

// ConcurrencyError indicates a cycle for the market class is already
// running. Callers should not retry immediately.
type ConcurrencyError struct {
	Market domain.MarketClass
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("cycle already running for market %s", e.Market)
}

// RateLimitError indicates the daily run cap for the market class has
// been reached. Not a system fault; retry next day.
type RateLimitError struct {
	Market domain.MarketClass
	Limit  int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("daily run limit (%d) reached for market %s", e.Limit, e.Market)
}

// PhaseError wraps a collaborator failure inside a cycle phase. It is
// always caught inside RunOnce and routed through the recovery
// controller.
type PhaseError struct {
	Phase domain.Phase
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("phase %s failed: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

// ShutdownError indicates the orchestrator entered emergency shutdown
// and refuses further cycles until the process is restarted.
type ShutdownError struct{}

func (e *ShutdownError) Error() string {
	return "orchestrator is shut down; restart required"
}

// NewPhaseError wraps err with the phase it occurred in.
func NewPhaseError(phase domain.Phase, err error) *PhaseError {
	return &PhaseError{Phase: phase, Err: err}
}
