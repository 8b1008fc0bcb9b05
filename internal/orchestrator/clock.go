package orchestrator

import (
	"context"
	"time"
)

// Clock abstracts wall-clock access so tests can advance virtual time
// instead of sleeping.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is cancelled, in which case it
	// returns ctx.Err().
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

// NewRealClock returns a Clock backed by the system clock.
func NewRealClock() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
