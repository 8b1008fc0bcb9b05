package orchestrator

import (
	"context"

	"github.com/quantpulse/quantpulse/internal/domain"
)

// DataSource fetches current market data. It must return an error when
// all fallback tiers are exhausted rather than silently returning an
// empty slice, so the pipeline can count the failure as a phase error.
type DataSource interface {
	Fetch(ctx context.Context, symbols []string, market domain.MarketClass) ([]domain.PricePoint, error)
}

// FeatureEngine derives indicator features from raw price data.
type FeatureEngine interface {
	Compute(ctx context.Context, symbols []string, points []domain.PricePoint) ([]domain.FeatureSet, error)
}

// SignalEngine turns features into trading signals.
type SignalEngine interface {
	Generate(ctx context.Context, features []domain.FeatureSet) ([]domain.Signal, error)
	Latest(ctx context.Context, symbols []string, limit int) ([]domain.Signal, error)
}

// Reasoner consults the external reasoning service about a signal.
// It may be unreachable; its failure is non-fatal to the cycle but
// degrades the health score.
type Reasoner interface {
	Analyze(ctx context.Context, symbol string, sig domain.Signal) (domain.Analysis, error)
}

// ExecutionEngine evaluates a signal and executes a trade when its
// policy allows. A nil trade means the signal was declined.
type ExecutionEngine interface {
	EvaluateAndExecute(ctx context.Context, sig domain.Signal, analysis *domain.Analysis, portfolioValue float64) (*domain.Trade, error)
}

// PortfolioStore provides the current portfolio state.
type PortfolioStore interface {
	Snapshot(ctx context.Context) (domain.PortfolioSnapshot, error)
}

// ReportGenerator produces a periodic reflection or report document.
type ReportGenerator interface {
	Generate(ctx context.Context, periodDays int) (domain.Report, error)
}

// CycleStore persists terminal cycle records.
type CycleStore interface {
	SaveCycleRecord(ctx context.Context, rec *domain.CycleRecord) error
}

// HealthChecker is implemented by collaborators that expose a health
// endpoint, consulted during the emergency diagnostic.
type HealthChecker interface {
	Name() string
	HealthCheck(ctx context.Context) error
}

// Collaborators bundles the external dependencies of one pipeline.
type Collaborators struct {
	Data       DataSource
	Features   FeatureEngine
	Signals    SignalEngine
	Reasoner   Reasoner
	Execution  ExecutionEngine
	Portfolio  PortfolioStore
	Reflection ReportGenerator
	Reporter   ReportGenerator
	Store      CycleStore

	// Diagnostics lists the health-checkable collaborators probed when
	// entering emergency mode.
	Diagnostics []HealthChecker
}
