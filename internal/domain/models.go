// Package domain provides core domain models and types.
package domain

import (
	"time"
)

// MarketClass identifies one of the two independently scheduled markets.
type MarketClass string

const (
	MarketEquity MarketClass = "equity"
	MarketCrypto MarketClass = "crypto"
)

// Valid reports whether the market class is one of the known classes.
func (m MarketClass) Valid() bool {
	return m == MarketEquity || m == MarketCrypto
}

// Phase is a named stage within one cycle.
type Phase string

const (
	PhaseStarting           Phase = "starting"
	PhaseDataIngestion      Phase = "data_ingestion"
	PhaseFeatureComputation Phase = "feature_computation"
	PhaseSignalGeneration   Phase = "signal_generation"
	PhaseAIAnalysis         Phase = "ai_analysis"
	PhaseTradeExecution     Phase = "trade_execution"
	PhasePortfolioUpdate    Phase = "portfolio_update"
	PhaseReflection         Phase = "reflection"
	PhaseReporting          Phase = "reporting"
	PhaseCompleted          Phase = "completed"
	PhaseError              Phase = "error"
)

// CycleStatus is the lifecycle status of a CycleRecord.
type CycleStatus string

const (
	StatusRunning   CycleStatus = "running"
	StatusSuccess   CycleStatus = "success"
	StatusFailed    CycleStatus = "failed"
	StatusCancelled CycleStatus = "cancelled"
)

// Terminal reports whether the status is a terminal state.
func (s CycleStatus) Terminal() bool {
	return s != StatusRunning
}

// CycleRecord is one execution instance of the phase pipeline for one
// market class. It is created at cycle start, mutated in place by each
// phase, and persisted at terminal status. At most one CycleRecord per
// market class may be Running at any time.
type CycleRecord struct {
	ID               string                  `json:"id"`
	Market           MarketClass             `json:"market"`
	StartedAt        time.Time               `json:"started_at"`
	CompletedAt      time.Time               `json:"completed_at,omitempty"`
	Phase            Phase                   `json:"phase"`
	Status           CycleStatus             `json:"status"`
	Symbols          []string                `json:"symbols"`
	SignalsGenerated int                     `json:"signals_generated"`
	TradesExecuted   int                     `json:"trades_executed"`
	Errors           []string                `json:"errors,omitempty"`
	PhaseTimings     map[Phase]time.Duration `json:"phase_timings"`
	PortfolioDelta   float64                 `json:"portfolio_delta"`
	DailyPnL         float64                 `json:"daily_pnl"`
}

// RecordError appends an error string to the record, preserving order.
func (r *CycleRecord) RecordError(msg string) {
	r.Errors = append(r.Errors, msg)
}

// MarketConfig describes the schedule, scope, and feature flags for one
// market class. Immutable after construction except via explicit scope
// narrowing during emergency recovery.
type MarketConfig struct {
	Market          MarketClass   `json:"market"`
	Symbols         []string      `json:"symbols"`
	Interval        time.Duration `json:"interval"`
	TradingEnabled  bool          `json:"trading_enabled"`
	AIEnabled       bool          `json:"ai_enabled"`
	ReflectionEvery int           `json:"reflection_every"` // every N successful cycles
	ReportEvery     int           `json:"report_every"`     // every N successful cycles
	MaxDailyRuns    int           `json:"max_daily_runs"`
}

// Clone returns a deep copy so narrowed configs never alias the original
// symbol slice.
func (c MarketConfig) Clone() MarketConfig {
	out := c
	out.Symbols = append([]string(nil), c.Symbols...)
	return out
}

// PricePoint is a single observation from the data source.
type PricePoint struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// FeatureSet holds derived indicator values for one symbol.
type FeatureSet struct {
	Symbol   string             `json:"symbol"`
	Features map[string]float64 `json:"features"`
}

// SignalAction is the direction of a trading signal.
type SignalAction string

const (
	SignalBuy  SignalAction = "buy"
	SignalSell SignalAction = "sell"
	SignalHold SignalAction = "hold"
)

// Signal is a generated trading signal for one symbol.
type Signal struct {
	ID         string       `json:"id"`
	Symbol     string       `json:"symbol"`
	Action     SignalAction `json:"action"`
	Confidence float64      `json:"confidence"`
	Price      float64      `json:"price"`
	CreatedAt  time.Time    `json:"created_at"`
}

// Analysis is the reasoning-service verdict for one signal.
type Analysis struct {
	Symbol     string    `json:"symbol"`
	Verdict    string    `json:"verdict"`
	Confidence float64   `json:"confidence"`
	Rationale  string    `json:"rationale,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Trade is an executed (or simulated) order.
type Trade struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	Quantity   float64   `json:"quantity"`
	Price      float64   `json:"price"`
	ExecutedAt time.Time `json:"executed_at"`
}

// PortfolioSnapshot is the portfolio store's view of current state.
type PortfolioSnapshot struct {
	TotalValue float64            `json:"total_value"`
	Cash       float64            `json:"cash"`
	Positions  map[string]float64 `json:"positions"`
	DailyPnL   float64            `json:"daily_pnl"`
	TakenAt    time.Time          `json:"taken_at"`
}

// Report is the output of the reflection/report generators.
type Report struct {
	PeriodDays  int       `json:"period_days"`
	Cycles      int       `json:"cycles"`
	Trades      int       `json:"trades"`
	WinRate     float64   `json:"win_rate"`
	Summary     string    `json:"summary"`
	GeneratedAt time.Time `json:"generated_at"`
}
