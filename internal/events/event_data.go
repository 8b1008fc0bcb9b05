package events

// EventData is the interface that all event data types must implement.
// This allows for type-safe event data while maintaining flexibility.
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// CycleStartedData contains data for CycleStarted events
type CycleStartedData struct {
	CycleID string `json:"cycle_id"`
	Market  string `json:"market"`
	Symbols int    `json:"symbols"`
}

// EventType returns the event type for CycleStartedData
func (d *CycleStartedData) EventType() EventType {
	return CycleStarted
}

// CycleCompletedData contains data for CycleCompleted events
type CycleCompletedData struct {
	CycleID string  `json:"cycle_id"`
	Market  string  `json:"market"`
	Signals int     `json:"signals"`
	Trades  int     `json:"trades"`
	Delta   float64 `json:"portfolio_delta"`
}

// EventType returns the event type for CycleCompletedData
func (d *CycleCompletedData) EventType() EventType {
	return CycleCompleted
}

// CycleFailedData contains data for CycleFailed events
type CycleFailedData struct {
	CycleID string `json:"cycle_id"`
	Market  string `json:"market"`
	Phase   string `json:"phase"`
	Error   string `json:"error"`
}

// EventType returns the event type for CycleFailedData
func (d *CycleFailedData) EventType() EventType {
	return CycleFailed
}

// CycleSkippedData contains data for CycleSkipped events
type CycleSkippedData struct {
	Market string `json:"market"`
	Reason string `json:"reason"`
}

// EventType returns the event type for CycleSkippedData
func (d *CycleSkippedData) EventType() EventType {
	return CycleSkipped
}

// TradeExecutedData contains data for TradeExecuted events
type TradeExecutedData struct {
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	Quantity float64 `json:"quantity"`
	Price    float64 `json:"price"`
}

// EventType returns the event type for TradeExecutedData
func (d *TradeExecutedData) EventType() EventType {
	return TradeExecuted
}

// EmergencyData contains data for EmergencyEntered and EmergencyCleared events
type EmergencyData struct {
	ConsecutiveErrors int     `json:"consecutive_errors"`
	TotalErrors       int     `json:"total_errors"`
	HealthScore       float64 `json:"health_score"`
	Cleared           bool    `json:"cleared"`
}

// EventType returns the event type for EmergencyData
func (d *EmergencyData) EventType() EventType {
	if d.Cleared {
		return EmergencyCleared
	}
	return EmergencyEntered
}

// RecoveryTestData contains data for RecoveryTestRun events
type RecoveryTestData struct {
	Market  string `json:"market"`
	Symbol  string `json:"symbol"`
	Success bool   `json:"success"`
}

// EventType returns the event type for RecoveryTestData
func (d *RecoveryTestData) EventType() EventType {
	return RecoveryTestRun
}

// ShutdownData contains data for ShutdownTriggered events
type ShutdownData struct {
	TotalErrors  int    `json:"total_errors"`
	Reason       string `json:"reason"`
	SnapshotPath string `json:"snapshot_path,omitempty"`
}

// EventType returns the event type for ShutdownData
func (d *ShutdownData) EventType() EventType {
	return ShutdownTriggered
}
