package events

import "time"

// EventData is the interface that all event data types must implement
// This allows for type-safe event data while maintaining flexibility
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// ResolutionProgressInfo contains progress information for a resolution run.
type ResolutionProgressInfo struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Label   string `json:"label,omitempty"` // Instrument currently being resolved
}

// ResolutionRunData contains data for resolution run lifecycle events
type ResolutionRunData struct {
	RunID     string                  `json:"run_id"`
	Status    string                  `json:"status"` // "started", "progress", "completed", "failed"
	Progress  *ResolutionProgressInfo `json:"progress,omitempty"`
	Error     string                  `json:"error,omitempty"`
	Duration  float64                 `json:"duration,omitempty"`
	Timestamp time.Time               `json:"timestamp"`
}

// EventType returns the event type for ResolutionRunData
// Note: The actual event type is determined by the Status field
func (d *ResolutionRunData) EventType() EventType {
	switch d.Status {
	case "started":
		return ResolutionStarted
	case "progress":
		return ResolutionProgress
	case "completed":
		return ResolutionCompleted
	case "failed":
		return ResolutionFailed
	default:
		return ResolutionStarted
	}
}

// InstrumentResolvedData contains data for InstrumentResolved events
type InstrumentResolvedData struct {
	Ticker     string  `json:"ticker"`
	Found      bool    `json:"found"`
	Strategy   string  `json:"strategy,omitempty"`
	Confidence float64 `json:"confidence"`
	FromCache  bool    `json:"from_cache"`
}

// EventType returns the event type for InstrumentResolvedData
func (d *InstrumentResolvedData) EventType() EventType {
	return InstrumentResolved
}

// CacheClearedData contains data for CacheCleared events
type CacheClearedData struct {
	EntriesRemoved int `json:"entries_removed"`
}

// EventType returns the event type for CacheClearedData
func (d *CacheClearedData) EventType() EventType {
	return CacheCleared
}

// UniverseChangedData contains data for UniverseChanged events
type UniverseChangedData struct {
	InstrumentCount int `json:"instrument_count"`
}

// EventType returns the event type for UniverseChangedData
func (d *UniverseChangedData) EventType() EventType {
	return UniverseChanged
}

// BrokerStatusChangedData contains data for BrokerStatusChanged events
type BrokerStatusChangedData struct {
	Connected      bool `json:"connected"`
	HealthyHandles int  `json:"healthy_handles"`
	TotalHandles   int  `json:"total_handles"`
}

// EventType returns the event type for BrokerStatusChangedData
func (d *BrokerStatusChangedData) EventType() EventType {
	return BrokerStatusChanged
}

// BackupCompletedData contains data for BackupCompleted events
type BackupCompletedData struct {
	Archive   string `json:"archive"`
	SizeBytes int64  `json:"size_bytes"`
}

// EventType returns the event type for BackupCompletedData
func (d *BackupCompletedData) EventType() EventType {
	return BackupCompleted
}

// ErrorEventData contains data for ErrorOccurred events
type ErrorEventData struct {
	Component string `json:"component"`
	Message   string `json:"message"`
}

// EventType returns the event type for ErrorEventData
func (d *ErrorEventData) EventType() EventType {
	return ErrorOccurred
}
