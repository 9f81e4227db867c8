package models

import "time"

// Event types
const (
	EventTypeSyncRequested = "SYNC_REQUESTED"
	EventTypeSyncCompleted = "SYNC_COMPLETED"
	EventTypeSyncFailed    = "SYNC_FAILED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// SyncRequestedEvent asks the worker to run a sync asynchronously
type SyncRequestedEvent struct {
	BaseEvent
	SourceName string `json:"source_name"`
	TargetName string `json:"target_name"`
	Strategy   string `json:"strategy"`
}

// SyncCompletedEvent published when a sync reaches a terminal Completed state
type SyncCompletedEvent struct {
	BaseEvent
	RecordID   string         `json:"record_id"`
	SourceName string         `json:"source_name"`
	TargetName string         `json:"target_name"`
	Strategy   string         `json:"strategy"`
	Statistics SyncStatistics `json:"statistics"`
}

// SyncFailedEvent published when a sync fails before any item is attempted
type SyncFailedEvent struct {
	BaseEvent
	SourceName string `json:"source_name"`
	TargetName string `json:"target_name"`
	Strategy   string `json:"strategy"`
	Reason     string `json:"reason"`
}
