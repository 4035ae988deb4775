package types

import "time"

// LogLevel classifies a task log entry.
type LogLevel string

const (
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// LogCategory groups task log entries by purpose.
type LogCategory string

const (
	LogRealtime LogCategory = "realtime"
	LogSummary  LogCategory = "summary"
	LogVerify   LogCategory = "verify"
	LogErrorCat LogCategory = "error"
)

// LogEntry is one structured entry of a task's in-memory log ring.
type LogEntry struct {
	Timestamp time.Time   `json:"timestamp"`
	Level     LogLevel    `json:"level"`
	Category  LogCategory `json:"category"`
	Message   string      `json:"message"`
}

// UnitProgress is the per-unit slice of a progress snapshot.
type UnitProgress struct {
	UnitName         string     `json:"unit_name"`
	Status           UnitStatus `json:"status"`
	TotalRecords     int64      `json:"total_records"`
	ProcessedRecords int64      `json:"processed_records"`
	ErrorMessage     string     `json:"error_message,omitempty"`
}

// TaskProgress is the aggregated snapshot pushed to observers. Snapshots
// are lossy-latest: intermediate ones may be coalesced, so consumers must
// treat each as a full replacement.
type TaskProgress struct {
	TaskID                    string         `json:"task_id"`
	Status                    TaskStatus     `json:"status"`
	TotalUnits                int            `json:"total_units"`
	CompletedUnits            int            `json:"completed_units"`
	FailedUnits               int            `json:"failed_units"`
	TotalRecords              int64          `json:"total_records"`
	ProcessedRecords          int64          `json:"processed_records"`
	Percentage                float64        `json:"percentage"`
	StartTime                 time.Time      `json:"start_time"`
	Speed                     float64        `json:"speed"` // records/sec
	EstimatedRemainingSeconds int64          `json:"estimated_remaining_seconds"`
	CurrentUnit               string         `json:"current_unit,omitempty"`
	Units                     []UnitProgress `json:"units"`
}
