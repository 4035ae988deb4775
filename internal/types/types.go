// Package types defines core data structures for the syncwave replication engine.
package types

import (
	"time"
)

// DatasourceKind identifies the endpoint family of a datasource.
type DatasourceKind string

const (
	// KindRelational is a MySQL-family endpoint.
	KindRelational DatasourceKind = "relational"
	// KindSearch is an Elasticsearch-family endpoint.
	KindSearch DatasourceKind = "search"
)

// Valid reports whether the kind is one of the known endpoint families.
func (k DatasourceKind) Valid() bool {
	return k == KindRelational || k == KindSearch
}

// Datasource describes one connectable endpoint. Password holds the
// encrypted envelope at rest; it is decrypted only when a connection
// is opened.
type Datasource struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Kind            DatasourceKind `json:"kind"`
	Host            string         `json:"host"`
	Port            int            `json:"port"`
	Username        string         `json:"username"`
	Password        string         `json:"password,omitempty"`
	DefaultDatabase string         `json:"default_database,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// TaskStatus is the lifecycle state of a sync task.
type TaskStatus string

const (
	TaskIdle      TaskStatus = "idle"
	TaskRunning   TaskStatus = "running"
	TaskPaused    TaskStatus = "paused"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// SyncTask pairs a source and target datasource with an opaque JSON
// configuration blob. SourceKind/TargetKind are denormalized copies of the
// referenced datasources' kinds, used to route to the correct connector pair.
type SyncTask struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	SourceID   string         `json:"source_id"`
	TargetID   string         `json:"target_id"`
	SourceKind DatasourceKind `json:"source_kind"`
	TargetKind DatasourceKind `json:"target_kind"`
	ConfigJSON string         `json:"config_json"`
	Status     TaskStatus     `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// UnitType distinguishes tables from indices.
type UnitType string

const (
	UnitTable UnitType = "table"
	UnitIndex UnitType = "index"
)

// UnitStatus is the lifecycle state of a single unit within a task.
type UnitStatus string

const (
	UnitPending   UnitStatus = "pending"
	UnitRunning   UnitStatus = "running"
	UnitCompleted UnitStatus = "completed"
	UnitFailed    UnitStatus = "failed"
)

// UnitConfig is one persisted unit of a task. (task_id, unit_name) is unique.
// SearchPattern records the keyword that selected this unit, when the task
// config used keyword groups.
type UnitConfig struct {
	TaskID        string   `json:"task_id"`
	UnitName      string   `json:"unit_name"`
	UnitType      UnitType `json:"unit_type"`
	SearchPattern string   `json:"search_pattern,omitempty"`
	CreatedAt     int64    `json:"created_at"` // epoch millis
}

// UnitRuntime is the mutable in-flight state of a unit. On completion the
// row is moved into UnitHistory; the two never coexist for one unit.
type UnitRuntime struct {
	TaskID             string     `json:"task_id"`
	UnitName           string     `json:"unit_name"`
	Status             UnitStatus `json:"status"`
	TotalRecords       int64      `json:"total_records"`
	ProcessedRecords   int64      `json:"processed_records"`
	ErrorMessage       string     `json:"error_message,omitempty"`
	StartedAt          int64      `json:"started_at,omitempty"` // epoch millis, 0 = never started
	LastProcessedBatch int64      `json:"last_processed_batch,omitempty"`
	UpdatedAt          int64      `json:"updated_at"` // epoch millis
}

// UnitHistory is one append-only completion record.
type UnitHistory struct {
	ID            int64  `json:"id"`
	TaskID        string `json:"task_id"`
	UnitName      string `json:"unit_name"`
	SearchPattern string `json:"search_pattern,omitempty"`
	TotalRecords  int64  `json:"total_records"`
	CompletedAt   int64  `json:"completed_at"` // epoch millis
	DurationMS    int64  `json:"duration_ms"`
}

// SyncedIndex is one row of the cross-task ledger: the record that a source
// unit has been copied at least once, by any task. Keyed by
// (source_id, unit_name).
type SyncedIndex struct {
	SourceID      string `json:"source_id"`
	UnitName      string `json:"unit_name"`
	FirstSyncedAt int64  `json:"first_synced_at"` // epoch millis
	LastSyncedAt  int64  `json:"last_synced_at"`  // epoch millis
	SyncCount     int64  `json:"sync_count"`
	LastTaskID    string `json:"last_task_id"`
}

// UnitStatistics summarizes unit counts per status for one task.
type UnitStatistics struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}
