package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ErrorStrategy controls how the scheduler reacts to a failed unit.
type ErrorStrategy string

const (
	// ErrorSkip logs the failure and keeps scheduling remaining units.
	ErrorSkip ErrorStrategy = "skip"
	// ErrorPause stops scheduling new units and fails the task.
	ErrorPause ErrorStrategy = "pause"
)

// TargetExistsStrategy controls target preparation when the unit already
// exists at the destination.
type TargetExistsStrategy string

const (
	// TargetDrop drops the target and recreates it from the source schema.
	TargetDrop TargetExistsStrategy = "drop"
	// TargetTruncate deletes all rows but preserves the existing schema.
	TargetTruncate TargetExistsStrategy = "truncate"
	// TargetBackup renames the existing target aside, then creates fresh.
	TargetBackup TargetExistsStrategy = "backup"
)

// NameTransformMode selects which end of the name is rewritten.
type NameTransformMode string

const (
	TransformPrefix NameTransformMode = "prefix"
	TransformSuffix NameTransformMode = "suffix"
)

// NameTransform rewrites a matching leading or trailing substring of a
// database/index name. Non-matching names pass through unchanged.
type NameTransform struct {
	Mode NameTransformMode `json:"mode"`
	From string            `json:"from"`
	To   string            `json:"to"`
}

// KeywordGroup is a label plus the unit list it selected. The UI may build
// a task either from a flat unit list or from keyword-filtered groups; both
// reduce to the same unit list via within-task dedup.
type KeywordGroup struct {
	Keyword string   `json:"keyword"`
	Units   []string `json:"units"`
}

// TaskConfig is the strongly typed form of a task's config_json. Unknown
// fields in the blob are ignored.
type TaskConfig struct {
	Units         []string             `json:"units"`
	KeywordGroups []KeywordGroup       `json:"keyword_groups,omitempty"`
	ThreadCount   int                  `json:"thread_count"`
	BatchSize     int                  `json:"batch_size"`
	ErrorStrategy ErrorStrategy        `json:"error_strategy"`
	TargetExists  TargetExistsStrategy `json:"target_exists"`
	NameTransform *NameTransform       `json:"name_transform,omitempty"`
	SkipSynced    bool                 `json:"skip_synced"`
}

// Defaults applied by ParseTaskConfig when the blob omits a knob.
const (
	DefaultThreadCount = 4
	DefaultBatchSize   = 1000
)

// ParseTaskConfig decodes config_json into a TaskConfig, applying defaults
// and validating enum fields. An empty unit selection is rejected.
func ParseTaskConfig(raw string) (*TaskConfig, error) {
	cfg := &TaskConfig{}
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("task config is empty")
	}
	if err := json.Unmarshal([]byte(raw), cfg); err != nil {
		return nil, fmt.Errorf("parse task config: %w", err)
	}
	if cfg.ThreadCount <= 0 {
		cfg.ThreadCount = DefaultThreadCount
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.ErrorStrategy == "" {
		cfg.ErrorStrategy = ErrorSkip
	}
	if cfg.ErrorStrategy != ErrorSkip && cfg.ErrorStrategy != ErrorPause {
		return nil, fmt.Errorf("unknown error strategy %q", cfg.ErrorStrategy)
	}
	if cfg.TargetExists == "" {
		cfg.TargetExists = TargetTruncate
	}
	switch cfg.TargetExists {
	case TargetDrop, TargetTruncate, TargetBackup:
	default:
		return nil, fmt.Errorf("unknown target-exists strategy %q", cfg.TargetExists)
	}
	if cfg.NameTransform != nil {
		if m := cfg.NameTransform.Mode; m != TransformPrefix && m != TransformSuffix {
			return nil, fmt.Errorf("unknown name transform mode %q", m)
		}
	}
	if len(cfg.Units) == 0 && len(cfg.KeywordGroups) == 0 {
		return nil, fmt.Errorf("task config selects no units")
	}
	return cfg, nil
}
