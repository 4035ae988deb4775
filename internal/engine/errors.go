package engine

import (
	"errors"
	"fmt"
)

// Kind classifies an engine-surfaced failure.
type Kind string

const (
	// KindConfigInvalid covers malformed config JSON, missing datasource
	// references and empty unit selections. Surfaced on start; the task
	// status is left unchanged.
	KindConfigInvalid Kind = "config_invalid"
	// KindConnectFailed covers unreachable endpoints and rejected auth.
	KindConnectFailed Kind = "connect_failed"
	// KindInvalidTransition covers start/pause/resume calls against a task
	// in the wrong lifecycle state.
	KindInvalidTransition Kind = "invalid_transition"
	// KindStoreFailed covers durable-store write failures.
	KindStoreFailed Kind = "store_failed"
	// KindNotFound covers lookups of absent datasources or tasks.
	KindNotFound Kind = "not_found"
)

// SyncError pairs a failure kind with its cause so callers can route on the
// kind without parsing messages.
type SyncError struct {
	Kind Kind
	Err  error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

func errKind(kind Kind, format string, args ...any) *SyncError {
	return &SyncError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the failure kind, or empty for untyped errors.
func KindOf(err error) Kind {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}
