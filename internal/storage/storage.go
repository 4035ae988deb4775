// Package storage defines the durable-store contract for the sync engine.
//
// The concrete implementation lives in the sqlite sub-package. Consumers
// depend on this interface rather than on the concrete type so that mocks
// and alternative backends can be substituted.
package storage

import (
	"context"
	"errors"

	"github.com/syncwave/syncwave/internal/types"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrReferenced is returned when deleting a datasource that a task still
// points at.
var ErrReferenced = errors.New("datasource referenced by task")

// Store is the crash-safe persistence layer. Every multi-row mutation runs
// inside one transaction; reads are not transactional. The store does not
// retry I/O beyond SQLITE_BUSY backoff; callers decide.
type Store interface {
	// Datasources
	SaveDatasource(ctx context.Context, ds *types.Datasource) error
	GetDatasource(ctx context.Context, id string) (*types.Datasource, error)
	ListDatasources(ctx context.Context) ([]*types.Datasource, error)
	DeleteDatasource(ctx context.Context, id string) error

	// Tasks. DeleteTask cascades to unit config, runtime and history.
	SaveTask(ctx context.Context, task *types.SyncTask) error
	GetTask(ctx context.Context, id string) (*types.SyncTask, error)
	ListTasks(ctx context.Context) ([]*types.SyncTask, error)
	DeleteTask(ctx context.Context, id string) error
	UpdateTaskStatus(ctx context.Context, id string, status types.TaskStatus) error

	// Unit config
	ReplaceUnitConfigs(ctx context.Context, taskID string, units []*types.UnitConfig) error
	ListUnitConfigs(ctx context.Context, taskID string) ([]*types.UnitConfig, error)

	// Unit runtime
	InitRuntimes(ctx context.Context, taskID string) error
	ListRuntimes(ctx context.Context, taskID string) ([]*types.UnitRuntime, error)
	GetRuntime(ctx context.Context, taskID, unitName string) (*types.UnitRuntime, error)
	// TransitionUnit is a durable compare-and-set on runtime status. It
	// returns false when the current status is not in from, which is how
	// at-most-one runner per unit is enforced.
	TransitionUnit(ctx context.Context, taskID, unitName string, from []types.UnitStatus, to types.UnitStatus) (bool, error)
	UpdateUnitProgress(ctx context.Context, taskID, unitName string, processed, total int64) error
	UpdateUnitBatchCursor(ctx context.Context, taskID, unitName string, batch int64) error
	SetUnitError(ctx context.Context, taskID, unitName, message string) error
	ResetFailedUnits(ctx context.Context, taskID string) (int, error)

	// History. MoveRuntimeToHistory is transactional: insert history from
	// the runtime row, then delete the runtime row.
	MoveRuntimeToHistory(ctx context.Context, taskID, unitName string, durationMS int64) error
	ListHistory(ctx context.Context, taskID string) ([]*types.UnitHistory, error)
	HasHistory(ctx context.Context, taskID, unitName string) (bool, error)
	ClearHistoryByKeyword(ctx context.Context, taskID, keyword string) (int, error)

	// Cross-task ledger
	MarkSynced(ctx context.Context, sourceID, unitName, taskID string) error
	IsSynced(ctx context.Context, sourceID, unitName string) (bool, error)
	ListSynced(ctx context.Context, sourceID string) ([]*types.SyncedIndex, error)
	ClearSynced(ctx context.Context, sourceID, unitName string) error
	ClearAllSynced(ctx context.Context, sourceID string) error

	// Lifecycle
	Close() error
}
