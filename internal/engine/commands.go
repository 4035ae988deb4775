package engine

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/syncwave/syncwave/internal/connector/elastic"
	"github.com/syncwave/syncwave/internal/connector/mysql"
	"github.com/syncwave/syncwave/internal/types"
)

// dialTimeout bounds the reachability step of a connection test.
const dialTimeout = 10 * time.Second

// CreateDatasource validates, encrypts the password and persists a new
// datasource. The id is assigned when empty.
func (e *Engine) CreateDatasource(ctx context.Context, ds *types.Datasource) error {
	if !ds.Kind.Valid() {
		return errKind(KindConfigInvalid, "unknown datasource kind %q", ds.Kind)
	}
	if ds.Host == "" || ds.Port <= 0 {
		return errKind(KindConfigInvalid, "datasource %q needs host and port", ds.Name)
	}
	if ds.ID == "" {
		ds.ID = uuid.NewString()
	}
	if ds.Password != "" {
		enc, err := e.cipher.Encrypt(ds.Password)
		if err != nil {
			return errKind(KindStoreFailed, "encrypt credentials: %w", err)
		}
		ds.Password = enc
	}
	if err := e.store.SaveDatasource(ctx, ds); err != nil {
		return errKind(KindStoreFailed, "save datasource: %w", err)
	}
	return nil
}

// UpdateDatasource persists changes to an existing datasource. An empty
// password keeps the stored one; a new password is re-encrypted.
func (e *Engine) UpdateDatasource(ctx context.Context, ds *types.Datasource) error {
	existing, err := e.store.GetDatasource(ctx, ds.ID)
	if err != nil {
		return errKind(KindNotFound, "datasource %s: %w", ds.ID, err)
	}
	if ds.Password == "" {
		ds.Password = existing.Password
	} else {
		enc, err := e.cipher.Encrypt(ds.Password)
		if err != nil {
			return errKind(KindStoreFailed, "encrypt credentials: %w", err)
		}
		ds.Password = enc
	}
	ds.CreatedAt = existing.CreatedAt
	if err := e.store.SaveDatasource(ctx, ds); err != nil {
		return errKind(KindStoreFailed, "save datasource: %w", err)
	}
	return nil
}

// GetDatasource loads one datasource. The password stays encrypted.
func (e *Engine) GetDatasource(ctx context.Context, id string) (*types.Datasource, error) {
	ds, err := e.store.GetDatasource(ctx, id)
	if err != nil {
		return nil, errKind(KindNotFound, "datasource %s: %w", id, err)
	}
	return ds, nil
}

// ListDatasources returns all datasources, passwords encrypted.
func (e *Engine) ListDatasources(ctx context.Context) ([]*types.Datasource, error) {
	return e.store.ListDatasources(ctx)
}

// DeleteDatasource removes a datasource that no task references.
func (e *Engine) DeleteDatasource(ctx context.Context, id string) error {
	return e.store.DeleteDatasource(ctx, id)
}

// CreateTask validates the config and datasource references, denormalizes
// the endpoint kinds and persists the task as idle.
func (e *Engine) CreateTask(ctx context.Context, task *types.SyncTask) error {
	if _, err := types.ParseTaskConfig(task.ConfigJSON); err != nil {
		return errKind(KindConfigInvalid, "task %q: %w", task.Name, err)
	}
	source, err := e.store.GetDatasource(ctx, task.SourceID)
	if err != nil {
		return errKind(KindConfigInvalid, "task %q source: %w", task.Name, err)
	}
	target, err := e.store.GetDatasource(ctx, task.TargetID)
	if err != nil {
		return errKind(KindConfigInvalid, "task %q target: %w", task.Name, err)
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	task.SourceKind = source.Kind
	task.TargetKind = target.Kind
	if task.Status == "" {
		task.Status = types.TaskIdle
	}
	if err := e.store.SaveTask(ctx, task); err != nil {
		return errKind(KindStoreFailed, "save task: %w", err)
	}
	return nil
}

// UpdateTask persists changes to a task that is not currently running.
func (e *Engine) UpdateTask(ctx context.Context, task *types.SyncTask) error {
	e.mu.Lock()
	running := e.runs[task.ID] != nil
	e.mu.Unlock()
	if running {
		return errKind(KindInvalidTransition, "task %s is running", task.ID)
	}
	existing, err := e.store.GetTask(ctx, task.ID)
	if err != nil {
		return errKind(KindNotFound, "task %s: %w", task.ID, err)
	}
	task.CreatedAt = existing.CreatedAt
	task.Status = existing.Status
	return e.CreateTask(ctx, task)
}

// GetTask loads one task.
func (e *Engine) GetTask(ctx context.Context, id string) (*types.SyncTask, error) {
	task, err := e.store.GetTask(ctx, id)
	if err != nil {
		return nil, errKind(KindNotFound, "task %s: %w", id, err)
	}
	return task, nil
}

// ListTasks returns all tasks.
func (e *Engine) ListTasks(ctx context.Context) ([]*types.SyncTask, error) {
	return e.store.ListTasks(ctx)
}

// DeleteTask removes a task that is not currently running, cascading to
// its unit state.
func (e *Engine) DeleteTask(ctx context.Context, id string) error {
	e.mu.Lock()
	running := e.runs[id] != nil
	e.mu.Unlock()
	if running {
		return errKind(KindInvalidTransition, "task %s is running", id)
	}
	return e.store.DeleteTask(ctx, id)
}

// ConnectionStep is one step of a connection test.
type ConnectionStep struct {
	Name    string `json:"name"` // "port" or "auth"
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
	Millis  int64  `json:"millis"`
}

// TestConnection probes a datasource in two steps, TCP reachability then an
// authenticated ping, calling onStep after each. It stops at the first
// failing step. The datasource need not be persisted; a persisted password
// is decrypted first.
func (e *Engine) TestConnection(ctx context.Context, ds *types.Datasource, onStep func(ConnectionStep)) error {
	if onStep == nil {
		onStep = func(ConnectionStep) {}
	}
	probe := *ds
	if probe.Password != "" {
		if plain, err := e.cipher.Decrypt(probe.Password); err == nil {
			probe.Password = plain
		}
		// A password that does not decrypt is treated as plaintext from an
		// unsaved form.
	}

	addr := net.JoinHostPort(probe.Host, fmt.Sprint(probe.Port))
	started := time.Now()
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	step := ConnectionStep{Name: "port", OK: err == nil, Millis: time.Since(started).Milliseconds()}
	if err != nil {
		step.Message = err.Error()
		onStep(step)
		return errKind(KindConnectFailed, "reach %s: %w", addr, err)
	}
	_ = conn.Close()
	onStep(step)

	started = time.Now()
	err = e.ping(ctx, &probe)
	step = ConnectionStep{Name: "auth", OK: err == nil, Millis: time.Since(started).Milliseconds()}
	if err != nil {
		step.Message = err.Error()
		onStep(step)
		return errKind(KindConnectFailed, "authenticate against %s: %w", addr, err)
	}
	onStep(step)
	return nil
}

func (e *Engine) ping(ctx context.Context, ds *types.Datasource) error {
	switch ds.Kind {
	case types.KindRelational:
		return mysql.NewCatalog(ds).Ping(ctx)
	case types.KindSearch:
		return elastic.NewCatalog(ds).Ping(ctx)
	default:
		return errKind(KindConfigInvalid, "unknown datasource kind %q", ds.Kind)
	}
}

// ListDatabases browses the schemas of a relational datasource.
func (e *Engine) ListDatabases(ctx context.Context, datasourceID string) ([]string, error) {
	ds, err := e.loadDecrypted(ctx, datasourceID)
	if err != nil {
		return nil, err
	}
	if ds.Kind != types.KindRelational {
		return nil, errKind(KindConfigInvalid, "datasource %s is not relational", datasourceID)
	}
	out, err := mysql.NewCatalog(ds).ListDatabases(ctx)
	if err != nil {
		return nil, errKind(KindConnectFailed, "list databases: %w", err)
	}
	return out, nil
}

// ListTables browses the base tables of one database.
func (e *Engine) ListTables(ctx context.Context, datasourceID, database string) ([]string, error) {
	ds, err := e.loadDecrypted(ctx, datasourceID)
	if err != nil {
		return nil, err
	}
	if ds.Kind != types.KindRelational {
		return nil, errKind(KindConfigInvalid, "datasource %s is not relational", datasourceID)
	}
	out, err := mysql.NewCatalog(ds).ListTables(ctx, database)
	if err != nil {
		return nil, errKind(KindConnectFailed, "list tables: %w", err)
	}
	return out, nil
}

// ListIndices browses the indices of a search datasource matching the glob
// pattern (wildcards * and ?, literal dots).
func (e *Engine) ListIndices(ctx context.Context, datasourceID, pattern string) ([]string, error) {
	ds, err := e.loadDecrypted(ctx, datasourceID)
	if err != nil {
		return nil, err
	}
	if ds.Kind != types.KindSearch {
		return nil, errKind(KindConfigInvalid, "datasource %s is not a search endpoint", datasourceID)
	}
	out, err := elastic.NewCatalog(ds).ListIndices(ctx, pattern)
	if err != nil {
		return nil, errKind(KindConnectFailed, "list indices: %w", err)
	}
	return out, nil
}

// UnitView is one merged row of GetTaskUnits: config identity plus the
// unit's runtime or history state.
type UnitView struct {
	UnitName         string           `json:"unit_name"`
	UnitType         types.UnitType   `json:"unit_type"`
	SearchPattern    string           `json:"search_pattern,omitempty"`
	Status           types.UnitStatus `json:"status"`
	TotalRecords     int64            `json:"total_records"`
	ProcessedRecords int64            `json:"processed_records"`
	ErrorMessage     string           `json:"error_message,omitempty"`
	CompletedAt      int64            `json:"completed_at,omitempty"` // epoch millis
	DurationMS       int64            `json:"duration_ms,omitempty"`
}

// TaskUnits is the merged unit list of one task plus per-status counts.
type TaskUnits struct {
	Units      []UnitView           `json:"units"`
	Statistics types.UnitStatistics `json:"statistics"`
}

// GetTaskUnits merges unit config, runtime and history into one view:
// configured units carry their live runtime state, and units completed in
// earlier runs (no longer configured) appear from history.
func (e *Engine) GetTaskUnits(ctx context.Context, taskID string) (*TaskUnits, error) {
	configs, err := e.store.ListUnitConfigs(ctx, taskID)
	if err != nil {
		return nil, errKind(KindStoreFailed, "load unit configs: %w", err)
	}
	runtimes, err := e.store.ListRuntimes(ctx, taskID)
	if err != nil {
		return nil, errKind(KindStoreFailed, "load runtimes: %w", err)
	}
	history, err := e.store.ListHistory(ctx, taskID)
	if err != nil {
		return nil, errKind(KindStoreFailed, "load history: %w", err)
	}

	byRuntime := make(map[string]*types.UnitRuntime, len(runtimes))
	for _, rt := range runtimes {
		byRuntime[rt.UnitName] = rt
	}
	byHistory := make(map[string]*types.UnitHistory, len(history))
	for _, h := range history {
		if _, ok := byHistory[h.UnitName]; !ok {
			byHistory[h.UnitName] = h // newest first
		}
	}

	out := &TaskUnits{}
	seen := make(map[string]bool)
	for _, c := range configs {
		seen[c.UnitName] = true
		view := UnitView{UnitName: c.UnitName, UnitType: c.UnitType, SearchPattern: c.SearchPattern}
		switch {
		case byRuntime[c.UnitName] != nil:
			rt := byRuntime[c.UnitName]
			view.Status = rt.Status
			view.TotalRecords = rt.TotalRecords
			view.ProcessedRecords = rt.ProcessedRecords
			view.ErrorMessage = rt.ErrorMessage
		case byHistory[c.UnitName] != nil:
			h := byHistory[c.UnitName]
			view.Status = types.UnitCompleted
			view.TotalRecords = h.TotalRecords
			view.ProcessedRecords = h.TotalRecords
			view.CompletedAt = h.CompletedAt
			view.DurationMS = h.DurationMS
		default:
			view.Status = types.UnitPending
		}
		out.Units = append(out.Units, view)
	}
	for _, h := range history {
		if seen[h.UnitName] {
			continue
		}
		seen[h.UnitName] = true
		out.Units = append(out.Units, UnitView{
			UnitName:         h.UnitName,
			SearchPattern:    h.SearchPattern,
			Status:           types.UnitCompleted,
			TotalRecords:     h.TotalRecords,
			ProcessedRecords: h.TotalRecords,
			CompletedAt:      h.CompletedAt,
			DurationMS:       h.DurationMS,
		})
	}

	for _, view := range out.Units {
		out.Statistics.Total++
		switch view.Status {
		case types.UnitPending:
			out.Statistics.Pending++
		case types.UnitRunning:
			out.Statistics.Running++
		case types.UnitCompleted:
			out.Statistics.Completed++
		case types.UnitFailed:
			out.Statistics.Failed++
		}
	}
	return out, nil
}

// ResetFailedUnits transitions the task's failed units back to pending so a
// new run can pick them up. Returns the number reset.
func (e *Engine) ResetFailedUnits(ctx context.Context, taskID string) (int, error) {
	n, err := e.store.ResetFailedUnits(ctx, taskID)
	if err != nil {
		return 0, errKind(KindStoreFailed, "reset failed units: %w", err)
	}
	if n > 0 {
		e.bus.Logf(taskID, types.LogInfo, types.LogSummary, "reset %d failed units to pending", n)
	}
	return n, nil
}

// ListSynced returns the cross-task ledger entries for one source.
func (e *Engine) ListSynced(ctx context.Context, sourceID string) ([]*types.SyncedIndex, error) {
	return e.store.ListSynced(ctx, sourceID)
}

// ClearSynced removes one ledger entry, or every entry of the source when
// unitName is empty.
func (e *Engine) ClearSynced(ctx context.Context, sourceID, unitName string) error {
	if unitName == "" {
		return e.store.ClearAllSynced(ctx, sourceID)
	}
	return e.store.ClearSynced(ctx, sourceID, unitName)
}

// ClearHistoryByKeyword bulk-removes a task's completion records selected
// by keyword, so those units run again on the next start.
func (e *Engine) ClearHistoryByKeyword(ctx context.Context, taskID, keyword string) (int, error) {
	return e.store.ClearHistoryByKeyword(ctx, taskID, keyword)
}
