package engine

import (
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncwave/syncwave/internal/connector"
	"github.com/syncwave/syncwave/internal/connector/connectortest"
	"github.com/syncwave/syncwave/internal/progress"
	"github.com/syncwave/syncwave/internal/secrets"
	"github.com/syncwave/syncwave/internal/storage"
	"github.com/syncwave/syncwave/internal/storage/sqlite"
	"github.com/syncwave/syncwave/internal/types"
)

type fixture struct {
	engine  *Engine
	store   storage.Store
	factory *connectortest.Factory
	bus     *progress.Bus
	source  *types.Datasource
	target  *types.Datasource
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	store, err := sqlite.New(context.Background(), filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cipher, err := secrets.Load(dir)
	require.NoError(t, err)

	f := &fixture{
		store:   store,
		factory: &connectortest.Factory{},
		bus:     progress.NewBus(zerolog.Nop()),
	}
	f.engine = New(Options{
		Store:   store,
		Factory: f.factory,
		Bus:     f.bus,
		Cipher:  cipher,
		Log:     zerolog.Nop(),
	})

	f.source = &types.Datasource{
		Name: "source", Kind: types.KindRelational,
		Host: "localhost", Port: 3306, Username: "root", Password: "src-secret",
	}
	f.target = &types.Datasource{
		Name: "target", Kind: types.KindRelational,
		Host: "localhost", Port: 3307, Username: "root", Password: "dst-secret",
	}
	require.NoError(t, f.engine.CreateDatasource(context.Background(), f.source))
	require.NoError(t, f.engine.CreateDatasource(context.Background(), f.target))
	return f
}

func (f *fixture) newTask(t *testing.T, cfg *types.TaskConfig) *types.SyncTask {
	t.Helper()
	raw, err := json.Marshal(cfg)
	require.NoError(t, err)
	task := &types.SyncTask{
		Name:     "copy",
		SourceID: f.source.ID,
		TargetID: f.target.ID,
		ConfigJSON: string(raw),
	}
	require.NoError(t, f.engine.CreateTask(context.Background(), task))
	return task
}

func TestCreateDatasourceEncryptsPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stored, err := f.store.GetDatasource(ctx, f.source.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "src-secret", stored.Password)
	assert.Contains(t, stored.Password, ":")

	// Update without a password keeps the stored envelope.
	stored.Name = "renamed"
	envelope := stored.Password
	stored.Password = ""
	require.NoError(t, f.engine.UpdateDatasource(ctx, stored))
	again, err := f.store.GetDatasource(ctx, f.source.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", again.Name)
	assert.Equal(t, envelope, again.Password)
}

func TestCreateDatasourceValidates(t *testing.T) {
	f := newFixture(t)
	err := f.engine.CreateDatasource(context.Background(), &types.Datasource{
		Name: "bad", Kind: "graph", Host: "h", Port: 1,
	})
	require.Error(t, err)
	assert.Equal(t, KindConfigInvalid, KindOf(err))
}

func TestCreateTaskDenormalizesKinds(t *testing.T) {
	f := newFixture(t)
	task := f.newTask(t, &types.TaskConfig{Units: []string{"d1.t1"}})

	stored, err := f.engine.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.KindRelational, stored.SourceKind)
	assert.Equal(t, types.TaskIdle, stored.Status)
}

func TestCreateTaskRejectsMissingDatasource(t *testing.T) {
	f := newFixture(t)
	err := f.engine.CreateTask(context.Background(), &types.SyncTask{
		Name: "orphan", SourceID: "nope", TargetID: f.target.ID,
		ConfigJSON: `{"units":["d1.t1"]}`,
	})
	require.Error(t, err)
	assert.Equal(t, KindConfigInvalid, KindOf(err))
}

func TestStartRejectsInvalidConfig(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.newTask(t, &types.TaskConfig{Units: []string{"d1.t1"}})
	task.ConfigJSON = "{not json"
	require.NoError(t, f.store.SaveTask(ctx, task))

	err := f.engine.StartByID(ctx, task.ID)
	require.Error(t, err)
	assert.Equal(t, KindConfigInvalid, KindOf(err))

	// The task status is untouched by a rejected start.
	stored, err := f.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskIdle, stored.Status)
}

func TestStartRunsToCompletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var sawPassword string
	f.factory.MakeReader = func(ds *types.Datasource, unit string, opts connector.ReaderOptions) (connector.Reader, error) {
		sawPassword = ds.Password
		return &connectortest.Reader{Rows: connectortest.Records(5)}, nil
	}
	task := f.newTask(t, &types.TaskConfig{Units: []string{"d1.t1"}, BatchSize: 2})

	require.NoError(t, f.engine.StartByID(ctx, task.ID))
	f.engine.Wait(task.ID)

	// Connectors see the decrypted password.
	assert.Equal(t, "src-secret", sawPassword)

	stored, err := f.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskCompleted, stored.Status)

	assert.Len(t, f.factory.Writer("d1.t1").Rows(), 5)

	p := f.engine.GetProgress(task.ID)
	require.NotNil(t, p)
	assert.Equal(t, int64(5), p.ProcessedRecords)
	assert.NotEmpty(t, f.engine.GetLogs(task.ID))
}

func TestStartRejectsWhileRunning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	f.factory.MakeReader = func(ds *types.Datasource, unit string, opts connector.ReaderOptions) (connector.Reader, error) {
		r := &connectortest.Reader{Rows: connectortest.Records(5)}
		r.OnBatch = func(batch int) {
			if batch == 1 {
				close(started)
				<-release
			}
		}
		return r, nil
	}
	task := f.newTask(t, &types.TaskConfig{Units: []string{"d1.t1"}, BatchSize: 10})

	require.NoError(t, f.engine.StartByID(ctx, task.ID))
	<-started

	err := f.engine.StartByID(ctx, task.ID)
	require.Error(t, err)
	assert.Equal(t, KindInvalidTransition, KindOf(err))

	close(release)
	f.engine.Wait(task.ID)
}

func TestPauseThenResume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	all := connectortest.Records(1000)
	task := f.newTask(t, &types.TaskConfig{Units: []string{"d1.big"}, BatchSize: 100, ThreadCount: 1})
	f.factory.MakeReader = func(ds *types.Datasource, unit string, opts connector.ReaderOptions) (connector.Reader, error) {
		r := &connectortest.Reader{
			Rows:  all[opts.SkipRecords:],
			Total: int64(len(all)),
		}
		r.OnBatch = func(batch int) {
			if opts.SkipRecords == 0 && batch == 4 {
				require.NoError(t, f.engine.Pause(ctx, task.ID))
			}
		}
		return r, nil
	}

	require.NoError(t, f.engine.StartByID(ctx, task.ID))
	f.engine.Wait(task.ID)

	stored, err := f.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskPaused, stored.Status)

	rt, err := f.store.GetRuntime(ctx, task.ID, "d1.big")
	require.NoError(t, err)
	assert.Equal(t, types.UnitPending, rt.Status)
	assert.GreaterOrEqual(t, rt.ProcessedRecords, int64(300))

	// Pausing a task that is not running is rejected.
	err = f.engine.Pause(ctx, task.ID)
	require.Error(t, err)
	assert.Equal(t, KindInvalidTransition, KindOf(err))

	require.NoError(t, f.engine.Resume(ctx, task.ID))
	f.engine.Wait(task.ID)

	stored, err = f.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskCompleted, stored.Status)

	history, err := f.store.ListHistory(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, int64(1000), history[0].TotalRecords)
}

func TestResumeRejectedWhenNotPaused(t *testing.T) {
	f := newFixture(t)
	task := f.newTask(t, &types.TaskConfig{Units: []string{"d1.t1"}})

	err := f.engine.Resume(context.Background(), task.ID)
	require.Error(t, err)
	assert.Equal(t, KindInvalidTransition, KindOf(err))
}

func TestTestConnectionReportsPortFailure(t *testing.T) {
	f := newFixture(t)

	// Grab a port the OS just released so the dial is refused.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	var steps []ConnectionStep
	err = f.engine.TestConnection(context.Background(), &types.Datasource{
		Kind: types.KindRelational, Host: "127.0.0.1", Port: port, Username: "root",
	}, func(s ConnectionStep) { steps = append(steps, s) })

	require.Error(t, err)
	assert.Equal(t, KindConnectFailed, KindOf(err))
	require.Len(t, steps, 1)
	assert.Equal(t, "port", steps[0].Name)
	assert.False(t, steps[0].OK)
	assert.NotEmpty(t, steps[0].Message)
}

func TestGetTaskUnitsMergesRuntimeAndHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.factory.MakeReader = func(ds *types.Datasource, unit string, opts connector.ReaderOptions) (connector.Reader, error) {
		r := &connectortest.Reader{Rows: connectortest.Records(3)}
		if unit == "d1.b" {
			r.FailBatch = 1
		}
		return r, nil
	}
	task := f.newTask(t, &types.TaskConfig{Units: []string{"d1.a", "d1.b"}, ThreadCount: 1})

	require.NoError(t, f.engine.StartByID(ctx, task.ID))
	f.engine.Wait(task.ID)

	units, err := f.engine.GetTaskUnits(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, units.Statistics.Total)
	assert.Equal(t, 1, units.Statistics.Completed)
	assert.Equal(t, 1, units.Statistics.Failed)

	byName := map[string]UnitView{}
	for _, u := range units.Units {
		byName[u.UnitName] = u
	}
	assert.Equal(t, types.UnitCompleted, byName["d1.a"].Status)
	assert.NotZero(t, byName["d1.a"].CompletedAt)
	assert.Equal(t, types.UnitFailed, byName["d1.b"].Status)
	assert.NotEmpty(t, byName["d1.b"].ErrorMessage)

	n, err := f.engine.ResetFailedUnits(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLedgerOps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.MarkSynced(ctx, f.source.ID, "d1.a", "t1"))
	require.NoError(t, f.store.MarkSynced(ctx, f.source.ID, "d1.b", "t1"))

	synced, err := f.engine.ListSynced(ctx, f.source.ID)
	require.NoError(t, err)
	assert.Len(t, synced, 2)

	require.NoError(t, f.engine.ClearSynced(ctx, f.source.ID, "d1.a"))
	synced, err = f.engine.ListSynced(ctx, f.source.ID)
	require.NoError(t, err)
	assert.Len(t, synced, 1)

	require.NoError(t, f.engine.ClearSynced(ctx, f.source.ID, ""))
	synced, err = f.engine.ListSynced(ctx, f.source.ID)
	require.NoError(t, err)
	assert.Empty(t, synced)
}

func TestDeleteDatasourceReferencedByTask(t *testing.T) {
	f := newFixture(t)
	f.newTask(t, &types.TaskConfig{Units: []string{"d1.t1"}})

	err := f.engine.DeleteDatasource(context.Background(), f.source.ID)
	assert.ErrorIs(t, err, storage.ErrReferenced)
}
