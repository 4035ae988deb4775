// Package engine is the facade over the sync machinery: task lifecycle,
// the command surface consumed by front ends, and the wiring between the
// durable store, scheduler, connectors and progress bus.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/syncwave/syncwave/internal/connector"
	"github.com/syncwave/syncwave/internal/pipeline"
	"github.com/syncwave/syncwave/internal/progress"
	"github.com/syncwave/syncwave/internal/scheduler"
	"github.com/syncwave/syncwave/internal/secrets"
	"github.com/syncwave/syncwave/internal/storage"
	"github.com/syncwave/syncwave/internal/telemetry"
	"github.com/syncwave/syncwave/internal/types"
)

// Options collects the engine's collaborators.
type Options struct {
	Store   storage.Store
	Factory connector.Factory
	Bus     *progress.Bus
	Cipher  *secrets.Cipher
	Metrics *telemetry.Metrics
	Log     zerolog.Logger
}

// Engine owns task lifecycle and fans commands out to the store, scheduler
// and connectors. Parallel tasks are permitted; per-task state lives in runs.
type Engine struct {
	store   storage.Store
	factory connector.Factory
	bus     *progress.Bus
	cipher  *secrets.Cipher
	sched   *scheduler.Scheduler
	log     zerolog.Logger

	mu   sync.Mutex
	runs map[string]*taskRun
}

type taskRun struct {
	flags *pipeline.Flags
	done  chan struct{}
}

// New wires an engine from its collaborators.
func New(opts Options) *Engine {
	return &Engine{
		store:   opts.Store,
		factory: opts.Factory,
		bus:     opts.Bus,
		cipher:  opts.Cipher,
		sched:   scheduler.New(opts.Store, opts.Factory, opts.Bus, opts.Log).WithMetrics(opts.Metrics),
		log:     opts.Log,
		runs:    make(map[string]*taskRun),
	}
}

// StartByID launches a task run. It validates the config, plans the unit
// set and returns once the run is underway; unit execution continues in the
// background. A task that is already running is rejected.
func (e *Engine) StartByID(ctx context.Context, taskID string) error {
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return errKind(KindNotFound, "task %s: %w", taskID, err)
	}
	return e.start(ctx, task)
}

// Pause requests a cooperative stop of a running task. In-flight units
// finish their current batch and go back to pending; the terminal paused
// status is persisted when the run drains.
func (e *Engine) Pause(ctx context.Context, taskID string) error {
	e.mu.Lock()
	run := e.runs[taskID]
	e.mu.Unlock()
	if run == nil {
		return errKind(KindInvalidTransition, "task %s is not running", taskID)
	}
	if run.flags.Paused() {
		return errKind(KindInvalidTransition, "task %s is already pausing", taskID)
	}
	run.flags.Pause()
	e.bus.Logf(taskID, types.LogInfo, types.LogRealtime, "pause requested, stopping at batch boundaries")
	return nil
}

// Resume restarts a paused task. Planning re-runs, so units completed in
// the earlier run are filtered out and partial units re-page from their
// durable progress.
func (e *Engine) Resume(ctx context.Context, taskID string) error {
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return errKind(KindNotFound, "task %s: %w", taskID, err)
	}
	if task.Status != types.TaskPaused {
		return errKind(KindInvalidTransition, "task %s is %s, not paused", taskID, task.Status)
	}
	return e.start(ctx, task)
}

// Wait blocks until the task's current run drains. Returns immediately for
// a task that is not running.
func (e *Engine) Wait(taskID string) {
	e.mu.Lock()
	run := e.runs[taskID]
	e.mu.Unlock()
	if run != nil {
		<-run.done
	}
}

func (e *Engine) start(ctx context.Context, task *types.SyncTask) error {
	cfg, err := types.ParseTaskConfig(task.ConfigJSON)
	if err != nil {
		return errKind(KindConfigInvalid, "task %s: %w", task.ID, err)
	}
	source, err := e.loadDecrypted(ctx, task.SourceID)
	if err != nil {
		return err
	}
	target, err := e.loadDecrypted(ctx, task.TargetID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.runs[task.ID] != nil {
		e.mu.Unlock()
		return errKind(KindInvalidTransition, "task %s is already running", task.ID)
	}
	run := &taskRun{flags: &pipeline.Flags{}, done: make(chan struct{})}
	e.runs[task.ID] = run
	e.mu.Unlock()

	fail := func(err error) error {
		e.mu.Lock()
		delete(e.runs, task.ID)
		e.mu.Unlock()
		close(run.done)
		return err
	}

	// Durable status first, then the in-memory view.
	if err := e.store.UpdateTaskStatus(ctx, task.ID, types.TaskRunning); err != nil {
		return fail(errKind(KindStoreFailed, "mark task %s running: %w", task.ID, err))
	}
	e.bus.StartTask(task.ID, types.TaskRunning)

	if _, err := e.sched.Plan(ctx, task, cfg, source.ID); err != nil {
		if statusErr := e.store.UpdateTaskStatus(ctx, task.ID, types.TaskFailed); statusErr != nil {
			e.log.Error().Err(statusErr).Str("task_id", task.ID).Msg("persist failed status")
		}
		e.bus.SetTaskStatus(task.ID, types.TaskFailed)
		return fail(errKind(KindStoreFailed, "plan task %s: %w", task.ID, err))
	}

	go e.runTask(task, cfg, source, target, run)
	return nil
}

// loadDecrypted loads a datasource and decrypts its password for use by
// connectors. The decrypted copy never goes back to the store.
func (e *Engine) loadDecrypted(ctx context.Context, id string) (*types.Datasource, error) {
	ds, err := e.store.GetDatasource(ctx, id)
	if err != nil {
		return nil, errKind(KindConfigInvalid, "datasource %s: %w", id, err)
	}
	if ds.Password != "" {
		plain, err := e.cipher.Decrypt(ds.Password)
		if err != nil {
			return nil, errKind(KindConfigInvalid, "datasource %s credentials: %w", id, err)
		}
		ds.Password = plain
	}
	return ds, nil
}

// runTask drives the scheduler to completion in the background and records
// the terminal status durably before publishing it.
func (e *Engine) runTask(task *types.SyncTask, cfg *types.TaskConfig, source, target *types.Datasource, run *taskRun) {
	ctx := context.Background()

	out, err := e.sched.Run(ctx, task, cfg, source, target, run.flags)
	status := out.TaskStatus()
	if err != nil {
		status = types.TaskFailed
		e.log.Error().Err(err).Str("task_id", task.ID).Msg("scheduler run failed")
		e.bus.Logf(task.ID, types.LogError, types.LogErrorCat, "run failed: %v", err)
	}

	if err := e.store.UpdateTaskStatus(ctx, task.ID, status); err != nil {
		// Ghost avoidance: a status we cannot persist is reported as failed.
		e.log.Error().Err(err).Str("task_id", task.ID).Msg("persist terminal status")
		status = types.TaskFailed
	}
	e.bus.SetTaskStatus(task.ID, status)
	e.bus.Logf(task.ID, types.LogInfo, types.LogSummary,
		"run finished: %d completed, %d failed, %d paused, status %s",
		out.Succeeded, out.Failed, out.Paused, status)

	e.mu.Lock()
	delete(e.runs, task.ID)
	e.mu.Unlock()
	close(run.done)
}

// GetProgress returns the latest in-memory snapshot, or nil when the task
// has not run since the engine started.
func (e *Engine) GetProgress(taskID string) *types.TaskProgress {
	return e.bus.Snapshot(taskID)
}

// GetLogs returns the task's retained log entries, oldest first.
func (e *Engine) GetLogs(taskID string) []types.LogEntry {
	return e.bus.Logs(taskID)
}

// Subscribe registers an observer for progress and log events.
func (e *Engine) Subscribe(o progress.Observer) {
	e.bus.Subscribe(o)
}

// Close waits for no one; callers should Pause tasks first. It only closes
// the store.
func (e *Engine) Close() error {
	if err := e.store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}
