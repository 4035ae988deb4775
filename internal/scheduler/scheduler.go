// Package scheduler expands a task configuration into persisted units and
// drives each unit through its pending/running/completed/failed lifecycle
// under a bounded worker pool.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/syncwave/syncwave/internal/connector"
	"github.com/syncwave/syncwave/internal/nametransform"
	"github.com/syncwave/syncwave/internal/pipeline"
	"github.com/syncwave/syncwave/internal/progress"
	"github.com/syncwave/syncwave/internal/storage"
	"github.com/syncwave/syncwave/internal/telemetry"
	"github.com/syncwave/syncwave/internal/types"
)

// Scheduler owns unit expansion, dedup and the per-task worker pool. One
// instance serves all tasks; per-run state lives on the stack of Run.
type Scheduler struct {
	store   storage.Store
	factory connector.Factory
	bus     *progress.Bus
	metrics *telemetry.Metrics
	log     zerolog.Logger
}

// New wires a scheduler over the durable store, connector factory and
// progress bus.
func New(store storage.Store, factory connector.Factory, bus *progress.Bus, log zerolog.Logger) *Scheduler {
	return &Scheduler{store: store, factory: factory, bus: bus, log: log}
}

// WithMetrics attaches engine counters. A nil metrics set records nothing.
func (s *Scheduler) WithMetrics(m *telemetry.Metrics) *Scheduler {
	s.metrics = m
	return s
}

// ExpandUnits flattens the config's unit selection into config rows,
// deduplicating within the task. Keyword groups are traversed in declared
// order, units within a group likewise; a duplicate unit keeps the first
// keyword that selected it. The output is a deterministic function of the
// config's traversal order.
func ExpandUnits(task *types.SyncTask, cfg *types.TaskConfig) []*types.UnitConfig {
	unitType := types.UnitTable
	if task.SourceKind == types.KindSearch {
		unitType = types.UnitIndex
	}

	seen := make(map[string]bool)
	var out []*types.UnitConfig
	add := func(name, pattern string) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		out = append(out, &types.UnitConfig{
			TaskID:        task.ID,
			UnitName:      name,
			UnitType:      unitType,
			SearchPattern: pattern,
		})
	}

	if len(cfg.KeywordGroups) > 0 {
		for _, g := range cfg.KeywordGroups {
			for _, name := range g.Units {
				add(name, g.Keyword)
			}
		}
		return out
	}
	for _, name := range cfg.Units {
		add(name, "")
	}
	return out
}

// Plan expands the config, applies cross-task dedup and the completion
// filter, persists the surviving unit set and reconciles runtime rows.
// It returns the surviving units.
func (s *Scheduler) Plan(ctx context.Context, task *types.SyncTask, cfg *types.TaskConfig, sourceID string) ([]*types.UnitConfig, error) {
	expanded := ExpandUnits(task, cfg)

	var kept []*types.UnitConfig
	for _, u := range expanded {
		if cfg.SkipSynced {
			synced, err := s.store.IsSynced(ctx, sourceID, u.UnitName)
			if err != nil {
				return nil, fmt.Errorf("check ledger for %s: %w", u.UnitName, err)
			}
			if synced {
				s.bus.Logf(task.ID, types.LogInfo, types.LogSummary,
					"skipping %s: already synced from this source", u.UnitName)
				continue
			}
		}
		done, err := s.store.HasHistory(ctx, task.ID, u.UnitName)
		if err != nil {
			return nil, fmt.Errorf("check history for %s: %w", u.UnitName, err)
		}
		if done {
			s.bus.Logf(task.ID, types.LogInfo, types.LogSummary,
				"skipping %s: completed in an earlier run of this task", u.UnitName)
			continue
		}
		kept = append(kept, u)
	}

	if err := s.store.ReplaceUnitConfigs(ctx, task.ID, kept); err != nil {
		return nil, fmt.Errorf("persist unit configs: %w", err)
	}
	if err := s.store.InitRuntimes(ctx, task.ID); err != nil {
		return nil, fmt.Errorf("init runtimes: %w", err)
	}
	return kept, nil
}

// Outcome tallies unit results for one scheduler run.
type Outcome struct {
	Succeeded int
	Failed    int
	Paused    int
	Skipped   int
}

// TaskStatus derives the terminal task status from the tally. Any failure
// wins; an interrupted run without failures is paused; otherwise completed.
func (o Outcome) TaskStatus() types.TaskStatus {
	switch {
	case o.Failed > 0:
		return types.TaskFailed
	case o.Paused > 0:
		return types.TaskPaused
	default:
		return types.TaskCompleted
	}
}

type unitOutcome int

const (
	unitSkipped unitOutcome = iota
	unitCompleted
	unitFailed
	unitPaused
)

// Run executes every pending or failed runtime of the task under a worker
// pool of cfg.ThreadCount. The flags are shared with the engine: pause and
// cancel are honored at batch boundaries, and no new unit starts once
// either is raised.
func (s *Scheduler) Run(ctx context.Context, task *types.SyncTask, cfg *types.TaskConfig, source, target *types.Datasource, flags *pipeline.Flags) (Outcome, error) {
	runtimes, err := s.store.ListRuntimes(ctx, task.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load runtimes: %w", err)
	}
	for _, rt := range runtimes {
		s.bus.InitUnit(task.ID, rt.UnitName, rt.Status, rt.ProcessedRecords, rt.TotalRecords)
	}

	sem := semaphore.NewWeighted(int64(cfg.ThreadCount))
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		out Outcome
	)
	for _, rt := range runtimes {
		if rt.Status != types.UnitPending && rt.Status != types.UnitFailed {
			continue
		}
		if flags.Cancelled() || flags.Paused() {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		// A unit that failed while we waited for a permit may have raised
		// the cancel flag; recheck so no new unit starts after it.
		if flags.Cancelled() || flags.Paused() {
			sem.Release(1)
			break
		}
		wg.Add(1)
		go func(rt *types.UnitRuntime) {
			defer wg.Done()
			defer sem.Release(1)
			res := s.runUnit(ctx, task, cfg, source, target, rt, flags)
			mu.Lock()
			switch res {
			case unitCompleted:
				out.Succeeded++
			case unitFailed:
				out.Failed++
			case unitPaused:
				out.Paused++
			default:
				out.Skipped++
			}
			mu.Unlock()
		}(rt)
	}
	wg.Wait()
	return out, nil
}

// runUnit drives one unit end-to-end. The durable CAS to running is the
// at-most-one-runner guard; a lost race is a skip, not an error.
func (s *Scheduler) runUnit(ctx context.Context, task *types.SyncTask, cfg *types.TaskConfig, source, target *types.Datasource, rt *types.UnitRuntime, flags *pipeline.Flags) unitOutcome {
	taskID, unit := task.ID, rt.UnitName

	ok, err := s.store.TransitionUnit(ctx, taskID, unit,
		[]types.UnitStatus{types.UnitPending, types.UnitFailed}, types.UnitRunning)
	if err != nil {
		s.log.Error().Err(err).Str("task_id", taskID).Str("unit", unit).Msg("transition to running failed")
		return unitSkipped
	}
	if !ok {
		return unitSkipped
	}
	s.bus.SetUnitStatus(taskID, unit, types.UnitRunning, "")
	s.bus.Logf(taskID, types.LogInfo, types.LogRealtime, "unit %s started", unit)

	logFn := func(level types.LogLevel, format string, args ...any) {
		s.bus.Logf(taskID, level, types.LogRealtime, format, args...)
	}

	// Resume baseline. Relational readers re-page past the already copied
	// rows; a scroll cannot, so a resumed search unit restarts from zero
	// and relies on _id idempotence at the target.
	baseline := rt.ProcessedRecords
	resume := baseline > 0
	if resume && source.Kind == types.KindSearch {
		s.bus.Logf(taskID, types.LogWarn, types.LogRealtime,
			"restart_from_zero: unit %s re-runs its scroll from the start, documents are overwritten by _id", unit)
		baseline = 0
	}

	reader, err := s.factory.NewReader(source, unit, connector.ReaderOptions{
		SkipRecords: baseline,
		Log:         logFn,
	})
	if err != nil {
		return s.failUnit(ctx, task, cfg, unit, flags, fmt.Errorf("build reader: %w", err))
	}
	writer, err := s.factory.NewWriter(target, targetUnitName(unit, task.SourceKind, cfg.NameTransform), connector.WriterOptions{
		TargetExists: cfg.TargetExists,
		Resume:       resume && source.Kind == types.KindRelational,
		Log:          logFn,
	})
	if err != nil {
		return s.failUnit(ctx, task, cfg, unit, flags, fmt.Errorf("build writer: %w", err))
	}

	var lastProcessed atomic.Int64
	p := &pipeline.Pipeline{
		Reader:    reader,
		Writer:    writer,
		BatchSize: cfg.BatchSize,
		Flags:     flags,
		OnTotal: func(ctx context.Context, total int64) error {
			if err := s.store.UpdateUnitProgress(ctx, taskID, unit, baseline, total); err != nil {
				return err
			}
			s.bus.UpdateUnit(taskID, unit, baseline, total)
			return nil
		},
		OnBatch: func(ctx context.Context, processed, total, batch int64) error {
			if err := s.store.UpdateUnitProgress(ctx, taskID, unit, baseline+processed, total); err != nil {
				return err
			}
			if err := s.store.UpdateUnitBatchCursor(ctx, taskID, unit, batch); err != nil {
				return err
			}
			s.bus.UpdateUnit(taskID, unit, baseline+processed, total)
			s.metrics.AddBatch(ctx, taskID, processed-lastProcessed.Swap(processed))
			return nil
		},
	}

	started := time.Now()
	res, runErr := p.Run(ctx)

	switch {
	case runErr == nil:
		return s.completeUnit(ctx, task, source, unit, res, time.Since(started))
	case errors.Is(runErr, pipeline.ErrPaused) || errors.Is(runErr, pipeline.ErrCancelled):
		// Not an error at task level. Progress is already durable per
		// batch; the unit goes back to pending for the next run.
		if _, err := s.store.TransitionUnit(ctx, taskID, unit,
			[]types.UnitStatus{types.UnitRunning}, types.UnitPending); err != nil {
			s.log.Error().Err(err).Str("task_id", taskID).Str("unit", unit).Msg("transition to pending failed")
		}
		s.bus.SetUnitStatus(taskID, unit, types.UnitPending, "")
		s.bus.Logf(taskID, types.LogInfo, types.LogRealtime,
			"unit %s stopped at a batch boundary with %d/%d records copied", unit, baseline+res.Processed, res.Total)
		s.metrics.UnitFinished(ctx, taskID, "paused")
		return unitPaused
	default:
		return s.failUnit(ctx, task, cfg, unit, flags, runErr)
	}
}

// completeUnit runs the success sequence: durable completed status, move
// runtime to history, then the ledger mark. History happens-before ledger.
func (s *Scheduler) completeUnit(ctx context.Context, task *types.SyncTask, source *types.Datasource, unit string, res pipeline.Result, elapsed time.Duration) unitOutcome {
	taskID := task.ID
	if _, err := s.store.TransitionUnit(ctx, taskID, unit,
		[]types.UnitStatus{types.UnitRunning}, types.UnitCompleted); err != nil {
		s.log.Error().Err(err).Str("task_id", taskID).Str("unit", unit).Msg("transition to completed failed")
		return unitFailed
	}
	if err := s.store.MoveRuntimeToHistory(ctx, taskID, unit, elapsed.Milliseconds()); err != nil {
		s.log.Error().Err(err).Str("task_id", taskID).Str("unit", unit).Msg("move to history failed")
		return unitFailed
	}
	if err := s.store.MarkSynced(ctx, source.ID, unit, taskID); err != nil {
		s.log.Error().Err(err).Str("task_id", taskID).Str("unit", unit).Msg("ledger mark failed")
		return unitFailed
	}
	s.bus.SetUnitStatus(taskID, unit, types.UnitCompleted, "")
	s.bus.Logf(taskID, types.LogInfo, types.LogSummary,
		"unit %s completed: %d records in %d batches (%.1fs)", unit, res.Processed, res.Batches, elapsed.Seconds())
	s.metrics.UnitFinished(ctx, taskID, "completed")
	return unitCompleted
}

// failUnit records the failure durably and applies the error strategy:
// pause raises the shared cancel flag so no further unit starts.
func (s *Scheduler) failUnit(ctx context.Context, task *types.SyncTask, cfg *types.TaskConfig, unit string, flags *pipeline.Flags, cause error) unitOutcome {
	taskID := task.ID
	if err := s.store.SetUnitError(ctx, taskID, unit, cause.Error()); err != nil {
		s.log.Error().Err(err).Str("task_id", taskID).Str("unit", unit).Msg("persist unit error failed")
	}
	if _, err := s.store.TransitionUnit(ctx, taskID, unit,
		[]types.UnitStatus{types.UnitRunning}, types.UnitFailed); err != nil {
		s.log.Error().Err(err).Str("task_id", taskID).Str("unit", unit).Msg("transition to failed failed")
	}
	s.bus.SetUnitStatus(taskID, unit, types.UnitFailed, cause.Error())
	s.bus.Logf(taskID, types.LogError, types.LogErrorCat, "unit %s failed: %v", unit, cause)

	var dup *connector.DuplicateKeyError
	if errors.As(cause, &dup) && dup.Key != "" {
		s.bus.Logf(taskID, types.LogError, types.LogErrorCat,
			"duplicate_target_row: unit %s conflicts on key %q", unit, dup.Key)
	}

	if cfg.ErrorStrategy == types.ErrorPause {
		flags.Cancel()
		s.bus.Logf(taskID, types.LogWarn, types.LogSummary,
			"error strategy is pause: no further units will start")
	}
	s.metrics.UnitFinished(ctx, taskID, "failed")
	return unitFailed
}

// targetUnitName applies the configured name transform. Relational units
// carry a database qualifier and only the database part is rewritten;
// index names are rewritten whole.
func targetUnitName(unitName string, sourceKind types.DatasourceKind, tf *types.NameTransform) string {
	if tf == nil {
		return unitName
	}
	if sourceKind == types.KindRelational {
		if i := strings.IndexByte(unitName, '.'); i > 0 {
			return nametransform.Apply(unitName[:i], tf) + unitName[i:]
		}
	}
	return nametransform.Apply(unitName, tf)
}
