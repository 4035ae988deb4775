// Package progress aggregates per-unit counters into per-task snapshots
// and fans them out, together with a bounded log ring, to observers.
package progress

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/syncwave/syncwave/internal/types"
)

// ringCapacity bounds the per-task in-memory log ring; the oldest entries
// are dropped past it.
const ringCapacity = 1000

// Observer receives pushed events. Events are best-effort: consumers must
// poll Snapshot/Logs for authoritative state.
type Observer interface {
	OnProgress(p *types.TaskProgress)
	OnLog(taskID string, entry types.LogEntry)
}

type taskState struct {
	taskID      string
	status      types.TaskStatus
	startTime   time.Time
	order       []string
	units       map[string]*types.UnitProgress
	currentUnit string
	logs        []types.LogEntry // ring buffer
	logStart    int
	logCount    int
}

// Bus is the in-process progress and log fanout. Unit updates are point
// mutations under a reader-writer lock with no I/O inside; snapshots are
// recomputed from the in-memory view on every change.
type Bus struct {
	mu        sync.RWMutex
	tasks     map[string]*taskState
	observers []Observer
	log       zerolog.Logger
}

// NewBus creates an empty bus. The logger receives observer dispatch
// failures; it is not the task log ring.
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{tasks: make(map[string]*taskState), log: log}
}

// Subscribe registers an observer for all tasks.
func (b *Bus) Subscribe(o Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = append(b.observers, o)
}

// StartTask resets the in-memory view for a run.
func (b *Bus) StartTask(taskID string, status types.TaskStatus) {
	b.mu.Lock()
	b.tasks[taskID] = &taskState{
		taskID:    taskID,
		status:    status,
		startTime: time.Now(),
		units:     make(map[string]*types.UnitProgress),
		logs:      make([]types.LogEntry, ringCapacity),
	}
	b.mu.Unlock()
	b.publish(taskID)
}

// SetTaskStatus records a task lifecycle change and publishes.
func (b *Bus) SetTaskStatus(taskID string, status types.TaskStatus) {
	b.mu.Lock()
	if t := b.tasks[taskID]; t != nil {
		t.status = status
	}
	b.mu.Unlock()
	b.publish(taskID)
}

// InitUnit seeds the per-unit view. Call once per unit before running.
func (b *Bus) InitUnit(taskID, unitName string, status types.UnitStatus, processed, total int64) {
	b.mu.Lock()
	if t := b.tasks[taskID]; t != nil {
		if _, ok := t.units[unitName]; !ok {
			t.order = append(t.order, unitName)
		}
		t.units[unitName] = &types.UnitProgress{
			UnitName:         unitName,
			Status:           status,
			ProcessedRecords: processed,
			TotalRecords:     total,
		}
	}
	b.mu.Unlock()
	b.publish(taskID)
}

// UpdateUnit records new counters for a unit.
func (b *Bus) UpdateUnit(taskID, unitName string, processed, total int64) {
	b.mu.Lock()
	if t := b.tasks[taskID]; t != nil {
		if u := t.units[unitName]; u != nil {
			u.ProcessedRecords = processed
			u.TotalRecords = total
		}
	}
	b.mu.Unlock()
	b.publish(taskID)
}

// SetUnitStatus records a unit state transition. A unit entering running
// becomes the task's current unit.
func (b *Bus) SetUnitStatus(taskID, unitName string, status types.UnitStatus, errMessage string) {
	b.mu.Lock()
	if t := b.tasks[taskID]; t != nil {
		if u := t.units[unitName]; u != nil {
			u.Status = status
			u.ErrorMessage = errMessage
		}
		switch {
		case status == types.UnitRunning:
			t.currentUnit = unitName
		case t.currentUnit == unitName:
			t.currentUnit = ""
		}
	}
	b.mu.Unlock()
	b.publish(taskID)
}

// Snapshot computes the aggregated view for one task, or nil for an
// unknown task.
func (b *Bus) Snapshot(taskID string) *types.TaskProgress {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t := b.tasks[taskID]
	if t == nil {
		return nil
	}
	return t.snapshot()
}

func (t *taskState) snapshot() *types.TaskProgress {
	p := &types.TaskProgress{
		TaskID:      t.taskID,
		Status:      t.status,
		StartTime:   t.startTime,
		CurrentUnit: t.currentUnit,
		TotalUnits:  len(t.order),
	}
	for _, name := range t.order {
		u := t.units[name]
		p.Units = append(p.Units, *u)
		p.TotalRecords += u.TotalRecords
		p.ProcessedRecords += u.ProcessedRecords
		switch u.Status {
		case types.UnitCompleted:
			p.CompletedUnits++
		case types.UnitFailed:
			p.FailedUnits++
		}
	}
	if p.TotalRecords > 0 {
		p.Percentage = 100 * float64(p.ProcessedRecords) / float64(p.TotalRecords)
	}
	if elapsed := time.Since(t.startTime).Seconds(); elapsed > 0 {
		p.Speed = float64(p.ProcessedRecords) / elapsed
		if p.Speed > 0 {
			remaining := p.TotalRecords - p.ProcessedRecords
			p.EstimatedRemainingSeconds = int64(float64(remaining) / p.Speed)
		}
	}
	return p
}

// publish pushes the newest snapshot to every observer. Dispatch failures
// are logged, never propagated to the producer.
func (b *Bus) publish(taskID string) {
	snap := b.Snapshot(taskID)
	if snap == nil {
		return
	}
	b.mu.RLock()
	observers := make([]Observer, len(b.observers))
	copy(observers, b.observers)
	b.mu.RUnlock()
	for _, o := range observers {
		b.dispatch(taskID, func() { o.OnProgress(snap) })
	}
}

func (b *Bus) dispatch(taskID string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Warn().Str("task_id", taskID).Interface("panic", r).Msg("observer dispatch failed")
		}
	}()
	fn()
}

// Logf appends a structured entry to the task's log ring and emits it.
func (b *Bus) Logf(taskID string, level types.LogLevel, category types.LogCategory, format string, args ...any) {
	entry := types.LogEntry{
		Timestamp: time.Now(),
		Level:     level,
		Category:  category,
		Message:   fmt.Sprintf(format, args...),
	}

	b.mu.Lock()
	t := b.tasks[taskID]
	if t != nil {
		idx := (t.logStart + t.logCount) % ringCapacity
		t.logs[idx] = entry
		if t.logCount < ringCapacity {
			t.logCount++
		} else {
			t.logStart = (t.logStart + 1) % ringCapacity // oldest dropped
		}
	}
	observers := make([]Observer, len(b.observers))
	copy(observers, b.observers)
	b.mu.Unlock()

	for _, o := range observers {
		b.dispatch(taskID, func() { o.OnLog(taskID, entry) })
	}
}

// Logs returns the task's retained entries, oldest first.
func (b *Bus) Logs(taskID string) []types.LogEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t := b.tasks[taskID]
	if t == nil {
		return nil
	}
	out := make([]types.LogEntry, 0, t.logCount)
	for i := 0; i < t.logCount; i++ {
		out = append(out, t.logs[(t.logStart+i)%ringCapacity])
	}
	return out
}
