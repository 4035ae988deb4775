package progress

import (
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncwave/syncwave/internal/types"
)

type recordingObserver struct {
	mu        sync.Mutex
	snapshots []*types.TaskProgress
	logs      []types.LogEntry
}

func (o *recordingObserver) OnProgress(p *types.TaskProgress) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.snapshots = append(o.snapshots, p)
}

func (o *recordingObserver) OnLog(taskID string, entry types.LogEntry) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.logs = append(o.logs, entry)
}

func (o *recordingObserver) latest() *types.TaskProgress {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.snapshots) == 0 {
		return nil
	}
	return o.snapshots[len(o.snapshots)-1]
}

func newTestBus() *Bus {
	return NewBus(zerolog.Nop())
}

func TestSnapshotAggregation(t *testing.T) {
	b := newTestBus()
	b.StartTask("t1", types.TaskRunning)
	b.InitUnit("t1", "a", types.UnitPending, 0, 100)
	b.InitUnit("t1", "b", types.UnitPending, 0, 300)

	b.SetUnitStatus("t1", "a", types.UnitRunning, "")
	b.UpdateUnit("t1", "a", 50, 100)

	p := b.Snapshot("t1")
	require.NotNil(t, p)
	assert.Equal(t, 2, p.TotalUnits)
	assert.Equal(t, int64(400), p.TotalRecords)
	assert.Equal(t, int64(50), p.ProcessedRecords)
	assert.InDelta(t, 12.5, p.Percentage, 0.001)
	assert.Equal(t, "a", p.CurrentUnit)
	require.Len(t, p.Units, 2)
	assert.Equal(t, "a", p.Units[0].UnitName)

	b.SetUnitStatus("t1", "a", types.UnitCompleted, "")
	b.SetUnitStatus("t1", "b", types.UnitFailed, "boom")
	p = b.Snapshot("t1")
	assert.Equal(t, 1, p.CompletedUnits)
	assert.Equal(t, 1, p.FailedUnits)
	assert.Empty(t, p.CurrentUnit)
}

func TestObserversReceiveLatest(t *testing.T) {
	b := newTestBus()
	o := &recordingObserver{}
	b.Subscribe(o)

	b.StartTask("t1", types.TaskRunning)
	b.InitUnit("t1", "a", types.UnitRunning, 0, 10)
	b.UpdateUnit("t1", "a", 10, 10)

	latest := o.latest()
	require.NotNil(t, latest)
	assert.Equal(t, int64(10), latest.ProcessedRecords)
}

func TestObserverPanicDoesNotFailProducer(t *testing.T) {
	b := newTestBus()
	b.Subscribe(panickyObserver{})
	o := &recordingObserver{}
	b.Subscribe(o)

	b.StartTask("t1", types.TaskRunning)
	b.Logf("t1", types.LogInfo, types.LogRealtime, "still alive")

	require.Len(t, o.logs, 1)
	assert.Equal(t, "still alive", o.logs[0].Message)
}

type panickyObserver struct{}

func (panickyObserver) OnProgress(*types.TaskProgress)    { panic("observer bug") }
func (panickyObserver) OnLog(string, types.LogEntry)      { panic("observer bug") }

func TestLogRingDropsOldest(t *testing.T) {
	b := newTestBus()
	b.StartTask("t1", types.TaskRunning)

	for i := 0; i < ringCapacity+25; i++ {
		b.Logf("t1", types.LogInfo, types.LogRealtime, "entry %d", i)
	}

	logs := b.Logs("t1")
	require.Len(t, logs, ringCapacity)
	assert.Equal(t, fmt.Sprintf("entry %d", 25), logs[0].Message)
	assert.Equal(t, fmt.Sprintf("entry %d", ringCapacity+24), logs[len(logs)-1].Message)
}

func TestUnknownTask(t *testing.T) {
	b := newTestBus()
	assert.Nil(t, b.Snapshot("nope"))
	assert.Empty(t, b.Logs("nope"))
	// Logging against an unknown task is dropped, not a panic.
	b.Logf("nope", types.LogInfo, types.LogRealtime, "ignored")
}
