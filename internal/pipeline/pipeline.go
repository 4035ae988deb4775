// Package pipeline drives a single unit end-to-end: open, prepare,
// stream batches through transformers, commit, close.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/syncwave/syncwave/internal/connector"
	"github.com/syncwave/syncwave/internal/types"
)

// ErrPaused signals a clean stop at a batch boundary due to a user pause.
var ErrPaused = errors.New("unit paused")

// ErrCancelled signals a clean stop due to task-level cancellation.
var ErrCancelled = errors.New("unit cancelled")

// Flags are the per-task atomic cancellation signals, polled at batch
// boundaries by every unit of the task.
type Flags struct {
	cancel atomic.Bool
	pause  atomic.Bool
}

func (f *Flags) Cancel()         { f.cancel.Store(true) }
func (f *Flags) Pause()          { f.pause.Store(true) }
func (f *Flags) Cancelled() bool { return f.cancel.Load() }
func (f *Flags) Paused() bool    { return f.pause.Load() }

// Transformer is a pure per-record function. Transformers run in declared
// order between read and write.
type Transformer func(*types.Record) (*types.Record, error)

// Result carries the counters of a finished (or interrupted) run.
type Result struct {
	Total     int64
	Processed int64
	Batches   int64
}

// Pipeline copies one unit from Reader to Writer. The loop is synchronous:
// writer latency naturally throttles reads, and one commit per batch bounds
// loss on crash to a single batch.
type Pipeline struct {
	Reader       connector.Reader
	Writer       connector.Writer
	BatchSize    int
	Transformers []Transformer
	Flags        *Flags

	// OnTotal is called once after the source count is known.
	OnTotal func(ctx context.Context, total int64) error
	// OnBatch is called after each commit with cumulative counters; an
	// error aborts the run (durable progress could not be recorded).
	OnBatch func(ctx context.Context, processed, total, batch int64) error
}

// Run executes the unit. On ErrPaused/ErrCancelled the returned result
// reflects everything committed so far.
func (p *Pipeline) Run(ctx context.Context) (Result, error) {
	var res Result

	if err := p.Reader.Open(ctx); err != nil {
		return res, fmt.Errorf("open reader: %w", err)
	}
	defer func() { _ = p.Reader.Close(ctx) }()
	if err := p.Writer.Open(ctx); err != nil {
		return res, fmt.Errorf("open writer: %w", err)
	}
	defer func() { _ = p.Writer.Close(ctx) }()

	schema, err := p.Reader.Schema(ctx)
	if err != nil {
		return res, fmt.Errorf("discover schema: %w", err)
	}
	if err := p.Writer.PrepareTarget(ctx, schema); err != nil {
		return res, fmt.Errorf("prepare target: %w", err)
	}

	res.Total, err = p.Reader.TotalCount(ctx)
	if err != nil {
		return res, fmt.Errorf("count source: %w", err)
	}
	if p.OnTotal != nil {
		if err := p.OnTotal(ctx, res.Total); err != nil {
			return res, err
		}
	}

	for {
		if err := p.checkSignals(ctx); err != nil {
			return res, err
		}

		batch, err := p.Reader.ReadBatch(ctx, p.BatchSize)
		if err != nil {
			return res, fmt.Errorf("read batch %d: %w", res.Batches+1, err)
		}
		if len(batch) == 0 {
			break
		}

		for _, tf := range p.Transformers {
			for i, rec := range batch {
				if batch[i], err = tf(rec); err != nil {
					return res, fmt.Errorf("transform batch %d: %w", res.Batches+1, err)
				}
			}
		}

		if err := p.Writer.WriteBatch(ctx, batch); err != nil {
			return res, fmt.Errorf("write batch %d: %w", res.Batches+1, err)
		}
		if err := p.Writer.Commit(ctx); err != nil {
			return res, fmt.Errorf("commit batch %d: %w", res.Batches+1, err)
		}

		res.Processed += int64(len(batch))
		res.Batches++
		if p.OnBatch != nil {
			if err := p.OnBatch(ctx, res.Processed, res.Total, res.Batches); err != nil {
				return res, err
			}
		}

		if !p.Reader.HasNext() {
			break
		}
	}
	return res, nil
}

// checkSignals polls the cooperative stop conditions at a batch boundary.
func (p *Pipeline) checkSignals(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	if p.Flags != nil {
		if p.Flags.Cancelled() {
			return ErrCancelled
		}
		if p.Flags.Paused() {
			return ErrPaused
		}
	}
	return nil
}
