package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncwave/syncwave/internal/connector/connectortest"
	"github.com/syncwave/syncwave/internal/types"
)

func TestRunCopiesEverything(t *testing.T) {
	reader := &connectortest.Reader{Rows: connectortest.Records(25)}
	writer := &connectortest.Writer{}
	var totals []int64
	var batchCalls int

	p := &Pipeline{
		Reader:    reader,
		Writer:    writer,
		BatchSize: 10,
		OnTotal: func(ctx context.Context, total int64) error {
			totals = append(totals, total)
			return nil
		},
		OnBatch: func(ctx context.Context, processed, total, batch int64) error {
			batchCalls++
			return nil
		},
	}

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(25), res.Total)
	assert.Equal(t, int64(25), res.Processed)
	assert.Equal(t, int64(3), res.Batches)
	assert.Equal(t, []int64{25}, totals)
	assert.Equal(t, 3, batchCalls)

	// One commit per batch, and the writer saw the schema before data.
	assert.Len(t, writer.Batches(), 3)
	require.NotNil(t, writer.Prepared())
	assert.Equal(t, "id", writer.Prepared().PrimaryKey)
	assert.Len(t, writer.Rows(), 25)
	assert.True(t, reader.Closed())
}

func TestRunExactMultipleOfBatchSize(t *testing.T) {
	reader := &connectortest.Reader{Rows: connectortest.Records(20)}
	writer := &connectortest.Writer{}
	p := &Pipeline{Reader: reader, Writer: writer, BatchSize: 10}

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(20), res.Processed)
	// The trailing empty read terminates the loop without a fourth batch.
	assert.Equal(t, int64(2), res.Batches)
}

func TestTransformersRunInDeclaredOrder(t *testing.T) {
	reader := &connectortest.Reader{Rows: connectortest.Records(3)}
	writer := &connectortest.Writer{}

	appendTag := func(tag string) Transformer {
		return func(rec *types.Record) (*types.Record, error) {
			v := rec.Fields["v"]
			rec.Fields["v"] = types.TextValue(v.Text + tag)
			return rec, nil
		}
	}
	p := &Pipeline{
		Reader:       reader,
		Writer:       writer,
		BatchSize:    10,
		Transformers: []Transformer{appendTag("-first"), appendTag("-second")},
	}

	_, err := p.Run(context.Background())
	require.NoError(t, err)
	rows := writer.Rows()
	require.Len(t, rows, 3)
	for _, rec := range rows {
		assert.True(t, strings.HasSuffix(rec.Fields["v"].Text, "-first-second"))
	}
}

func TestTransformerErrorAbortsRun(t *testing.T) {
	reader := &connectortest.Reader{Rows: connectortest.Records(5)}
	writer := &connectortest.Writer{}
	boom := errors.New("bad record")
	p := &Pipeline{
		Reader:    reader,
		Writer:    writer,
		BatchSize: 10,
		Transformers: []Transformer{func(rec *types.Record) (*types.Record, error) {
			return nil, boom
		}},
	}

	_, err := p.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, writer.Batches())
}

func TestPauseStopsAtBatchBoundary(t *testing.T) {
	flags := &Flags{}
	reader := &connectortest.Reader{
		Rows: connectortest.Records(30),
		OnBatch: func(batch int) {
			if batch == 3 {
				flags.Pause()
			}
		},
	}
	writer := &connectortest.Writer{}
	p := &Pipeline{Reader: reader, Writer: writer, BatchSize: 10, Flags: flags}

	res, err := p.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPaused)
	// The pause lands before the third read, after two committed batches.
	assert.Equal(t, int64(20), res.Processed)
	assert.Len(t, writer.Batches(), 2)
}

func TestCancelWinsOverPause(t *testing.T) {
	flags := &Flags{}
	flags.Pause()
	flags.Cancel()
	reader := &connectortest.Reader{Rows: connectortest.Records(5)}
	writer := &connectortest.Writer{}
	p := &Pipeline{Reader: reader, Writer: writer, BatchSize: 10, Flags: flags}

	res, err := p.Run(context.Background())
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Zero(t, res.Processed)
}

func TestContextCancellationMapsToErrCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &Pipeline{
		Reader:    &connectortest.Reader{Rows: connectortest.Records(5)},
		Writer:    &connectortest.Writer{},
		BatchSize: 10,
	}

	_, err := p.Run(ctx)
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestWriteFailureReturnsPartialResult(t *testing.T) {
	reader := &connectortest.Reader{Rows: connectortest.Records(30)}
	writer := &connectortest.Writer{FailBatch: 2}
	p := &Pipeline{Reader: reader, Writer: writer, BatchSize: 10}

	res, err := p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write batch 2")
	assert.Equal(t, int64(10), res.Processed)
	assert.Equal(t, int64(1), res.Batches)
}

func TestOnBatchErrorAborts(t *testing.T) {
	reader := &connectortest.Reader{Rows: connectortest.Records(30)}
	writer := &connectortest.Writer{}
	sink := errors.New("progress store unavailable")
	p := &Pipeline{
		Reader:    reader,
		Writer:    writer,
		BatchSize: 10,
		OnBatch: func(ctx context.Context, processed, total, batch int64) error {
			return sink
		},
	}

	res, err := p.Run(context.Background())
	assert.ErrorIs(t, err, sink)
	// The first batch was already committed when the callback failed.
	assert.Equal(t, int64(10), res.Processed)
}
