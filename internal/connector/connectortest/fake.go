// Package connectortest provides in-memory reader/writer fakes for
// pipeline, scheduler and engine tests.
package connectortest

import (
	"context"
	"fmt"
	"sync"

	"github.com/syncwave/syncwave/internal/connector"
	"github.com/syncwave/syncwave/internal/types"
)

// Records builds n sequential records with an int "id" and a text "v".
func Records(n int) []*types.Record {
	out := make([]*types.Record, n)
	for i := range out {
		rec := types.NewRecord()
		rec.Fields["id"] = types.IntValue(int64(i + 1))
		rec.Fields["v"] = types.TextValue(fmt.Sprintf("row-%d", i+1))
		out[i] = rec
	}
	return out
}

// Schema is the schema matching Records.
func Schema() *types.SchemaInfo {
	return &types.SchemaInfo{
		PrimaryKey: "id",
		Fields: []types.FieldInfo{
			{Name: "id", Type: types.FieldInt, Native: "bigint"},
			{Name: "v", Type: types.FieldText, Native: "varchar(32)", Nullable: true},
		},
	}
}

// Reader is an in-memory connector.Reader over a fixed record slice.
type Reader struct {
	SchemaInfo *types.SchemaInfo
	Rows       []*types.Record
	// Total overrides TotalCount, for resume scenarios where Rows holds
	// only the remainder of a larger source.
	Total int64

	OpenErr   error
	ReadErr   error
	FailBatch int             // 1-based batch index that returns ReadErr; 0 = never
	OnBatch   func(batch int) // called before each read, for pause injection

	pos     int
	batches int
	hasNext bool
	opened  bool
	closed  bool
}

func (r *Reader) Open(ctx context.Context) error {
	if r.OpenErr != nil {
		return r.OpenErr
	}
	r.opened = true
	r.hasNext = true
	return nil
}

func (r *Reader) Schema(ctx context.Context) (*types.SchemaInfo, error) {
	if r.SchemaInfo != nil {
		return r.SchemaInfo, nil
	}
	return Schema(), nil
}

func (r *Reader) TotalCount(ctx context.Context) (int64, error) {
	if r.Total > 0 {
		return r.Total, nil
	}
	return int64(len(r.Rows)), nil
}

func (r *Reader) ReadBatch(ctx context.Context, n int) ([]*types.Record, error) {
	r.batches++
	if r.OnBatch != nil {
		r.OnBatch(r.batches)
	}
	if r.FailBatch > 0 && r.batches >= r.FailBatch {
		err := r.ReadErr
		if err == nil {
			err = fmt.Errorf("injected read failure at batch %d", r.batches)
		}
		return nil, err
	}
	end := r.pos + n
	if end > len(r.Rows) {
		end = len(r.Rows)
	}
	batch := r.Rows[r.pos:end]
	r.pos = end
	r.hasNext = len(batch) == n
	return batch, nil
}

func (r *Reader) HasNext() bool { return r.hasNext }

func (r *Reader) Close(ctx context.Context) error {
	r.closed = true
	return nil
}

// Closed reports whether Close was called.
func (r *Reader) Closed() bool { return r.closed }

// Writer is an in-memory connector.Writer capturing everything written.
type Writer struct {
	mu        sync.Mutex
	batches   [][]*types.Record
	committed int
	prepared  *types.SchemaInfo
	closed    bool

	OpenErr    error
	PrepareErr error
	WriteErr   error
	FailBatch  int // 1-based write-batch index that returns WriteErr; 0 = never
	writes     int
}

func (w *Writer) Open(ctx context.Context) error { return w.OpenErr }

func (w *Writer) PrepareTarget(ctx context.Context, schema *types.SchemaInfo) error {
	if w.PrepareErr != nil {
		return w.PrepareErr
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prepared = schema
	return nil
}

func (w *Writer) WriteBatch(ctx context.Context, records []*types.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes++
	if w.FailBatch > 0 && w.writes >= w.FailBatch {
		err := w.WriteErr
		if err == nil {
			err = fmt.Errorf("injected write failure at batch %d", w.writes)
		}
		return err
	}
	copied := make([]*types.Record, len(records))
	copy(copied, records)
	w.batches = append(w.batches, copied)
	return nil
}

func (w *Writer) Commit(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.committed = len(w.batches)
	return nil
}

func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

// Batches returns the committed batches.
func (w *Writer) Batches() [][]*types.Record {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([][]*types.Record, len(w.batches))
	copy(out, w.batches)
	return out
}

// Rows flattens every written batch.
func (w *Writer) Rows() []*types.Record {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []*types.Record
	for _, b := range w.batches {
		out = append(out, b...)
	}
	return out
}

// Prepared returns the schema passed to PrepareTarget.
func (w *Writer) Prepared() *types.SchemaInfo {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.prepared
}

// Factory builds fakes per unit. MakeReader/MakeWriter may be nil, in
// which case an empty reader and a capturing writer are produced.
type Factory struct {
	mu      sync.Mutex
	writers map[string]*Writer

	MakeReader func(ds *types.Datasource, unitName string, opts connector.ReaderOptions) (connector.Reader, error)
	MakeWriter func(ds *types.Datasource, unitName string, opts connector.WriterOptions) (connector.Writer, error)
}

var _ connector.Factory = (*Factory)(nil)

func (f *Factory) NewReader(ds *types.Datasource, unitName string, opts connector.ReaderOptions) (connector.Reader, error) {
	if f.MakeReader != nil {
		return f.MakeReader(ds, unitName, opts)
	}
	return &Reader{}, nil
}

func (f *Factory) NewWriter(ds *types.Datasource, unitName string, opts connector.WriterOptions) (connector.Writer, error) {
	if f.MakeWriter != nil {
		return f.MakeWriter(ds, unitName, opts)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writers == nil {
		f.writers = make(map[string]*Writer)
	}
	w := &Writer{}
	f.writers[unitName] = w
	return w, nil
}

// Writer returns the default writer created for a unit, or nil.
func (f *Factory) Writer(unitName string) *Writer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writers[unitName]
}
