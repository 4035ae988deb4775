package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/elastic/go-elasticsearch/v8"

	"github.com/syncwave/syncwave/internal/connector"
	"github.com/syncwave/syncwave/internal/types"
)

// maxBulkBytes is the secondary bytes cap on one bulk request, below the
// endpoint's HTTP body limit.
const maxBulkBytes = 8 << 20

// bulkRetries bounds the retriable-bulk-failure retry loop.
const bulkRetries = 3

// ErrBulkRejected classifies a bulk response with errors:true; such
// failures are retried with backoff before failing the unit.
var ErrBulkRejected = errors.New("bulk request rejected")

// Writer indexes batches into one target index via the bulk API. The
// target is schema-less, so PrepareTarget only honors the drop strategy
// (stale documents would otherwise survive a full re-copy).
type Writer struct {
	ds    *types.Datasource
	index string
	opts  connector.WriterOptions

	client  *elasticsearch.Client
	schema  *types.SchemaInfo
	dropped map[string]bool // binary fields already warned about
}

// NewWriter builds a writer for one index on ds. The password on ds must
// already be decrypted.
func NewWriter(ds *types.Datasource, unitName string, opts connector.WriterOptions) (*Writer, error) {
	if opts.Log == nil {
		opts.Log = connector.NopLog
	}
	return &Writer{ds: ds, index: unitName, opts: opts, dropped: make(map[string]bool)}, nil
}

func (w *Writer) Open(ctx context.Context) error {
	client, err := newClient(w.ds)
	if err != nil {
		return err
	}
	res, err := client.Ping(client.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("connect to %s:%d: %w", w.ds.Host, w.ds.Port, err)
	}
	if err := decodeResponse(res, nil); err != nil {
		return err
	}
	w.client = client
	return nil
}

func (w *Writer) PrepareTarget(ctx context.Context, schema *types.SchemaInfo) error {
	w.schema = schema
	if w.opts.TargetExists != types.TargetDrop || w.opts.Resume {
		return nil
	}
	res, err := w.client.Indices.Delete(
		[]string{w.index},
		w.client.Indices.Delete.WithContext(ctx),
		w.client.Indices.Delete.WithIgnoreUnavailable(true),
	)
	if err != nil {
		return fmt.Errorf("drop index %s: %w", w.index, err)
	}
	return decodeResponse(res, nil)
}

// WriteBatch issues one or more bulk requests: alternating action and
// document lines, newline separated, trailing newline, flushed whenever the
// body approaches the bytes cap.
func (w *Writer) WriteBatch(ctx context.Context, records []*types.Record) error {
	if len(records) == 0 {
		return nil
	}
	primaryKey := ""
	if w.schema != nil {
		primaryKey = w.schema.PrimaryKey
	}

	var buf bytes.Buffer
	for _, rec := range records {
		action, doc, err := w.encodeRecord(rec, primaryKey)
		if err != nil {
			return err
		}
		if buf.Len() > 0 && buf.Len()+len(action)+len(doc)+2 > maxBulkBytes {
			if err := w.flush(ctx, &buf); err != nil {
				return err
			}
		}
		buf.Write(action)
		buf.WriteByte('\n')
		buf.Write(doc)
		buf.WriteByte('\n')
	}
	return w.flush(ctx, &buf)
}

func (w *Writer) encodeRecord(rec *types.Record, primaryKey string) (action, doc []byte, err error) {
	id := documentID(rec, primaryKey)
	action, err = json.Marshal(map[string]any{
		"index": map[string]any{"_index": w.index, "_id": id},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("encode bulk action: %w", err)
	}

	fields := make(map[string]any, len(rec.Fields))
	for name, v := range rec.Fields {
		if v.Kind == types.KindBinary {
			// The search target cannot represent bytes; write null and
			// warn once per field per unit.
			if !w.dropped[name] {
				w.dropped[name] = true
				w.opts.Log(types.LogWarn, "dropped_binary_field: %s has no search representation in index %s", name, w.index)
			}
			fields[name] = nil
			continue
		}
		fields[name] = fieldToJSON(v)
	}
	doc, err = json.Marshal(fields)
	if err != nil {
		return nil, nil, fmt.Errorf("encode document %s: %w", id, err)
	}
	return action, doc, nil
}

func fieldToJSON(v types.FieldValue) any {
	switch v.Kind {
	case types.KindBool:
		return v.Bool
	case types.KindInt:
		return v.Int
	case types.KindFloat:
		return v.Float
	case types.KindText:
		return v.Text
	case types.KindDatetime:
		return v.Time.UTC().Format(time.RFC3339)
	case types.KindJSON:
		return v.JSON
	default:
		return nil
	}
}

// flush posts the buffered bulk body, retrying retriable rejections.
func (w *Writer) flush(ctx context.Context, buf *bytes.Buffer) error {
	if buf.Len() == 0 {
		return nil
	}
	body := make([]byte, buf.Len())
	copy(body, buf.Bytes())
	buf.Reset()

	attempt := func() error {
		res, err := w.client.Bulk(
			bytes.NewReader(body),
			w.client.Bulk.WithContext(ctx),
		)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("bulk request to %s: %w", w.index, err))
		}
		var decoded struct {
			Errors bool `json:"errors"`
			Items  []map[string]struct {
				Error *struct {
					Type   string `json:"type"`
					Reason string `json:"reason"`
				} `json:"error"`
			} `json:"items"`
		}
		if err := decodeResponse(res, &decoded); err != nil {
			return backoff.Permanent(err)
		}
		if decoded.Errors {
			reason := "unknown"
			for _, item := range decoded.Items {
				for _, op := range item {
					if op.Error != nil {
						reason = fmt.Sprintf("%s: %s", op.Error.Type, op.Error.Reason)
						break
					}
				}
			}
			return fmt.Errorf("%w: %s", ErrBulkRejected, reason)
		}
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(200*time.Millisecond)), bulkRetries), ctx)
	return backoff.Retry(attempt, bo)
}

// Commit is a no-op: each bulk request is durable once acknowledged.
func (w *Writer) Commit(ctx context.Context) error { return nil }

func (w *Writer) Close(ctx context.Context) error { return nil }
