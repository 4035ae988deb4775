package elastic

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"

	"github.com/syncwave/syncwave/internal/connector"
	"github.com/syncwave/syncwave/internal/types"
)

// Reader streams one index through a scroll cursor. The source has no
// declared schema; Schema derives one from the index mapping.
type Reader struct {
	ds    *types.Datasource
	index string
	opts  connector.ReaderOptions

	client   *elasticsearch.Client
	schema   *types.SchemaInfo
	scrollID string
	hasNext  bool
}

// NewReader builds a reader for one index on ds. The password on ds must
// already be decrypted.
func NewReader(ds *types.Datasource, unitName string, opts connector.ReaderOptions) (*Reader, error) {
	if opts.Log == nil {
		opts.Log = connector.NopLog
	}
	return &Reader{ds: ds, index: unitName, opts: opts, hasNext: true}, nil
}

func (r *Reader) Open(ctx context.Context) error {
	client, err := newClient(r.ds)
	if err != nil {
		return err
	}
	res, err := client.Ping(client.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("connect to %s:%d: %w", r.ds.Host, r.ds.Port, err)
	}
	if err := decodeResponse(res, nil); err != nil {
		return err
	}
	r.client = client
	return nil
}

// mappingProperty is one field of an index mapping. Objects carry nested
// properties instead of a type.
type mappingProperty struct {
	Type       string                     `json:"type"`
	Properties map[string]json.RawMessage `json:"properties"`
}

// Schema derives field infos from the index mapping so a relational target
// can be created with conservative column widths. The document id leads as
// the primary key; every mapped field is nullable because documents may
// omit any of them. Multi-field subfields are not descended into.
func (r *Reader) Schema(ctx context.Context) (*types.SchemaInfo, error) {
	if r.schema != nil {
		return r.schema, nil
	}
	res, err := r.client.Indices.GetMapping(
		r.client.Indices.GetMapping.WithContext(ctx),
		r.client.Indices.GetMapping.WithIndex(r.index),
	)
	if err != nil {
		return nil, fmt.Errorf("get mapping for %s: %w", r.index, err)
	}
	var body map[string]struct {
		Mappings struct {
			Properties map[string]mappingProperty `json:"properties"`
		} `json:"mappings"`
	}
	if err := decodeResponse(res, &body); err != nil {
		return nil, err
	}

	schema := &types.SchemaInfo{PrimaryKey: metaID}
	schema.Fields = append(schema.Fields, types.FieldInfo{
		Name:   metaID,
		Type:   types.FieldText,
		Native: connector.KeywordColumnType,
	})
	// The request names one concrete index, so the response has one entry.
	for _, idx := range body {
		names := make([]string, 0, len(idx.Mappings.Properties))
		for name := range idx.Mappings.Properties {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			prop := idx.Mappings.Properties[name]
			mapped := prop.Type
			if mapped == "" && len(prop.Properties) > 0 {
				mapped = "object"
			}
			fi := connector.SearchToNeutral(mapped)
			fi.Name = name
			fi.Nullable = true
			schema.Fields = append(schema.Fields, fi)
		}
		break
	}
	r.schema = schema
	return schema, nil
}

func (r *Reader) TotalCount(ctx context.Context) (int64, error) {
	res, err := r.client.Count(
		r.client.Count.WithContext(ctx),
		r.client.Count.WithIndex(r.index),
	)
	if err != nil {
		return 0, fmt.Errorf("count index %s: %w", r.index, err)
	}
	var body struct {
		Count int64 `json:"count"`
	}
	if err := decodeResponse(res, &body); err != nil {
		return 0, err
	}
	return body.Count, nil
}

type hitsEnvelope struct {
	ScrollID string `json:"_scroll_id"`
	Hits     struct {
		Hits []struct {
			ID     string         `json:"_id"`
			Source map[string]any `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// ReadBatch pulls the next scroll page, renewing the one-minute lease.
func (r *Reader) ReadBatch(ctx context.Context, n int) ([]*types.Record, error) {
	if !r.hasNext {
		return nil, nil
	}

	var body hitsEnvelope
	if r.scrollID == "" {
		res, err := r.client.Search(
			r.client.Search.WithContext(ctx),
			r.client.Search.WithIndex(r.index),
			r.client.Search.WithScroll(scrollTTL),
			r.client.Search.WithSize(n),
			r.client.Search.WithSort("_doc"),
			r.client.Search.WithBody(strings.NewReader(`{"query":{"match_all":{}}}`)),
		)
		if err != nil {
			return nil, fmt.Errorf("open scroll on %s: %w", r.index, err)
		}
		if err := decodeResponse(res, &body); err != nil {
			return nil, err
		}
	} else {
		res, err := r.client.Scroll(
			r.client.Scroll.WithContext(ctx),
			r.client.Scroll.WithScrollID(r.scrollID),
			r.client.Scroll.WithScroll(scrollTTL),
		)
		if err != nil {
			return nil, fmt.Errorf("continue scroll on %s: %w", r.index, err)
		}
		if err := decodeResponse(res, &body); err != nil {
			return nil, err
		}
	}

	if body.ScrollID != "" {
		r.scrollID = body.ScrollID
	}

	out := make([]*types.Record, 0, len(body.Hits.Hits))
	for _, hit := range body.Hits.Hits {
		rec := types.NewRecord()
		rec.SetMeta(metaID, hit.ID)
		for name, raw := range hit.Source {
			rec.Fields[name] = inferField(raw)
		}
		out = append(out, rec)
	}
	r.hasNext = len(out) == n
	return out, nil
}

func (r *Reader) HasNext() bool { return r.hasNext }

// Close clears the server-side scroll cursor.
func (r *Reader) Close(ctx context.Context) error {
	if r.client == nil || r.scrollID == "" {
		return nil
	}
	res, err := r.client.ClearScroll(
		r.client.ClearScroll.WithContext(ctx),
		r.client.ClearScroll.WithScrollID(r.scrollID),
	)
	r.scrollID = ""
	if err != nil {
		return fmt.Errorf("clear scroll: %w", err)
	}
	return decodeResponse(res, nil)
}
