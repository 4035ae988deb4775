// Package elastic implements the search reader and writer over the
// Elasticsearch HTTP API with basic auth.
package elastic

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/google/uuid"

	"github.com/syncwave/syncwave/internal/types"
)

// scrollTTL is the server-side cursor lease, renewed on every batch.
const scrollTTL = time.Minute

// metaID is the record metadata key carrying the source document id.
const metaID = "_id"

func newClient(ds *types.Datasource) (*elasticsearch.Client, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{fmt.Sprintf("http://%s:%d", ds.Host, ds.Port)},
		Username:  ds.Username,
		Password:  ds.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("build search client: %w", err)
	}
	return client, nil
}

// decodeResponse drains and decodes an API response, converting an error
// status into a Go error carrying the endpoint's message.
func decodeResponse(res *esapi.Response, out any) error {
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("search endpoint returned %s: %s", res.Status(), string(body))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode search response: %w", err)
	}
	return nil
}

// inferField maps a decoded JSON value to the neutral form. Integral
// numbers become int; strings stay text (the reader cannot prove a
// datetime type on a schema-less source).
func inferField(v any) types.FieldValue {
	switch val := v.(type) {
	case nil:
		return types.Null()
	case bool:
		return types.BoolValue(val)
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < math.MaxInt64 {
			return types.IntValue(int64(val))
		}
		return types.FloatValue(val)
	case string:
		return types.TextValue(val)
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return types.IntValue(n)
		}
		if f, err := val.Float64(); err == nil {
			return types.FloatValue(f)
		}
		return types.TextValue(val.String())
	default:
		return types.JSONValue(val)
	}
}

// documentID derives the target _id for a record: the source document id
// when present, else the stringified primary-key field, else a fresh UUID.
func documentID(rec *types.Record, primaryKey string) string {
	if id, ok := rec.Meta[metaID]; ok && id != "" {
		return id
	}
	if primaryKey != "" && primaryKey != metaID {
		if v, ok := rec.Fields[primaryKey]; ok {
			if s := stringifyKey(v); s != "" {
				return s
			}
		}
	}
	return uuid.NewString()
}

// stringifyKey renders a primary-key value in canonical form. Null and
// unrepresentable values return "" so the caller generates an id.
func stringifyKey(v types.FieldValue) string {
	switch v.Kind {
	case types.KindText:
		return v.Text
	case types.KindInt:
		return strconv.FormatInt(v.Int, 10)
	case types.KindFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case types.KindBool:
		return strconv.FormatBool(v.Bool)
	case types.KindDatetime:
		return v.Time.UTC().Format(time.RFC3339Nano)
	default:
		return ""
	}
}
