package elastic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncwave/syncwave/internal/connector"
	"github.com/syncwave/syncwave/internal/types"
)

func TestInferField(t *testing.T) {
	assert.Equal(t, types.KindNull, inferField(nil).Kind)
	assert.Equal(t, types.BoolValue(true), inferField(true))
	assert.Equal(t, types.IntValue(42), inferField(float64(42)))
	assert.Equal(t, types.FloatValue(3.5), inferField(3.5))
	assert.Equal(t, types.TextValue("2024-05-01"), inferField("2024-05-01"))

	nested := inferField(map[string]any{"a": 1})
	assert.Equal(t, types.KindJSON, nested.Kind)
}

func TestDocumentID(t *testing.T) {
	rec := types.NewRecord()
	rec.SetMeta("_id", "doc-7")
	assert.Equal(t, "doc-7", documentID(rec, "_id"))

	rec = types.NewRecord()
	rec.Fields["id"] = types.IntValue(42)
	assert.Equal(t, "42", documentID(rec, "id"))

	rec = types.NewRecord()
	rec.Fields["id"] = types.TextValue("abc")
	assert.Equal(t, "abc", documentID(rec, "id"))

	rec = types.NewRecord()
	rec.Fields["id"] = types.BoolValue(true)
	assert.Equal(t, "true", documentID(rec, "id"))

	// Null/absent key generates a fresh UUID each time.
	rec = types.NewRecord()
	rec.Fields["id"] = types.Null()
	a := documentID(rec, "id")
	b := documentID(rec, "id")
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}

func TestEncodeRecordDropsBinary(t *testing.T) {
	var warned []string
	w, err := NewWriter(&types.Datasource{}, "idx", connector.WriterOptions{
		Log: func(level types.LogLevel, format string, args ...any) {
			warned = append(warned, format)
		},
	})
	require.NoError(t, err)

	rec := types.NewRecord()
	rec.Fields["id"] = types.IntValue(1)
	rec.Fields["ts"] = types.DatetimeValue(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	rec.Fields["meta"] = types.JSONValue(map[string]any{"k": "v"})
	rec.Fields["bin"] = types.BinaryValue([]byte{1, 2, 3})

	action, doc, err := w.encodeRecord(rec, "id")
	require.NoError(t, err)

	var act map[string]map[string]any
	require.NoError(t, json.Unmarshal(action, &act))
	assert.Equal(t, "idx", act["index"]["_index"])
	assert.Equal(t, "1", act["index"]["_id"])

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(doc, &decoded))
	assert.Equal(t, float64(1), decoded["id"])
	assert.Equal(t, "2024-05-01T10:00:00Z", decoded["ts"])
	assert.Equal(t, map[string]any{"k": "v"}, decoded["meta"])
	assert.Nil(t, decoded["bin"])
	require.Len(t, warned, 1)

	// Second record with the same binary field warns only once.
	_, _, err = w.encodeRecord(rec, "id")
	require.NoError(t, err)
	assert.Len(t, warned, 1)
}

func TestSchemaFromMapping(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		gotPath = req.URL.Path
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"logs":{"mappings":{"properties":{
			"at":{"type":"date"},
			"attrs":{"properties":{"k":{"type":"keyword"}}},
			"count":{"type":"long"},
			"level":{"type":"keyword"},
			"message":{"type":"text"},
			"payload":{"type":"binary"},
			"ratio":{"type":"double"}
		}}}}`))
	}))
	defer srv.Close()

	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)

	r := &Reader{index: "logs", client: client, hasNext: true}
	schema, err := r.Schema(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/logs/_mapping", gotPath)
	assert.Equal(t, "_id", schema.PrimaryKey)

	// The document id leads and becomes the relational primary key.
	require.NotEmpty(t, schema.Fields)
	assert.Equal(t, "_id", schema.Fields[0].Name)
	assert.Equal(t, connector.KeywordColumnType, schema.Fields[0].Native)
	assert.False(t, schema.Fields[0].Nullable)

	byName := map[string]types.FieldInfo{}
	var order []string
	for _, fi := range schema.Fields[1:] {
		byName[fi.Name] = fi
		order = append(order, fi.Name)
		assert.True(t, fi.Nullable, fi.Name)
	}
	assert.Equal(t, []string{"at", "attrs", "count", "level", "message", "payload", "ratio"}, order)
	assert.Equal(t, types.FieldDatetime, byName["at"].Type)
	assert.Equal(t, types.FieldJSON, byName["attrs"].Type)
	assert.Equal(t, types.FieldInt, byName["count"].Type)
	assert.Equal(t, types.FieldText, byName["level"].Type)
	assert.Equal(t, connector.KeywordColumnType, byName["level"].Native)
	assert.Equal(t, types.FieldText, byName["message"].Type)
	assert.Empty(t, byName["message"].Native)
	assert.Equal(t, types.FieldBinary, byName["payload"].Type)
	assert.Equal(t, types.FieldFloat, byName["ratio"].Type)

	// Cached after the first call.
	again, err := r.Schema(context.Background())
	require.NoError(t, err)
	assert.Same(t, schema, again)
}

func TestCompileGlob(t *testing.T) {
	match, err := compileGlob("logs-*")
	require.NoError(t, err)
	assert.True(t, match("logs-2024"))
	assert.False(t, match("metrics-2024"))

	match, err = compileGlob("logs-202?")
	require.NoError(t, err)
	assert.True(t, match("logs-2024"))
	assert.False(t, match("logs-20245"))

	// Dots are literal, not regex wildcards.
	match, err = compileGlob("a.b")
	require.NoError(t, err)
	assert.True(t, match("a.b"))
	assert.False(t, match("aXb"))

	match, err = compileGlob("")
	require.NoError(t, err)
	assert.True(t, match("anything"))
}
