package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncwave/syncwave/internal/connector"
	"github.com/syncwave/syncwave/internal/types"
)

// openLocalDB backs reader/writer statement tests with an embedded SQLite
// file; its "main" schema stands in for the MySQL database qualifier.
func openLocalDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", "file:"+filepath.Join(t.TempDir(), "local.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSplitBatchRespectsParamCeiling(t *testing.T) {
	cases := []struct {
		rows, columns int
	}{
		{rows: 3, columns: 2},
		{rows: 1000, columns: 66},    // 66000 params > ceiling
		{rows: 70000, columns: 1},    // rows alone exceed ceiling
		{rows: 10, columns: 100000},  // single row exceeds ceiling, degenerate
		{rows: 65535, columns: 1},    // exactly at ceiling
		{rows: 2000, columns: 32},    // 64000 params, one chunk
		{rows: 4, columns: 0},        // no columns must not divide by zero
	}
	for _, tc := range cases {
		chunks := splitBatch(tc.rows, tc.columns)
		covered := 0
		minChunks := (tc.rows*tc.columns + maxBoundParams - 1) / maxBoundParams
		for _, ch := range chunks {
			n := ch[1] - ch[0]
			require.Positive(t, n)
			if n > 1 {
				assert.LessOrEqual(t, n*tc.columns, maxBoundParams,
					"rows=%d cols=%d chunk=%v", tc.rows, tc.columns, ch)
			}
			assert.Equal(t, covered, ch[0])
			covered = ch[1]
		}
		assert.Equal(t, tc.rows, covered)
		if tc.columns <= maxBoundParams {
			assert.GreaterOrEqual(t, len(chunks), minChunks)
		}
	}
}

func TestBuildCreateTable(t *testing.T) {
	schema := &types.SchemaInfo{
		PrimaryKey: "id",
		Fields: []types.FieldInfo{
			{Name: "id", Type: types.FieldInt, Native: "bigint"},
			{Name: "name", Type: types.FieldText, Native: "varchar(32)", Nullable: true},
			{Name: "payload", Type: types.FieldJSON, Nullable: true},
		},
	}
	ddl, err := buildCreateTable("d1", "t1", schema)
	require.NoError(t, err)
	assert.Contains(t, ddl, "CREATE TABLE `d1`.`t1`")
	assert.Contains(t, ddl, "`id` bigint NOT NULL")
	assert.Contains(t, ddl, "`name` varchar(32)")
	assert.NotContains(t, ddl, "`name` varchar(32) NOT NULL")
	assert.Contains(t, ddl, "`payload` JSON")
	assert.Contains(t, ddl, "PRIMARY KEY (`id`)")
	assert.Contains(t, ddl, "ENGINE=InnoDB DEFAULT CHARSET=utf8mb4")

	_, err = buildCreateTable("d1", "t1", &types.SchemaInfo{})
	assert.Error(t, err)
}

func TestBuildCreateTableFromSearchSchema(t *testing.T) {
	schema := &types.SchemaInfo{
		PrimaryKey: "_id",
		Fields: []types.FieldInfo{
			{Name: "_id", Type: types.FieldText, Native: connector.KeywordColumnType},
			{Name: "count", Type: types.FieldInt, Nullable: true},
			{Name: "level", Type: types.FieldText, Native: connector.KeywordColumnType, Nullable: true},
			{Name: "message", Type: types.FieldText, Nullable: true},
			{Name: "ratio", Type: types.FieldFloat, Nullable: true},
			{Name: "seen", Type: types.FieldDatetime, Nullable: true},
		},
	}
	ddl, err := buildCreateTable("d1", "logs", schema)
	require.NoError(t, err)
	assert.Contains(t, ddl, "`_id` VARCHAR(255) NOT NULL")
	assert.Contains(t, ddl, "`count` BIGINT")
	assert.Contains(t, ddl, "`level` VARCHAR(255)")
	assert.Contains(t, ddl, "`message` TEXT")
	assert.Contains(t, ddl, "`ratio` DOUBLE")
	assert.Contains(t, ddl, "`seen` DATETIME")
	assert.Contains(t, ddl, "PRIMARY KEY (`_id`)")
}

func TestWriteBatchRejectsEmptySchema(t *testing.T) {
	w := &Writer{unitName: "logs", schema: &types.SchemaInfo{PrimaryKey: "_id"}}
	err := w.WriteBatch(context.Background(), []*types.Record{types.NewRecord()})
	assert.ErrorContains(t, err, "no columns")
}

func TestInsertChunkFillsDocumentIDFromMeta(t *testing.T) {
	db := openLocalDB(t)
	_, err := db.Exec("CREATE TABLE t (`_id` TEXT, `v` INTEGER)")
	require.NoError(t, err)
	tx, err := db.Begin()
	require.NoError(t, err)

	w := &Writer{unitName: "logs", database: "main", table: "t", db: db, tx: tx}
	rec := types.NewRecord()
	rec.SetMeta("_id", "doc-1")
	rec.Fields["v"] = types.IntValue(7)
	require.NoError(t, w.insertChunk(context.Background(), []string{"_id", "v"}, []*types.Record{rec}))
	require.NoError(t, tx.Commit())
	w.tx = nil

	var id string
	var v int64
	require.NoError(t, db.QueryRow("SELECT _id, v FROM t").Scan(&id, &v))
	assert.Equal(t, "doc-1", id)
	assert.Equal(t, int64(7), v)
}

func TestReadBatchConsumesFullySkippedPages(t *testing.T) {
	db := openLocalDB(t)
	// The coercing column comes before the key, so skipped rows must still
	// advance the keyset cursor.
	_, err := db.Exec("CREATE TABLE t1 (`v` INTEGER, `id` INTEGER PRIMARY KEY)")
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO t1 (v, id) VALUES ('x', 1), ('y', 2), (7, 3), (8, 4)")
	require.NoError(t, err)

	warned := 0
	r := &Reader{
		database: "main",
		table:    "t1",
		db:       db,
		hasNext:  true,
		schema: &types.SchemaInfo{
			PrimaryKey: "id",
			Fields: []types.FieldInfo{
				{Name: "v", Type: types.FieldInt},
				{Name: "id", Type: types.FieldInt},
			},
		},
		opts: connector.ReaderOptions{Log: func(types.LogLevel, string, ...any) { warned++ }},
	}

	// The first page is dropped in full; the read moves on to the next
	// page instead of reporting a premature end of the table.
	batch, err := r.ReadBatch(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, int64(7), batch[0].Fields["v"].Int)
	assert.Equal(t, int64(8), batch[1].Fields["v"].Int)
	assert.Equal(t, 2, warned)
	assert.True(t, r.HasNext())

	batch, err = r.ReadBatch(context.Background(), 2)
	require.NoError(t, err)
	assert.Empty(t, batch)
	assert.False(t, r.HasNext())
}

func TestToFieldValue(t *testing.T) {
	boolField := types.FieldInfo{Name: "b", Type: types.FieldBool}
	intField := types.FieldInfo{Name: "i", Type: types.FieldInt}
	floatField := types.FieldInfo{Name: "f", Type: types.FieldFloat}
	textField := types.FieldInfo{Name: "s", Type: types.FieldText}
	dtField := types.FieldInfo{Name: "ts", Type: types.FieldDatetime}
	jsonField := types.FieldInfo{Name: "j", Type: types.FieldJSON}
	binField := types.FieldInfo{Name: "raw", Type: types.FieldBinary}

	v, err := toFieldValue(boolField, int64(1))
	require.NoError(t, err)
	assert.True(t, v.Bool)

	v, err = toFieldValue(intField, []byte("42"))
	require.NoError(t, err)
	assert.Equal(t, int64(42), v.Int)

	v, err = toFieldValue(floatField, []byte("3.5"))
	require.NoError(t, err)
	assert.Equal(t, 3.5, v.Float)

	v, err = toFieldValue(textField, []byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, "hi", v.Text)

	loc := time.FixedZone("plus2", 2*3600)
	v, err = toFieldValue(dtField, time.Date(2024, 5, 1, 10, 0, 0, 0, loc))
	require.NoError(t, err)
	assert.Equal(t, types.KindDatetime, v.Kind)
	assert.Equal(t, time.UTC, v.Time.Location())

	v, err = toFieldValue(dtField, []byte("2024-05-01 10:00:00"))
	require.NoError(t, err)
	assert.Equal(t, types.KindDatetime, v.Kind)

	// Unparseable datetime deterministically stays text.
	v, err = toFieldValue(dtField, []byte("not a date"))
	require.NoError(t, err)
	assert.Equal(t, types.KindText, v.Kind)
	assert.Equal(t, "not a date", v.Text)

	v, err = toFieldValue(jsonField, []byte(`{"a":[1,2]}`))
	require.NoError(t, err)
	assert.Equal(t, types.KindJSON, v.Kind)

	_, err = toFieldValue(jsonField, []byte(`{broken`))
	assert.Error(t, err)

	v, err = toFieldValue(binField, []byte{0xde, 0xad})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad}, v.Bytes)

	v, err = toFieldValue(textField, nil)
	require.NoError(t, err)
	assert.True(t, v.IsNull())
}

func TestToSQLArg(t *testing.T) {
	arg, err := toSQLArg(types.Null())
	require.NoError(t, err)
	assert.Nil(t, arg)

	arg, err = toSQLArg(types.BoolValue(true))
	require.NoError(t, err)
	assert.Equal(t, int64(1), arg)

	arg, err = toSQLArg(types.DatetimeValue(time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)))
	require.NoError(t, err)
	assert.Equal(t, "2024-05-01 10:30:00", arg)

	arg, err = toSQLArg(types.JSONValue(map[string]any{"k": "v"}))
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(arg.(string)), &decoded))
	assert.Equal(t, "v", decoded["k"])
}

func TestExtractDuplicateKey(t *testing.T) {
	msg := "Duplicate entry '42' for key 't1.PRIMARY'"
	assert.Equal(t, "42", extractDuplicateKey(msg))
	assert.Equal(t, "", extractDuplicateKey("some other error"))
}

func TestNewReaderRequiresDatabase(t *testing.T) {
	ds := &types.Datasource{Kind: types.KindRelational}
	_, err := NewReader(ds, "bare_table", connector.ReaderOptions{})
	assert.Error(t, err)

	ds.DefaultDatabase = "d1"
	r, err := NewReader(ds, "bare_table", connector.ReaderOptions{})
	require.NoError(t, err)
	assert.Equal(t, "d1", r.database)
	assert.Equal(t, "bare_table", r.table)
}
