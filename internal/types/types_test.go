package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTaskConfigDefaults(t *testing.T) {
	cfg, err := ParseTaskConfig(`{"units":["d1.t1"]}`)
	require.NoError(t, err)
	assert.Equal(t, DefaultThreadCount, cfg.ThreadCount)
	assert.Equal(t, DefaultBatchSize, cfg.BatchSize)
	assert.Equal(t, ErrorSkip, cfg.ErrorStrategy)
	assert.Equal(t, TargetTruncate, cfg.TargetExists)
	assert.False(t, cfg.SkipSynced)
}

func TestParseTaskConfigFull(t *testing.T) {
	raw := `{
		"units": ["a", "b"],
		"keyword_groups": [{"keyword": "logs", "units": ["logs-1", "logs-2"]}],
		"thread_count": 8,
		"batch_size": 500,
		"error_strategy": "pause",
		"target_exists": "backup",
		"name_transform": {"mode": "prefix", "from": "dev_", "to": "prod_"},
		"skip_synced": true,
		"some_future_field": 42
	}`
	cfg, err := ParseTaskConfig(raw)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.ThreadCount)
	assert.Equal(t, 500, cfg.BatchSize)
	assert.Equal(t, ErrorPause, cfg.ErrorStrategy)
	assert.Equal(t, TargetBackup, cfg.TargetExists)
	require.NotNil(t, cfg.NameTransform)
	assert.Equal(t, TransformPrefix, cfg.NameTransform.Mode)
	assert.True(t, cfg.SkipSynced)
	require.Len(t, cfg.KeywordGroups, 1)
	assert.Equal(t, "logs", cfg.KeywordGroups[0].Keyword)
}

func TestParseTaskConfigRejects(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"empty blob", ""},
		{"bad json", `{"units":`},
		{"no units", `{"thread_count": 2}`},
		{"bad strategy", `{"units":["x"],"error_strategy":"retry"}`},
		{"bad target mode", `{"units":["x"],"target_exists":"merge"}`},
		{"bad transform", `{"units":["x"],"name_transform":{"mode":"regex"}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseTaskConfig(tc.raw)
			assert.Error(t, err)
		})
	}
}

func TestFieldValueEqual(t *testing.T) {
	now := time.Now()
	assert.True(t, Null().Equal(Null()))
	assert.True(t, IntValue(7).Equal(IntValue(7)))
	assert.False(t, IntValue(7).Equal(FloatValue(7)))
	assert.True(t, DatetimeValue(now).Equal(DatetimeValue(now.UTC())))
	assert.True(t, BinaryValue([]byte{1, 2}).Equal(BinaryValue([]byte{1, 2})))
	assert.True(t, JSONValue(map[string]any{"a": 1}).Equal(JSONValue(map[string]any{"a": 1})))
	assert.False(t, JSONValue(map[string]any{"a": 1}).Equal(JSONValue(map[string]any{"a": 2})))
}

func TestDatetimeValueNormalizesUTC(t *testing.T) {
	loc := time.FixedZone("plus8", 8*3600)
	local := time.Date(2024, 5, 1, 12, 0, 0, 0, loc)
	v := DatetimeValue(local)
	assert.Equal(t, time.UTC, v.Time.Location())
	assert.True(t, v.Time.Equal(local))
}

func TestRecordEqual(t *testing.T) {
	a := NewRecord()
	a.Fields["id"] = IntValue(1)
	a.Fields["v"] = TextValue("x")
	b := NewRecord()
	b.Fields["v"] = TextValue("x")
	b.Fields["id"] = IntValue(1)
	assert.True(t, a.Equal(b))

	b.Fields["extra"] = Null()
	assert.False(t, a.Equal(b))
}
