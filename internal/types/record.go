package types

import (
	"bytes"
	"encoding/json"
	"time"
)

// FieldType is the neutral type system exchanged between connectors.
type FieldType string

const (
	FieldBool     FieldType = "bool"
	FieldInt      FieldType = "int"
	FieldFloat    FieldType = "float"
	FieldText     FieldType = "text"
	FieldDatetime FieldType = "datetime"
	FieldJSON     FieldType = "json"
	FieldBinary   FieldType = "binary"
)

// FieldKind tags which variant a FieldValue holds.
type FieldKind int

const (
	KindNull FieldKind = iota
	KindBool
	KindInt
	KindFloat
	KindText
	KindDatetime
	KindJSON
	KindBinary
)

// FieldValue is a tagged union of the neutral value variants. The zero
// value is null. Datetimes are always UTC in the neutral form; connectors
// convert from their native representation on read and back on write.
type FieldValue struct {
	Kind  FieldKind
	Bool  bool
	Int   int64
	Float float64
	Text  string
	Time  time.Time
	JSON  any
	Bytes []byte
}

func Null() FieldValue                { return FieldValue{Kind: KindNull} }
func BoolValue(v bool) FieldValue     { return FieldValue{Kind: KindBool, Bool: v} }
func IntValue(v int64) FieldValue     { return FieldValue{Kind: KindInt, Int: v} }
func FloatValue(v float64) FieldValue { return FieldValue{Kind: KindFloat, Float: v} }
func TextValue(v string) FieldValue   { return FieldValue{Kind: KindText, Text: v} }
func JSONValue(v any) FieldValue      { return FieldValue{Kind: KindJSON, JSON: v} }
func BinaryValue(v []byte) FieldValue { return FieldValue{Kind: KindBinary, Bytes: v} }

// DatetimeValue normalizes to UTC before storing.
func DatetimeValue(v time.Time) FieldValue {
	return FieldValue{Kind: KindDatetime, Time: v.UTC()}
}

// IsNull reports whether the value holds the null variant.
func (v FieldValue) IsNull() bool { return v.Kind == KindNull }

// Equal compares two values variant-by-variant. JSON variants compare by
// canonical re-marshaling, binary by byte equality.
func (v FieldValue) Equal(o FieldValue) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindBool:
		return v.Bool == o.Bool
	case KindInt:
		return v.Int == o.Int
	case KindFloat:
		return v.Float == o.Float
	case KindText:
		return v.Text == o.Text
	case KindDatetime:
		return v.Time.Equal(o.Time)
	case KindJSON:
		a, errA := json.Marshal(v.JSON)
		b, errB := json.Marshal(o.JSON)
		return errA == nil && errB == nil && bytes.Equal(a, b)
	case KindBinary:
		return bytes.Equal(v.Bytes, o.Bytes)
	}
	return false
}

// Record is the neutral row/document form moved through a pipeline: a
// field map plus a small metadata side-map (connector hints such as the
// source document id).
type Record struct {
	Fields map[string]FieldValue
	Meta   map[string]string
}

// NewRecord returns an empty record with allocated field map.
func NewRecord() *Record {
	return &Record{Fields: make(map[string]FieldValue)}
}

// SetMeta stores a metadata hint, allocating the side-map lazily.
func (r *Record) SetMeta(key, value string) {
	if r.Meta == nil {
		r.Meta = make(map[string]string)
	}
	r.Meta[key] = value
}

// Equal compares records field-by-field. Metadata does not participate.
func (r *Record) Equal(o *Record) bool {
	if len(r.Fields) != len(o.Fields) {
		return false
	}
	for name, v := range r.Fields {
		ov, ok := o.Fields[name]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// FieldInfo describes one column/field of a unit's schema. Native carries
// the full declared endpoint type (e.g. "varchar(32)") when known.
type FieldInfo struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Nullable bool      `json:"nullable"`
	Native   string    `json:"native,omitempty"`
}

// SchemaInfo is the ordered field list of a unit plus its primary key, if
// any. Search sources infer fields from the index mapping, PrimaryKey "_id".
type SchemaInfo struct {
	Fields     []FieldInfo `json:"fields"`
	PrimaryKey string      `json:"primary_key,omitempty"`
}

// Field returns the named field info, or nil.
func (s *SchemaInfo) Field(name string) *FieldInfo {
	for i := range s.Fields {
		if s.Fields[i].Name == name {
			return &s.Fields[i]
		}
	}
	return nil
}
