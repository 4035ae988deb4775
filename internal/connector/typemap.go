package connector

import (
	"strings"

	"github.com/syncwave/syncwave/internal/types"
)

// RelationalToNeutral maps a declared MySQL-family column type (as reported
// by the column catalog, e.g. "tinyint(1)", "varchar(32)", "bigint
// unsigned") to the neutral type system.
func RelationalToNeutral(columnType string) types.FieldType {
	ct := strings.ToLower(strings.TrimSpace(columnType))
	base := ct
	if i := strings.IndexAny(base, "( "); i > 0 {
		base = base[:i]
	}

	switch {
	case ct == "tinyint(1)", base == "bool", base == "boolean":
		return types.FieldBool
	case base == "tinyint", base == "smallint", base == "mediumint",
		base == "int", base == "integer", base == "bigint", base == "bit":
		return types.FieldInt
	case base == "float", base == "double", base == "decimal", base == "numeric", base == "real":
		return types.FieldFloat
	case base == "date", base == "datetime", base == "timestamp":
		return types.FieldDatetime
	case base == "time", base == "year", base == "enum", base == "set":
		return types.FieldText
	case base == "varchar", base == "char":
		return types.FieldText
	case strings.HasSuffix(base, "text"):
		return types.FieldText
	case base == "json":
		return types.FieldJSON
	case strings.HasSuffix(base, "blob"), base == "binary", base == "varbinary":
		return types.FieldBinary
	default:
		return types.FieldText
	}
}

// NeutralToRelational returns the MySQL column type for a neutral field.
// When the field carries its original declared type (relational source) that
// passes through; otherwise conservative widths are used, as for schema-less
// search sources.
func NeutralToRelational(fi types.FieldInfo) string {
	if fi.Native != "" {
		return fi.Native
	}
	switch fi.Type {
	case types.FieldBool:
		return "TINYINT(1)"
	case types.FieldInt:
		return "BIGINT"
	case types.FieldFloat:
		return "DOUBLE"
	case types.FieldDatetime:
		return "DATETIME"
	case types.FieldJSON:
		return "JSON"
	case types.FieldBinary:
		return "BLOB"
	default:
		return "TEXT"
	}
}

// KeywordColumnType is the conservative width used when a search keyword
// field lands in a relational target.
const KeywordColumnType = "VARCHAR(255)"

// SearchToNeutral maps an index mapping type to the neutral type system.
// Keyword-family fields carry KeywordColumnType as their relational width;
// everything else relies on the conservative defaults.
func SearchToNeutral(mappingType string) types.FieldInfo {
	switch mappingType {
	case "boolean":
		return types.FieldInfo{Type: types.FieldBool}
	case "long", "integer", "short", "byte":
		return types.FieldInfo{Type: types.FieldInt}
	case "double", "float", "half_float", "scaled_float", "unsigned_long":
		return types.FieldInfo{Type: types.FieldFloat}
	case "date", "date_nanos":
		return types.FieldInfo{Type: types.FieldDatetime}
	case "object", "nested", "flattened":
		return types.FieldInfo{Type: types.FieldJSON}
	case "binary":
		return types.FieldInfo{Type: types.FieldBinary}
	case "keyword", "constant_keyword", "wildcard", "ip":
		return types.FieldInfo{Type: types.FieldText, Native: KeywordColumnType}
	default:
		return types.FieldInfo{Type: types.FieldText}
	}
}

// NeutralToSearch maps a neutral field to the Elasticsearch mapping type it
// dynamically materializes as. Binary has no search representation; such
// fields are dropped on write.
func NeutralToSearch(fi types.FieldInfo) string {
	switch fi.Type {
	case types.FieldBool:
		return "boolean"
	case types.FieldInt:
		return "long"
	case types.FieldFloat:
		return "double"
	case types.FieldDatetime:
		return "date"
	case types.FieldJSON:
		return "object"
	case types.FieldBinary:
		return "binary"
	case types.FieldText:
		if isFreeText(fi.Native) {
			return "text"
		}
		return "keyword"
	default:
		return "keyword"
	}
}

// isFreeText reports whether the declared relational type is a text family
// column (mapped to analyzed "text") rather than a bounded string (keyword).
func isFreeText(native string) bool {
	base := strings.ToLower(native)
	if i := strings.IndexAny(base, "( "); i > 0 {
		base = base[:i]
	}
	return strings.HasSuffix(base, "text")
}
