// Package mysql implements the relational reader and writer on the
// MySQL-family wire protocol.
package mysql

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/syncwave/syncwave/internal/types"
)

const (
	dialTimeout    = 10 * time.Second
	requestTimeout = 60 * time.Second

	// mysqlDatetimeLayout is the textual form the server hands back when
	// the driver cannot produce a time.Time itself.
	mysqlDatetimeLayout = "2006-01-02 15:04:05"
	mysqlDateLayout     = "2006-01-02"
)

// openPool dials host:port with the datasource credentials. An empty dbName
// connects at server scope (used to create missing target databases).
func openPool(ds *types.Datasource, dbName string) (*sql.DB, error) {
	cfg := mysql.NewConfig()
	cfg.User = ds.Username
	cfg.Passwd = ds.Password
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", ds.Host, ds.Port)
	cfg.DBName = dbName
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.Timeout = dialTimeout
	cfg.ReadTimeout = requestTimeout
	cfg.WriteTimeout = requestTimeout
	cfg.Params = map[string]string{"charset": "utf8mb4"}

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("open mysql pool: %w", err)
	}
	// Pools are per-unit, not shared across units.
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	return db, nil
}

// quoteIdent backtick-quotes a MySQL identifier.
func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// qualifiedTable returns `db`.`table`.
func qualifiedTable(database, table string) string {
	return quoteIdent(database) + "." + quoteIdent(table)
}

// toFieldValue coerces one driver value into the neutral form declared by
// the schema. Unparseable datetime strings deterministically remain text;
// other coercion failures return an error so the caller can count and skip
// the record.
func toFieldValue(fi types.FieldInfo, raw any) (types.FieldValue, error) {
	if raw == nil {
		return types.Null(), nil
	}
	switch fi.Type {
	case types.FieldBool:
		switch v := raw.(type) {
		case bool:
			return types.BoolValue(v), nil
		case int64:
			return types.BoolValue(v != 0), nil
		case []byte:
			n, err := strconv.ParseInt(string(v), 10, 64)
			if err != nil {
				return types.Null(), fmt.Errorf("field %s: %q is not a bool", fi.Name, v)
			}
			return types.BoolValue(n != 0), nil
		}
	case types.FieldInt:
		switch v := raw.(type) {
		case int64:
			return types.IntValue(v), nil
		case []byte:
			n, err := strconv.ParseInt(string(v), 10, 64)
			if err != nil {
				return types.Null(), fmt.Errorf("field %s: %q is not an int", fi.Name, v)
			}
			return types.IntValue(n), nil
		}
	case types.FieldFloat:
		switch v := raw.(type) {
		case float64:
			return types.FloatValue(v), nil
		case float32:
			return types.FloatValue(float64(v)), nil
		case int64:
			return types.FloatValue(float64(v)), nil
		case []byte:
			f, err := strconv.ParseFloat(string(v), 64)
			if err != nil {
				return types.Null(), fmt.Errorf("field %s: %q is not a float", fi.Name, v)
			}
			return types.FloatValue(f), nil
		}
	case types.FieldDatetime:
		switch v := raw.(type) {
		case time.Time:
			return types.DatetimeValue(v), nil
		case []byte:
			s := string(v)
			for _, layout := range []string{mysqlDatetimeLayout, mysqlDateLayout, time.RFC3339} {
				if ts, err := time.Parse(layout, s); err == nil {
					return types.DatetimeValue(ts), nil
				}
			}
			// Cannot prove the type: keep the text rather than guessing.
			return types.TextValue(s), nil
		}
	case types.FieldJSON:
		if b, ok := raw.([]byte); ok {
			var v any
			if err := json.Unmarshal(b, &v); err != nil {
				return types.Null(), fmt.Errorf("field %s: invalid json: %w", fi.Name, err)
			}
			return types.JSONValue(v), nil
		}
	case types.FieldBinary:
		if b, ok := raw.([]byte); ok {
			out := make([]byte, len(b))
			copy(out, b)
			return types.BinaryValue(out), nil
		}
	case types.FieldText:
		switch v := raw.(type) {
		case []byte:
			return types.TextValue(string(v)), nil
		case string:
			return types.TextValue(v), nil
		case time.Time:
			return types.TextValue(v.UTC().Format(time.RFC3339)), nil
		case int64:
			return types.TextValue(strconv.FormatInt(v, 10)), nil
		}
	}
	return types.Null(), fmt.Errorf("field %s: unexpected driver value %T for %s", fi.Name, raw, fi.Type)
}

// toSQLArg converts a neutral value into a driver argument.
func toSQLArg(v types.FieldValue) (any, error) {
	switch v.Kind {
	case types.KindNull:
		return nil, nil
	case types.KindBool:
		if v.Bool {
			return int64(1), nil
		}
		return int64(0), nil
	case types.KindInt:
		return v.Int, nil
	case types.KindFloat:
		return v.Float, nil
	case types.KindText:
		return v.Text, nil
	case types.KindDatetime:
		return v.Time.UTC().Format(mysqlDatetimeLayout), nil
	case types.KindJSON:
		b, err := json.Marshal(v.JSON)
		if err != nil {
			return nil, fmt.Errorf("marshal json field: %w", err)
		}
		return string(b), nil
	case types.KindBinary:
		return v.Bytes, nil
	}
	return nil, fmt.Errorf("unknown field kind %d", v.Kind)
}
