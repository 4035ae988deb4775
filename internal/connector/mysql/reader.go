package mysql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/syncwave/syncwave/internal/connector"
	"github.com/syncwave/syncwave/internal/types"
)

// defaultCoerceSkipLimit fails a unit once this many records were skipped
// for type-coercion errors (or 10% of total, whichever is larger).
const defaultCoerceSkipLimit = 1000

// Reader streams one table in stable batches. With a primary key it uses a
// keyset cursor; otherwise deterministic LIMIT/OFFSET paging.
type Reader struct {
	ds       *types.Datasource
	database string
	table    string
	opts     connector.ReaderOptions

	db      *sql.DB
	schema  *types.SchemaInfo
	total   int64
	hasNext bool

	offset  int64 // rows consumed so far, offset paging only
	lastKey any   // keyset cursor, nil before the first batch
	skipped int64 // records dropped for coercion errors
}

// NewReader builds a reader for a "db.table" unit on ds. The password on ds
// must already be decrypted.
func NewReader(ds *types.Datasource, unitName string, opts connector.ReaderOptions) (*Reader, error) {
	database, table, err := connector.SplitTableUnit(unitName, ds.DefaultDatabase)
	if err != nil {
		return nil, err
	}
	if opts.Log == nil {
		opts.Log = connector.NopLog
	}
	return &Reader{ds: ds, database: database, table: table, opts: opts, hasNext: true}, nil
}

func (r *Reader) Open(ctx context.Context) error {
	pool, err := openPool(r.ds, r.database)
	if err != nil {
		return err
	}
	if err := pool.PingContext(ctx); err != nil {
		_ = pool.Close()
		return fmt.Errorf("connect to %s:%d: %w", r.ds.Host, r.ds.Port, err)
	}
	r.db = pool
	r.offset = r.opts.SkipRecords
	return nil
}

// Schema discovers column names, full declared types, nullability and
// primary-key membership from the column catalog.
func (r *Reader) Schema(ctx context.Context) (*types.SchemaInfo, error) {
	if r.schema != nil {
		return r.schema, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT COLUMN_NAME, COLUMN_TYPE, IS_NULLABLE, COLUMN_KEY
		FROM information_schema.COLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION`, r.database, r.table)
	if err != nil {
		return nil, fmt.Errorf("discover schema for %s.%s: %w", r.database, r.table, err)
	}
	defer rows.Close()

	schema := &types.SchemaInfo{}
	for rows.Next() {
		var name, columnType, nullable, key string
		if err := rows.Scan(&name, &columnType, &nullable, &key); err != nil {
			return nil, err
		}
		schema.Fields = append(schema.Fields, types.FieldInfo{
			Name:     name,
			Type:     connector.RelationalToNeutral(columnType),
			Nullable: nullable == "YES",
			Native:   columnType,
		})
		if key == "PRI" && schema.PrimaryKey == "" {
			schema.PrimaryKey = name
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(schema.Fields) == 0 {
		return nil, fmt.Errorf("schema discovery for %s.%s returned no columns", r.database, r.table)
	}
	r.schema = schema
	return schema, nil
}

func (r *Reader) TotalCount(ctx context.Context) (int64, error) {
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM "+qualifiedTable(r.database, r.table)).Scan(&r.total)
	if err != nil {
		return 0, fmt.Errorf("count %s.%s: %w", r.database, r.table, err)
	}
	return r.total, nil
}

// ReadBatch returns the next page of surviving records. Pages whose every
// record was dropped for coercion errors are consumed and the read moves on,
// so an empty result always means exhaustion.
func (r *Reader) ReadBatch(ctx context.Context, n int) ([]*types.Record, error) {
	for r.hasNext {
		out, err := r.readPage(ctx, n)
		if err != nil {
			return nil, err
		}
		if len(out) > 0 || !r.hasNext {
			return out, nil
		}
	}
	return nil, nil
}

func (r *Reader) readPage(ctx context.Context, n int) ([]*types.Record, error) {
	schema, err := r.Schema(ctx)
	if err != nil {
		return nil, err
	}

	var query string
	var args []any
	if pk := schema.PrimaryKey; pk != "" {
		query = fmt.Sprintf("SELECT * FROM %s", qualifiedTable(r.database, r.table))
		if r.lastKey != nil {
			query += fmt.Sprintf(" WHERE %s > ?", quoteIdent(pk))
			args = append(args, r.lastKey)
		}
		query += fmt.Sprintf(" ORDER BY %s LIMIT %d", quoteIdent(pk), n)
		if r.lastKey == nil && r.opts.SkipRecords > 0 {
			// Resume: re-page past what the previous run committed, then
			// continue on the keyset cursor.
			query += fmt.Sprintf(" OFFSET %d", r.opts.SkipRecords)
		}
	} else {
		// No key to page on: deterministic order over the first column.
		query = fmt.Sprintf("SELECT * FROM %s ORDER BY %s LIMIT %d OFFSET %d",
			qualifiedTable(r.database, r.table), quoteIdent(schema.Fields[0].Name), n, r.offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read batch from %s.%s: %w", r.database, r.table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	pkIdx := -1
	for i, col := range cols {
		if col == schema.PrimaryKey {
			pkIdx = i
		}
	}

	var out []*types.Record
	scanned := 0
	for rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		scanned++
		if pkIdx >= 0 {
			// The cursor advances even when the record is skipped below.
			r.lastKey = raw[pkIdx]
		}

		rec := types.NewRecord()
		var recErr error
		for i, col := range cols {
			fi := schema.Field(col)
			if fi == nil {
				continue // column added after discovery
			}
			fv, err := toFieldValue(*fi, raw[i])
			if err != nil {
				recErr = err
				break
			}
			rec.Fields[col] = fv
		}
		if recErr != nil {
			r.skipped++
			r.opts.Log(types.LogWarn, "skipped record in %s.%s: %v", r.database, r.table, recErr)
			if limit := r.coerceLimit(); r.skipped > limit {
				return nil, fmt.Errorf("unit %s.%s exceeded coercion skip limit (%d records dropped)",
					r.database, r.table, limit)
			}
			continue
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	r.offset += int64(scanned)
	r.hasNext = scanned == n
	return out, nil
}

// coerceLimit is the deterministic skip threshold: the configured limit, or
// max(1000, 10% of total).
func (r *Reader) coerceLimit() int64 {
	if r.opts.CoerceSkipLimit > 0 {
		return r.opts.CoerceSkipLimit
	}
	limit := int64(defaultCoerceSkipLimit)
	if tenth := r.total / 10; tenth > limit {
		limit = tenth
	}
	return limit
}

func (r *Reader) HasNext() bool { return r.hasNext }

func (r *Reader) Close(ctx context.Context) error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}
