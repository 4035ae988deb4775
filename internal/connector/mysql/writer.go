package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/syncwave/syncwave/internal/connector"
	"github.com/syncwave/syncwave/internal/types"
)

// maxBoundParams is the engine's bound-parameter ceiling per statement.
// Batches are split so that rows x columns never exceeds it.
const maxBoundParams = 65535

// errDuplicateEntry is MySQL error 1062.
const errDuplicateEntry = 1062

// Writer inserts batches into one target table, creating the database and
// table as required by the target-exists strategy.
type Writer struct {
	ds       *types.Datasource
	unitName string
	database string
	table    string
	opts     connector.WriterOptions

	db     *sql.DB
	schema *types.SchemaInfo
	tx     *sql.Tx
}

// NewWriter builds a writer for a "db.table" unit on ds. The password on ds
// must already be decrypted.
func NewWriter(ds *types.Datasource, unitName string, opts connector.WriterOptions) (*Writer, error) {
	database, table, err := connector.SplitTableUnit(unitName, ds.DefaultDatabase)
	if err != nil {
		return nil, err
	}
	if opts.Log == nil {
		opts.Log = connector.NopLog
	}
	if opts.TargetExists == "" {
		opts.TargetExists = types.TargetTruncate
	}
	return &Writer{ds: ds, unitName: unitName, database: database, table: table, opts: opts}, nil
}

func (w *Writer) Open(ctx context.Context) error {
	// Server-scope connection: the target database may not exist yet.
	pool, err := openPool(w.ds, "")
	if err != nil {
		return err
	}
	if err := pool.PingContext(ctx); err != nil {
		_ = pool.Close()
		return fmt.Errorf("connect to %s:%d: %w", w.ds.Host, w.ds.Port, err)
	}
	w.db = pool
	return nil
}

// PrepareTarget creates the database if missing and applies the
// target-exists strategy: drop recreates from the source schema, truncate
// empties but keeps the existing schema, backup renames the old table aside.
func (w *Writer) PrepareTarget(ctx context.Context, schema *types.SchemaInfo) error {
	w.schema = schema

	if _, err := w.db.ExecContext(ctx, fmt.Sprintf(
		"CREATE DATABASE IF NOT EXISTS %s DEFAULT CHARACTER SET utf8mb4", quoteIdent(w.database))); err != nil {
		return fmt.Errorf("create database %s: %w", w.database, err)
	}

	exists, err := w.tableExists(ctx)
	if err != nil {
		return err
	}

	// A resumed unit keeps the rows it already copied; only create the
	// table when the original run never got that far.
	if w.opts.Resume {
		if exists {
			return nil
		}
		return w.createTable(ctx)
	}

	switch w.opts.TargetExists {
	case types.TargetDrop:
		if exists {
			if _, err := w.db.ExecContext(ctx,
				"DROP TABLE IF EXISTS "+qualifiedTable(w.database, w.table)); err != nil {
				return fmt.Errorf("drop table %s.%s: %w", w.database, w.table, err)
			}
		}
		return w.createTable(ctx)
	case types.TargetTruncate:
		if exists {
			if _, err := w.db.ExecContext(ctx,
				"TRUNCATE TABLE "+qualifiedTable(w.database, w.table)); err != nil {
				return fmt.Errorf("truncate table %s.%s: %w", w.database, w.table, err)
			}
			return nil
		}
		return w.createTable(ctx)
	case types.TargetBackup:
		if exists {
			backup := fmt.Sprintf("%s_backup_%s", w.table, time.Now().UTC().Format("20060102T150405Z"))
			if _, err := w.db.ExecContext(ctx, fmt.Sprintf("RENAME TABLE %s TO %s",
				qualifiedTable(w.database, w.table), qualifiedTable(w.database, backup))); err != nil {
				return fmt.Errorf("backup table %s.%s: %w", w.database, w.table, err)
			}
			w.opts.Log(types.LogInfo, "backed up existing table %s.%s to %s", w.database, w.table, backup)
		}
		return w.createTable(ctx)
	default:
		return fmt.Errorf("unknown target-exists strategy %q", w.opts.TargetExists)
	}
}

func (w *Writer) tableExists(ctx context.Context) (bool, error) {
	var one int
	err := w.db.QueryRowContext(ctx, `
		SELECT 1 FROM information_schema.TABLES
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?`, w.database, w.table).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("check table %s.%s: %w", w.database, w.table, err)
	}
	return true, nil
}

func (w *Writer) createTable(ctx context.Context) error {
	ddl, err := buildCreateTable(w.database, w.table, w.schema)
	if err != nil {
		return err
	}
	if _, err := w.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s.%s: %w", w.database, w.table, err)
	}
	return nil
}

// buildCreateTable renders the DDL for the target table: mapped column
// types, nullability, primary key, UTF-8, row-store engine.
func buildCreateTable(database, table string, schema *types.SchemaInfo) (string, error) {
	if schema == nil || len(schema.Fields) == 0 {
		return "", fmt.Errorf("cannot create %s.%s from an empty schema", database, table)
	}
	var cols []string
	for _, fi := range schema.Fields {
		col := quoteIdent(fi.Name) + " " + connector.NeutralToRelational(fi)
		if !fi.Nullable {
			col += " NOT NULL"
		}
		cols = append(cols, col)
	}
	if schema.PrimaryKey != "" {
		cols = append(cols, "PRIMARY KEY ("+quoteIdent(schema.PrimaryKey)+")")
	}
	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4",
		qualifiedTable(database, table), strings.Join(cols, ",\n  ")), nil
}

// WriteBatch issues multi-row inserts inside the batch transaction,
// splitting chunks so no statement exceeds the bound-parameter ceiling.
// Each chunk is its own statement; nothing commits until Commit.
func (w *Writer) WriteBatch(ctx context.Context, records []*types.Record) error {
	if len(records) == 0 {
		return nil
	}
	if w.schema == nil {
		return fmt.Errorf("write to %s before PrepareTarget", w.unitName)
	}
	cols := make([]string, len(w.schema.Fields))
	for i, fi := range w.schema.Fields {
		cols[i] = fi.Name
	}
	if len(cols) == 0 {
		return fmt.Errorf("unit %s: schema has no columns to insert", w.unitName)
	}
	if w.tx == nil {
		tx, err := w.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin batch transaction: %w", err)
		}
		w.tx = tx
	}

	for _, chunk := range splitBatch(len(records), len(cols)) {
		if err := w.insertChunk(ctx, cols, records[chunk[0]:chunk[1]]); err != nil {
			return err
		}
	}
	return nil
}

// splitBatch returns [start, end) ranges such that each range's
// rows x columns stays within maxBoundParams.
func splitBatch(rows, columns int) [][2]int {
	if columns < 1 {
		columns = 1
	}
	perChunk := maxBoundParams / columns
	if perChunk < 1 {
		perChunk = 1
	}
	var out [][2]int
	for start := 0; start < rows; start += perChunk {
		end := start + perChunk
		if end > rows {
			end = rows
		}
		out = append(out, [2]int{start, end})
	}
	return out
}

func (w *Writer) insertChunk(ctx context.Context, cols []string, records []*types.Record) error {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
	}
	row := "(" + strings.TrimSuffix(strings.Repeat("?,", len(cols)), ",") + ")"
	placeholders := strings.TrimSuffix(strings.Repeat(row+",", len(records)), ",")

	args := make([]any, 0, len(cols)*len(records))
	for _, rec := range records {
		for _, col := range cols {
			fv, ok := rec.Fields[col]
			if !ok {
				// Schema columns sourced from record metadata (the
				// document id of a search source) have no field entry.
				if m, found := rec.Meta[col]; found {
					args = append(args, m)
					continue
				}
			}
			arg, err := toSQLArg(fv)
			if err != nil {
				return fmt.Errorf("unit %s: %w", w.unitName, err)
			}
			args = append(args, arg)
		}
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		qualifiedTable(w.database, w.table), strings.Join(quoted, ", "), placeholders)
	if _, err := w.tx.ExecContext(ctx, query, args...); err != nil {
		var myErr *mysql.MySQLError
		if errors.As(err, &myErr) && myErr.Number == errDuplicateEntry {
			return &connector.DuplicateKeyError{
				Unit: w.unitName,
				Key:  extractDuplicateKey(myErr.Message),
				Err:  err,
			}
		}
		return fmt.Errorf("insert into %s.%s: %w", w.database, w.table, err)
	}
	return nil
}

// extractDuplicateKey pulls the offending value out of a MySQL 1062 message
// ("Duplicate entry 'X' for key ...").
func extractDuplicateKey(message string) string {
	const marker = "Duplicate entry '"
	i := strings.Index(message, marker)
	if i < 0 {
		return ""
	}
	rest := message[i+len(marker):]
	if j := strings.Index(rest, "'"); j >= 0 {
		return rest[:j]
	}
	return ""
}

// Commit makes the current batch durable.
func (w *Writer) Commit(ctx context.Context) error {
	if w.tx == nil {
		return nil
	}
	err := w.tx.Commit()
	w.tx = nil
	if err != nil {
		return fmt.Errorf("commit batch to %s.%s: %w", w.database, w.table, err)
	}
	return nil
}

func (w *Writer) Close(ctx context.Context) error {
	if w.tx != nil {
		_ = w.tx.Rollback()
		w.tx = nil
	}
	if w.db == nil {
		return nil
	}
	return w.db.Close()
}
