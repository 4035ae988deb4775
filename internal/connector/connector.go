// Package connector defines the streaming contracts between the sync
// engine and endpoint-specific readers and writers.
//
// Concrete connectors live in the mysql and elastic sub-packages; the
// factory sub-package routes a datasource kind to the right pair.
package connector

import (
	"context"
	"fmt"
	"strings"

	"github.com/syncwave/syncwave/internal/types"
)

// Reader streams batches of neutral records out of one unit. Instances are
// single-threaded; the engine creates one reader per unit run.
type Reader interface {
	Open(ctx context.Context) error
	Schema(ctx context.Context) (*types.SchemaInfo, error)
	TotalCount(ctx context.Context) (int64, error)
	// ReadBatch returns up to n records. An empty batch means exhaustion.
	ReadBatch(ctx context.Context, n int) ([]*types.Record, error)
	// HasNext is true while the last batch was full.
	HasNext() bool
	Close(ctx context.Context) error
}

// Writer persists batches of neutral records into one target unit.
// Instances are single-threaded; the engine creates one writer per unit run.
type Writer interface {
	Open(ctx context.Context) error
	PrepareTarget(ctx context.Context, schema *types.SchemaInfo) error
	WriteBatch(ctx context.Context, records []*types.Record) error
	// Commit establishes the batch boundary: everything written since the
	// previous Commit is durable afterwards.
	Commit(ctx context.Context) error
	Close(ctx context.Context) error
}

// LogFunc lets a connector emit structured entries into the owning task's
// log ring without depending on the progress bus.
type LogFunc func(level types.LogLevel, format string, args ...any)

// NopLog discards connector log output.
func NopLog(types.LogLevel, string, ...any) {}

// ReaderOptions tunes a reader for one unit run.
type ReaderOptions struct {
	// SkipRecords re-pages past records already copied before a pause.
	// Only honored by paged (relational) readers.
	SkipRecords int64
	// CoerceSkipLimit fails the unit once this many records were dropped
	// for type-coercion errors. Zero applies the reader default.
	CoerceSkipLimit int64
	Log             LogFunc
}

// WriterOptions tunes a writer for one unit run.
type WriterOptions struct {
	TargetExists types.TargetExistsStrategy
	// Resume suppresses the destructive part of the target-exists strategy
	// when the unit continues an earlier partial run.
	Resume bool
	Log    LogFunc
}

// Factory constructs the reader/writer pair for a unit. The engine injects
// a fake factory in tests.
type Factory interface {
	// NewReader builds a reader for unitName on the (decrypted) source.
	NewReader(ds *types.Datasource, unitName string, opts ReaderOptions) (Reader, error)
	// NewWriter builds a writer for unitName on the (decrypted) target.
	NewWriter(ds *types.Datasource, unitName string, opts WriterOptions) (Writer, error)
}

// DuplicateKeyError reports a write rejected by a duplicate primary key on
// the target, naming the conflicting key when the endpoint exposes it.
type DuplicateKeyError struct {
	Unit string
	Key  string
	Err  error
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate key %q writing unit %s: %v", e.Key, e.Unit, e.Err)
}

func (e *DuplicateKeyError) Unwrap() error { return e.Err }

// SplitTableUnit parses a relational unit name of the form
// "database.table"; a bare table name falls back to defaultDB.
func SplitTableUnit(unitName, defaultDB string) (database, table string, err error) {
	if i := strings.IndexByte(unitName, '.'); i > 0 && i < len(unitName)-1 {
		return unitName[:i], unitName[i+1:], nil
	}
	if defaultDB == "" {
		return "", "", fmt.Errorf("unit %q has no database qualifier and the datasource has no default database", unitName)
	}
	return defaultDB, unitName, nil
}
