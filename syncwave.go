// Package syncwave provides a minimal public API for embedding the sync
// engine in other programs.
//
// Most integrations should drive the syncwave CLI. This package exports only
// the essential types and the Open constructor for Go programs that want to
// register datasources and run tasks programmatically.
package syncwave

import (
	"context"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/syncwave/syncwave/internal/connector/factory"
	"github.com/syncwave/syncwave/internal/engine"
	"github.com/syncwave/syncwave/internal/progress"
	"github.com/syncwave/syncwave/internal/secrets"
	"github.com/syncwave/syncwave/internal/storage/sqlite"
	"github.com/syncwave/syncwave/internal/types"
)

// Core types for registering endpoints and tasks
type (
	Datasource   = types.Datasource
	SyncTask     = types.SyncTask
	TaskConfig   = types.TaskConfig
	TaskProgress = types.TaskProgress
)

// Datasource kinds
const (
	KindRelational = types.KindRelational
	KindSearch     = types.KindSearch
)

// Task status constants
const (
	TaskIdle      = types.TaskIdle
	TaskRunning   = types.TaskRunning
	TaskPaused    = types.TaskPaused
	TaskCompleted = types.TaskCompleted
	TaskFailed    = types.TaskFailed
)

// Engine is the run-control facade: datasource and task CRUD, start, pause,
// resume, progress and log access.
type Engine = engine.Engine

// Open wires an Engine over the state database and credentials key stored
// under dataDir. The directory is created on first use.
func Open(ctx context.Context, dataDir string, log zerolog.Logger) (*Engine, error) {
	store, err := sqlite.New(ctx, filepath.Join(dataDir, "syncwave.db"))
	if err != nil {
		return nil, err
	}
	cipher, err := secrets.Load(dataDir)
	if err != nil {
		store.Close()
		return nil, err
	}
	return engine.New(engine.Options{
		Store:   store,
		Factory: factory.New(),
		Bus:     progress.NewBus(log),
		Cipher:  cipher,
		Log:     log,
	}), nil
}
