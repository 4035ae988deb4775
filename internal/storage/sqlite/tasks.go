package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/syncwave/syncwave/internal/storage"
	"github.com/syncwave/syncwave/internal/types"
)

// SaveTask inserts or replaces a sync task by id, preserving created_at
// on update. Both datasource references must exist.
func (s *SQLiteStore) SaveTask(ctx context.Context, task *types.SyncTask) error {
	for _, ref := range []string{task.SourceID, task.TargetID} {
		var one int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM datasources WHERE id = ?`, ref).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("task %s references datasource %s: %w", task.ID, ref, storage.ErrNotFound)
		} else if err != nil {
			return fmt.Errorf("check datasource %s: %w", ref, err)
		}
	}

	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	if task.Status == "" {
		task.Status = types.TaskIdle
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_tasks (id, name, source_id, target_id, source_kind, target_kind, config_json, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			source_id = excluded.source_id,
			target_id = excluded.target_id,
			source_kind = excluded.source_kind,
			target_kind = excluded.target_kind,
			config_json = excluded.config_json,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		task.ID, task.Name, task.SourceID, task.TargetID, string(task.SourceKind), string(task.TargetKind),
		task.ConfigJSON, string(task.Status), task.CreatedAt.Format(time.RFC3339), task.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save task %s: %w", task.ID, err)
	}
	return nil
}

// GetTask loads one task by id.
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*types.SyncTask, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, source_id, target_id, source_kind, target_kind, config_json, status, created_at, updated_at
		FROM sync_tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, storage.ErrNotFound)
	}
	return task, err
}

// ListTasks returns all tasks, newest first.
func (s *SQLiteStore) ListTasks(ctx context.Context) ([]*types.SyncTask, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, source_id, target_id, source_kind, target_kind, config_json, status, created_at, updated_at
		FROM sync_tasks ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []*types.SyncTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

// DeleteTask removes a task. Unit config, runtime and history rows go with
// it via ON DELETE CASCADE.
func (s *SQLiteStore) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sync_tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

// UpdateTaskStatus durably records a task lifecycle transition.
func (s *SQLiteStore) UpdateTaskStatus(ctx context.Context, id string, status types.TaskStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_tasks SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("update task %s status: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

func scanTask(row rowScanner) (*types.SyncTask, error) {
	var t types.SyncTask
	var sourceKind, targetKind, status, createdAt, updatedAt string
	if err := row.Scan(&t.ID, &t.Name, &t.SourceID, &t.TargetID, &sourceKind, &targetKind,
		&t.ConfigJSON, &status, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	t.SourceKind = types.DatasourceKind(sourceKind)
	t.TargetKind = types.DatasourceKind(targetKind)
	t.Status = types.TaskStatus(status)
	var err error
	if t.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parse task created_at: %w", err)
	}
	if t.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parse task updated_at: %w", err)
	}
	return &t, nil
}
