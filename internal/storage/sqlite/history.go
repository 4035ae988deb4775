package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/syncwave/syncwave/internal/storage"
	"github.com/syncwave/syncwave/internal/types"
)

// MoveRuntimeToHistory atomically records a unit completion: insert one
// history row carrying the runtime's counters, then delete the runtime row.
// History insertion for a unit happens-before its ledger mark; the caller
// sequences MarkSynced after this returns.
func (s *SQLiteStore) MoveRuntimeToHistory(ctx context.Context, taskID, unitName string, durationMS int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var totalRecords int64
		err := tx.QueryRowContext(ctx, `
			SELECT total_records FROM task_unit_runtime
			WHERE task_id = ? AND unit_name = ?`, taskID, unitName).Scan(&totalRecords)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("runtime %s/%s: %w", taskID, unitName, storage.ErrNotFound)
		} else if err != nil {
			return fmt.Errorf("load runtime for history: %w", err)
		}

		var pattern string
		err = tx.QueryRowContext(ctx, `
			SELECT search_pattern FROM task_unit_config
			WHERE task_id = ? AND unit_name = ?`, taskID, unitName).Scan(&pattern)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("load unit config for history: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO task_unit_history (task_id, unit_name, search_pattern, total_records, completed_at, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?)`,
			taskID, unitName, pattern, totalRecords, nowMillis(), durationMS); err != nil {
			return fmt.Errorf("insert history row: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM task_unit_runtime WHERE task_id = ? AND unit_name = ?`, taskID, unitName); err != nil {
			return fmt.Errorf("delete completed runtime: %w", err)
		}
		return nil
	})
}

// ListHistory returns the task's completion log, newest first.
func (s *SQLiteStore) ListHistory(ctx context.Context, taskID string) ([]*types.UnitHistory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, unit_name, search_pattern, total_records, completed_at, duration_ms
		FROM task_unit_history WHERE task_id = ? ORDER BY completed_at DESC, id DESC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var out []*types.UnitHistory
	for rows.Next() {
		var h types.UnitHistory
		if err := rows.Scan(&h.ID, &h.TaskID, &h.UnitName, &h.SearchPattern,
			&h.TotalRecords, &h.CompletedAt, &h.DurationMS); err != nil {
			return nil, err
		}
		out = append(out, &h)
	}
	return out, rows.Err()
}

// HasHistory reports whether the unit has ever completed for this task.
func (s *SQLiteStore) HasHistory(ctx context.Context, taskID, unitName string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM task_unit_history WHERE task_id = ? AND unit_name = ? LIMIT 1`,
		taskID, unitName).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("check history %s/%s: %w", taskID, unitName, err)
	}
	return true, nil
}

// ClearHistoryByKeyword bulk-deletes history rows whose search_pattern
// matches the keyword, returning the number removed. History rows are never
// updated, only inserted or bulk-deleted.
func (s *SQLiteStore) ClearHistoryByKeyword(ctx context.Context, taskID, keyword string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM task_unit_history WHERE task_id = ? AND search_pattern = ?`, taskID, keyword)
	if err != nil {
		return 0, fmt.Errorf("clear history by keyword: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
