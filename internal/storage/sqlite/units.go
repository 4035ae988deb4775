package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/syncwave/syncwave/internal/storage"
	"github.com/syncwave/syncwave/internal/types"
)

// maxErrorMessage bounds what we persist for a failed unit; full errors go
// to the task log.
const maxErrorMessage = 2000

// ReplaceUnitConfigs swaps the task's unit config set in one transaction,
// so there is no window where the task has no units.
func (s *SQLiteStore) ReplaceUnitConfigs(ctx context.Context, taskID string, units []*types.UnitConfig) error {
	now := nowMillis()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM task_unit_config WHERE task_id = ?`, taskID); err != nil {
			return fmt.Errorf("clear unit configs: %w", err)
		}
		for _, u := range units {
			createdAt := u.CreatedAt
			if createdAt == 0 {
				createdAt = now
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO task_unit_config (task_id, unit_name, unit_type, search_pattern, created_at)
				VALUES (?, ?, ?, ?, ?)`,
				taskID, u.UnitName, string(u.UnitType), u.SearchPattern, createdAt); err != nil {
				return fmt.Errorf("insert unit config %s: %w", u.UnitName, err)
			}
		}
		return nil
	})
}

// ListUnitConfigs returns the task's unit configs in creation order.
func (s *SQLiteStore) ListUnitConfigs(ctx context.Context, taskID string) ([]*types.UnitConfig, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, unit_name, unit_type, search_pattern, created_at
		FROM task_unit_config WHERE task_id = ? ORDER BY rowid`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list unit configs: %w", err)
	}
	defer rows.Close()

	var out []*types.UnitConfig
	for rows.Next() {
		var u types.UnitConfig
		var unitType string
		if err := rows.Scan(&u.TaskID, &u.UnitName, &unitType, &u.SearchPattern, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.UnitType = types.UnitType(unitType)
		out = append(out, &u)
	}
	return out, rows.Err()
}

// InitRuntimes reconciles runtime rows with the task's current config set:
//   - a config row without a runtime gets a fresh pending runtime
//   - existing pending/failed runtimes are preserved (progress intact)
//   - running runtimes are rewritten to pending (crashed mid-run)
//   - runtime rows whose unit is no longer configured are deleted
func (s *SQLiteStore) InitRuntimes(ctx context.Context, taskID string) error {
	now := nowMillis()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM task_unit_runtime
			WHERE task_id = ? AND unit_name NOT IN (
				SELECT unit_name FROM task_unit_config WHERE task_id = ?
			)`, taskID, taskID); err != nil {
			return fmt.Errorf("delete orphan runtimes: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE task_unit_runtime SET status = 'pending', updated_at = ?
			WHERE task_id = ? AND status = 'running'`, now, taskID); err != nil {
			return fmt.Errorf("reset crashed runtimes: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO task_unit_runtime (task_id, unit_name, status, updated_at)
			SELECT c.task_id, c.unit_name, 'pending', ?
			FROM task_unit_config c
			WHERE c.task_id = ?
			  AND NOT EXISTS (
				SELECT 1 FROM task_unit_runtime r
				WHERE r.task_id = c.task_id AND r.unit_name = c.unit_name
			  )`, now, taskID); err != nil {
			return fmt.Errorf("create pending runtimes: %w", err)
		}
		return nil
	})
}

// ListRuntimes returns the task's runtime rows in config order.
func (s *SQLiteStore) ListRuntimes(ctx context.Context, taskID string) ([]*types.UnitRuntime, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.task_id, r.unit_name, r.status, r.total_records, r.processed_records,
		       r.error_message, COALESCE(r.started_at, 0), r.last_processed_batch, r.updated_at
		FROM task_unit_runtime r
		LEFT JOIN task_unit_config c ON c.task_id = r.task_id AND c.unit_name = r.unit_name
		WHERE r.task_id = ? ORDER BY c.rowid`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list runtimes: %w", err)
	}
	defer rows.Close()

	var out []*types.UnitRuntime
	for rows.Next() {
		r, err := scanRuntime(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRuntime loads one runtime row.
func (s *SQLiteStore) GetRuntime(ctx context.Context, taskID, unitName string) (*types.UnitRuntime, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT task_id, unit_name, status, total_records, processed_records,
		       error_message, COALESCE(started_at, 0), last_processed_batch, updated_at
		FROM task_unit_runtime WHERE task_id = ? AND unit_name = ?`, taskID, unitName)
	r, err := scanRuntime(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("runtime %s/%s: %w", taskID, unitName, storage.ErrNotFound)
	}
	return r, err
}

// TransitionUnit is the durable CAS that guards the unit state machine.
// The update applies only when the current status is one of from; the
// boolean result reports whether the transition took effect.
func (s *SQLiteStore) TransitionUnit(ctx context.Context, taskID, unitName string, from []types.UnitStatus, to types.UnitStatus) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("transition for %s/%s: empty from set", taskID, unitName)
	}
	placeholders := strings.Repeat("?,", len(from))
	placeholders = placeholders[:len(placeholders)-1]

	now := nowMillis()
	args := []any{string(to), now}
	// Entering running stamps started_at with the transition time (bound
	// explicitly: in an UPDATE the right-hand side reads the pre-update
	// row) and clears any stale error.
	clause := ""
	if to == types.UnitRunning {
		clause = ", started_at = COALESCE(started_at, ?), error_message = ''"
		args = append(args, now)
	}
	query := fmt.Sprintf(`
		UPDATE task_unit_runtime SET status = ?, updated_at = ?%s
		WHERE task_id = ? AND unit_name = ? AND status IN (%s)`,
		clause, placeholders)
	args = append(args, taskID, unitName)
	for _, f := range from {
		args = append(args, string(f))
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("transition %s/%s to %s: %w", taskID, unitName, to, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// UpdateUnitProgress is an idempotent point update of the record counters.
func (s *SQLiteStore) UpdateUnitProgress(ctx context.Context, taskID, unitName string, processed, total int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE task_unit_runtime SET processed_records = ?, total_records = ?, updated_at = ?
		WHERE task_id = ? AND unit_name = ?`,
		processed, total, nowMillis(), taskID, unitName)
	if err != nil {
		return fmt.Errorf("update progress %s/%s: %w", taskID, unitName, err)
	}
	return nil
}

// UpdateUnitBatchCursor persists the last fully committed batch index, used
// by resumable readers.
func (s *SQLiteStore) UpdateUnitBatchCursor(ctx context.Context, taskID, unitName string, batch int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE task_unit_runtime SET last_processed_batch = ?, updated_at = ?
		WHERE task_id = ? AND unit_name = ?`,
		batch, nowMillis(), taskID, unitName)
	if err != nil {
		return fmt.Errorf("update batch cursor %s/%s: %w", taskID, unitName, err)
	}
	return nil
}

// SetUnitError records a trimmed failure message on the runtime row.
func (s *SQLiteStore) SetUnitError(ctx context.Context, taskID, unitName, message string) error {
	if len(message) > maxErrorMessage {
		message = message[:maxErrorMessage]
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE task_unit_runtime SET error_message = ?, updated_at = ?
		WHERE task_id = ? AND unit_name = ?`,
		message, nowMillis(), taskID, unitName)
	if err != nil {
		return fmt.Errorf("set unit error %s/%s: %w", taskID, unitName, err)
	}
	return nil
}

// ResetFailedUnits transitions every failed unit back to pending, clearing
// the error but preserving history. Returns the number of units reset.
func (s *SQLiteStore) ResetFailedUnits(ctx context.Context, taskID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE task_unit_runtime SET status = 'pending', error_message = '', updated_at = ?
		WHERE task_id = ? AND status = 'failed'`, nowMillis(), taskID)
	if err != nil {
		return 0, fmt.Errorf("reset failed units: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func scanRuntime(row rowScanner) (*types.UnitRuntime, error) {
	var r types.UnitRuntime
	var status string
	if err := row.Scan(&r.TaskID, &r.UnitName, &status, &r.TotalRecords, &r.ProcessedRecords,
		&r.ErrorMessage, &r.StartedAt, &r.LastProcessedBatch, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Status = types.UnitStatus(status)
	return &r, nil
}
