package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/syncwave/syncwave/internal/types"
)

// MarkSynced upserts the cross-task ledger row for (source_id, unit_name),
// bumping sync_count and last_synced_at. first_synced_at is set once and
// never moves.
func (s *SQLiteStore) MarkSynced(ctx context.Context, sourceID, unitName, taskID string) error {
	now := nowMillis()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO synced_indices (source_id, unit_name, first_synced_at, last_synced_at, sync_count, last_task_id)
		VALUES (?, ?, ?, ?, 1, ?)
		ON CONFLICT(source_id, unit_name) DO UPDATE SET
			last_synced_at = MAX(last_synced_at, excluded.last_synced_at),
			sync_count = sync_count + 1,
			last_task_id = excluded.last_task_id`,
		sourceID, unitName, now, now, taskID)
	if err != nil {
		return fmt.Errorf("mark synced %s/%s: %w", sourceID, unitName, err)
	}
	return nil
}

// IsSynced reports whether any task has ever copied this source unit.
func (s *SQLiteStore) IsSynced(ctx context.Context, sourceID, unitName string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM synced_indices WHERE source_id = ? AND unit_name = ?`,
		sourceID, unitName).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("check synced %s/%s: %w", sourceID, unitName, err)
	}
	return true, nil
}

// ListSynced returns the ledger rows for one source, most recently synced
// first.
func (s *SQLiteStore) ListSynced(ctx context.Context, sourceID string) ([]*types.SyncedIndex, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_id, unit_name, first_synced_at, last_synced_at, sync_count, last_task_id
		FROM synced_indices WHERE source_id = ? ORDER BY last_synced_at DESC, unit_name`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("list synced: %w", err)
	}
	defer rows.Close()

	var out []*types.SyncedIndex
	for rows.Next() {
		var si types.SyncedIndex
		if err := rows.Scan(&si.SourceID, &si.UnitName, &si.FirstSyncedAt,
			&si.LastSyncedAt, &si.SyncCount, &si.LastTaskID); err != nil {
			return nil, err
		}
		out = append(out, &si)
	}
	return out, rows.Err()
}

// ClearSynced removes one ledger entry; clearing an absent entry is a no-op.
func (s *SQLiteStore) ClearSynced(ctx context.Context, sourceID, unitName string) error {
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM synced_indices WHERE source_id = ? AND unit_name = ?`, sourceID, unitName); err != nil {
		return fmt.Errorf("clear synced %s/%s: %w", sourceID, unitName, err)
	}
	return nil
}

// ClearAllSynced removes every ledger entry for a source.
func (s *SQLiteStore) ClearAllSynced(ctx context.Context, sourceID string) error {
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM synced_indices WHERE source_id = ?`, sourceID); err != nil {
		return fmt.Errorf("clear all synced %s: %w", sourceID, err)
	}
	return nil
}
