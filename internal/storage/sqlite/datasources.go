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

// SaveDatasource inserts or replaces a datasource by id, preserving
// created_at on update.
func (s *SQLiteStore) SaveDatasource(ctx context.Context, ds *types.Datasource) error {
	now := time.Now().UTC()
	if ds.CreatedAt.IsZero() {
		ds.CreatedAt = now
	}
	ds.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO datasources (id, name, kind, host, port, username, password, default_database, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			kind = excluded.kind,
			host = excluded.host,
			port = excluded.port,
			username = excluded.username,
			password = excluded.password,
			default_database = excluded.default_database,
			updated_at = excluded.updated_at`,
		ds.ID, ds.Name, string(ds.Kind), ds.Host, ds.Port, ds.Username, ds.Password,
		ds.DefaultDatabase, ds.CreatedAt.Format(time.RFC3339), ds.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save datasource %s: %w", ds.ID, err)
	}
	return nil
}

// GetDatasource loads one datasource by id.
func (s *SQLiteStore) GetDatasource(ctx context.Context, id string) (*types.Datasource, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, kind, host, port, username, password, default_database, created_at, updated_at
		FROM datasources WHERE id = ?`, id)
	ds, err := scanDatasource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("datasource %s: %w", id, storage.ErrNotFound)
	}
	return ds, err
}

// ListDatasources returns all datasources, newest first.
func (s *SQLiteStore) ListDatasources(ctx context.Context) ([]*types.Datasource, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, kind, host, port, username, password, default_database, created_at, updated_at
		FROM datasources ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list datasources: %w", err)
	}
	defer rows.Close()

	var out []*types.Datasource
	for rows.Next() {
		ds, err := scanDatasource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ds)
	}
	return out, rows.Err()
}

// DeleteDatasource removes a datasource. It fails with ErrNotFound when the
// id is absent and ErrReferenced when a task still points at it.
func (s *SQLiteStore) DeleteDatasource(ctx context.Context, id string) error {
	var refs int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_tasks WHERE source_id = ? OR target_id = ?`, id, id).Scan(&refs); err != nil {
		return fmt.Errorf("check datasource references: %w", err)
	}
	if refs > 0 {
		return fmt.Errorf("datasource %s: %w", id, storage.ErrReferenced)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM datasources WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete datasource %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("datasource %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDatasource(row rowScanner) (*types.Datasource, error) {
	var ds types.Datasource
	var kind, createdAt, updatedAt string
	if err := row.Scan(&ds.ID, &ds.Name, &kind, &ds.Host, &ds.Port, &ds.Username,
		&ds.Password, &ds.DefaultDatabase, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	ds.Kind = types.DatasourceKind(kind)
	var err error
	if ds.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parse datasource created_at: %w", err)
	}
	if ds.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parse datasource updated_at: %w", err)
	}
	return &ds, nil
}
