package mysql

import (
	"context"
	"fmt"

	"github.com/syncwave/syncwave/internal/types"
)

// systemSchemas are never offered as sync sources.
var systemSchemas = map[string]bool{
	"information_schema": true,
	"performance_schema": true,
	"mysql":              true,
	"sys":                true,
}

// Catalog answers browse queries against one relational endpoint.
type Catalog struct {
	ds *types.Datasource
}

// NewCatalog builds a catalog for ds. The password on ds must already be
// decrypted.
func NewCatalog(ds *types.Datasource) *Catalog {
	return &Catalog{ds: ds}
}

// Ping opens an authenticated connection and round-trips it.
func (c *Catalog) Ping(ctx context.Context) error {
	db, err := openPool(c.ds, "")
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping %s:%d: %w", c.ds.Host, c.ds.Port, err)
	}
	return nil
}

// ListDatabases returns user schemas on the endpoint.
func (c *Catalog) ListDatabases(ctx context.Context) ([]string, error) {
	db, err := openPool(c.ds, "")
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, "SHOW DATABASES")
	if err != nil {
		return nil, fmt.Errorf("list databases: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if !systemSchemas[name] {
			out = append(out, name)
		}
	}
	return out, rows.Err()
}

// ListTables returns the base tables of one database.
func (c *Catalog) ListTables(ctx context.Context, database string) ([]string, error) {
	db, err := openPool(c.ds, "")
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `
		SELECT TABLE_NAME FROM information_schema.TABLES
		WHERE TABLE_SCHEMA = ? AND TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_NAME`, database)
	if err != nil {
		return nil, fmt.Errorf("list tables in %s: %w", database, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}
