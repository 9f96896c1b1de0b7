package db

import (
	"context"
	"fmt"
	"io/fs"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"
)

var tenantIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// ValidTenantID reports whether id may name a tenant schema.
func ValidTenantID(id string) bool {
	return tenantIDPattern.MatchString(id)
}

// SchemaName returns the schema holding the data of tenant.
func SchemaName(tenant string) (string, error) {
	if !ValidTenantID(tenant) {
		return "", fmt.Errorf("invalid tenant identifier: %q", tenant)
	}
	return "tenant_" + tenant, nil
}

// CreateTenantSchema creates the tenant schema and applies every migration
// in fsys to it. A nil fsys only creates the schema.
func CreateTenantSchema(ctx context.Context, pool *pgxpool.Pool, tenant string, fsys fs.FS) error {
	schema, err := SchemaName(tenant)
	if err != nil {
		return err
	}
	if fsys == nil {
		if _, err := pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+quote(schema)); err != nil {
			return fmt.Errorf("create schema %s: %w", schema, err)
		}
		return nil
	}
	if _, err := NewMigrator(pool, fsys).Up(ctx, schema); err != nil {
		return fmt.Errorf("run migrations for %s: %w", schema, err)
	}
	return nil
}
