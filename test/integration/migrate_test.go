//go:build integration

package integration

import (
	"context"
	"testing"

	"github.com/ehr/fhirsearch/internal/platform/db"
)

func TestMigrator_UpIsIdempotent(t *testing.T) {
	ctx := context.Background()
	tenant := uniqueTenantID("migrate")
	schema, err := db.SchemaName(tenant)
	if err != nil {
		t.Fatalf("schema name: %v", err)
	}
	t.Cleanup(func() {
		_, _ = globalPool.Exec(context.Background(), `DROP SCHEMA IF EXISTS "`+schema+`" CASCADE`)
	})

	m := db.NewMigrator(globalPool, db.EmbeddedMigrations())
	known, err := m.LoadMigrations()
	if err != nil {
		t.Fatalf("load migrations: %v", err)
	}
	if len(known) == 0 {
		t.Fatal("expected embedded migrations")
	}

	before, err := m.Status(ctx, schema)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, s := range before {
		if s.Applied {
			t.Errorf("migration %d applied before Up", s.Version)
		}
	}

	n, err := m.Up(ctx, schema)
	if err != nil {
		t.Fatalf("up: %v", err)
	}
	if n != len(known) {
		t.Errorf("expected %d migrations applied, got %d", len(known), n)
	}

	n, err = m.Up(ctx, schema)
	if err != nil {
		t.Fatalf("second up: %v", err)
	}
	if n != 0 {
		t.Errorf("second Up applied %d migrations", n)
	}

	after, err := m.Status(ctx, schema)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, s := range after {
		if !s.Applied || s.AppliedAt == nil {
			t.Errorf("migration %d not recorded as applied", s.Version)
		}
	}

	var exists bool
	err = globalPool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = $1 AND table_name = 'resource_versions')`,
		schema).Scan(&exists)
	if err != nil {
		t.Fatalf("query catalog: %v", err)
	}
	if !exists {
		t.Error("resource_versions table missing after migration")
	}
}

func TestCreateTenantSchema_RejectsInvalidTenant(t *testing.T) {
	err := db.CreateTenantSchema(context.Background(), globalPool, `bad"; DROP SCHEMA public;--`, db.EmbeddedMigrations())
	if err == nil {
		t.Fatal("expected an error for an invalid tenant id")
	}
}
