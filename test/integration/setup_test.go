//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/fhirsearch/internal/platform/db"
	"github.com/ehr/fhirsearch/internal/platform/fhir"
	"github.com/ehr/fhirsearch/internal/platform/search"
	"github.com/ehr/fhirsearch/internal/platform/searchparam"
	"github.com/ehr/fhirsearch/internal/platform/store"
)

const testBase = "http://fhir.test/fhir"

// globalPool is shared by every test; each test works in its own tenant
// schema.
var globalPool *pgxpool.Pool

func TestMain(m *testing.M) {
	ctx := context.Background()

	connStr := os.Getenv("TEST_DATABASE_URL")
	cleanup := func() {}
	if connStr == "" {
		var err error
		connStr, cleanup, err = startPostgres(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start postgres: %v\n", err)
			os.Exit(1)
		}
	}

	pool, err := db.NewPool(ctx, connStr, 10, 1)
	if err != nil {
		cleanup()
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	globalPool = pool

	code := m.Run()
	pool.Close()
	cleanup()
	os.Exit(code)
}

// uniqueTenantID returns a tenant id no other test uses.
func uniqueTenantID(prefix string) string {
	short := strings.ReplaceAll(uuid.New().String()[:8], "-", "")
	return fmt.Sprintf("%s_%s", prefix, short)
}

// tenantContext scopes ctx to a fresh tenant and drops its schema when the
// test ends.
func tenantContext(t *testing.T, prefix string) context.Context {
	t.Helper()
	tenant := uniqueTenantID(prefix)
	t.Cleanup(func() {
		schema, _ := db.SchemaName(tenant)
		if _, err := globalPool.Exec(context.Background(), fmt.Sprintf(`DROP SCHEMA IF EXISTS %q CASCADE`, schema)); err != nil {
			t.Logf("warning: failed to drop schema %s: %v", schema, err)
		}
	})
	return store.WithTenant(context.Background(), tenant)
}

func newStore() *db.ResourceStore {
	return db.NewResourceStore(globalPool, db.EmbeddedMigrations(), "default")
}

func newEngine(st store.Store) *search.Engine {
	provider := searchparam.NewProvider(searchparam.Default(), "", time.Minute)
	return search.NewEngine(st, provider, search.Config{
		BaseURL:       testBase,
		DefaultCount:  10,
		MaxCount:      100,
		MaxIncludes:   100,
		MaxChainDepth: 4,
	})
}

func put(t *testing.T, ctx context.Context, st store.Store, resourceType, id, body string) *fhir.Resource {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(body), &m); err != nil {
		t.Fatalf("decode %s: %v", body, err)
	}
	v, err := st.Update(ctx, resourceType, id, m, 0)
	if err != nil {
		t.Fatalf("put %s/%s: %v", resourceType, id, err)
	}
	return v
}
