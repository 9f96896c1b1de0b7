package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/singleflight"

	"github.com/ehr/fhirsearch/internal/platform/fhir"
	"github.com/ehr/fhirsearch/internal/platform/store"
)

const versionColumns = `resource_type, id, version_id, last_updated, deleted, method, restored, body`

// ResourceStore is a store.Store backed by PostgreSQL. Each tenant has its
// own schema, created and migrated on first use.
type ResourceStore struct {
	pool          *pgxpool.Pool
	migrations    fs.FS
	defaultTenant string
	newID         func() string

	mu    sync.Mutex
	ready map[string]bool
	// migrating collapses concurrent first uses of one schema.
	migrating singleflight.Group
}

// NewResourceStore returns a store over pool. Requests without a tenant use
// defaultTenant.
func NewResourceStore(pool *pgxpool.Pool, migrations fs.FS, defaultTenant string) *ResourceStore {
	return &ResourceStore{
		pool:          pool,
		migrations:    migrations,
		defaultTenant: defaultTenant,
		newID:         uuid.NewString,
		ready:         make(map[string]bool),
	}
}

var _ store.Store = (*ResourceStore)(nil)

// table returns the qualified resource_versions table of the tenant in ctx,
// migrating the tenant schema the first time it is seen. Only requests for
// that tenant wait on the migration.
func (s *ResourceStore) table(ctx context.Context) (string, error) {
	tenant := store.TenantFromContext(ctx)
	if tenant == "" {
		tenant = s.defaultTenant
	}
	schema, err := SchemaName(tenant)
	if err != nil {
		return "", err
	}

	table := quote(schema) + ".resource_versions"
	if s.isReady(schema) {
		return table, nil
	}
	_, err, _ = s.migrating.Do(schema, func() (interface{}, error) {
		if s.isReady(schema) {
			return nil, nil
		}
		if err := CreateTenantSchema(ctx, s.pool, tenant, s.migrations); err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.ready[schema] = true
		s.mu.Unlock()
		return nil, nil
	})
	if err != nil {
		return "", err
	}
	return table, nil
}

func (s *ResourceStore) isReady(schema string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready[schema]
}

func scanVersion(row pgx.Row) (*fhir.Resource, error) {
	var (
		r    fhir.Resource
		body []byte
	)
	if err := row.Scan(&r.ResourceType, &r.ID, &r.VersionID, &r.LastUpdated, &r.Deleted, &r.Method, &r.Restored, &body); err != nil {
		return nil, err
	}
	r.LastUpdated = r.LastUpdated.UTC()
	if len(body) > 0 {
		if err := json.Unmarshal(body, &r.Body); err != nil {
			return nil, fmt.Errorf("decode %s: %w", r.Key(), err)
		}
	}
	return &r, nil
}

func collect(rows pgx.Rows) ([]*fhir.Resource, error) {
	defer rows.Close()
	var out []*fhir.Resource
	for rows.Next() {
		r, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// latest reads the newest version of one id, or nil when none exists.
func latest(ctx context.Context, tx pgx.Tx, table, resourceType, id string) (*fhir.Resource, error) {
	sql := fmt.Sprintf(`SELECT %s FROM %s WHERE resource_type = $1 AND id = $2 ORDER BY version_id DESC LIMIT 1`, versionColumns, table)
	r, err := scanVersion(tx.QueryRow(ctx, sql, resourceType, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

func (s *ResourceStore) Current(ctx context.Context, resourceType, id string) (*fhir.Resource, error) {
	table, err := s.table(ctx)
	if err != nil {
		return nil, err
	}
	r, err := scanVersion(s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE resource_type = $1 AND id = $2 ORDER BY version_id DESC LIMIT 1`, versionColumns, table),
		resourceType, id))
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, fmt.Errorf("%s/%s: %w", resourceType, id, store.ErrNotFound)
	case err != nil:
		return nil, fmt.Errorf("read %s/%s: %w", resourceType, id, err)
	case r.Deleted:
		return r, fmt.Errorf("%s/%s: %w", resourceType, id, store.ErrGone)
	}
	return r, nil
}

func (s *ResourceStore) Version(ctx context.Context, resourceType, id string, version int) (*fhir.Resource, error) {
	table, err := s.table(ctx)
	if err != nil {
		return nil, err
	}
	r, err := scanVersion(s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE resource_type = $1 AND id = $2 AND version_id = $3`, versionColumns, table),
		resourceType, id, version))
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, fmt.Errorf("%s/%s/_history/%d: %w", resourceType, id, version, store.ErrNotFound)
	case err != nil:
		return nil, fmt.Errorf("read %s/%s/_history/%d: %w", resourceType, id, version, err)
	case r.Deleted:
		return r, fmt.Errorf("%s/%s/_history/%d: %w", resourceType, id, version, store.ErrGone)
	}
	return r, nil
}

// Search loads the current versions of resourceType and filters them in
// process. Rows are fully read before match runs so the connection is
// released first.
func (s *ResourceStore) Search(ctx context.Context, resourceType string, match store.Predicate) ([]*fhir.Resource, error) {
	table, err := s.table(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT %[1]s FROM (
    SELECT DISTINCT ON (id) %[1]s FROM %[2]s WHERE resource_type = $1 ORDER BY id, version_id DESC
) cur WHERE NOT deleted ORDER BY id`, versionColumns, table), resourceType)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", resourceType, err)
	}
	current, err := collect(rows)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", resourceType, err)
	}
	if match == nil {
		return current, nil
	}

	out := current[:0]
	for _, r := range current {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ok, err := match(r)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *ResourceStore) History(ctx context.Context, resourceType, id string) ([]*fhir.Resource, error) {
	table, err := s.table(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE resource_type = $1 AND id = $2 ORDER BY version_id DESC`, versionColumns, table),
		resourceType, id)
	if err != nil {
		return nil, fmt.Errorf("history %s/%s: %w", resourceType, id, err)
	}
	out, err := collect(rows)
	if err != nil {
		return nil, fmt.Errorf("history %s/%s: %w", resourceType, id, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s/%s: %w", resourceType, id, store.ErrNotFound)
	}
	return out, nil
}

func (s *ResourceStore) TypeHistory(ctx context.Context, resourceType string) ([]*fhir.Resource, error) {
	table, err := s.table(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE resource_type = $1 ORDER BY last_updated DESC, id, version_id DESC`, versionColumns, table),
		resourceType)
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", resourceType, err)
	}
	out, err := collect(rows)
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", resourceType, err)
	}
	return out, nil
}

func (s *ResourceStore) Create(ctx context.Context, resourceType string, body map[string]interface{}) (*fhir.Resource, error) {
	id := s.newID()
	return s.write(ctx, resourceType, id, func(cur *fhir.Resource) (*fhir.Resource, error) {
		if cur != nil {
			return nil, fmt.Errorf("%s/%s: %w", resourceType, id, store.ErrVersionConflict)
		}
		return &fhir.Resource{Method: fhir.MethodPost, Body: body}, nil
	})
}

func (s *ResourceStore) Update(ctx context.Context, resourceType, id string, body map[string]interface{}, ifMatch int) (*fhir.Resource, error) {
	return s.write(ctx, resourceType, id, func(cur *fhir.Resource) (*fhir.Resource, error) {
		if ifMatch > 0 && (cur == nil || cur.VersionID != ifMatch) {
			return nil, fmt.Errorf("%s/%s: expected version %d: %w", resourceType, id, ifMatch, store.ErrVersionConflict)
		}
		return &fhir.Resource{Method: fhir.MethodPut, Body: body, Restored: cur != nil && cur.Deleted}, nil
	})
}

func (s *ResourceStore) Delete(ctx context.Context, resourceType, id string) (*fhir.Resource, error) {
	return s.write(ctx, resourceType, id, func(cur *fhir.Resource) (*fhir.Resource, error) {
		if cur == nil {
			return nil, fmt.Errorf("%s/%s: %w", resourceType, id, store.ErrNotFound)
		}
		if cur.Deleted {
			return cur, nil
		}
		return &fhir.Resource{Method: fhir.MethodDelete, Deleted: true}, nil
	})
}

// write appends the version returned by next inside a transaction that
// holds an advisory lock on the id. When next returns the current version
// nothing is written.
func (s *ResourceStore) write(ctx context.Context, resourceType, id string, next func(cur *fhir.Resource) (*fhir.Resource, error)) (*fhir.Resource, error) {
	table, err := s.table(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, table+"/"+resourceType+"/"+id); err != nil {
		return nil, fmt.Errorf("lock %s/%s: %w", resourceType, id, err)
	}
	cur, err := latest(ctx, tx, table, resourceType, id)
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", resourceType, id, err)
	}
	v, err := next(cur)
	if err != nil {
		return nil, err
	}
	if v == cur {
		return cur, nil
	}

	v.ResourceType = resourceType
	v.ID = id
	v.VersionID = 1
	// Postgres keeps microseconds; truncating keeps the returned value
	// equal to what a later read sees.
	v.LastUpdated = time.Now().UTC().Truncate(time.Microsecond)
	if cur != nil {
		v.VersionID = cur.VersionID + 1
		if !v.LastUpdated.After(cur.LastUpdated) {
			v.LastUpdated = cur.LastUpdated.Add(time.Microsecond)
		}
	}

	var data []byte
	if !v.Deleted {
		v.Body = (&fhir.Resource{Body: v.Body}).Copy().Body
		if v.Body == nil {
			v.Body = make(map[string]interface{})
		}
		v.Stamp()
		if data, err = json.Marshal(v.Body); err != nil {
			return nil, fmt.Errorf("encode %s: %w", v.Key(), err)
		}
	}

	if _, err := tx.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (%s) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, table, versionColumns),
		v.ResourceType, v.ID, v.VersionID, v.LastUpdated, v.Deleted, v.Method, v.Restored, data,
	); err != nil {
		return nil, fmt.Errorf("insert %s: %w", v.Location(), err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit %s: %w", v.Location(), err)
	}
	return v, nil
}

func (s *ResourceStore) ResourceTypes(ctx context.Context) ([]string, error) {
	table, err := s.table(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT DISTINCT resource_type FROM %s ORDER BY resource_type`, table))
	if err != nil {
		return nil, fmt.Errorf("list resource types: %w", err)
	}
	types, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list resource types: %w", err)
	}
	return types, nil
}
