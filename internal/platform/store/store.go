// Package store defines the append-only resource version store the search
// engine reads from, and an in-memory implementation of it.
package store

import (
	"context"
	"errors"

	"github.com/ehr/fhirsearch/internal/platform/fhir"
)

var (
	// ErrNotFound is returned when no version of the requested id exists.
	ErrNotFound = errors.New("resource not found")
	// ErrGone is returned when the current version is a deletion.
	ErrGone = errors.New("resource deleted")
	// ErrVersionConflict is returned when an update names a version that is
	// not the current one.
	ErrVersionConflict = errors.New("version conflict")
)

// Predicate filters current versions during a scan.
type Predicate func(*fhir.Resource) (bool, error)

// Store is the version store contract. Every method is scoped to the tenant
// carried by ctx. Returned resources are shared and must not be mutated;
// use Resource.Copy before editing a body.
type Store interface {
	// Current returns the latest version. When that version is a deletion
	// it is returned together with ErrGone.
	Current(ctx context.Context, resourceType, id string) (*fhir.Resource, error)
	// Version returns one version. A deletion is returned with ErrGone.
	Version(ctx context.Context, resourceType, id string, version int) (*fhir.Resource, error)
	// Search returns the current, non-deleted versions of resourceType that
	// satisfy match, ordered by id.
	Search(ctx context.Context, resourceType string, match Predicate) ([]*fhir.Resource, error)
	// History returns every version of one id, newest first.
	History(ctx context.Context, resourceType, id string) ([]*fhir.Resource, error)
	// TypeHistory returns every version of every id of resourceType, newest
	// first.
	TypeHistory(ctx context.Context, resourceType string) ([]*fhir.Resource, error)
	// Create stores version 1 of a new resource under a server-assigned id.
	Create(ctx context.Context, resourceType string, body map[string]interface{}) (*fhir.Resource, error)
	// Update appends a version, creating the id when it does not exist and
	// restoring it when its current version is a deletion. ifMatch > 0
	// requires the current version to equal it.
	Update(ctx context.Context, resourceType, id string, body map[string]interface{}, ifMatch int) (*fhir.Resource, error)
	// Delete appends a deletion. Deleting a deleted resource is a no-op that
	// returns the existing deletion.
	Delete(ctx context.Context, resourceType, id string) (*fhir.Resource, error)
	// ResourceTypes lists the types with at least one stored version.
	ResourceTypes(ctx context.Context) ([]string, error)
}

type contextKey string

const tenantKey contextKey = "tenant_id"

// WithTenant scopes ctx to tenant.
func WithTenant(ctx context.Context, tenant string) context.Context {
	return context.WithValue(ctx, tenantKey, tenant)
}

// TenantFromContext returns the tenant set by WithTenant, or "".
func TenantFromContext(ctx context.Context) string {
	t, _ := ctx.Value(tenantKey).(string)
	return t
}

// Created reports whether v is the version that brought its id into
// existence, either the first version or a restore.
func Created(v *fhir.Resource) bool {
	return v.VersionID == 1 || v.Restored
}
