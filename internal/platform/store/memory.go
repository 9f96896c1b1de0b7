package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/fhirsearch/internal/platform/fhir"
)

// Memory is an append-only in-memory Store.
type Memory struct {
	mu      sync.RWMutex
	tenants map[string]map[string]map[string][]*fhir.Resource
	last    time.Time
	now     func() time.Time
	newID   func() string
}

// Option configures a Memory store.
type Option func(*Memory)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Memory) { m.now = now }
}

// WithIDGenerator replaces the uuid id generator.
func WithIDGenerator(gen func() string) Option {
	return func(m *Memory) { m.newID = gen }
}

// NewMemory returns an empty store.
func NewMemory(opts ...Option) *Memory {
	m := &Memory{
		tenants: make(map[string]map[string]map[string][]*fhir.Resource),
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Memory) types(ctx context.Context) map[string]map[string][]*fhir.Resource {
	return m.tenants[TenantFromContext(ctx)]
}

func (m *Memory) versions(ctx context.Context, resourceType, id string) []*fhir.Resource {
	return m.types(ctx)[resourceType][id]
}

func (m *Memory) Current(ctx context.Context, resourceType, id string) (*fhir.Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	vs := m.versions(ctx, resourceType, id)
	if len(vs) == 0 {
		return nil, fmt.Errorf("%s/%s: %w", resourceType, id, ErrNotFound)
	}
	cur := vs[len(vs)-1]
	if cur.Deleted {
		return cur, fmt.Errorf("%s/%s: %w", resourceType, id, ErrGone)
	}
	return cur, nil
}

func (m *Memory) Version(ctx context.Context, resourceType, id string, version int) (*fhir.Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	vs := m.versions(ctx, resourceType, id)
	if version < 1 || version > len(vs) {
		return nil, fmt.Errorf("%s/%s/_history/%d: %w", resourceType, id, version, ErrNotFound)
	}
	v := vs[version-1]
	if v.Deleted {
		return v, fmt.Errorf("%s/%s/_history/%d: %w", resourceType, id, version, ErrGone)
	}
	return v, nil
}

func (m *Memory) Search(ctx context.Context, resourceType string, match Predicate) ([]*fhir.Resource, error) {
	m.mu.RLock()
	ids := m.types(ctx)[resourceType]
	current := make([]*fhir.Resource, 0, len(ids))
	for _, vs := range ids {
		if cur := vs[len(vs)-1]; !cur.Deleted {
			current = append(current, cur)
		}
	}
	m.mu.RUnlock()

	sort.Slice(current, func(i, j int) bool { return current[i].ID < current[j].ID })

	out := current[:0]
	for _, r := range current {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if match != nil {
			ok, err := match(r)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *Memory) History(ctx context.Context, resourceType, id string) ([]*fhir.Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	vs := m.versions(ctx, resourceType, id)
	if len(vs) == 0 {
		return nil, fmt.Errorf("%s/%s: %w", resourceType, id, ErrNotFound)
	}
	out := make([]*fhir.Resource, len(vs))
	for i, v := range vs {
		out[len(vs)-1-i] = v
	}
	return out, nil
}

func (m *Memory) TypeHistory(ctx context.Context, resourceType string) ([]*fhir.Resource, error) {
	m.mu.RLock()
	var out []*fhir.Resource
	for _, vs := range m.types(ctx)[resourceType] {
		out = append(out, vs...)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastUpdated.Equal(out[j].LastUpdated) {
			return out[i].LastUpdated.After(out[j].LastUpdated)
		}
		if out[i].ID != out[j].ID {
			return out[i].ID < out[j].ID
		}
		return out[i].VersionID > out[j].VersionID
	})
	return out, nil
}

func (m *Memory) Create(ctx context.Context, resourceType string, body map[string]interface{}) (*fhir.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.newID()
	if len(m.versions(ctx, resourceType, id)) > 0 {
		return nil, fmt.Errorf("%s/%s: %w", resourceType, id, ErrVersionConflict)
	}
	return m.append(ctx, resourceType, id, body, fhir.MethodPost, false), nil
}

func (m *Memory) Update(ctx context.Context, resourceType, id string, body map[string]interface{}, ifMatch int) (*fhir.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	vs := m.versions(ctx, resourceType, id)
	if ifMatch > 0 && (len(vs) == 0 || vs[len(vs)-1].VersionID != ifMatch) {
		return nil, fmt.Errorf("%s/%s: expected version %d: %w", resourceType, id, ifMatch, ErrVersionConflict)
	}
	restored := len(vs) > 0 && vs[len(vs)-1].Deleted
	return m.append(ctx, resourceType, id, body, fhir.MethodPut, restored), nil
}

func (m *Memory) Delete(ctx context.Context, resourceType, id string) (*fhir.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	vs := m.versions(ctx, resourceType, id)
	if len(vs) == 0 {
		return nil, fmt.Errorf("%s/%s: %w", resourceType, id, ErrNotFound)
	}
	if cur := vs[len(vs)-1]; cur.Deleted {
		return cur, nil
	}
	return m.append(ctx, resourceType, id, nil, fhir.MethodDelete, false), nil
}

func (m *Memory) ResourceTypes(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []string
	for t := range m.types(ctx) {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}

// append must be called with mu held.
func (m *Memory) append(ctx context.Context, resourceType, id string, body map[string]interface{}, method string, restored bool) *fhir.Resource {
	tenant := TenantFromContext(ctx)
	types := m.tenants[tenant]
	if types == nil {
		types = make(map[string]map[string][]*fhir.Resource)
		m.tenants[tenant] = types
	}
	ids := types[resourceType]
	if ids == nil {
		ids = make(map[string][]*fhir.Resource)
		types[resourceType] = ids
	}

	v := &fhir.Resource{
		ResourceType: resourceType,
		ID:           id,
		VersionID:    len(ids[id]) + 1,
		LastUpdated:  m.tick(),
		Deleted:      method == fhir.MethodDelete,
		Method:       method,
		Restored:     restored,
	}
	if !v.Deleted {
		v.Body = (&fhir.Resource{Body: body}).Copy().Body
		if v.Body == nil {
			v.Body = make(map[string]interface{})
		}
		v.Stamp()
	}
	ids[id] = append(ids[id], v)
	return v
}

// tick returns a strictly increasing timestamp so lastUpdated orders
// versions even when the clock is coarse.
func (m *Memory) tick() time.Time {
	t := m.now().UTC()
	if !t.After(m.last) {
		t = m.last.Add(time.Microsecond)
	}
	m.last = t
	return t
}
