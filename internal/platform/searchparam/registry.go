package searchparam

import (
	"fmt"
	"sort"
)

// ResourceBase is the pseudo resource type whose parameters apply to every
// resource type (_id, _lastUpdated, ...).
const ResourceBase = "Resource"

// AnyTarget in a reference definition's Targets expands to every resource
// type known to the registry.
const AnyTarget = "Any"

// resultParameters control the result set rather than filter it. They are
// never valid as chain or reverse-chain leaves.
var resultParameters = map[string]bool{
	"_count":         true,
	"_page":          true,
	"_pageToken":     true,
	"_sort":          true,
	"_total":         true,
	"_include":       true,
	"_revinclude":    true,
	"_summary":       true,
	"_elements":      true,
	"_contained":     true,
	"_containedType": true,
	"_type":          true,
	"_format":        true,
	"_pretty":        true,
}

// IsResultParameter reports whether code is a search result parameter.
func IsResultParameter(code string) bool {
	return resultParameters[code]
}

// Registry is an immutable catalog of search parameters per resource type.
// It is safe for concurrent use; Extend returns a new snapshot.
type Registry struct {
	types  map[string]bool
	names  []string
	params map[string]map[string]*Definition
}

// Lookup returns the definition of code on resourceType, including the
// parameters common to every resource.
func (r *Registry) Lookup(resourceType, code string) (*Definition, bool) {
	if !r.types[resourceType] {
		return nil, false
	}
	if d, ok := r.params[resourceType][code]; ok {
		return d, true
	}
	d, ok := r.params[ResourceBase][code]
	return d, ok
}

// Common returns a parameter defined for every resource type.
func (r *Registry) Common(code string) (*Definition, bool) {
	d, ok := r.params[ResourceBase][code]
	return d, ok
}

// IsResourceType reports whether t is a known resource type.
func (r *Registry) IsResourceType(t string) bool {
	return r.types[t]
}

// ResourceTypes returns the known resource types in sorted order.
func (r *Registry) ResourceTypes() []string {
	return append([]string(nil), r.names...)
}

// Params returns every parameter valid on resourceType sorted by code.
func (r *Registry) Params(resourceType string) []*Definition {
	if !r.types[resourceType] {
		return nil
	}
	seen := make(map[string]*Definition)
	for code, d := range r.params[ResourceBase] {
		seen[code] = d
	}
	for code, d := range r.params[resourceType] {
		seen[code] = d
	}
	out := make([]*Definition, 0, len(seen))
	for _, d := range seen {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// ReferenceParams returns the reference parameters on resourceType sorted
// by code.
func (r *Registry) ReferenceParams(resourceType string) []*Definition {
	var out []*Definition
	for _, d := range r.Params(resourceType) {
		if d.Type == TypeReference {
			out = append(out, d)
		}
	}
	return out
}

// Extend returns a new registry with defs added to (or replacing entries of)
// r. r itself is unchanged.
func (r *Registry) Extend(defs []Definition) (*Registry, error) {
	b := &Builder{types: make(map[string]bool), params: make(map[string]map[string]*Definition)}
	for t := range r.types {
		b.types[t] = true
	}
	for rt, m := range r.params {
		b.params[rt] = make(map[string]*Definition, len(m))
		for code, d := range m {
			b.params[rt][code] = d
		}
	}
	for i := range defs {
		if err := b.put(&defs[i], true); err != nil {
			return nil, err
		}
	}
	return b.Build(), nil
}

// Builder assembles a Registry.
type Builder struct {
	types  map[string]bool
	params map[string]map[string]*Definition
}

// NewBuilder returns a builder that knows the given resource types.
func NewBuilder(resourceTypes ...string) *Builder {
	b := &Builder{types: make(map[string]bool), params: make(map[string]map[string]*Definition)}
	for _, t := range resourceTypes {
		b.types[t] = true
	}
	return b
}

// Add registers a definition. A code may be defined only once per type.
func (b *Builder) Add(def Definition) error {
	return b.put(&def, false)
}

// MustAdd is Add for static catalogs.
func (b *Builder) MustAdd(defs ...Definition) *Builder {
	for _, d := range defs {
		if err := b.Add(d); err != nil {
			panic(err)
		}
	}
	return b
}

func (b *Builder) put(def *Definition, replace bool) error {
	if def.Code == "" {
		return fmt.Errorf("search parameter without code")
	}
	if def.Type == 0 {
		return fmt.Errorf("search parameter %q has no type", def.Code)
	}
	if len(def.Base) == 0 {
		return fmt.Errorf("search parameter %q has no base resource type", def.Code)
	}
	if def.Type == TypeReference && len(def.Targets) == 0 {
		return fmt.Errorf("reference search parameter %q has no target types", def.Code)
	}
	if def.Type == TypeComposite && len(def.Components) < 2 {
		return fmt.Errorf("composite search parameter %q needs at least two components", def.Code)
	}
	d := def.clone()
	for _, base := range d.Base {
		if base != ResourceBase {
			b.types[base] = true
		}
		m := b.params[base]
		if m == nil {
			m = make(map[string]*Definition)
			b.params[base] = m
		}
		if _, dup := m[d.Code]; dup && !replace {
			return fmt.Errorf("search parameter %q already defined on %s", d.Code, base)
		}
		m[d.Code] = d
	}
	return nil
}

// Build freezes the builder into a Registry. AnyTarget entries are expanded
// to the full list of known resource types.
func (b *Builder) Build() *Registry {
	r := &Registry{
		types:  make(map[string]bool, len(b.types)),
		params: make(map[string]map[string]*Definition, len(b.params)),
	}
	for t := range b.types {
		r.types[t] = true
		r.names = append(r.names, t)
	}
	sort.Strings(r.names)

	expanded := make(map[*Definition]*Definition)
	for rt, m := range b.params {
		out := make(map[string]*Definition, len(m))
		for code, d := range m {
			if e, ok := expanded[d]; ok {
				out[code] = e
				continue
			}
			e := d
			if d.HasTarget(AnyTarget) {
				e = d.clone()
				e.Targets = append([]string(nil), r.names...)
			}
			expanded[d] = e
			out[code] = e
		}
		r.params[rt] = out
	}
	return r
}
