package search

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/ehr/fhirsearch/internal/platform/fhir"
	"github.com/ehr/fhirsearch/internal/platform/reference"
	"github.com/ehr/fhirsearch/internal/platform/searchparam"
	"github.com/ehr/fhirsearch/internal/platform/store"
)

// DefaultIndexCacheSize bounds the extracted-index cache.
const DefaultIndexCacheSize = 65536

// maxBranches bounds concurrent OR branches of one chain.
const maxBranches = 8

type indexKey struct {
	tenant  string
	key     string
	version int
	def     *searchparam.Definition
}

// IndexCache memoizes extracted parameter values. Versions are immutable,
// so entries never go stale.
type IndexCache struct {
	cache *lru.Cache[indexKey, searchparam.Index]
}

// NewIndexCache returns a cache holding up to size entries.
func NewIndexCache(size int) (*IndexCache, error) {
	if size <= 0 {
		size = DefaultIndexCacheSize
	}
	c, err := lru.New[indexKey, searchparam.Index](size)
	if err != nil {
		return nil, fmt.Errorf("index cache: %w", err)
	}
	return &IndexCache{cache: c}, nil
}

// Len returns the number of cached entries.
func (c *IndexCache) Len() int {
	return c.cache.Len()
}

// evaluator runs one query against one tenant's store snapshot.
type evaluator struct {
	store    store.Store
	registry *searchparam.Registry
	base     string
	cache    *IndexCache
	tenant   string
	metrics  *Metrics
}

func (e *evaluator) index(r *fhir.Resource, def *searchparam.Definition) searchparam.Index {
	if e.cache == nil {
		return searchparam.Extract(def, r.Body, e.base)
	}
	k := indexKey{tenant: e.tenant, key: r.Key(), version: r.VersionID, def: def}
	if idx, ok := e.cache.cache.Get(k); ok {
		e.metrics.cacheHit()
		return idx
	}
	e.metrics.cacheMiss()
	idx := searchparam.Extract(def, r.Body, e.base)
	e.cache.cache.Add(k, idx)
	return idx
}

type predicate func(*fhir.Resource) bool

// run returns the current resources of resourceType satisfying every
// filter. Nested traversals are resolved to key sets before the scan.
func (e *evaluator) run(ctx context.Context, resourceType string, filters []Filter) ([]*fhir.Resource, error) {
	preds := make([]predicate, 0, len(filters))
	for _, f := range filters {
		p, err := e.compile(ctx, resourceType, f)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	return e.store.Search(ctx, resourceType, func(r *fhir.Resource) (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		for _, p := range preds {
			if !p(r) {
				return false, nil
			}
		}
		return true, nil
	})
}

func (e *evaluator) compile(ctx context.Context, resourceType string, f Filter) (predicate, error) {
	switch n := f.(type) {
	case *Leaf:
		return e.compileLeaf(ctx, resourceType, n)
	case *Chain:
		targets, err := e.targets(ctx, n.Hop.TargetType, n.Next)
		if err != nil {
			return nil, err
		}
		def := n.Hop.Param
		return func(r *fhir.Resource) bool {
			return targets.referencedBy(e.index(r, def))
		}, nil
	case *Has:
		sources, err := e.run(ctx, n.Hop.ResourceType, []Filter{n.Next})
		if err != nil {
			return nil, err
		}
		refs := newReferenceSet()
		for _, src := range sources {
			refs.add(e.index(src, n.Hop.Param), n.Hop.TargetType)
		}
		if refs.empty() {
			return func(*fhir.Resource) bool { return false }, nil
		}
		return refs.contains, nil
	case *Compartment:
		defs := n.Params
		owner := n.Owner
		return func(r *fhir.Resource) bool {
			for _, def := range defs {
				if !def.AppliesTo(r.ResourceType) {
					continue
				}
				for _, d := range e.index(r, def).References {
					if owner.Matches(d) {
						return true
					}
				}
			}
			return false
		}, nil
	default:
		return nil, fmt.Errorf("unknown filter %T", f)
	}
}

func (e *evaluator) compileLeaf(ctx context.Context, resourceType string, leaf *Leaf) (predicate, error) {
	def := leaf.Param
	if leaf.ResourceType == "" {
		d, ok := e.registry.Lookup(resourceType, leaf.Code)
		if !ok {
			return func(*fhir.Resource) bool { return false }, nil
		}
		def = d
	}
	var codes valueSetCodes
	if leaf.Modifier == searchparam.ModifierIn || leaf.Modifier == searchparam.ModifierNotIn {
		var err error
		if codes, err = e.valueSets(ctx, leaf.Values); err != nil {
			return nil, err
		}
	}
	return func(r *fhir.Resource) bool {
		return matchLeafIndex(leaf, def, e.index(r, def), codes)
	}, nil
}

// targets evaluates the rest of a forward chain on resourceType. A leaf
// with several OR values is split into one branch per value; the
// branches run concurrently and their results are unioned.
func (e *evaluator) targets(ctx context.Context, resourceType string, next Filter) (*targetSet, error) {
	set := newTargetSet()
	leaf := leafOf(next)
	if leaf == nil || len(leaf.Values) < 2 || negated(leaf.Modifier) {
		found, err := e.run(ctx, resourceType, []Filter{next})
		if err != nil {
			return nil, err
		}
		set.add(found...)
		return set, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxBranches)
	var mu sync.Mutex
	for _, v := range leaf.Values {
		single := *leaf
		single.Values = []Value{v}
		branch := withLeaf(next, &single)
		g.Go(func() error {
			found, err := e.run(gctx, resourceType, []Filter{branch})
			if err != nil {
				return err
			}
			mu.Lock()
			set.add(found...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return set, nil
}

func negated(m searchparam.Modifier) bool {
	return m == searchparam.ModifierNot || m == searchparam.ModifierNotIn || m == searchparam.ModifierMissing
}

// valueSets resolves the value set urls of an :in or :not-in leaf to their
// member codes, read from ValueSet resources in the store.
func (e *evaluator) valueSets(ctx context.Context, values []Value) (valueSetCodes, error) {
	out := make(valueSetCodes, len(values))
	for _, v := range values {
		want := reference.ParseCanonical(v.Raw)
		found, err := e.store.Search(ctx, "ValueSet", func(r *fhir.Resource) (bool, error) {
			url, version := canonicalOf(r)
			return want.Matches(url, version), nil
		})
		if err != nil {
			return nil, fmt.Errorf("resolve value set %s: %w", v.Raw, err)
		}
		members := make(map[searchparam.Token]bool)
		for _, vs := range found {
			collectValueSet(vs.Body, members)
		}
		out[v.Raw] = members
	}
	return out, nil
}

func collectValueSet(body map[string]interface{}, members map[searchparam.Token]bool) {
	for _, inc := range searchparam.Select(body, "compose.include") {
		m, ok := inc.(map[string]interface{})
		if !ok {
			continue
		}
		system := fhir.StringAt(m, "system")
		for _, c := range searchparam.Select(m, "concept") {
			if cm, ok := c.(map[string]interface{}); ok {
				members[searchparam.Token{System: system, Code: fhir.StringAt(cm, "code")}] = true
			}
		}
	}
	var walk func(items []interface{})
	walk = func(items []interface{}) {
		for _, c := range items {
			cm, ok := c.(map[string]interface{})
			if !ok {
				continue
			}
			if code := fhir.StringAt(cm, "code"); code != "" {
				members[searchparam.Token{System: fhir.StringAt(cm, "system"), Code: code}] = true
			}
			walk(searchparam.Select(cm, "contains"))
		}
	}
	walk(searchparam.Select(body, "expansion.contains"))
}

// canonicalOf returns the canonical url and business version a
// definitional resource is published under.
func canonicalOf(r *fhir.Resource) (url, version string) {
	return fhir.StringAt(r.Body, "url"), fhir.StringAt(r.Body, "version")
}

// targetSet is the result of a chain level: the keys of satisfying
// resources with their current versions, and their canonical urls.
type targetSet struct {
	keys  map[string]string
	canon map[string]map[string]bool
}

func newTargetSet() *targetSet {
	return &targetSet{keys: make(map[string]string), canon: make(map[string]map[string]bool)}
}

func (t *targetSet) add(rs ...*fhir.Resource) {
	for _, r := range rs {
		t.keys[r.Key()] = r.VersionString()
		if url, version := canonicalOf(r); url != "" {
			if t.canon[url] == nil {
				t.canon[url] = make(map[string]bool)
			}
			t.canon[url][version] = true
		}
	}
}

// referencedBy reports whether idx points at a member of t.
func (t *targetSet) referencedBy(idx searchparam.Index) bool {
	for _, d := range idx.References {
		if !d.Kind.Local() {
			continue
		}
		if current, ok := t.keys[d.Key()]; ok && d.JoinsVersion(current) {
			return true
		}
	}
	for _, c := range idx.Canonicals {
		versions := t.canon[c.URL]
		if len(versions) == 0 {
			continue
		}
		if c.Version == "" || versions[c.Version] {
			return true
		}
	}
	return false
}

// referenceSet collects what a set of source resources point at, for the
// reverse direction.
type referenceSet struct {
	// keys maps Type/id to the versions named; "" is an unversioned
	// reference.
	keys  map[string]map[string]bool
	canon []reference.Canonical
}

func newReferenceSet() *referenceSet {
	return &referenceSet{keys: make(map[string]map[string]bool)}
}

func (s *referenceSet) add(idx searchparam.Index, targetType string) {
	for _, d := range idx.References {
		if !d.Kind.Local() || d.ResourceType != targetType {
			continue
		}
		k := d.Key()
		if s.keys[k] == nil {
			s.keys[k] = make(map[string]bool)
		}
		s.keys[k][d.Version] = true
	}
	s.canon = append(s.canon, idx.Canonicals...)
}

func (s *referenceSet) contains(r *fhir.Resource) bool {
	if versions, ok := s.keys[r.Key()]; ok && (versions[""] || versions[r.VersionString()]) {
		return true
	}
	if len(s.canon) == 0 {
		return false
	}
	url, version := canonicalOf(r)
	for _, c := range s.canon {
		if c.Matches(url, version) {
			return true
		}
	}
	return false
}

func (s *referenceSet) empty() bool {
	return len(s.keys) == 0 && len(s.canon) == 0
}
