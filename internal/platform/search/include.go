package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/ehr/fhirsearch/internal/platform/fhir"
	"github.com/ehr/fhirsearch/internal/platform/reference"
	"github.com/ehr/fhirsearch/internal/platform/store"
)

// DefaultMaxIncludes caps the INCLUDE entries of one page.
const DefaultMaxIncludes = 1000

// maxIncludeRounds bounds :iterate expansion.
const maxIncludeRounds = 10

// expander resolves _include and _revinclude for one page of matches.
type expander struct {
	*evaluator
	limit    int
	seen     map[string]bool
	included []*fhir.Resource
}

// include returns the resources the page's matches pull in, de-duplicated
// against the matches and each other and ordered by type then id.
func (e *evaluator) include(ctx context.Context, q *Query, matches []*fhir.Resource, limit int) ([]*fhir.Resource, error) {
	if !q.HasIncludes() || len(matches) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = DefaultMaxIncludes
	}
	x := &expander{evaluator: e, limit: limit, seen: make(map[string]bool)}
	for _, r := range matches {
		x.seen[r.Key()] = true
	}

	frontier := matches
	for round := 0; round < maxIncludeRounds && len(frontier) > 0; round++ {
		var added []*fhir.Resource
		for _, inc := range q.Includes {
			if round > 0 && !inc.Iterate {
				continue
			}
			found, err := x.forward(ctx, inc, frontier)
			if err != nil {
				return nil, err
			}
			added = append(added, found...)
		}
		for _, inc := range q.RevIncludes {
			if round > 0 && !inc.Iterate {
				continue
			}
			found, err := x.reverse(ctx, inc, frontier)
			if err != nil {
				return nil, err
			}
			added = append(added, found...)
		}
		if len(x.included) > x.limit {
			return nil, limitError(msgIncludeLimit, x.limit)
		}
		frontier = added
	}

	sort.Slice(x.included, func(i, j int) bool {
		a, b := x.included[i], x.included[j]
		if a.ResourceType != b.ResourceType {
			return a.ResourceType < b.ResourceType
		}
		return a.ID < b.ID
	})
	return x.included, nil
}

// admit records r unless its Type/id is already present.
func (x *expander) admit(r *fhir.Resource) bool {
	if r == nil || r.Deleted || x.seen[r.Key()] {
		return false
	}
	x.seen[r.Key()] = true
	x.included = append(x.included, r)
	return true
}

// forward follows inc.Param out of every frontier resource of the join type.
func (x *expander) forward(ctx context.Context, inc Inclusion, frontier []*fhir.Resource) ([]*fhir.Resource, error) {
	var added []*fhir.Resource
	var canon []reference.Canonical
	for _, r := range frontier {
		if r.ResourceType != inc.JoinType {
			continue
		}
		idx := x.index(r, inc.Param)
		for _, d := range idx.References {
			if !d.Kind.Local() || (inc.TargetType != "" && d.ResourceType != inc.TargetType) {
				continue
			}
			if x.seen[d.Key()] {
				continue
			}
			target, err := x.fetch(ctx, d)
			if err != nil {
				return nil, err
			}
			if x.admit(target) {
				added = append(added, target)
			}
		}
		canon = append(canon, idx.Canonicals...)
	}
	if len(canon) == 0 {
		return added, nil
	}

	types := inc.Param.Targets
	if inc.TargetType != "" {
		types = []string{inc.TargetType}
	}
	for _, t := range types {
		found, err := x.store.Search(ctx, t, func(r *fhir.Resource) (bool, error) {
			url, version := canonicalOf(r)
			if url == "" {
				return false, nil
			}
			for _, c := range canon {
				if c.Matches(url, version) {
					return true, nil
				}
			}
			return false, nil
		})
		if err != nil {
			return nil, fmt.Errorf("include %s:%s: %w", inc.JoinType, inc.Param.Code, err)
		}
		for _, r := range found {
			if x.admit(r) {
				added = append(added, r)
			}
		}
	}
	return added, nil
}

// fetch loads the referenced version, or the current one for unversioned
// references. Dangling references yield nil.
func (x *expander) fetch(ctx context.Context, d reference.Descriptor) (*fhir.Resource, error) {
	var (
		r   *fhir.Resource
		err error
	)
	if v, convErr := strconv.Atoi(d.Version); d.Version != "" && convErr == nil {
		r, err = x.store.Version(ctx, d.ResourceType, d.ID, v)
	} else {
		r, err = x.store.Current(ctx, d.ResourceType, d.ID)
	}
	switch {
	case err == nil:
		return r, nil
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrGone):
		return nil, nil
	default:
		return nil, fmt.Errorf("include %s: %w", d.Relative(), err)
	}
}

// reverse finds join-type resources whose inc.Param points at a frontier
// resource.
func (x *expander) reverse(ctx context.Context, inc Inclusion, frontier []*fhir.Resource) ([]*fhir.Resource, error) {
	targets := newTargetSet()
	for _, r := range frontier {
		if inc.TargetType != "" && r.ResourceType != inc.TargetType {
			continue
		}
		if !inc.Param.HasTarget(r.ResourceType) {
			continue
		}
		targets.add(r)
	}
	if len(targets.keys) == 0 {
		return nil, nil
	}
	found, err := x.store.Search(ctx, inc.JoinType, func(r *fhir.Resource) (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		return !x.seen[r.Key()] && targets.referencedBy(x.index(r, inc.Param)), nil
	})
	if err != nil {
		return nil, fmt.Errorf("revinclude %s:%s: %w", inc.JoinType, inc.Param.Code, err)
	}
	var added []*fhir.Resource
	for _, r := range found {
		if x.admit(r) {
			added = append(added, r)
		}
	}
	return added, nil
}
