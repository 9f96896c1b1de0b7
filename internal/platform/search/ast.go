package search

import (
	"github.com/ehr/fhirsearch/internal/platform/reference"
	"github.com/ehr/fhirsearch/internal/platform/searchparam"
)

// Filter is one AND-ed criterion of a query. The set of implementations is
// closed: *Leaf, *Chain, *Has and *Compartment.
type Filter interface {
	filter()
}

// Leaf tests a parameter of the resource under evaluation against an
// OR-list of values.
type Leaf struct {
	// ResourceType is "" for system searches, where the definition is
	// looked up per type at evaluation time.
	ResourceType string
	Code         string
	Param        *searchparam.Definition
	Modifier     searchparam.Modifier
	// TypeModifier is the resource type of a :[Type] modifier.
	TypeModifier string
	Values       []Value
}

// Hop is one reference traversal. Param is defined on ResourceType and
// points at TargetType.
type Hop struct {
	ResourceType string
	Param        *searchparam.Definition
	TargetType   string
}

// Chain is a forward traversal: the resource matches when Hop.Param points
// at a TargetType resource satisfying Next.
type Chain struct {
	Hop  Hop
	Next Filter
}

// Has is a reverse traversal: the resource (of Hop.TargetType) matches when
// some Hop.ResourceType resource satisfying Next points at it through
// Hop.Param.
type Has struct {
	Hop  Hop
	Next Filter
}

// Compartment restricts results to resources that reference the
// compartment owner through any of Params.
type Compartment struct {
	Owner  reference.Query
	Params []*searchparam.Definition
}

func (*Leaf) filter()        {}
func (*Chain) filter()       {}
func (*Has) filter()         {}
func (*Compartment) filter() {}

// leafOf returns the innermost leaf of f, or nil.
func leafOf(f Filter) *Leaf {
	for {
		switch n := f.(type) {
		case *Leaf:
			return n
		case *Chain:
			f = n.Next
		case *Has:
			f = n.Next
		default:
			return nil
		}
	}
}

// withLeaf returns a copy of the traversal f whose innermost leaf is leaf.
func withLeaf(f Filter, leaf *Leaf) Filter {
	switch n := f.(type) {
	case *Leaf:
		return leaf
	case *Chain:
		return &Chain{Hop: n.Hop, Next: withLeaf(n.Next, leaf)}
	case *Has:
		return &Has{Hop: n.Hop, Next: withLeaf(n.Next, leaf)}
	default:
		return f
	}
}

// Inclusion is one parsed _include or _revinclude value.
type Inclusion struct {
	JoinType   string
	Param      *searchparam.Definition
	TargetType string
	Reverse    bool
	Iterate    bool
}

// SortKey is one _sort component.
type SortKey struct {
	Code       string
	Param      *searchparam.Definition
	Descending bool
}

// TotalMode is the _total setting.
type TotalMode string

const (
	TotalNone     TotalMode = "none"
	TotalEstimate TotalMode = "estimate"
	TotalAccurate TotalMode = "accurate"
)

// SummaryMode is the _summary setting.
type SummaryMode string

const (
	SummaryNone  SummaryMode = ""
	SummaryTrue  SummaryMode = "true"
	SummaryFalse SummaryMode = "false"
	SummaryText  SummaryMode = "text"
	SummaryData  SummaryMode = "data"
	SummaryCount SummaryMode = "count"
)

// Query is a parsed and validated search.
type Query struct {
	// ResourceType is "" for a system search.
	ResourceType string
	// Types restricts a system search (_type).
	Types       []string
	Filters     []Filter
	Includes    []Inclusion
	RevIncludes []Inclusion
	Sort        []SortKey
	Count       int
	Page        int
	Total       TotalMode
	Summary     SummaryMode
	Elements    []string
	Warnings    []string
	// Effective lists the parameters that were applied, in request order,
	// without _count and _page.
	Effective Params
}

// HasIncludes reports whether any _include or _revinclude was given.
func (q *Query) HasIncludes() bool {
	return len(q.Includes) > 0 || len(q.RevIncludes) > 0
}
