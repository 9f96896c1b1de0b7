package search

import (
	"sort"

	"github.com/ehr/fhirsearch/internal/platform/fhir"
	"github.com/ehr/fhirsearch/internal/platform/searchparam"
)

// sortValue is the comparable projection of one parameter on one resource.
type sortValue struct {
	present bool
	num     float64
	str     string
}

func (a sortValue) less(b sortValue) bool {
	if a.num != b.num {
		return a.num < b.num
	}
	return a.str < b.str
}

func (e *evaluator) sortValue(r *fhir.Resource, key SortKey) sortValue {
	def := key.Param
	if d, ok := e.registry.Lookup(r.ResourceType, key.Code); ok {
		def = d
	}
	idx := e.index(r, def)
	switch def.Type {
	case searchparam.TypeDate:
		if len(idx.Dates) == 0 {
			return sortValue{}
		}
		d := idx.Dates[0]
		if key.Descending {
			for _, x := range idx.Dates {
				if x.End.After(d.End) {
					d = x
				}
			}
			return sortValue{present: true, num: float64(d.End.UnixNano())}
		}
		for _, x := range idx.Dates {
			if x.Start.Before(d.Start) {
				d = x
			}
		}
		return sortValue{present: true, num: float64(d.Start.UnixNano())}
	case searchparam.TypeNumber:
		if len(idx.Numbers) > 0 {
			return sortValue{present: true, num: idx.Numbers[0]}
		}
	case searchparam.TypeQuantity:
		if len(idx.Quantities) > 0 {
			return sortValue{present: true, num: idx.Quantities[0].Value}
		}
	case searchparam.TypeString:
		if len(idx.Strings) > 0 {
			return sortValue{present: true, str: normalizeString(idx.Strings[0])}
		}
	case searchparam.TypeToken:
		if len(idx.Tokens) > 0 {
			return sortValue{present: true, str: idx.Tokens[0].Code}
		}
	case searchparam.TypeURI:
		if len(idx.URIs) > 0 {
			return sortValue{present: true, str: idx.URIs[0]}
		}
	case searchparam.TypeReference:
		if len(idx.References) > 0 {
			return sortValue{present: true, str: idx.References[0].String()}
		}
	}
	return sortValue{}
}

// sortResources orders rs by keys. Without keys the order is
// lastUpdated, then type and id. Resources missing a key sort last in
// either direction.
func (e *evaluator) sortResources(rs []*fhir.Resource, keys []SortKey) {
	tiebreak := func(a, b *fhir.Resource) bool {
		if a.ResourceType != b.ResourceType {
			return a.ResourceType < b.ResourceType
		}
		return a.ID < b.ID
	}
	if len(keys) == 0 {
		sort.SliceStable(rs, func(i, j int) bool {
			a, b := rs[i], rs[j]
			if !a.LastUpdated.Equal(b.LastUpdated) {
				return a.LastUpdated.Before(b.LastUpdated)
			}
			return tiebreak(a, b)
		})
		return
	}

	values := make(map[*fhir.Resource][]sortValue, len(rs))
	for _, r := range rs {
		vs := make([]sortValue, len(keys))
		for i, k := range keys {
			vs[i] = e.sortValue(r, k)
		}
		values[r] = vs
	}
	sort.SliceStable(rs, func(i, j int) bool {
		a, b := values[rs[i]], values[rs[j]]
		for k, key := range keys {
			x, y := a[k], b[k]
			switch {
			case x.present != y.present:
				return x.present
			case !x.present:
				continue
			case x == y:
				continue
			case key.Descending:
				return y.less(x)
			default:
				return x.less(y)
			}
		}
		return tiebreak(rs[i], rs[j])
	})
}
