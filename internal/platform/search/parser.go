package search

import (
	"strconv"
	"strings"

	"github.com/ehr/fhirsearch/internal/platform/fhir"
	"github.com/ehr/fhirsearch/internal/platform/searchparam"
)

// Parser defaults.
const (
	DefaultCount         = 10
	DefaultMaxCount      = 1000
	DefaultMaxChainDepth = 8
)

// Parser turns query parameters into a validated Query.
type Parser struct {
	Registry      *searchparam.Registry
	Base          string
	DefaultCount  int
	MaxCount      int
	MaxChainDepth int
}

func (p *Parser) defaultCount() int {
	if p.DefaultCount > 0 {
		return p.DefaultCount
	}
	return DefaultCount
}

func (p *Parser) maxCount() int {
	if p.MaxCount > 0 {
		return p.MaxCount
	}
	return DefaultMaxCount
}

func (p *Parser) maxDepth() int {
	if p.MaxChainDepth > 0 {
		return p.MaxChainDepth
	}
	return DefaultMaxChainDepth
}

// parseState carries the per-call parse context.
type parseState struct {
	*Parser
	q      *Query
	strict bool
}

// lenient records msg as a warning, or returns err under strict handling.
func (s *parseState) lenient(err *Error) error {
	if s.strict || err.Msg == msgBareBackslash {
		return err
	}
	s.q.Warnings = append(s.q.Warnings, err.Msg)
	return nil
}

// Parse validates params against resourceType ("" for a system search).
func (p *Parser) Parse(resourceType string, params Params, handling fhir.HandlingPreference) (*Query, error) {
	s := &parseState{
		Parser: p,
		q:      &Query{ResourceType: resourceType, Count: p.defaultCount(), Page: 1, Total: TotalAccurate},
		strict: handling == fhir.HandlingStrict,
	}
	q := s.q

	if resourceType != "" && !p.Registry.IsResourceType(resourceType) {
		return nil, resolutionError(msgInvalidType, resourceType)
	}

	for _, kv := range params {
		if isHas(kv.Key) {
			if _, _, err := splitHas(kv.Key); err != nil {
				return nil, err
			}
			if resourceType == "" {
				return nil, resolutionError(msgHasSystem)
			}
		}
	}

	includes := make(map[int][]Inclusion)
	for i, kv := range params {
		code, mod := splitModifierKey(kv.Key)
		if code != "_include" && code != "_revinclude" {
			continue
		}
		iterate := mod == "iterate" || mod == "recurse"
		if mod != "" && !iterate {
			if err := s.lenient(parseError(msgUndefinedModifier, mod)); err != nil {
				return nil, err
			}
			continue
		}
		incs, err := s.parseInclusion(kv.Value, code == "_revinclude", iterate)
		if err != nil {
			return nil, err
		}
		includes[i] = incs
	}
	if len(includes) > 0 {
		if _, ok := params.Get("_sort"); ok {
			return nil, parseError(msgSortInclude)
		}
		if v, _ := params.Get("_summary"); v == string(SummaryText) {
			return nil, parseError(msgSummaryTextInclude)
		}
		if resourceType == "" {
			return nil, parseError(msgSystemInclude)
		}
	}

	if v, ok := params.Get("_type"); ok {
		if err := s.parseTypes(v); err != nil {
			return nil, err
		}
	}

	var sortValue string
	for i, kv := range params {
		code, _ := splitModifierKey(kv.Key)
		switch {
		case isHas(kv.Key):
			f, err := s.parseHas(resourceType, kv.Key, kv.Value)
			if err != nil {
				return nil, err
			}
			q.Filters = append(q.Filters, f)
		case code == "_include" || code == "_revinclude":
			incs, ok := includes[i]
			if !ok {
				continue
			}
			for _, inc := range incs {
				if inc.Reverse {
					q.RevIncludes = append(q.RevIncludes, inc)
				} else {
					q.Includes = append(q.Includes, inc)
				}
			}
		case searchparam.IsResultParameter(code):
			applied, err := s.parseResultParam(kv)
			if err != nil {
				return nil, err
			}
			if !applied {
				continue
			}
			if code == "_sort" {
				sortValue = kv.Value
			}
			if code == "_count" || code == "_page" {
				continue
			}
		case strings.Contains(kv.Key, "."):
			f, err := s.parseChain(resourceType, kv.Key, kv.Value, s.maxDepth())
			if err != nil {
				return nil, err
			}
			q.Filters = append(q.Filters, f)
		default:
			leaf, err := s.parseLeaf(resourceType, kv.Key, kv.Value)
			if err != nil {
				se, ok := AsError(err)
				if !ok {
					return nil, err
				}
				if err := s.lenient(se); err != nil {
					return nil, err
				}
				continue
			}
			q.Filters = append(q.Filters, leaf)
		}
		q.Effective = append(q.Effective, kv)
	}

	if sortValue != "" {
		keys, err := s.parseSort(sortValue)
		if err != nil {
			return nil, err
		}
		q.Sort = keys
		q.Effective = withSort(q.Effective, keys)
	}
	return q, nil
}

// withSort replaces the _sort parameters of effective with one that lists
// only the applied keys, so links never carry a dropped key.
func withSort(effective Params, keys []SortKey) Params {
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		if k.Descending {
			parts = append(parts, "-"+k.Code)
		} else {
			parts = append(parts, k.Code)
		}
	}
	out := make(Params, 0, len(effective))
	placed := false
	for _, kv := range effective {
		if code, _ := splitModifierKey(kv.Key); code == "_sort" {
			if !placed && len(parts) > 0 {
				out = append(out, Param{Key: "_sort", Value: strings.Join(parts, ",")})
				placed = true
			}
			continue
		}
		out = append(out, kv)
	}
	return out
}

// parseResultParam applies one result parameter. It reports false when a
// lenient error dropped the parameter.
func (s *parseState) parseResultParam(kv Param) (bool, error) {
	q := s.q
	code, _ := splitModifierKey(kv.Key)
	v := strings.TrimSpace(kv.Value)
	switch code {
	case "_count":
		n, err := strconv.Atoi(v)
		if err != nil {
			return false, s.lenient(parseError(msgInvalidValue, v, code, "number"))
		}
		if n < 0 {
			return false, parseError(msgCountNegative)
		}
		if n > s.maxCount() {
			n = s.maxCount()
		}
		q.Count = n
		if n == 0 {
			q.Summary = SummaryCount
		}
	case "_page":
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return false, parseError(msgPageInvalid)
		}
		q.Page = n
	case "_total":
		switch TotalMode(v) {
		case TotalNone, TotalEstimate, TotalAccurate:
			q.Total = TotalMode(v)
		default:
			return false, s.lenient(parseError(msgTotalInvalid))
		}
	case "_summary":
		switch SummaryMode(v) {
		case SummaryTrue, SummaryText, SummaryData, SummaryCount:
			if q.Summary != SummaryCount {
				q.Summary = SummaryMode(v)
			}
		case SummaryFalse:
		default:
			return false, s.lenient(parseError(msgSummaryInvalid))
		}
	case "_elements":
		for _, e := range strings.Split(v, ",") {
			if e = strings.TrimSpace(e); e != "" {
				q.Elements = append(q.Elements, e)
			}
		}
	case "_type", "_sort":
		// parsed separately; kept for links
	case "_format", "_pretty":
		// JSON is the only format; kept for links
	default:
		return false, s.lenient(parseError("Search result parameter '%s' is not supported", code))
	}
	return true, nil
}

func (s *parseState) parseTypes(value string) error {
	for _, t := range strings.Split(value, ",") {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if !s.Registry.IsResourceType(t) {
			return parseError(msgTypeInvalid, t)
		}
		s.q.Types = append(s.q.Types, t)
	}
	return nil
}

func (s *parseState) parseSort(value string) ([]SortKey, error) {
	var keys []SortKey
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key := SortKey{Code: strings.TrimPrefix(part, "-"), Descending: strings.HasPrefix(part, "-")}
		def, err := s.lookup(s.q.ResourceType, key.Code)
		if err != nil {
			if err := s.lenient(err); err != nil {
				return nil, err
			}
			continue
		}
		key.Param = def
		keys = append(keys, key)
	}
	return keys, nil
}

// lookup resolves code on resourceType, or for a system search on every
// type in _type (or the common parameters when _type is absent).
func (s *parseState) lookup(resourceType, code string) (*searchparam.Definition, *Error) {
	if searchparam.IsResultParameter(code) {
		return nil, resolutionError(msgParamNotFound, code, displayType(resourceType))
	}
	if resourceType != "" {
		def, ok := s.Registry.Lookup(resourceType, code)
		if !ok {
			return nil, resolutionError(msgParamNotFound, code, resourceType)
		}
		return def, nil
	}
	if len(s.q.Types) == 0 {
		def, ok := s.Registry.Common(code)
		if !ok {
			return nil, resolutionError(msgParamNotFound, code, searchparam.ResourceBase)
		}
		return def, nil
	}
	var first *searchparam.Definition
	for _, t := range s.q.Types {
		def, ok := s.Registry.Lookup(t, code)
		if !ok || (first != nil && def.Type != first.Type) {
			return nil, resolutionError(msgSystemParam, code, s.q.Types)
		}
		if first == nil {
			first = def
		}
	}
	return first, nil
}

func displayType(resourceType string) string {
	if resourceType == "" {
		return searchparam.ResourceBase
	}
	return resourceType
}

// parseLeaf parses code[:modifier]=value on resourceType.
func (s *parseState) parseLeaf(resourceType, key, value string) (*Leaf, error) {
	code, mod := splitModifierKey(key)
	def, lerr := s.lookup(resourceType, code)
	if lerr != nil {
		return nil, lerr
	}
	leaf := &Leaf{ResourceType: resourceType, Code: code, Param: def}

	if mod != "" {
		if m, ok := searchparam.ParseModifier(mod); ok {
			if !def.Allows(m) {
				return nil, parseError(msgUnsupportedMod, def.Type, m)
			}
			leaf.Modifier = m
		} else if def.Type == searchparam.TypeReference && s.Registry.IsResourceType(mod) {
			if !def.HasTarget(mod) {
				return nil, resolutionError(msgModifierType, mod, code, displayType(resourceType))
			}
			leaf.Modifier = searchparam.ModifierType
			leaf.TypeModifier = mod
		} else {
			return nil, parseError(msgUndefinedModifier, mod)
		}
	}

	vp := valueParser{def: def, modifier: leaf.Modifier, typeModifier: leaf.TypeModifier, base: s.Base}
	values, err := vp.parseValues(value)
	if err != nil {
		return nil, err
	}
	leaf.Values = values
	return leaf, nil
}

// parseInclusion parses one _include or _revinclude value. `*` expands to
// every reference parameter of the join type.
func (s *parseState) parseInclusion(value string, reverse, iterate bool) ([]Inclusion, error) {
	parts := strings.Split(value, ":")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return nil, parseError(msgIncludeParts)
	}
	joinType, code := parts[0], parts[1]
	targetType := ""
	if len(parts) > 2 {
		targetType = parts[2]
	}
	rt := s.q.ResourceType
	system := rt == ""

	if !reverse && !iterate && !system && joinType != rt {
		return nil, resolutionError(msgIncludeJoinType)
	}
	if !s.Registry.IsResourceType(joinType) {
		if reverse {
			return nil, resolutionError(msgInvalidType, joinType)
		}
		return nil, resolutionError(msgIncludeJoinType)
	}
	if reverse && !iterate && !system && targetType != "" && targetType != rt {
		return nil, resolutionError(msgRevIncludeTarget)
	}

	var defs []*searchparam.Definition
	if code == "*" {
		defs = s.Registry.ReferenceParams(joinType)
	} else {
		def, ok := s.Registry.Lookup(joinType, code)
		if !ok {
			return nil, resolutionError(msgUndefinedInclusion, joinType+":"+code)
		}
		if def.Type != searchparam.TypeReference {
			return nil, resolutionError(msgInclusionType, def.Type, joinType+":"+code)
		}
		if targetType != "" && !def.HasTarget(targetType) {
			return nil, resolutionError(msgInclusionTarget)
		}
		if reverse && !iterate && !system && !def.HasTarget(rt) {
			return nil, resolutionError(msgRevIncludeTarget)
		}
		defs = append(defs, def)
	}

	var out []Inclusion
	for _, def := range defs {
		if code == "*" && targetType != "" && !def.HasTarget(targetType) {
			continue
		}
		if code == "*" && reverse && !iterate && !def.HasTarget(rt) {
			continue
		}
		out = append(out, Inclusion{
			JoinType:   joinType,
			Param:      def,
			TargetType: targetType,
			Reverse:    reverse,
			Iterate:    iterate,
		})
	}
	return out, nil
}

// splitModifierKey splits code:modifier at the first colon.
func splitModifierKey(key string) (code, modifier string) {
	code, modifier, _ = strings.Cut(key, ":")
	return code, modifier
}

func isHas(key string) bool {
	return key == "_has" || strings.HasPrefix(key, "_has:")
}
