package search

import (
	"strings"

	"github.com/ehr/fhirsearch/internal/platform/reference"
	"github.com/ehr/fhirsearch/internal/platform/searchparam"
)

// splitHas tokenizes _has:T1:p1[:_has:T2:p2...]:leaf. The leaf is either
// code[:modifier] or a forward chain.
func splitHas(key string) (pairs [][2]string, leaf string, err error) {
	tokens := strings.Split(key, ":")
	i := 0
	for i < len(tokens) && tokens[i] == "_has" {
		if len(tokens)-i < 4 || tokens[i+1] == "" || tokens[i+2] == "" {
			return nil, "", parseError(msgHasComponents)
		}
		pairs = append(pairs, [2]string{tokens[i+1], tokens[i+2]})
		i += 3
	}
	rest := tokens[i:]
	leaf = strings.Join(rest, ":")
	if leaf == "" || rest[0] == "" {
		return nil, "", parseError(msgHasComponents)
	}
	if !strings.Contains(leaf, ".") && len(rest) > 2 {
		return nil, "", parseError(msgHasComponents)
	}
	return pairs, leaf, nil
}

// parseHas builds nested Has nodes for a reverse chain on resourceType.
func (s *parseState) parseHas(resourceType, key, value string) (Filter, error) {
	pairs, leafKey, err := splitHas(key)
	if err != nil {
		return nil, err
	}
	if len(pairs) > s.maxDepth() {
		return nil, parseError(msgChainDepth, s.maxDepth())
	}

	current := resourceType
	hops := make([]Hop, 0, len(pairs))
	for _, pr := range pairs {
		joinType, code := pr[0], pr[1]
		if !s.Registry.IsResourceType(joinType) {
			return nil, resolutionError(msgHasType, joinType)
		}
		def, ok := s.Registry.Lookup(joinType, code)
		if !ok || searchparam.IsResultParameter(code) {
			return nil, resolutionError(msgParamNotFound, code, joinType)
		}
		if def.Type != searchparam.TypeReference {
			return nil, resolutionError(msgHasNotReference, code)
		}
		if !def.HasTarget(current) {
			return nil, resolutionError(msgHasTarget, code, current)
		}
		hops = append(hops, Hop{ResourceType: joinType, Param: def, TargetType: current})
		current = joinType
	}

	var next Filter
	if strings.Contains(leafKey, ".") {
		next, err = s.parseChain(current, leafKey, value, s.maxDepth()-len(hops))
	} else {
		next, err = s.parseChainLeaf(current, leafKey, value)
	}
	if err != nil {
		return nil, err
	}
	for i := len(hops) - 1; i >= 0; i-- {
		next = &Has{Hop: hops[i], Next: next}
	}
	return next, nil
}

// parseChain builds nested Chain nodes for p1[:T1].p2[:T2]...leaf[:mod].
// Every error is fatal regardless of handling.
func (s *parseState) parseChain(resourceType, key, value string, depth int) (Filter, error) {
	parts := strings.Split(key, ".")
	if len(parts)-1 > depth {
		return nil, parseError(msgChainDepth, s.maxDepth())
	}

	current := resourceType
	hops := make([]Hop, 0, len(parts)-1)
	for _, part := range parts[:len(parts)-1] {
		code, mod := splitModifierKey(part)
		def, lerr := s.lookup(current, code)
		if lerr != nil {
			return nil, lerr
		}
		if def.Type != searchparam.TypeReference {
			return nil, parseError(msgChainType, def.Type)
		}

		var target string
		switch {
		case mod != "":
			if !s.Registry.IsResourceType(mod) {
				return nil, parseError(msgChainModifier, mod)
			}
			if !def.HasTarget(mod) {
				return nil, resolutionError(msgModifierType, mod, code, displayType(current))
			}
			target = mod
		case len(def.Targets) > 1:
			return nil, resolutionError(msgNeedsTypeModifier, code)
		default:
			target = def.Targets[0]
		}
		hops = append(hops, Hop{ResourceType: current, Param: def, TargetType: target})
		current = target
	}

	leaf, err := s.parseChainLeaf(current, parts[len(parts)-1], value)
	if err != nil {
		return nil, err
	}
	var next Filter = leaf
	for i := len(hops) - 1; i >= 0; i-- {
		next = &Chain{Hop: hops[i], Next: next}
	}
	return next, nil
}

// parseChainLeaf parses the final parameter of a chain. A bare id on a
// reference with several target types is ambiguous there.
func (s *parseState) parseChainLeaf(resourceType, key, value string) (*Leaf, error) {
	leaf, err := s.parseLeaf(resourceType, key, value)
	if err != nil {
		return nil, err
	}
	def := leaf.Param
	if def.Type == searchparam.TypeReference && leaf.TypeModifier == "" && len(def.Targets) > 1 &&
		leaf.Modifier != searchparam.ModifierMissing && leaf.Modifier != searchparam.ModifierIdentifier {
		for _, v := range leaf.Values {
			if v.Ref.Kind == reference.QueryID {
				return nil, resolutionError(msgChainBareID, leaf.Code, v.Raw)
			}
		}
	}
	return leaf, nil
}
