package search

import (
	"math"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/ehr/fhirsearch/internal/platform/reference"
	"github.com/ehr/fhirsearch/internal/platform/searchparam"
)

// normalizeString folds case and strips combining marks so "Müller"
// matches "muller".
func normalizeString(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// matchLeafIndex reports whether idx satisfies the OR-list of leaf. Value
// sets for :in and :not-in are resolved by the caller into codes.
func matchLeafIndex(leaf *Leaf, def *searchparam.Definition, idx searchparam.Index, codes valueSetCodes) bool {
	switch leaf.Modifier {
	case searchparam.ModifierMissing:
		for _, v := range leaf.Values {
			if v.Missing != idx.Present {
				return true
			}
		}
		return false
	case searchparam.ModifierNot:
		for _, v := range leaf.Values {
			if matchToken(v, idx) {
				return false
			}
		}
		return true
	case searchparam.ModifierNotIn:
		for _, v := range leaf.Values {
			if codes.any(v.Raw, idx.Tokens) {
				return false
			}
		}
		return true
	}

	for _, v := range leaf.Values {
		if matchValue(def, leaf.Modifier, v, idx, codes) {
			return true
		}
	}
	return false
}

func matchValue(def *searchparam.Definition, mod searchparam.Modifier, v Value, idx searchparam.Index, codes valueSetCodes) bool {
	switch def.Type {
	case searchparam.TypeString:
		return matchString(mod, v.Raw, idx.Strings)
	case searchparam.TypeToken:
		switch mod {
		case searchparam.ModifierText:
			return matchString("", v.Raw, idx.Texts)
		case searchparam.ModifierOfType:
			for _, t := range idx.Tokens {
				if t.TypeSystem == v.Token.TypeSystem && t.TypeCode == v.Token.TypeCode && t.Code == v.Token.Code {
					return true
				}
			}
			return false
		case searchparam.ModifierIn:
			return codes.any(v.Raw, idx.Tokens)
		default:
			return matchToken(v, idx)
		}
	case searchparam.TypeDate:
		for _, r := range idx.Dates {
			if matchDate(v.Prefix, v.Date, r) {
				return true
			}
		}
		return false
	case searchparam.TypeNumber:
		for _, n := range idx.Numbers {
			if matchNumber(v.Prefix, v.Number, n) {
				return true
			}
		}
		return false
	case searchparam.TypeQuantity:
		for _, q := range idx.Quantities {
			if matchQuantity(v, q) {
				return true
			}
		}
		return false
	case searchparam.TypeURI:
		return matchURI(def, mod, v, idx)
	case searchparam.TypeReference:
		return matchReference(def, v, idx)
	case searchparam.TypeComposite:
		return matchComposite(def, v, idx)
	default:
		return false
	}
}

// matchString: default is a case and accent insensitive prefix match,
// :exact is equality and :contains a substring match.
func matchString(mod searchparam.Modifier, want string, have []string) bool {
	if mod == searchparam.ModifierExact {
		for _, s := range have {
			if s == want {
				return true
			}
		}
		return false
	}
	w := normalizeString(want)
	for _, s := range have {
		n := normalizeString(s)
		if mod == searchparam.ModifierContains {
			if strings.Contains(n, w) {
				return true
			}
			continue
		}
		if strings.HasPrefix(n, w) {
			return true
		}
		for _, word := range strings.Fields(n) {
			if strings.HasPrefix(word, w) {
				return true
			}
		}
	}
	return false
}

// matchToken handles code, system|code, |code and system|.
func matchToken(v Value, idx searchparam.Index) bool {
	for _, t := range idx.Tokens {
		if !v.Token.HasSystem {
			if t.Code == v.Token.Code {
				return true
			}
			continue
		}
		if t.System != v.Token.System {
			continue
		}
		if v.Token.Code == "" || t.Code == v.Token.Code {
			return true
		}
	}
	return false
}

// matchDate compares the indexed range have against the query range q.
func matchDate(p Prefix, q, have searchparam.DateRange) bool {
	within := !have.Start.Before(q.Start) && !have.End.After(q.End)
	switch p {
	case PrefixEq:
		return within
	case PrefixNe:
		return !within
	case PrefixGt:
		return have.End.After(q.End)
	case PrefixLt:
		return have.Start.Before(q.Start)
	case PrefixGe:
		return within || have.End.After(q.End)
	case PrefixLe:
		return within || have.Start.Before(q.Start)
	case PrefixSa:
		return !have.Start.Before(q.End)
	case PrefixEb:
		return !have.End.After(q.Start)
	case PrefixAp:
		d := q.End.Sub(q.Start) / 10
		return have.Start.Before(q.End.Add(d)) && have.End.After(q.Start.Add(-d))
	default:
		return false
	}
}

func matchNumber(p Prefix, q Number, n float64) bool {
	switch p {
	case PrefixEq:
		return n >= q.Low && n < q.High
	case PrefixNe:
		return n < q.Low || n >= q.High
	case PrefixGt, PrefixSa:
		return n > q.Value
	case PrefixLt, PrefixEb:
		return n < q.Value
	case PrefixGe:
		return n >= q.Value
	case PrefixLe:
		return n <= q.Value
	case PrefixAp:
		return math.Abs(n-q.Value) <= math.Abs(q.Value)*0.1
	default:
		return false
	}
}

func matchQuantity(v Value, q searchparam.Quantity) bool {
	if !matchNumber(v.Prefix, v.Quantity.Number, q.Value) {
		return false
	}
	if v.Quantity.System != "" && v.Quantity.System != q.System {
		return false
	}
	if c := v.Quantity.Code; c != "" {
		if v.Quantity.System == "" {
			return c == q.Code || c == q.Unit
		}
		return c == q.Code
	}
	return true
}

func matchURI(def *searchparam.Definition, mod searchparam.Modifier, v Value, idx searchparam.Index) bool {
	if def.Canonical && mod == "" && v.Canonical.Version != "" {
		for _, c := range idx.Canonicals {
			if c.URL == v.Canonical.URL && c.Version == v.Canonical.Version {
				return true
			}
		}
		return false
	}
	for _, u := range idx.URIs {
		switch mod {
		case searchparam.ModifierBelow:
			if strings.HasPrefix(u, v.Raw) {
				return true
			}
		case searchparam.ModifierAbove:
			if strings.HasPrefix(v.Raw, u) {
				return true
			}
		default:
			if u == v.Raw || (def.Canonical && reference.ParseCanonical(u).URL == v.Raw) {
				return true
			}
		}
	}
	return false
}

func matchReference(def *searchparam.Definition, v Value, idx searchparam.Index) bool {
	if def.Canonical && v.Ref.Kind != reference.QueryLocal && v.Ref.Kind != reference.QueryIdentifier {
		for _, c := range idx.Canonicals {
			if c.URL == v.Canonical.URL && (v.Canonical.Version == "" || c.Version == v.Canonical.Version) {
				return true
			}
		}
	}
	for _, d := range idx.References {
		if v.Ref.Matches(d) {
			return true
		}
	}
	return false
}

func matchComposite(def *searchparam.Definition, v Value, idx searchparam.Index) bool {
	for _, item := range idx.Composites {
		ok := len(item) == len(v.Components)
		for i := 0; ok && i < len(item); i++ {
			c := def.Components[i]
			sub := &searchparam.Definition{Code: c.Code, Type: c.Type}
			ok = matchValue(sub, "", v.Components[i], item[i], nil)
		}
		if ok {
			return true
		}
	}
	return false
}

// valueSetCodes maps a value set url to its system|code members.
type valueSetCodes map[string]map[searchparam.Token]bool

func (vs valueSetCodes) any(url string, tokens []searchparam.Token) bool {
	members := vs[url]
	for _, t := range tokens {
		if members[searchparam.Token{System: t.System, Code: t.Code}] {
			return true
		}
	}
	return false
}
