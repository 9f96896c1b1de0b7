package reference

import "strings"

// QueryKind classifies a reference search value.
type QueryKind int

const (
	// QueryID is a bare id with no type, e.g. organization=3003.
	QueryID QueryKind = iota + 1
	// QueryLocal is Type/id or the equivalent absolute URL under the base.
	QueryLocal
	// QueryLiteral is a foreign absolute URL compared verbatim.
	QueryLiteral
	// QueryIdentifier is a system|value pair from the :identifier modifier.
	QueryIdentifier
)

// Query is a parsed reference search value.
type Query struct {
	Kind         QueryKind
	ResourceType string
	ID           string
	Version      string
	Literal      string
	Identifier   Identifier
	// SystemGiven is set when an identifier value carried a "|".
	SystemGiven bool
	// TypeModifier carries a :[Type] modifier; matching references must be
	// of that type.
	TypeModifier string
}

// ParseQuery parses the value of a reference search parameter. typeModifier
// is the resource type named by a :[Type] modifier, or "".
func ParseQuery(value, typeModifier, base string) Query {
	value = strings.TrimSpace(value)
	base = NormalizeBase(base)

	if base != "" && strings.HasPrefix(value, base+"/") {
		if rt, id, v, ok := ParseLocal(value[len(base)+1:]); ok {
			return Query{Kind: QueryLocal, ResourceType: rt, ID: id, Version: v, TypeModifier: typeModifier}
		}
		return Query{Kind: QueryLiteral, Literal: value, TypeModifier: typeModifier}
	}
	if rt, id, v, ok := ParseLocal(value); ok {
		return Query{Kind: QueryLocal, ResourceType: rt, ID: id, Version: v, TypeModifier: typeModifier}
	}
	if HasScheme(value) {
		return Query{Kind: QueryLiteral, Literal: value, TypeModifier: typeModifier}
	}
	if typeModifier != "" {
		return Query{Kind: QueryLocal, ResourceType: typeModifier, ID: value, TypeModifier: typeModifier}
	}
	return Query{Kind: QueryID, ID: value}
}

// ParseIdentifierQuery parses system|value for the :identifier modifier.
// "value" matches any system, "|value" requires an absent system and
// "system|" matches any value within the system.
func ParseIdentifierQuery(value string) Query {
	q := Query{Kind: QueryIdentifier}
	if i := strings.Index(value, "|"); i >= 0 {
		q.Identifier = Identifier{System: value[:i], Value: value[i+1:]}
		q.SystemGiven = true
		return q
	}
	q.Identifier = Identifier{Value: value}
	return q
}

// Matches reports whether the stored reference d satisfies the query.
func (q Query) Matches(d Descriptor) bool {
	if q.TypeModifier != "" && q.Kind != QueryIdentifier {
		if !d.Kind.Local() || d.ResourceType != q.TypeModifier {
			return false
		}
	}

	switch q.Kind {
	case QueryID:
		return d.Kind.Local() && d.ID == q.ID
	case QueryLocal:
		if !d.Kind.Local() || d.ResourceType != q.ResourceType || d.ID != q.ID {
			return false
		}
		return q.Version == "" || q.Version == d.Version
	case QueryLiteral:
		return d.Kind == KindExternal && d.Literal == q.Literal
	case QueryIdentifier:
		return q.matchesIdentifier(d.Identifier)
	default:
		return false
	}
}

func (q Query) matchesIdentifier(id *Identifier) bool {
	if id == nil {
		return false
	}
	if !q.SystemGiven {
		return id.Value == q.Identifier.Value
	}
	if id.System != q.Identifier.System {
		return false
	}
	return q.Identifier.Value == "" || id.Value == q.Identifier.Value
}

// Typed reports whether the query names the referenced resource type,
// directly or through a :[Type] modifier.
func (q Query) Typed() bool {
	return q.Kind == QueryLocal || q.TypeModifier != ""
}
