// Package reference normalizes FHIR reference values into matchable
// descriptors. Every reference is classified into exactly one Kind; the
// classification is never guessed when the value is ambiguous.
package reference

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Kind is the closed set of reference kinds.
type Kind int

const (
	// KindRelative is Type/id[/_history/v].
	KindRelative Kind = iota + 1
	// KindAbsoluteLocal is an absolute URL under the server's own base.
	KindAbsoluteLocal
	// KindExternal is any other absolute URL. It is matched only by exact
	// string equality and never resolved to a type and id.
	KindExternal
	// KindLogical is an identifier-only reference.
	KindLogical
)

func (k Kind) String() string {
	switch k {
	case KindRelative:
		return "relative"
	case KindAbsoluteLocal:
		return "absolute-local"
	case KindExternal:
		return "external"
	case KindLogical:
		return "logical"
	default:
		return "unknown"
	}
}

// Local reports whether references of this kind resolve to a resource
// stored on this server.
func (k Kind) Local() bool {
	return k == KindRelative || k == KindAbsoluteLocal
}

// ErrMalformed is returned for values that cannot be classified.
var ErrMalformed = errors.New("malformed reference")

// Identifier is the logical part of a reference.
type Identifier struct {
	System string `json:"system,omitempty" yaml:"system,omitempty"`
	Value  string `json:"value,omitempty" yaml:"value,omitempty"`
}

// Empty reports whether neither system nor value is set.
func (i *Identifier) Empty() bool {
	return i == nil || (i.System == "" && i.Value == "")
}

// Descriptor is a normalized reference.
type Descriptor struct {
	Kind         Kind
	ResourceType string
	ID           string
	Version      string
	// Literal holds the exact string of an external reference.
	Literal string
	// Base is the server base a KindAbsoluteLocal reference was found under.
	Base       string
	Identifier *Identifier
}

var localPattern = regexp.MustCompile(`^([A-Z][A-Za-z]+)/([A-Za-z0-9\-\.]{1,64})(?:/_history/([A-Za-z0-9\-\.]{1,64}))?$`)

// NormalizeBase trims whitespace and trailing slashes from a server base URL.
func NormalizeBase(base string) string {
	return strings.TrimRight(strings.TrimSpace(base), "/")
}

// Normalize classifies raw (plus an optional identifier carried on the same
// Reference element) relative to the server base URL.
func Normalize(raw string, ident *Identifier, base string) (Descriptor, error) {
	raw = strings.TrimSpace(raw)
	base = NormalizeBase(base)
	if ident.Empty() {
		ident = nil
	}

	if raw == "" {
		if ident != nil {
			return Descriptor{Kind: KindLogical, Identifier: ident}, nil
		}
		return Descriptor{}, fmt.Errorf("%w: empty reference", ErrMalformed)
	}

	if base != "" && strings.HasPrefix(raw, base+"/") {
		d, ok := parseLocal(raw[len(base)+1:])
		if !ok {
			return Descriptor{}, fmt.Errorf("%w: '%s' does not address a resource on this server", ErrMalformed, raw)
		}
		d.Kind = KindAbsoluteLocal
		d.Base = base
		d.Identifier = ident
		return d, nil
	}

	if d, ok := parseLocal(raw); ok {
		d.Kind = KindRelative
		d.Identifier = ident
		return d, nil
	}

	if HasScheme(raw) {
		return Descriptor{Kind: KindExternal, Literal: raw, Identifier: ident}, nil
	}

	if ident != nil {
		return Descriptor{Kind: KindLogical, Identifier: ident}, nil
	}
	return Descriptor{}, fmt.Errorf("%w: '%s'", ErrMalformed, raw)
}

// ParseLocal parses Type/id[/_history/v].
func ParseLocal(s string) (resourceType, id, version string, ok bool) {
	d, ok := parseLocal(s)
	return d.ResourceType, d.ID, d.Version, ok
}

func parseLocal(s string) (Descriptor, bool) {
	m := localPattern.FindStringSubmatch(s)
	if m == nil {
		return Descriptor{}, false
	}
	return Descriptor{ResourceType: m[1], ID: m[2], Version: m[3]}, true
}

// HasScheme reports whether s is an absolute URI (http:, https:, urn:, ...).
func HasScheme(s string) bool {
	u, err := url.Parse(s)
	return err == nil && len(u.Scheme) > 1
}

// Key returns Type/id for local references and "" otherwise.
func (d Descriptor) Key() string {
	if !d.Kind.Local() {
		return ""
	}
	return d.ResourceType + "/" + d.ID
}

// Relative returns the Type/id[/_history/v] form of a local reference.
func (d Descriptor) Relative() string {
	if !d.Kind.Local() {
		return ""
	}
	if d.Version != "" {
		return d.ResourceType + "/" + d.ID + "/_history/" + d.Version
	}
	return d.ResourceType + "/" + d.ID
}

// String returns a value that normalizes back to an equal descriptor.
func (d Descriptor) String() string {
	switch d.Kind {
	case KindRelative:
		return d.Relative()
	case KindAbsoluteLocal:
		return d.Base + "/" + d.Relative()
	case KindExternal:
		return d.Literal
	case KindLogical:
		return ""
	default:
		return ""
	}
}

// Equal compares two descriptors including their identifiers.
func (d Descriptor) Equal(o Descriptor) bool {
	if d.Kind != o.Kind || d.ResourceType != o.ResourceType || d.ID != o.ID ||
		d.Version != o.Version || d.Literal != o.Literal || d.Base != o.Base {
		return false
	}
	if d.Identifier == nil || o.Identifier == nil {
		return d.Identifier == nil && o.Identifier == nil
	}
	return *d.Identifier == *o.Identifier
}

// JoinsVersion reports whether a local reference joins to the target whose
// current version is current. Unversioned references always join; versioned
// ones only when they name the current version.
func (d Descriptor) JoinsVersion(current string) bool {
	return d.Version == "" || d.Version == current
}
