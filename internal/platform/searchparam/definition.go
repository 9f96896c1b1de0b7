// Package searchparam holds search parameter definitions, the immutable
// per-tenant registry that catalogs them, and the extraction of index values
// from resource bodies.
package searchparam

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParamType is the FHIR search parameter type.
type ParamType int

const (
	TypeString ParamType = iota + 1
	TypeToken
	TypeDate
	TypeNumber
	TypeQuantity
	TypeURI
	TypeReference
	TypeComposite
	TypeSpecial
)

var paramTypeNames = map[ParamType]string{
	TypeString:    "string",
	TypeToken:     "token",
	TypeDate:      "date",
	TypeNumber:    "number",
	TypeQuantity:  "quantity",
	TypeURI:       "uri",
	TypeReference: "reference",
	TypeComposite: "composite",
	TypeSpecial:   "special",
}

func (t ParamType) String() string {
	if s, ok := paramTypeNames[t]; ok {
		return s
	}
	return "unknown"
}

// ParseParamType parses the lower-case FHIR type name.
func ParseParamType(s string) (ParamType, error) {
	for t, name := range paramTypeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown search parameter type %q", s)
}

// MarshalYAML implements yaml.Marshaler.
func (t ParamType) MarshalYAML() (interface{}, error) {
	return t.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler for the lower-case type name.
func (t *ParamType) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	pt, err := ParseParamType(s)
	if err != nil {
		return err
	}
	*t = pt
	return nil
}

// Modifier is a search parameter modifier. A resource type used as a
// modifier (subject:Patient) is represented by ModifierType plus the type
// name carried alongside it.
type Modifier string

const (
	ModifierMissing    Modifier = "missing"
	ModifierExact      Modifier = "exact"
	ModifierContains   Modifier = "contains"
	ModifierText       Modifier = "text"
	ModifierNot        Modifier = "not"
	ModifierAbove      Modifier = "above"
	ModifierBelow      Modifier = "below"
	ModifierIn         Modifier = "in"
	ModifierNotIn      Modifier = "not-in"
	ModifierOfType     Modifier = "of-type"
	ModifierIdentifier Modifier = "identifier"
	ModifierType       Modifier = "type"
	ModifierIterate    Modifier = "iterate"
)

var knownModifiers = map[Modifier]bool{
	ModifierMissing:    true,
	ModifierExact:      true,
	ModifierContains:   true,
	ModifierText:       true,
	ModifierNot:        true,
	ModifierAbove:      true,
	ModifierBelow:      true,
	ModifierIn:         true,
	ModifierNotIn:      true,
	ModifierOfType:     true,
	ModifierIdentifier: true,
	ModifierType:       true,
}

// ParseModifier returns the modifier named s, or false when s is not a
// defined modifier. Resource type modifiers are resolved by the caller.
func ParseModifier(s string) (Modifier, bool) {
	m := Modifier(s)
	return m, knownModifiers[m]
}

var allowedModifiers = map[ParamType][]Modifier{
	TypeString:    {ModifierExact, ModifierContains, ModifierMissing},
	TypeReference: {ModifierType, ModifierMissing, ModifierIdentifier},
	TypeURI:       {ModifierBelow, ModifierAbove, ModifierMissing},
	TypeToken:     {ModifierMissing, ModifierNot, ModifierText, ModifierOfType, ModifierIn, ModifierNotIn, ModifierAbove, ModifierBelow},
	TypeNumber:    {ModifierMissing},
	TypeDate:      {ModifierMissing},
	TypeQuantity:  {ModifierMissing},
	TypeComposite: {ModifierMissing},
}

// Allowed reports whether modifier m may be used with a parameter of type t.
func Allowed(t ParamType, m Modifier) bool {
	for _, a := range allowedModifiers[t] {
		if a == m {
			return true
		}
	}
	return false
}

// Component is one part of a composite parameter, extracted relative to
// each element the composite's paths select.
type Component struct {
	Code string    `yaml:"code"`
	Type ParamType `yaml:"type"`
	Path string    `yaml:"path"`
}

// Definition describes one search parameter.
type Definition struct {
	Code    string    `yaml:"code"`
	Type    ParamType `yaml:"type"`
	Base    []string  `yaml:"base"`
	Targets []string  `yaml:"target,omitempty"`
	// Paths are dotted element paths into the resource body. A segment may
	// filter array items, e.g. relatedArtifact[type=depends-on].resource.
	Paths      []string    `yaml:"path"`
	Components []Component `yaml:"component,omitempty"`
	// Canonical marks uri/reference parameters compared as url|version.
	Canonical bool `yaml:"canonical,omitempty"`
	// VersionPath locates the business version that pairs with a
	// resource's own canonical url.
	VersionPath string `yaml:"versionPath,omitempty"`
}

// HasTarget reports whether resourceType is one of the reference targets.
func (d *Definition) HasTarget(resourceType string) bool {
	for _, t := range d.Targets {
		if t == resourceType {
			return true
		}
	}
	return false
}

// AppliesTo reports whether the parameter is defined on resourceType.
func (d *Definition) AppliesTo(resourceType string) bool {
	for _, b := range d.Base {
		if b == resourceType || b == ResourceBase {
			return true
		}
	}
	return false
}

// Allows reports whether the modifier is valid for this parameter.
func (d *Definition) Allows(m Modifier) bool {
	return Allowed(d.Type, m)
}

func (d *Definition) String() string {
	return fmt.Sprintf("%s(%s) on %s", d.Code, d.Type, strings.Join(d.Base, ","))
}

func (d *Definition) clone() *Definition {
	c := *d
	c.Base = append([]string(nil), d.Base...)
	c.Targets = append([]string(nil), d.Targets...)
	c.Paths = append([]string(nil), d.Paths...)
	c.Components = append([]Component(nil), d.Components...)
	return &c
}
