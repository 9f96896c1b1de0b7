package search

import (
	"math"
	"strconv"
	"strings"

	"github.com/ehr/fhirsearch/internal/platform/reference"
	"github.com/ehr/fhirsearch/internal/platform/searchparam"
)

// Prefix is a comparison prefix for ordered values.
type Prefix string

const (
	PrefixEq Prefix = "eq"
	PrefixNe Prefix = "ne"
	PrefixGt Prefix = "gt"
	PrefixLt Prefix = "lt"
	PrefixGe Prefix = "ge"
	PrefixLe Prefix = "le"
	PrefixSa Prefix = "sa"
	PrefixEb Prefix = "eb"
	PrefixAp Prefix = "ap"
)

var prefixes = []Prefix{PrefixEq, PrefixNe, PrefixGt, PrefixLt, PrefixGe, PrefixLe, PrefixSa, PrefixEb, PrefixAp}

// splitPrefix strips a leading prefix. Values without one compare with eq.
func splitPrefix(s string) (Prefix, string) {
	if len(s) > 2 {
		for _, p := range prefixes {
			if strings.HasPrefix(s, string(p)) {
				rest := s[2:]
				if rest != "" && (rest[0] == '-' || rest[0] == '.' || (rest[0] >= '0' && rest[0] <= '9')) {
					return p, rest
				}
			}
		}
	}
	return PrefixEq, s
}

// Number is a decimal search value with its implicit precision range
// [Low, High).
type Number struct {
	Value float64
	Low   float64
	High  float64
}

// TokenValue is a [system|]code search value.
type TokenValue struct {
	System    string
	Code      string
	HasSystem bool
	// TypeSystem and TypeCode are set by :of-type values (system|code|value).
	TypeSystem string
	TypeCode   string
}

// QuantityValue is number|system|code.
type QuantityValue struct {
	Number Number
	System string
	Code   string
}

// Value is one parsed OR-alternative of a search parameter.
type Value struct {
	// Raw is the unescaped value as sent.
	Raw        string
	Prefix     Prefix
	Missing    bool
	Number     Number
	Date       searchparam.DateRange
	Token      TokenValue
	Quantity   QuantityValue
	Ref        reference.Query
	Canonical  reference.Canonical
	Components []Value
}

// splitEscaped splits s on unescaped sep. Escapes are kept.
func splitEscaped(s string, sep byte) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case sep:
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return append(out, s[start:])
}

// unescape resolves \, \$ \| and \\. Any other backslash is an error.
func unescape(s string) (string, error) {
	if !strings.Contains(s, `\`) {
		return s, nil
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			b.WriteByte(s[i])
			continue
		}
		if i+1 >= len(s) {
			return "", parseError(msgBareBackslash)
		}
		switch s[i+1] {
		case ',', '$', '|', '\\':
			b.WriteByte(s[i+1])
			i++
		default:
			return "", parseError(msgBareBackslash)
		}
	}
	return b.String(), nil
}

// checkEscapes reports a bare backslash anywhere in s.
func checkEscapes(s string) error {
	_, err := unescape(s)
	return err
}

// parseNumber parses a decimal and its implicit range: 100 covers
// [99.5, 100.5), 1.50 covers [1.495, 1.505).
func parseNumber(s string) (Number, bool) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return Number{}, false
	}
	mantissa := strings.ToLower(s)
	exp := 0
	if i := strings.IndexByte(mantissa, 'e'); i >= 0 {
		exp, _ = strconv.Atoi(mantissa[i+1:])
		mantissa = mantissa[:i]
	}
	decimals := 0
	if i := strings.IndexByte(mantissa, '.'); i >= 0 {
		decimals = len(mantissa) - i - 1
	}
	half := 0.5 * math.Pow10(exp-decimals)
	return Number{Value: f, Low: f - half, High: f + half}, true
}

// valueParser parses the values of one parameter.
type valueParser struct {
	def          *searchparam.Definition
	modifier     searchparam.Modifier
	typeModifier string
	base         string
}

// parseValues splits raw on unescaped commas and parses each alternative.
func (vp valueParser) parseValues(raw string) ([]Value, error) {
	var out []Value
	for _, part := range splitEscaped(raw, ',') {
		if part == "" {
			continue
		}
		v, err := vp.parse(part)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, parseError(msgInvalidValue, raw, vp.def.Code, vp.def.Type)
	}
	return out, nil
}

// parse parses one still-escaped alternative.
func (vp valueParser) parse(escaped string) (Value, error) {
	if err := checkEscapes(escaped); err != nil {
		return Value{}, err
	}
	raw, _ := unescape(escaped)
	v := Value{Raw: raw, Prefix: PrefixEq}
	invalid := func() (Value, error) {
		return Value{}, parseError(msgInvalidValue, raw, vp.def.Code, vp.def.Type)
	}

	if vp.modifier == searchparam.ModifierMissing {
		switch raw {
		case "true":
			v.Missing = true
		case "false":
		default:
			return Value{}, parseError(msgMissingValue, vp.def.Code)
		}
		return v, nil
	}

	switch vp.def.Type {
	case searchparam.TypeString:
	case searchparam.TypeURI:
		if vp.def.Canonical {
			v.Canonical = reference.ParseCanonical(raw)
		}
	case searchparam.TypeToken:
		if vp.modifier == searchparam.ModifierText {
			break
		}
		parts := splitEscaped(escaped, '|')
		for i := range parts {
			parts[i], _ = unescape(parts[i])
		}
		switch {
		case vp.modifier == searchparam.ModifierOfType:
			if len(parts) != 3 {
				return invalid()
			}
			v.Token = TokenValue{TypeSystem: parts[0], TypeCode: parts[1], Code: parts[2]}
		case len(parts) == 1:
			v.Token = TokenValue{Code: parts[0]}
		case len(parts) == 2:
			v.Token = TokenValue{System: parts[0], Code: parts[1], HasSystem: true}
		default:
			return invalid()
		}
	case searchparam.TypeNumber:
		p, rest := splitPrefix(raw)
		n, ok := parseNumber(rest)
		if !ok {
			return invalid()
		}
		v.Prefix, v.Number = p, n
	case searchparam.TypeDate:
		p, rest := splitPrefix(raw)
		r, err := searchparam.ParseDateRange(rest)
		if err != nil {
			return invalid()
		}
		v.Prefix, v.Date = p, r
	case searchparam.TypeQuantity:
		parts := splitEscaped(escaped, '|')
		if len(parts) > 3 {
			return invalid()
		}
		for i := range parts {
			parts[i], _ = unescape(parts[i])
		}
		p, rest := splitPrefix(parts[0])
		n, ok := parseNumber(rest)
		if !ok {
			return invalid()
		}
		v.Prefix = p
		v.Quantity.Number = n
		if len(parts) > 1 {
			v.Quantity.System = parts[1]
		}
		if len(parts) > 2 {
			v.Quantity.Code = parts[2]
		}
	case searchparam.TypeReference:
		switch {
		case vp.modifier == searchparam.ModifierIdentifier:
			v.Ref = reference.ParseIdentifierQuery(raw)
		case vp.def.Canonical:
			v.Ref = reference.ParseQuery(raw, vp.typeModifier, vp.base)
			if v.Ref.Kind != reference.QueryLocal {
				v.Canonical = reference.ParseCanonical(raw)
			}
		default:
			v.Ref = reference.ParseQuery(raw, vp.typeModifier, vp.base)
		}
	case searchparam.TypeComposite:
		parts := splitEscaped(escaped, '$')
		if len(parts) != len(vp.def.Components) {
			return Value{}, parseError(msgCompositeParts, len(vp.def.Components), len(parts), raw)
		}
		for i, c := range vp.def.Components {
			sub := valueParser{def: &searchparam.Definition{Code: c.Code, Type: c.Type}, base: vp.base}
			cv, err := sub.parse(parts[i])
			if err != nil {
				return Value{}, err
			}
			v.Components = append(v.Components, cv)
		}
	default:
		return invalid()
	}
	return v, nil
}
