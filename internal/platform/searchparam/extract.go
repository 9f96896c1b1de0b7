package searchparam

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ehr/fhirsearch/internal/platform/reference"
)

// Token is one coded value: a Coding, an Identifier, a ContactPoint, a code
// or a boolean.
type Token struct {
	System  string
	Code    string
	Display string
	// TypeSystem and TypeCode carry Identifier.type for :of-type.
	TypeSystem string
	TypeCode   string
}

// DateRange is a half-open interval [Start, End).
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Quantity is an indexed Quantity value.
type Quantity struct {
	Value  float64
	System string
	Code   string
	Unit   string
}

// Index holds the values one parameter extracts from one resource version.
type Index struct {
	Present    bool
	Strings    []string
	Tokens     []Token
	Texts      []string
	Dates      []DateRange
	Numbers    []float64
	Quantities []Quantity
	URIs       []string
	References []reference.Descriptor
	Canonicals []reference.Canonical
	// Composites holds one entry per element the composite selects, each
	// with one Index per component.
	Composites [][]Index
}

var (
	minTime = time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC)
	maxTime = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)
)

// Extract computes the index values of def for a resource body. base is the
// server base URL used to classify references.
func Extract(def *Definition, body map[string]interface{}, base string) Index {
	var idx Index
	if def.Type == TypeComposite {
		roots := []interface{}{body}
		if len(def.Paths) > 0 {
			roots = nil
			for _, p := range def.Paths {
				roots = append(roots, Select(body, p)...)
			}
		}
		for _, root := range roots {
			m, ok := root.(map[string]interface{})
			if !ok {
				continue
			}
			parts := make([]Index, len(def.Components))
			complete := true
			for i, c := range def.Components {
				cd := &Definition{Code: c.Code, Type: c.Type, Paths: []string{c.Path}}
				parts[i] = Extract(cd, m, base)
				if !parts[i].Present {
					complete = false
				}
			}
			if complete {
				idx.Present = true
				idx.Composites = append(idx.Composites, parts)
			}
		}
		return idx
	}

	for _, p := range def.Paths {
		for _, node := range Select(body, p) {
			if node == nil {
				continue
			}
			idx.Present = true
			idx.add(def, node, base)
		}
	}
	if def.VersionPath != "" {
		if version := businessVersion(body, def.VersionPath); version != "" {
			for i := range idx.Canonicals {
				if idx.Canonicals[i].Version == "" {
					idx.Canonicals[i].Version = version
				}
			}
		}
	}
	return idx
}

// businessVersion returns the first string at path, the version a resource
// publishes alongside its own canonical url.
func businessVersion(body map[string]interface{}, path string) string {
	for _, node := range Select(body, path) {
		if s, ok := node.(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func (idx *Index) add(def *Definition, node interface{}, base string) {
	switch def.Type {
	case TypeString:
		idx.Strings = append(idx.Strings, stringsOf(node)...)
	case TypeToken:
		idx.addToken(node)
	case TypeDate:
		if r, ok := dateRangeOf(node); ok {
			idx.Dates = append(idx.Dates, r)
		}
	case TypeNumber:
		if n, ok := numberOf(node); ok {
			idx.Numbers = append(idx.Numbers, n)
		}
	case TypeQuantity:
		if q, ok := quantityOf(node); ok {
			idx.Quantities = append(idx.Quantities, q)
		}
	case TypeURI:
		if s, ok := node.(string); ok {
			idx.URIs = append(idx.URIs, s)
			if def.Canonical {
				idx.Canonicals = append(idx.Canonicals, reference.ParseCanonical(s))
			}
		}
	case TypeReference:
		idx.addReference(def, node, base)
	case TypeComposite, TypeSpecial:
	}
}

var stringKeys = []string{"text", "family", "given", "prefix", "suffix", "line", "city", "district", "state", "postalCode", "country"}

func stringsOf(node interface{}) []string {
	switch v := node.(type) {
	case string:
		return []string{v}
	case map[string]interface{}:
		var out []string
		for _, k := range stringKeys {
			switch f := v[k].(type) {
			case string:
				out = append(out, f)
			case []interface{}:
				for _, item := range f {
					if s, ok := item.(string); ok {
						out = append(out, s)
					}
				}
			}
		}
		return out
	}
	return nil
}

func (idx *Index) addToken(node interface{}) {
	switch v := node.(type) {
	case string:
		idx.Tokens = append(idx.Tokens, Token{Code: v})
	case bool:
		idx.Tokens = append(idx.Tokens, Token{Code: strconv.FormatBool(v)})
	case map[string]interface{}:
		if text, ok := v["text"].(string); ok {
			idx.Texts = append(idx.Texts, text)
		}
		if codings, ok := v["coding"].([]interface{}); ok {
			for _, c := range codings {
				if cm, ok := c.(map[string]interface{}); ok {
					idx.addCoding(cm)
				}
			}
			return
		}
		if _, ok := v["code"]; ok {
			idx.addCoding(v)
			return
		}
		if value, ok := v["value"].(string); ok {
			t := Token{System: str0(v["system"]), Code: value}
			if typ, ok := v["type"].(map[string]interface{}); ok {
				if codings, ok := typ["coding"].([]interface{}); ok && len(codings) > 0 {
					if cm, ok := codings[0].(map[string]interface{}); ok {
						t.TypeSystem, t.TypeCode = str0(cm["system"]), str0(cm["code"])
					}
				}
			}
			idx.Tokens = append(idx.Tokens, t)
		}
	}
}

func (idx *Index) addCoding(c map[string]interface{}) {
	t := Token{System: str0(c["system"]), Code: str0(c["code"]), Display: str0(c["display"])}
	idx.Tokens = append(idx.Tokens, t)
	if t.Display != "" {
		idx.Texts = append(idx.Texts, t.Display)
	}
}

func (idx *Index) addReference(def *Definition, node interface{}, base string) {
	switch v := node.(type) {
	case string:
		if def.Canonical {
			idx.Canonicals = append(idx.Canonicals, reference.ParseCanonical(v))
			return
		}
		if d, err := reference.Normalize(v, nil, base); err == nil {
			idx.References = append(idx.References, d)
		}
	case map[string]interface{}:
		raw := str0(v["reference"])
		var ident *reference.Identifier
		if im, ok := v["identifier"].(map[string]interface{}); ok {
			ident = &reference.Identifier{System: str0(im["system"]), Value: str0(im["value"])}
		}
		if def.Canonical && raw != "" && !isLocal(raw, base) {
			idx.Canonicals = append(idx.Canonicals, reference.ParseCanonical(raw))
			return
		}
		if d, err := reference.Normalize(raw, ident, base); err == nil {
			idx.References = append(idx.References, d)
		}
	}
}

func isLocal(raw, base string) bool {
	d, err := reference.Normalize(raw, nil, base)
	return err == nil && d.Kind.Local()
}

func str0(v interface{}) string {
	s, _ := v.(string)
	return s
}

func numberOf(node interface{}) (float64, bool) {
	switch v := node.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	return 0, false
}

func quantityOf(node interface{}) (Quantity, bool) {
	if m, ok := node.(map[string]interface{}); ok {
		n, ok := numberOf(m["value"])
		if !ok {
			return Quantity{}, false
		}
		return Quantity{Value: n, System: str0(m["system"]), Code: str0(m["code"]), Unit: str0(m["unit"])}, true
	}
	n, ok := numberOf(node)
	return Quantity{Value: n}, ok
}

func dateRangeOf(node interface{}) (DateRange, bool) {
	switch v := node.(type) {
	case string:
		r, err := ParseDateRange(v)
		return r, err == nil
	case map[string]interface{}:
		start, hasStart := v["start"].(string)
		end, hasEnd := v["end"].(string)
		if !hasStart && !hasEnd {
			return DateRange{}, false
		}
		r := DateRange{Start: minTime, End: maxTime}
		if hasStart {
			s, err := ParseDateRange(start)
			if err != nil {
				return DateRange{}, false
			}
			r.Start = s.Start
		}
		if hasEnd {
			e, err := ParseDateRange(end)
			if err != nil {
				return DateRange{}, false
			}
			r.End = e.End
		}
		return r, true
	}
	return DateRange{}, false
}

// ParseDateRange parses a FHIR date, dateTime or instant into the interval
// its precision covers. Values without a zone are taken as UTC.
func ParseDateRange(s string) (DateRange, error) {
	s = strings.TrimSpace(s)
	switch len(s) {
	case 4:
		t, err := time.Parse("2006", s)
		if err != nil {
			return DateRange{}, fmt.Errorf("invalid date %q: %w", s, err)
		}
		return DateRange{Start: t, End: t.AddDate(1, 0, 0)}, nil
	case 7:
		t, err := time.Parse("2006-01", s)
		if err != nil {
			return DateRange{}, fmt.Errorf("invalid date %q: %w", s, err)
		}
		return DateRange{Start: t, End: t.AddDate(0, 1, 0)}, nil
	case 10:
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			return DateRange{}, fmt.Errorf("invalid date %q: %w", s, err)
		}
		return DateRange{Start: t, End: t.AddDate(0, 0, 1)}, nil
	}

	if len(s) < 16 || s[10] != 'T' {
		return DateRange{}, fmt.Errorf("invalid date %q", s)
	}
	clock, zone := splitZone(s[11:])
	var layout string
	var step time.Duration
	switch {
	case len(clock) == 5:
		layout, step = "15:04", time.Minute
	case len(clock) == 8:
		layout, step = "15:04:05", time.Second
	case len(clock) > 9 && len(clock) <= 18 && clock[8] == '.':
		digits := len(clock) - 9
		layout = "15:04:05." + strings.Repeat("0", digits)
		step = time.Duration(math.Pow10(9 - digits))
	default:
		return DateRange{}, fmt.Errorf("invalid date %q", s)
	}
	t, err := time.Parse("2006-01-02T"+layout+"Z07:00", s[:11]+clock+zone)
	if err != nil {
		return DateRange{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	t = t.UTC()
	return DateRange{Start: t, End: t.Add(step)}, nil
}

func splitZone(s string) (clock, zone string) {
	if strings.HasSuffix(s, "Z") {
		return s[:len(s)-1], "Z"
	}
	if n := len(s); n >= 6 && (s[n-6] == '+' || s[n-6] == '-') {
		return s[:n-6], s[n-6:]
	}
	return s, "Z"
}

// Select walks a dotted element path through body. Arrays are transparent,
// a trailing [x] matches any choice-type suffix (value[x] selects
// valueQuantity, valueString, ...) and [field=value] keeps only array items
// whose field equals value.
func Select(body map[string]interface{}, path string) []interface{} {
	nodes := []interface{}{body}
	for _, seg := range strings.Split(path, ".") {
		if seg == "" {
			continue
		}
		name, filterKey, filterValue := parseSegment(seg)
		var next []interface{}
		for _, n := range nodes {
			m, ok := n.(map[string]interface{})
			if !ok {
				continue
			}
			for _, child := range children(m, name) {
				next = appendFlat(next, child, filterKey, filterValue)
			}
		}
		nodes = next
		if len(nodes) == 0 {
			return nil
		}
	}
	return nodes
}

func parseSegment(seg string) (name, key, value string) {
	i := strings.IndexByte(seg, '[')
	if i < 0 || !strings.HasSuffix(seg, "]") {
		return seg, "", ""
	}
	inner := seg[i+1 : len(seg)-1]
	if inner == "x" {
		return seg[:i] + "[x]", "", ""
	}
	if j := strings.IndexByte(inner, '='); j > 0 {
		return seg[:i], inner[:j], inner[j+1:]
	}
	return seg[:i], "", ""
}

func children(m map[string]interface{}, name string) []interface{} {
	if !strings.HasSuffix(name, "[x]") {
		if v, ok := m[name]; ok {
			return []interface{}{v}
		}
		return nil
	}
	prefix := strings.TrimSuffix(name, "[x]")
	var out []interface{}
	for k, v := range m {
		if len(k) > len(prefix) && strings.HasPrefix(k, prefix) && k[len(prefix)] >= 'A' && k[len(prefix)] <= 'Z' {
			out = append(out, v)
		}
	}
	return out
}

func appendFlat(dst []interface{}, v interface{}, key, value string) []interface{} {
	if arr, ok := v.([]interface{}); ok {
		for _, item := range arr {
			dst = appendFlat(dst, item, key, value)
		}
		return dst
	}
	if key != "" {
		m, ok := v.(map[string]interface{})
		if !ok || str0(m[key]) != value {
			return dst
		}
	}
	return append(dst, v)
}
