package search

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Param is one key=value pair of a query string.
type Param struct {
	Key   string
	Value string
}

// Params is an ordered query string. Keys may repeat.
type Params []Param

// ParseRawQuery decodes a raw query string keeping key order and
// duplicates.
func ParseRawQuery(raw string) (Params, error) {
	var out Params
	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(k)
		if err != nil {
			return nil, parseError("Invalid query parameter name '%s'", k)
		}
		value, err := url.QueryUnescape(v)
		if err != nil {
			return nil, parseError("Invalid value for query parameter '%s'", key)
		}
		out = append(out, Param{Key: key, Value: value})
	}
	return out, nil
}

// FromValues converts url.Values. Map order is lost, so keys are sorted;
// the values of a key keep their order.
func FromValues(v url.Values) Params {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var out Params
	for _, k := range keys {
		for _, val := range v[k] {
			out = append(out, Param{Key: k, Value: val})
		}
	}
	return out
}

// Get returns the first value of key.
func (p Params) Get(key string) (string, bool) {
	for _, kv := range p {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}

// All returns every value of key in order.
func (p Params) All(key string) []string {
	var out []string
	for _, kv := range p {
		if kv.Key == key {
			out = append(out, kv.Value)
		}
	}
	return out
}

// Without returns p minus every pair whose key is in keys.
func (p Params) Without(keys ...string) Params {
	drop := make(map[string]bool, len(keys))
	for _, k := range keys {
		drop[k] = true
	}
	out := make(Params, 0, len(p))
	for _, kv := range p {
		if !drop[kv.Key] {
			out = append(out, kv)
		}
	}
	return out
}

// Set returns p with key replaced by a single value appended at the end.
func (p Params) Set(key, value string) Params {
	return append(p.Without(key), Param{Key: key, Value: value})
}

// Encode renders p as a query string in order.
func (p Params) Encode() string {
	var b strings.Builder
	for i, kv := range p {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(kv.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(kv.Value))
	}
	return b.String()
}

func (p Params) String() string {
	return fmt.Sprintf("%v", []Param(p))
}
