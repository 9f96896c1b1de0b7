package fhir

import (
	"encoding/json"
	"fmt"
	"time"
)

// Search entry modes.
const (
	SearchModeMatch   = "match"
	SearchModeInclude = "include"
	SearchModeOutcome = "outcome"
)

// Bundle represents a FHIR Bundle resource.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	ID           string        `json:"id,omitempty"`
	Type         string        `json:"type"`
	Total        *int          `json:"total,omitempty"`
	Link         []BundleLink  `json:"link,omitempty"`
	Entry        []BundleEntry `json:"entry,omitempty"`
	Timestamp    *time.Time    `json:"timestamp,omitempty"`
}

type BundleLink struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}

type BundleEntry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
	Search   *BundleSearch   `json:"search,omitempty"`
	Request  *BundleRequest  `json:"request,omitempty"`
	Response *BundleResponse `json:"response,omitempty"`
}

type BundleSearch struct {
	Mode  string   `json:"mode,omitempty"`
	Score *float64 `json:"score,omitempty"`
}

type BundleRequest struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

type BundleResponse struct {
	Status       string      `json:"status"`
	Location     string      `json:"location,omitempty"`
	LastModified *time.Time  `json:"lastModified,omitempty"`
	Outcome      interface{} `json:"outcome,omitempty"`
}

// SearchEntry is one resource of a searchset together with its mode.
type SearchEntry struct {
	Body map[string]interface{}
	Mode string
}

// NewSearchBundle creates a searchset Bundle. fullUrl is derived from each
// body's resourceType and id under baseURL; total may be nil.
func NewSearchBundle(entries []SearchEntry, total *int, links []BundleLink, baseURL string) (*Bundle, error) {
	now := time.Now().UTC()
	out := make([]BundleEntry, 0, len(entries))
	for _, e := range entries {
		raw, err := json.Marshal(e.Body)
		if err != nil {
			return nil, fmt.Errorf("marshal bundle entry: %w", err)
		}
		out = append(out, BundleEntry{
			FullURL:  fullURL(e.Body, baseURL),
			Resource: raw,
			Search:   &BundleSearch{Mode: e.Mode},
		})
	}
	return &Bundle{
		ResourceType: "Bundle",
		Type:         "searchset",
		Total:        total,
		Timestamp:    &now,
		Link:         links,
		Entry:        out,
	}, nil
}

// fullURL builds base/Type/id from a body, or "" when either is missing.
func fullURL(body map[string]interface{}, baseURL string) string {
	rt := StringAt(body, "resourceType")
	id := StringAt(body, "id")
	if rt == "" || id == "" {
		return ""
	}
	if baseURL == "" {
		return fmt.Sprintf("%s/%s", rt, id)
	}
	return fmt.Sprintf("%s/%s/%s", baseURL, rt, id)
}

// SearchURL joins base, path and an encoded query string.
func SearchURL(baseURL, path, query string) string {
	u := baseURL
	if path != "" {
		u += "/" + path
	}
	if query != "" {
		u += "?" + query
	}
	return u
}
