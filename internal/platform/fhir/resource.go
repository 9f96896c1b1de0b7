// Package fhir holds the wire-level FHIR types the server renders: stored
// resource versions, bundles, OperationOutcomes and the Prefer header.
package fhir

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// HTTP verbs recorded on each version.
const (
	MethodPost   = "POST"
	MethodPut    = "PUT"
	MethodDelete = "DELETE"
)

// Resource is one immutable version of a stored resource.
type Resource struct {
	ResourceType string
	ID           string
	VersionID    int
	LastUpdated  time.Time
	Deleted      bool
	Method       string
	// Restored marks the PUT that re-created a previously deleted id.
	Restored bool
	Body     map[string]interface{}
}

// Key returns Type/id.
func (r *Resource) Key() string {
	return r.ResourceType + "/" + r.ID
}

// VersionString returns the version id as it appears in meta.versionId.
func (r *Resource) VersionString() string {
	return strconv.Itoa(r.VersionID)
}

// Location returns Type/id/_history/v.
func (r *Resource) Location() string {
	return fmt.Sprintf("%s/%s/_history/%d", r.ResourceType, r.ID, r.VersionID)
}

// JSON encodes the body.
func (r *Resource) JSON() (json.RawMessage, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := json.Marshal(r.Body)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", r.Key(), err)
	}
	return data, nil
}

// Stamp writes id, meta.versionId and meta.lastUpdated into the body.
func (r *Resource) Stamp() {
	if r.Body == nil {
		return
	}
	r.Body["resourceType"] = r.ResourceType
	r.Body["id"] = r.ID
	meta, _ := r.Body["meta"].(map[string]interface{})
	if meta == nil {
		meta = make(map[string]interface{})
	}
	meta["versionId"] = r.VersionString()
	meta["lastUpdated"] = r.LastUpdated.UTC().Format(time.RFC3339Nano)
	r.Body["meta"] = meta
}

// Copy returns a deep copy so callers may trim or annotate the body without
// touching the stored version.
func (r *Resource) Copy() *Resource {
	c := *r
	c.Body = copyMap(r.Body)
	return &c
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return copyMap(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = copyValue(item)
		}
		return out
	default:
		return val
	}
}

// StringAt returns body[key] when it is a string.
func StringAt(body map[string]interface{}, key string) string {
	s, _ := body[key].(string)
	return s
}

type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}
