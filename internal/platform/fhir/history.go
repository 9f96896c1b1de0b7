package fhir

import (
	"fmt"
	"time"
)

// HistoryLevel is the scope of a history interaction.
type HistoryLevel int

const (
	HistoryInstance HistoryLevel = iota + 1
	HistoryType
)

// entryStatus maps a version to the response status reported in history.
// A restoring PUT reports 201 at type level and 200 at instance level.
func entryStatus(v *Resource, level HistoryLevel) string {
	switch {
	case v.Method == MethodPost:
		return "201 Created"
	case v.Method == MethodDelete:
		return "204 No Content"
	case v.Restored && level == HistoryType:
		return "201 Created"
	default:
		return "200 OK"
	}
}

// NewHistoryBundle creates a FHIR Bundle of type "history" from versions,
// which the caller orders newest first.
func NewHistoryBundle(versions []*Resource, total int, links []BundleLink, baseURL string, level HistoryLevel) (*Bundle, error) {
	now := time.Now().UTC()
	entries := make([]BundleEntry, len(versions))

	for i, v := range versions {
		e := BundleEntry{
			FullURL: fmt.Sprintf("%s/%s/%s", baseURL, v.ResourceType, v.ID),
			Request: &BundleRequest{
				Method: v.Method,
				URL:    v.Key(),
			},
			Response: &BundleResponse{
				Status:       entryStatus(v, level),
				Location:     v.Location(),
				LastModified: &versions[i].LastUpdated,
			},
		}
		if v.Method == MethodPost {
			e.Request.URL = v.ResourceType
		}
		if !v.Deleted {
			raw, err := v.JSON()
			if err != nil {
				return nil, err
			}
			e.Resource = raw
		}
		entries[i] = e
	}

	return &Bundle{
		ResourceType: "Bundle",
		Type:         "history",
		Total:        &total,
		Timestamp:    &now,
		Link:         links,
		Entry:        entries,
	}, nil
}
