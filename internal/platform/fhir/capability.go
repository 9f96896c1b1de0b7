package fhir

import "time"

// CapabilityStatement represents the FHIR CapabilityStatement (metadata).
type CapabilityStatement struct {
	ResourceType   string            `json:"resourceType"`
	Status         string            `json:"status"`
	Date           string            `json:"date"`
	Kind           string            `json:"kind"`
	FHIRVersion    string            `json:"fhirVersion"`
	Format         []string          `json:"format"`
	Implementation *CSImplementation `json:"implementation,omitempty"`
	Rest           []CSRest          `json:"rest"`
}

type CSImplementation struct {
	Description string `json:"description"`
	URL         string `json:"url,omitempty"`
}

type CSRest struct {
	Mode        string          `json:"mode"`
	Resource    []CSResource    `json:"resource"`
	Interaction []CSInteraction `json:"interaction,omitempty"`
}

type CSResource struct {
	Type          string          `json:"type"`
	Interaction   []CSInteraction `json:"interaction"`
	SearchParam   []CSSearchParam `json:"searchParam,omitempty"`
	SearchInclude []string        `json:"searchInclude,omitempty"`
	SearchRevInc  []string        `json:"searchRevInclude,omitempty"`
	Versioning    string          `json:"versioning,omitempty"`
	ReadHistory   bool            `json:"readHistory,omitempty"`
}

type CSInteraction struct {
	Code string `json:"code"`
}

type CSSearchParam struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ResourceInteractions are the type-level interactions every resource
// supports.
var ResourceInteractions = []CSInteraction{
	{Code: "read"}, {Code: "vread"}, {Code: "update"}, {Code: "delete"},
	{Code: "history-instance"}, {Code: "history-type"}, {Code: "create"}, {Code: "search-type"},
}

// NewCapabilityStatement describes a JSON-only R4 server at baseURL.
func NewCapabilityStatement(baseURL string, resources []CSResource) *CapabilityStatement {
	return &CapabilityStatement{
		ResourceType: "CapabilityStatement",
		Status:       "active",
		Date:         time.Now().UTC().Format("2006-01-02"),
		Kind:         "instance",
		FHIRVersion:  "4.0.1",
		Format:       []string{"application/fhir+json", "json"},
		Implementation: &CSImplementation{
			Description: "FHIR search server",
			URL:         baseURL,
		},
		Rest: []CSRest{{
			Mode:        "server",
			Resource:    resources,
			Interaction: []CSInteraction{{Code: "search-system"}},
		}},
	}
}
