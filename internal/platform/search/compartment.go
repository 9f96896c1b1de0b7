package search

import "sort"

// compartments maps a compartment type to the member resource types and
// the reference parameters that place a member in the compartment.
var compartments = map[string]map[string][]string{
	"Patient": {
		"CarePlan":                 {"patient"},
		"Condition":                {"patient", "asserter"},
		"Device":                   {"patient"},
		"Encounter":                {"patient"},
		"Group":                    {"member"},
		"MeasureReport":            {"patient"},
		"MedicationAdministration": {"patient", "performer", "subject"},
		"Observation":              {"subject", "performer"},
		"Patient":                  {"link"},
		"Procedure":                {"patient", "performer"},
		"Provenance":               {"patient"},
		"RelatedPerson":            {"patient"},
		"RiskAssessment":           {"subject"},
		"ServiceRequest":           {"subject", "performer"},
	},
	"Encounter": {
		"CarePlan":                 {"encounter"},
		"Condition":                {"encounter"},
		"MedicationAdministration": {"context"},
		"Observation":              {"encounter"},
		"Procedure":                {"encounter"},
		"RiskAssessment":           {"encounter"},
		"ServiceRequest":           {"encounter"},
	},
	"Practitioner": {
		"Condition":                {"asserter"},
		"Encounter":                {"practitioner", "participant"},
		"MedicationAdministration": {"performer"},
		"Observation":              {"performer"},
		"PractitionerRole":         {"practitioner"},
		"Procedure":                {"performer"},
		"Provenance":               {"agent"},
		"RiskAssessment":           {"performer"},
		"ServiceRequest":           {"performer", "requester"},
	},
	"RelatedPerson": {
		"Condition":                {"asserter"},
		"Encounter":                {"participant"},
		"MedicationAdministration": {"performer"},
		"Observation":              {"performer"},
		"Procedure":                {"performer"},
		"Provenance":               {"agent"},
		"ServiceRequest":           {"performer"},
	},
	"Device": {
		"Observation":    {"subject", "device"},
		"Provenance":     {"agent"},
		"RiskAssessment": {"performer"},
		"ServiceRequest": {"performer", "requester"},
	},
}

// CompartmentTypes returns the supported compartment types, sorted.
func CompartmentTypes() []string {
	out := make([]string, 0, len(compartments))
	for t := range compartments {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// CompartmentParams returns the parameters linking resourceType into the
// compartment, and false when the type is not a member.
func CompartmentParams(compartment, resourceType string) ([]string, bool) {
	members, ok := compartments[compartment]
	if !ok {
		return nil, false
	}
	codes, ok := members[resourceType]
	return codes, ok
}
