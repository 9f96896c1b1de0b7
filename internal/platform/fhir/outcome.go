package fhir

import "fmt"

// OperationOutcome severity levels.
const (
	IssueSeverityFatal       = "fatal"
	IssueSeverityError       = "error"
	IssueSeverityWarning     = "warning"
	IssueSeverityInformation = "information"
)

// OperationOutcome issue type codes.
const (
	IssueTypeInvalid      = "invalid"
	IssueTypeNotFound     = "not-found"
	IssueTypeConflict     = "conflict"
	IssueTypeProcessing   = "processing"
	IssueTypeNotSupported = "not-supported"
	IssueTypeException    = "exception"
	IssueTypeTimeout      = "timeout"
	IssueTypeDeleted      = "deleted"
	IssueTypeTooCostly    = "too-costly"
	IssueTypeInformation  = "informational"
)

// OperationOutcome represents a FHIR OperationOutcome for errors.
type OperationOutcome struct {
	ResourceType string                  `json:"resourceType"`
	Issue        []OperationOutcomeIssue `json:"issue"`
}

type OperationOutcomeIssue struct {
	Severity    string           `json:"severity"`
	Code        string           `json:"code"`
	Details     *CodeableConcept `json:"details,omitempty"`
	Diagnostics string           `json:"diagnostics,omitempty"`
	Expression  []string         `json:"expression,omitempty"`
}

func NewOperationOutcome(severity, code, diagnostics string) *OperationOutcome {
	return &OperationOutcome{
		ResourceType: "OperationOutcome",
		Issue: []OperationOutcomeIssue{
			{
				Severity:    severity,
				Code:        code,
				Diagnostics: diagnostics,
			},
		},
	}
}

// AddIssue appends an issue and returns o.
func (o *OperationOutcome) AddIssue(severity, code, diagnostics string) *OperationOutcome {
	o.Issue = append(o.Issue, OperationOutcomeIssue{Severity: severity, Code: code, Diagnostics: diagnostics})
	return o
}

// Map renders o as a generic body so it can travel as a bundle entry.
func (o *OperationOutcome) Map() map[string]interface{} {
	issues := make([]interface{}, 0, len(o.Issue))
	for _, is := range o.Issue {
		m := map[string]interface{}{"severity": is.Severity, "code": is.Code}
		if is.Diagnostics != "" {
			m["diagnostics"] = is.Diagnostics
		}
		if len(is.Expression) > 0 {
			expr := make([]interface{}, len(is.Expression))
			for i, e := range is.Expression {
				expr[i] = e
			}
			m["expression"] = expr
		}
		issues = append(issues, m)
	}
	return map[string]interface{}{"resourceType": "OperationOutcome", "issue": issues}
}

func ErrorOutcome(diagnostics string) *OperationOutcome {
	return NewOperationOutcome(IssueSeverityError, IssueTypeProcessing, diagnostics)
}

// InvalidOutcome reports a request the server refuses to process.
func InvalidOutcome(diagnostics string) *OperationOutcome {
	return NewOperationOutcome(IssueSeverityError, IssueTypeInvalid, diagnostics)
}

// WarningOutcome collects non-fatal messages.
func WarningOutcome(messages ...string) *OperationOutcome {
	o := &OperationOutcome{ResourceType: "OperationOutcome"}
	for _, m := range messages {
		o.AddIssue(IssueSeverityWarning, IssueTypeProcessing, m)
	}
	return o
}

func NotFoundOutcome(resourceType, id string) *OperationOutcome {
	return NewOperationOutcome(IssueSeverityError, IssueTypeNotFound, resourceType+"/"+id+" not found")
}

// GoneOutcome is returned for reads of a deleted resource.
func GoneOutcome(resourceType, id string) *OperationOutcome {
	return NewOperationOutcome(IssueSeverityError, IssueTypeDeleted,
		fmt.Sprintf("%s/%s has been deleted", resourceType, id))
}

func ConflictOutcome(diagnostics string) *OperationOutcome {
	return NewOperationOutcome(IssueSeverityError, IssueTypeConflict, diagnostics)
}

func TimeoutOutcome() *OperationOutcome {
	return NewOperationOutcome(IssueSeverityError, IssueTypeTimeout, "request timed out")
}
