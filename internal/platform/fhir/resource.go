package fhir

import (
	"time"

	"github.com/ehr/fhirstore/internal/platform/docstore"
)

// Meta is the version stamp every stored resource carries.
type Meta struct {
	VersionID   string `json:"versionId"`
	LastUpdated string `json:"lastUpdated"`
}

// FirstVersion is the versionId of a newly stored resource.
const FirstVersion = "1"

// NewMeta stamps versionID at the given time, rendered as UTC RFC 3339.
func NewMeta(versionID string, at time.Time) Meta {
	return Meta{VersionID: versionID, LastUpdated: at.UTC().Format(time.RFC3339)}
}

// ToMap renders the meta as a document object.
func (m Meta) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"versionId":   m.VersionID,
		"lastUpdated": m.LastUpdated,
	}
}

// LastUpdated returns meta.lastUpdated of doc, or "" when absent.
func LastUpdated(doc docstore.Document) string {
	s, _ := doc.Meta()["lastUpdated"].(string)
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

func ErrorOutcome(diagnostics string) *OperationOutcome {
	return NewOperationOutcome(IssueSeverityError, IssueTypeProcessing, diagnostics)
}

func NotFoundOutcome(resourceType, id string) *OperationOutcome {
	return NewOperationOutcome(IssueSeverityError, IssueTypeNotFound, resourceType+"/"+id+" not found")
}

func VersionNotFoundOutcome(resourceType, id, versionID string) *OperationOutcome {
	return NewOperationOutcome(IssueSeverityError, IssueTypeNotFound,
		resourceType+"/"+id+"/_history/"+versionID+" not found")
}
