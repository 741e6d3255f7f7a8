// Package clinical declares the search parameters of clinical findings.
package clinical

import "github.com/ehr/fhirstore/internal/platform/fhir"

const Condition = "Condition"

// ConditionDefinition follows the STU3 element names. R4 turned the two
// status elements into CodeableConcepts, renamed assertedDate to
// recordedDate and context to encounter; the R4 overrides cover that.
func ConditionDefinition() fhir.ResourceDefinition {
	return fhir.ResourceDefinition{
		Type: Condition,
		SearchParams: map[string]fhir.SearchParamConfig{
			"abatement-age":       {Type: fhir.SearchParamQuantity, Path: "abatementAge"},
			"abatement-boolean":   {Type: fhir.SearchParamToken, Path: "abatementBoolean", Boolean: true},
			"abatement-date":      {Type: fhir.SearchParamDate, Path: "abatementDateTime", Precision: fhir.PrecisionDateTime},
			"abatement-string":    {Type: fhir.SearchParamString, Path: "abatementString"},
			"asserted-date":       {Type: fhir.SearchParamDate, Path: "assertedDate", Precision: fhir.PrecisionDate},
			"asserter":            {Type: fhir.SearchParamReference, Path: "asserter"},
			"body-site":           {Type: fhir.SearchParamToken, Path: "bodySite.coding", ValueField: "code"},
			"category":            {Type: fhir.SearchParamToken, Path: "category.coding", ValueField: "code"},
			"clinical-status":     {Type: fhir.SearchParamToken, Path: "clinicalStatus"},
			"code":                {Type: fhir.SearchParamToken, Path: "code.coding", ValueField: "code"},
			"context":             {Type: fhir.SearchParamReference, Path: "context"},
			"evidence":            {Type: fhir.SearchParamToken, Path: "evidence.code.coding", ValueField: "code"},
			"evidence-detail":     {Type: fhir.SearchParamReference, Path: "evidence.detail"},
			"identifier":          {Type: fhir.SearchParamToken, Path: "identifier", ValueField: "value"},
			"onset-age":           {Type: fhir.SearchParamQuantity, Path: "onsetAge"},
			"onset-date":          {Type: fhir.SearchParamDate, Path: "onsetDateTime", Precision: fhir.PrecisionDateTime},
			"onset-info":          {Type: fhir.SearchParamString, Path: "onsetString"},
			"patient":             {Type: fhir.SearchParamReference, Path: "subject", TargetType: "Patient"},
			"severity":            {Type: fhir.SearchParamToken, Path: "severity.coding", ValueField: "code"},
			"stage":               {Type: fhir.SearchParamToken, Path: "stage.summary.coding", ValueField: "code"},
			"subject":             {Type: fhir.SearchParamReference, Path: "subject"},
			"verification-status": {Type: fhir.SearchParamToken, Path: "verificationStatus"},
		},
		BaseOverrides: map[string]map[string]fhir.SearchParamConfig{
			fhir.BaseR4: {
				"clinical-status":     {Type: fhir.SearchParamToken, Path: "clinicalStatus.coding", ValueField: "code"},
				"verification-status": {Type: fhir.SearchParamToken, Path: "verificationStatus.coding", ValueField: "code"},
				"recorded-date":       {Type: fhir.SearchParamDate, Path: "recordedDate", Precision: fhir.PrecisionDateTime},
				"encounter":           {Type: fhir.SearchParamReference, Path: "encounter", TargetType: "Encounter"},
			},
		},
	}
}

// Register adds Condition to reg.
func Register(reg *fhir.Registry) {
	reg.Register(ConditionDefinition())
}
