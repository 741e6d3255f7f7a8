// Package identity declares the search parameters of the people in the
// record: patients and practitioners.
package identity

import "github.com/ehr/fhirstore/internal/platform/fhir"

const (
	Patient      = "Patient"
	Practitioner = "Practitioner"
)

// PatientDefinition declares the Patient search parameters.
func PatientDefinition() fhir.ResourceDefinition {
	return fhir.ResourceDefinition{
		Type: Patient,
		SearchParams: fhir.WithParams(fhir.AddressParams(), fhir.TelecomParams(), map[string]fhir.SearchParamConfig{
			"active":               {Type: fhir.SearchParamToken, Path: "active", Boolean: true},
			"animal-breed":         {Type: fhir.SearchParamToken, Path: "animal.breed.coding", ValueField: "code"},
			"animal-species":       {Type: fhir.SearchParamToken, Path: "animal.species.coding", ValueField: "code"},
			"birthdate":            {Type: fhir.SearchParamDate, Path: "birthDate", Precision: fhir.PrecisionDate},
			"death-date":           {Type: fhir.SearchParamDate, Path: "deceasedDateTime", Precision: fhir.PrecisionDateTime},
			"deceased":             {Type: fhir.SearchParamToken, Path: "deceasedBoolean", Boolean: true},
			"family":               {Type: fhir.SearchParamString, Path: "name.family"},
			"gender":               {Type: fhir.SearchParamToken, Path: "gender"},
			"general-practitioner": {Type: fhir.SearchParamReference, Path: "generalPractitioner"},
			"given":                {Type: fhir.SearchParamString, Path: "name.given"},
			"identifier":           {Type: fhir.SearchParamToken, Path: "identifier", ValueField: "value"},
			"language":             {Type: fhir.SearchParamToken, Path: "communication.language.coding", ValueField: "code"},
			"link":                 {Type: fhir.SearchParamReference, Path: "link.other", TargetType: Patient},
			"name":                 {Type: fhir.SearchParamName},
			"organization":         {Type: fhir.SearchParamReference, Path: "managingOrganization", TargetType: "Organization"},
		}),
	}
}

// PractitionerDefinition declares the Practitioner search parameters.
func PractitionerDefinition() fhir.ResourceDefinition {
	return fhir.ResourceDefinition{
		Type: Practitioner,
		SearchParams: fhir.WithParams(fhir.AddressParams(), fhir.TelecomParams(), map[string]fhir.SearchParamConfig{
			"active":        {Type: fhir.SearchParamToken, Path: "active", Boolean: true},
			"communication": {Type: fhir.SearchParamToken, Path: "communication.coding", ValueField: "code"},
			"family":        {Type: fhir.SearchParamString, Path: "name.family"},
			"gender":        {Type: fhir.SearchParamToken, Path: "gender"},
			"given":         {Type: fhir.SearchParamString, Path: "name.given"},
			"identifier":    {Type: fhir.SearchParamToken, Path: "identifier", ValueField: "value"},
			"name":          {Type: fhir.SearchParamName},
		}),
	}
}

// Register adds Patient and Practitioner to reg.
func Register(reg *fhir.Registry) {
	reg.Register(PatientDefinition())
	reg.Register(PractitionerDefinition())
}
