// Package admin declares the search parameters of administrative resources.
package admin

import "github.com/ehr/fhirstore/internal/platform/fhir"

const Organization = "Organization"

// OrganizationDefinition declares the Organization search parameters.
func OrganizationDefinition() fhir.ResourceDefinition {
	return fhir.ResourceDefinition{
		Type: Organization,
		SearchParams: fhir.WithParams(fhir.AddressParams(), map[string]fhir.SearchParamConfig{
			"active":     {Type: fhir.SearchParamToken, Path: "active", Boolean: true},
			"endpoint":   {Type: fhir.SearchParamReference, Path: "endpoint", TargetType: "Endpoint"},
			"identifier": {Type: fhir.SearchParamToken, Path: "identifier", ValueField: "value"},
			"name":       {Type: fhir.SearchParamString, Path: "name"},
			"partof":     {Type: fhir.SearchParamReference, Path: "partOf", TargetType: Organization},
			"type":       {Type: fhir.SearchParamToken, Path: "type.coding", ValueField: "code"},
		}),
	}
}

// Register adds Organization to reg.
func Register(reg *fhir.Registry) {
	reg.Register(OrganizationDefinition())
}
