// Package device declares the search parameters of device usage records.
package device

import "github.com/ehr/fhirstore/internal/platform/fhir"

const DeviceUseStatement = "DeviceUseStatement"

// DeviceUseStatementDefinition declares the DeviceUseStatement search parameters.
func DeviceUseStatementDefinition() fhir.ResourceDefinition {
	return fhir.ResourceDefinition{
		Type: DeviceUseStatement,
		SearchParams: map[string]fhir.SearchParamConfig{
			"device":     {Type: fhir.SearchParamReference, Path: "device", TargetType: "Device"},
			"identifier": {Type: fhir.SearchParamToken, Path: "identifier", ValueField: "value"},
			"patient":    {Type: fhir.SearchParamReference, Path: "subject", TargetType: "Patient"},
			"subject":    {Type: fhir.SearchParamReference, Path: "subject"},
		},
	}
}

// Register adds DeviceUseStatement to reg.
func Register(reg *fhir.Registry) {
	reg.Register(DeviceUseStatementDefinition())
}
