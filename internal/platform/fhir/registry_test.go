package fhir

import (
	"errors"
	"testing"
)

func newTestRegistry() *Registry {
	reg := NewRegistry()
	reg.Register(ResourceDefinition{
		Type: "Patient",
		SearchParams: map[string]SearchParamConfig{
			"gender": {Type: SearchParamToken, Path: "gender"},
			"name":   {Type: SearchParamName},
		},
		BaseOverrides: map[string]map[string]SearchParamConfig{
			BaseR4: {"general-practitioner": {Type: SearchParamReference, Path: "generalPractitioner"}},
		},
	})
	reg.Register(ResourceDefinition{
		Type:         "DeviceUseStatement",
		SearchParams: map[string]SearchParamConfig{"subject": {Type: SearchParamReference, Path: "subject"}},
		Bases:        []string{BaseSTU3},
	})
	return reg
}

func TestRegistry_SearchParams(t *testing.T) {
	reg := newTestRegistry()

	stu3, err := reg.SearchParams("Patient", BaseSTU3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stu3) != 2 {
		t.Errorf("STU3 Patient params = %d, want 2", len(stu3))
	}

	r4, err := reg.SearchParams("Patient", BaseR4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := r4["general-practitioner"]; !ok || len(r4) != 3 {
		t.Errorf("R4 Patient params = %v", r4)
	}

	// The returned table is a copy.
	r4["injected"] = SearchParamConfig{}
	again, _ := reg.SearchParams("Patient", BaseR4)
	if _, ok := again["injected"]; ok {
		t.Error("caller mutation leaked into the registry")
	}
}

func TestRegistry_Errors(t *testing.T) {
	reg := newTestRegistry()
	tests := []struct {
		name         string
		resourceType string
		base         string
	}{
		{"unknown type", "Observation", BaseR4},
		{"unknown base", "Patient", "1_0_2"},
		{"type not served under base", "DeviceUseStatement", BaseR4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := reg.SearchParams(tt.resourceType, tt.base); !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("expected ErrInvalidArgument, got %v", err)
			}
		})
	}
}

func TestRegistry_Types(t *testing.T) {
	types := newTestRegistry().Types()
	if len(types) != 2 || types[0] != "DeviceUseStatement" || types[1] != "Patient" {
		t.Errorf("Types() = %v", types)
	}
}
