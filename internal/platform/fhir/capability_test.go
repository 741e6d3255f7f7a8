package fhir

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestNewCapabilityStatement(t *testing.T) {
	reg := newTestRegistry()

	cs, err := NewCapabilityStatement(reg, BaseSTU3, "http://localhost/fhir")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cs.FHIRVersion != "3.0.1" {
		t.Errorf("FHIRVersion = %q", cs.FHIRVersion)
	}
	if len(cs.Rest) != 1 || len(cs.Rest[0].Resource) != 2 {
		t.Fatalf("expected 2 resources under STU3, got %+v", cs.Rest)
	}

	r4, err := NewCapabilityStatement(reg, BaseR4, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(r4.Rest[0].Resource) != 1 || r4.Rest[0].Resource[0].Type != "Patient" {
		t.Errorf("R4 should only list Patient, got %+v", r4.Rest[0].Resource)
	}

	if _, err := NewCapabilityStatement(reg, "2_0_0", ""); err == nil {
		t.Error("expected error for unknown base")
	}
}

func TestResourceCapability(t *testing.T) {
	rc := ResourceCapability("Patient", map[string]SearchParamConfig{
		"name":      {Type: SearchParamName},
		"birthdate": {Type: SearchParamDate},
	})
	want := []CSSearchParam{
		{Name: "_id", Type: "token"},
		{Name: "birthdate", Type: "date"},
		{Name: "name", Type: "string"},
	}
	if len(rc.SearchParam) != len(want) {
		t.Fatalf("SearchParam = %+v", rc.SearchParam)
	}
	for i, w := range want {
		if rc.SearchParam[i] != w {
			t.Errorf("SearchParam[%d] = %+v, want %+v", i, rc.SearchParam[i], w)
		}
	}
	if rc.Versioning != "versioned" || !rc.ReadHistory {
		t.Error("resources should advertise versioned history")
	}
}

func TestCapabilityHandler(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/fhir/metadata", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := CapabilityHandler(newTestRegistry(), BaseR4, "")(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["resourceType"] != "CapabilityStatement" || body["fhirVersion"] != "4.0.1" {
		t.Errorf("unexpected body %v", body)
	}
}
