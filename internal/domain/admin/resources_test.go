package admin

import (
	"context"
	"net/url"
	"testing"

	"github.com/ehr/fhirstore/internal/platform/docstore"
	"github.com/ehr/fhirstore/internal/platform/fhir"
	"github.com/ehr/fhirstore/internal/platform/versioned"
)

func TestOrganizationSearch(t *testing.T) {
	ctx := context.Background()
	reg := fhir.NewRegistry()
	Register(reg)
	table, err := reg.SearchParams(Organization, fhir.BaseSTU3)
	if err != nil {
		t.Fatalf("SearchParams: %v", err)
	}
	s := versioned.New(Organization,
		docstore.NewMemoryCollection(Organization),
		docstore.NewMemoryCollection(docstore.HistoryCollectionName(Organization)),
		table)

	s.Create(ctx, "0", docstore.Document{
		"active": false,
		"name":   "Good Health Clinic",
		"address": []interface{}{map[string]interface{}{
			"line":       []interface{}{"3300 Washtenaw Avenue, Suite 227"},
			"city":       "Ann Arbor",
			"state":      "MI",
			"postalCode": "48104",
			"country":    "USA",
		}},
		"endpoint":   []interface{}{map[string]interface{}{"reference": "Endpoint/example"}},
		"identifier": []interface{}{map[string]interface{}{"system": "http://hl7.org.fhir/sid/us-npi", "value": "1144221847"}},
		"partOf":     map[string]interface{}{"reference": "Organization/1"},
		"type": []interface{}{map[string]interface{}{"coding": []interface{}{
			map[string]interface{}{"system": "http://hl7.org/fhir/organization-type", "code": "prov"},
		}}},
	})
	s.Create(ctx, "1", docstore.Document{"active": true, "name": "Burgers University Medical Center"})

	tests := []struct {
		name  string
		query url.Values
		want  int
	}{
		{"every parameter", url.Values{
			"_id":        {"0"},
			"active":     {"false"},
			"address":    {"3300 Washtenaw"},
			"endpoint":   {"example"},
			"identifier": {"http://hl7.org.fhir/sid/us-npi|1144221847"},
			"name":       {"good"},
			"partof":     {"1"},
			"type":       {"http://hl7.org/fhir/organization-type|prov"},
		}, 1},
		{"name contains", url.Values{"name:contains": {"university"}}, 1},
		{"address-postalcode", url.Values{"address-postalcode": {"481"}}, 1},
		{"all", url.Values{}, 2},
		{"wrong type system", url.Values{"type": {"http://example.org|prov"}}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := s.Search(ctx, fhir.ParseSearchParameters(tt.query))
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			if len(docs) != tt.want {
				t.Errorf("got %d results, want %d", len(docs), tt.want)
			}
		})
	}
}
