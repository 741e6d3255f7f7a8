package identity

import (
	"context"
	"net/url"
	"testing"

	"github.com/ehr/fhirstore/internal/platform/docstore"
	"github.com/ehr/fhirstore/internal/platform/fhir"
	"github.com/ehr/fhirstore/internal/platform/versioned"
)

func newStore(t *testing.T, resourceType string) *versioned.Store {
	t.Helper()
	reg := fhir.NewRegistry()
	Register(reg)
	table, err := reg.SearchParams(resourceType, fhir.BaseR4)
	if err != nil {
		t.Fatalf("SearchParams: %v", err)
	}
	return versioned.New(resourceType,
		docstore.NewMemoryCollection(resourceType),
		docstore.NewMemoryCollection(docstore.HistoryCollectionName(resourceType)),
		table)
}

func seedPatients(t *testing.T, s *versioned.Store) {
	t.Helper()
	patients := map[string]docstore.Document{
		"ann": {
			"active":    true,
			"gender":    "female",
			"birthDate": "1974-12-25",
			"name": []interface{}{map[string]interface{}{
				"family": "Chalmers",
				"given":  []interface{}{"Peter", "James"},
			}},
			"address": []interface{}{map[string]interface{}{
				"use":        "home",
				"line":       []interface{}{"534 Erewhon St"},
				"city":       "Ann Arbor",
				"state":      "MI",
				"postalCode": "48104",
				"country":    "USA",
			}},
			"telecom": []interface{}{
				map[string]interface{}{"system": "email", "value": "peter@example.org"},
				map[string]interface{}{"system": "phone", "value": "(03) 5555 6473"},
			},
			"identifier":           []interface{}{map[string]interface{}{"system": "urn:oid:1.2.36.146.595.217.0.1", "value": "12345"}},
			"generalPractitioner":  []interface{}{map[string]interface{}{"reference": "Practitioner/gp1"}},
			"managingOrganization": map[string]interface{}{"reference": "Organization/1"},
			"communication":        []interface{}{map[string]interface{}{"language": coding("urn:ietf:bcp:47", "nl")}},
			"link":                 []interface{}{map[string]interface{}{"other": map[string]interface{}{"reference": "Patient/bob"}}},
			"deceasedBoolean":      false,
		},
		"bob": {
			"active":           false,
			"gender":           "male",
			"birthDate":        "1932-09-24",
			"deceasedDateTime": "2015-02-14T13:42:00Z",
			"name":             []interface{}{map[string]interface{}{"text": "Bob Arbor", "family": "Annison"}},
			"address":          []interface{}{map[string]interface{}{"city": "Detroit", "state": "MI"}},
			"telecom":          []interface{}{map[string]interface{}{"system": "phone", "value": "peter@example.org"}},
		},
	}
	for _, id := range []string{"ann", "bob"} {
		if _, err := s.Create(context.Background(), id, patients[id]); err != nil {
			t.Fatalf("Create %s: %v", id, err)
		}
	}
}

func coding(system, code string) map[string]interface{} {
	return map[string]interface{}{"coding": []interface{}{map[string]interface{}{"system": system, "code": code}}}
}

func TestPatientSearch(t *testing.T) {
	s := newStore(t, Patient)
	seedPatients(t, s)

	tests := []struct {
		name  string
		query url.Values
		want  []string
	}{
		{"address city prefix", url.Values{"address": {"ann arb"}}, []string{"ann"}},
		{"address any field", url.Values{"address": {"MI"}}, []string{"ann", "bob"}},
		{"address-city", url.Values{"address-city": {"Detroit"}}, []string{"bob"}},
		{"address-use", url.Values{"address-use": {"home"}}, []string{"ann"}},
		{"name over family and text", url.Values{"name": {"ann"}}, []string{"bob"}},
		{"given", url.Values{"given": {"jam"}}, []string{"ann"}},
		{"family exact", url.Values{"family:exact": {"Chalmers"}}, []string{"ann"}},
		{"email forces the system", url.Values{"email": {"peter@example.org"}}, []string{"ann"}},
		{"phone", url.Values{"phone": {"(03) 5555 6473"}}, []string{"ann"}},
		{"telecom any system", url.Values{"telecom": {"peter@example.org"}}, []string{"ann", "bob"}},
		{"identifier system and value", url.Values{"identifier": {"urn:oid:1.2.36.146.595.217.0.1|12345"}}, []string{"ann"}},
		{"identifier system only", url.Values{"identifier": {"urn:oid:1.2.36.146.595.217.0.1|"}}, []string{"ann"}},
		{"birthdate before", url.Values{"birthdate": {"lt1950"}}, []string{"bob"}},
		{"birthdate day", url.Values{"birthdate": {"1974-12-25"}}, []string{"ann"}},
		{"death-date", url.Values{"death-date": {"2015-02"}}, []string{"bob"}},
		{"active", url.Values{"active": {"true"}}, []string{"ann"}},
		{"deceased", url.Values{"deceased": {"false"}}, []string{"ann"}},
		{"general-practitioner", url.Values{"general-practitioner": {"Practitioner/gp1"}}, []string{"ann"}},
		{"organization bare id", url.Values{"organization": {"1"}}, []string{"ann"}},
		{"organization absolute url", url.Values{"organization": {"http://example.org/fhir/Organization/1"}}, []string{"ann"}},
		{"language", url.Values{"language": {"nl"}}, []string{"ann"}},
		{"link", url.Values{"link": {"bob"}}, []string{"ann"}},
		{"gender alternatives", url.Values{"gender": {"male,other"}}, []string{"bob"}},
		{"_id alternatives", url.Values{"_id": {"ann,bob"}}, []string{"ann", "bob"}},
		{"unknown parameter ignored", url.Values{"phonetic": {"x"}}, []string{"ann", "bob"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := s.Search(context.Background(), fhir.ParseSearchParameters(tt.query))
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			if len(docs) != len(tt.want) {
				t.Fatalf("got %d results, want %v", len(docs), tt.want)
			}
			for i, id := range tt.want {
				if docs[i].ID() != id {
					t.Errorf("result %d = %q, want %q", i, docs[i].ID(), id)
				}
			}
		})
	}
}

func TestPatientSearch_Invalid(t *testing.T) {
	s := newStore(t, Patient)
	tests := []url.Values{
		{"email": {"mailto|peter@example.org"}},
		{"birthdate": {"not-a-date"}},
		{"gender:contains": {"fem"}},
	}
	for _, q := range tests {
		if _, err := s.Search(context.Background(), fhir.ParseSearchParameters(q)); fhir.HTTPStatus(err) != 400 {
			t.Errorf("Search(%v): expected invalid argument, got %v", q, err)
		}
	}
}

func TestPractitionerSearch(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, Practitioner)
	s.Create(ctx, "gp1", docstore.Document{
		"active":        true,
		"gender":        "female",
		"name":          []interface{}{map[string]interface{}{"family": "Careful", "given": []interface{}{"Adam"}}},
		"communication": []interface{}{coding("urn:ietf:bcp:47", "en")},
		"telecom":       []interface{}{map[string]interface{}{"system": "email", "value": "adam@example.org"}},
		"address":       []interface{}{map[string]interface{}{"city": "Amsterdam", "use": "work"}},
	})

	tests := []struct {
		name  string
		query url.Values
		want  int
	}{
		{"name", url.Values{"name": {"adam"}}, 1},
		{"communication", url.Values{"communication": {"urn:ietf:bcp:47|en"}}, 1},
		{"email", url.Values{"email": {"adam@example.org"}}, 1},
		{"address-use", url.Values{"address-use": {"home"}}, 0},
		{"address", url.Values{"address": {"amster"}}, 1},
		{"inactive", url.Values{"active": {"false"}}, 0},
	}
	for _, tt := range tests {
		docs, err := s.Search(ctx, fhir.ParseSearchParameters(tt.query))
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if len(docs) != tt.want {
			t.Errorf("%s: got %d results, want %d", tt.name, len(docs), tt.want)
		}
	}
}
