package device

import (
	"context"
	"net/url"
	"testing"

	"github.com/ehr/fhirstore/internal/platform/docstore"
	"github.com/ehr/fhirstore/internal/platform/fhir"
	"github.com/ehr/fhirstore/internal/platform/versioned"
)

func TestDeviceUseStatementLifecycle(t *testing.T) {
	ctx := context.Background()
	reg := fhir.NewRegistry()
	Register(reg)
	table, err := reg.SearchParams(DeviceUseStatement, fhir.BaseSTU3)
	if err != nil {
		t.Fatalf("SearchParams: %v", err)
	}
	s := versioned.New(DeviceUseStatement,
		docstore.NewMemoryCollection(DeviceUseStatement),
		docstore.NewMemoryCollection(docstore.HistoryCollectionName(DeviceUseStatement)),
		table)

	if _, err := s.Create(ctx, "dus1", docstore.Document{
		"status":     "active",
		"device":     map[string]interface{}{"reference": "Device/pump"},
		"subject":    map[string]interface{}{"reference": "Patient/example"},
		"identifier": []interface{}{map[string]interface{}{"system": "http://acme.org/dus", "value": "51ebb7a9"}},
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	search := func(q url.Values) int {
		t.Helper()
		docs, err := s.Search(ctx, fhir.ParseSearchParameters(q))
		if err != nil {
			t.Fatalf("Search(%v): %v", q, err)
		}
		return len(docs)
	}

	if n := search(url.Values{"device": {"pump"}, "patient": {"example"}}); n != 1 {
		t.Errorf("device+patient = %d, want 1", n)
	}
	if n := search(url.Values{"subject": {"Patient/example"}, "identifier": {"51ebb7a9"}}); n != 1 {
		t.Errorf("subject+identifier = %d, want 1", n)
	}

	res, err := s.Update(ctx, "dus1", docstore.Document{
		"status":  "completed",
		"device":  map[string]interface{}{"reference": "Device/monitor"},
		"subject": map[string]interface{}{"reference": "Patient/example"},
	})
	if err != nil || res.ResourceVersion != "2" {
		t.Fatalf("Update = %+v, %v", res, err)
	}
	if n := search(url.Values{"device": {"pump"}}); n != 0 {
		t.Errorf("current records should follow the update, got %d", n)
	}
	old, _ := s.History(ctx, fhir.ParseSearchParameters(url.Values{"device": {"pump"}}))
	if len(old) != 1 || old[0].VersionID() != "1" {
		t.Errorf("history should still hold version 1, got %v", old)
	}

	if _, err := s.Remove(ctx, "dus1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if n, _ := s.Count(ctx); n != 0 {
		t.Errorf("Count after remove = %d", n)
	}
}
