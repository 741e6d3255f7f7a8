package fhir

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/ehr/fhirstore/internal/platform/docstore"
)

// SortVersionsDesc orders history snapshots newest first: by versionId
// within an id, then by lastUpdated across ids.
func SortVersionsDesc(docs []docstore.Document) {
	sort.SliceStable(docs, func(i, j int) bool {
		a, b := docs[i], docs[j]
		if a.ID() == b.ID() {
			return versionNumber(a) > versionNumber(b)
		}
		return LastUpdated(a) > LastUpdated(b)
	})
}

func versionNumber(doc docstore.Document) int {
	n, _ := strconv.Atoi(doc.VersionID())
	return n
}

// NewHistoryBundle creates a FHIR Bundle of type "history" from history
// snapshots. Version 1 is reported as the create, later versions as updates.
func NewHistoryBundle(resourceType string, docs []docstore.Document, baseURL string) *Bundle {
	now := time.Now().UTC()
	entries := make([]BundleEntry, len(docs))

	for i, doc := range docs {
		id, version := doc.ID(), doc.VersionID()
		fullURL := fmt.Sprintf("%s/_history/%s", FullURL(baseURL, resourceType, id), version)

		method := "PUT"
		status := "200 OK"
		if version == FirstVersion {
			method = "POST"
			status = "201 Created"
		}

		entries[i] = BundleEntry{
			FullURL:  fullURL,
			Resource: doc,
			Request: &BundleRequest{
				Method: method,
				URL:    FormatReference(resourceType, id),
			},
			Response: &BundleResponse{
				Status:       status,
				LastModified: LastUpdated(doc),
			},
		}
	}

	total := len(docs)
	return &Bundle{
		ResourceType: "Bundle",
		Type:         "history",
		Total:        &total,
		Timestamp:    &now,
		Entry:        entries,
	}
}
