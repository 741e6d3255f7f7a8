package fhir

import (
	"fmt"
	"time"

	"github.com/ehr/fhirstore/internal/platform/docstore"
)

// Bundle represents a FHIR Bundle resource.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	ID           string        `json:"id,omitempty"`
	Type         string        `json:"type"`
	Total        *int          `json:"total,omitempty"`
	Link         []BundleLink  `json:"link,omitempty"`
	Entry        []BundleEntry `json:"entry,omitempty"`
	Timestamp    *time.Time    `json:"timestamp,omitempty"`
}

type BundleLink struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}

type BundleEntry struct {
	FullURL  string            `json:"fullUrl,omitempty"`
	Resource docstore.Document `json:"resource,omitempty"`
	Search   *BundleSearch     `json:"search,omitempty"`
	Request  *BundleRequest    `json:"request,omitempty"`
	Response *BundleResponse   `json:"response,omitempty"`
}

type BundleSearch struct {
	Mode string `json:"mode,omitempty"`
}

type BundleRequest struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

type BundleResponse struct {
	Status       string `json:"status"`
	Location     string `json:"location,omitempty"`
	LastModified string `json:"lastModified,omitempty"`
}

// NewSearchBundle creates a searchset Bundle from matching documents.
// selfURL is the request URL; baseURL prefixes each entry's fullUrl.
func NewSearchBundle(resourceType string, docs []docstore.Document, selfURL, baseURL string) *Bundle {
	now := time.Now().UTC()
	entries := make([]BundleEntry, len(docs))
	for i, doc := range docs {
		entries[i] = BundleEntry{
			FullURL:  FullURL(baseURL, resourceType, doc.ID()),
			Resource: doc,
			Search:   &BundleSearch{Mode: "match"},
		}
	}
	total := len(docs)
	return &Bundle{
		ResourceType: "Bundle",
		Type:         "searchset",
		Total:        &total,
		Timestamp:    &now,
		Link:         []BundleLink{{Relation: "self", URL: selfURL}},
		Entry:        entries,
	}
}

// NewCountBundle creates an entry-less searchset Bundle carrying only the
// total, the response to _summary=count.
func NewCountBundle(total int64, selfURL string) *Bundle {
	now := time.Now().UTC()
	n := int(total)
	return &Bundle{
		ResourceType: "Bundle",
		Type:         "searchset",
		Total:        &n,
		Timestamp:    &now,
		Link:         []BundleLink{{Relation: "self", URL: selfURL}},
	}
}

// FullURL builds the absolute URL of a resource.
func FullURL(baseURL, resourceType, id string) string {
	if baseURL == "" {
		return FormatReference(resourceType, id)
	}
	return fmt.Sprintf("%s/%s/%s", baseURL, resourceType, id)
}

// FormatReference creates a FHIR reference string.
func FormatReference(resourceType, id string) string {
	return fmt.Sprintf("%s/%s", resourceType, id)
}
