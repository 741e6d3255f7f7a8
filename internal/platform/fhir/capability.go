package fhir

import (
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/labstack/echo/v4"
)

// CapabilityStatement represents the FHIR CapabilityStatement (metadata).
type CapabilityStatement struct {
	ResourceType   string            `json:"resourceType"`
	Status         string            `json:"status"`
	Date           string            `json:"date"`
	Kind           string            `json:"kind"`
	FHIRVersion    string            `json:"fhirVersion"`
	Format         []string          `json:"format"`
	Implementation *CSImplementation `json:"implementation,omitempty"`
	Rest           []CSRest          `json:"rest"`
}

type CSImplementation struct {
	Description string `json:"description"`
	URL         string `json:"url,omitempty"`
}

type CSRest struct {
	Mode        string          `json:"mode"`
	Resource    []CSResource    `json:"resource"`
	Interaction []CSInteraction `json:"interaction,omitempty"`
}

type CSResource struct {
	Type         string          `json:"type"`
	Interaction  []CSInteraction `json:"interaction"`
	SearchParam  []CSSearchParam `json:"searchParam,omitempty"`
	Versioning   string          `json:"versioning,omitempty"`
	ReadHistory  bool            `json:"readHistory,omitempty"`
	UpdateCreate bool            `json:"updateCreate,omitempty"`
}

type CSInteraction struct {
	Code string `json:"code"`
}

type CSSearchParam struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

var fhirVersions = map[string]string{
	BaseSTU3: "3.0.1",
	BaseR4:   "4.0.1",
}

// NewCapabilityStatement describes every type registered in reg under base.
func NewCapabilityStatement(reg *Registry, base, baseURL string) (*CapabilityStatement, error) {
	if !reg.IsKnownBase(base) {
		return nil, fmt.Errorf("%w: unknown base version %q", ErrInvalidArgument, base)
	}
	var resources []CSResource
	for _, t := range reg.Types() {
		params, err := reg.SearchParams(t, base)
		if err != nil {
			// not served under this base
			continue
		}
		resources = append(resources, ResourceCapability(t, params))
	}

	return &CapabilityStatement{
		ResourceType: "CapabilityStatement",
		Status:       "active",
		Date:         time.Now().UTC().Format("2006-01-02"),
		Kind:         "instance",
		FHIRVersion:  fhirVersions[base],
		Format:       []string{"json"},
		Implementation: &CSImplementation{
			Description: "Versioned FHIR document store",
			URL:         baseURL,
		},
		Rest: []CSRest{
			{
				Mode:        "server",
				Resource:    resources,
				Interaction: []CSInteraction{{Code: "search-system"}},
			},
		},
	}, nil
}

// ResourceCapability creates a CSResource with the CRUD, vread and history
// interactions and the declared search parameters, sorted by name.
func ResourceCapability(resourceType string, params map[string]SearchParamConfig) CSResource {
	names := make([]string, 0, len(params)+1)
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	searchParams := []CSSearchParam{{Name: IDParam, Type: "token"}}
	for _, name := range names {
		searchParams = append(searchParams, CSSearchParam{Name: name, Type: params[name].Type.String()})
	}

	return CSResource{
		Type: resourceType,
		Interaction: []CSInteraction{
			{Code: "read"},
			{Code: "vread"},
			{Code: "search-type"},
			{Code: "history-instance"},
			{Code: "history-type"},
			{Code: "create"},
			{Code: "update"},
			{Code: "delete"},
		},
		SearchParam:  searchParams,
		Versioning:   "versioned",
		ReadHistory:  true,
		UpdateCreate: true,
	}
}

// CapabilityHandler serves the CapabilityStatement for base.
func CapabilityHandler(reg *Registry, base, baseURL string) echo.HandlerFunc {
	return func(c echo.Context) error {
		cs, err := NewCapabilityStatement(reg, base, baseURL)
		if err != nil {
			return c.JSON(HTTPStatus(err), OutcomeForError(err))
		}
		return c.JSON(http.StatusOK, cs)
	}
}
