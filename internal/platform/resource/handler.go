// Package resource exposes a versioned.Store over the FHIR REST interactions:
// search, read, vread, history, create, update and delete.
package resource

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/fhirstore/internal/platform/auth"
	"github.com/ehr/fhirstore/internal/platform/docstore"
	"github.com/ehr/fhirstore/internal/platform/fhir"
	"github.com/ehr/fhirstore/internal/platform/versioned"
	"github.com/ehr/fhirstore/pkg/pagination"
)

// Handler serves the FHIR REST interactions of one resource type.
type Handler struct {
	store   *versioned.Store
	baseURL string
	logger  zerolog.Logger
}

// NewHandler serves store. baseURL is the absolute FHIR base used for
// fullUrl and Location values; empty yields relative references.
func NewHandler(store *versioned.Store, baseURL string, logger zerolog.Logger) *Handler {
	return &Handler{
		store:   store,
		baseURL: baseURL,
		logger:  logger.With().Str("resource_type", store.ResourceType()).Logger(),
	}
}

// RegisterRoutes mounts the type and instance routes on fhirGroup. Reads
// require the read scope of the type, writes the write scope.
func (h *Handler) RegisterRoutes(fhirGroup *echo.Group) {
	t := "/" + h.store.ResourceType()

	readGroup := fhirGroup.Group("", auth.RequireScope(h.store.ResourceType(), auth.OpRead))
	readGroup.GET(t, h.Search)
	readGroup.POST(t+"/_search", h.Search)
	readGroup.GET(t+"/_history", h.HistoryType)
	readGroup.GET(t+"/:id", h.Read)
	readGroup.GET(t+"/:id/_history", h.HistoryInstance)
	readGroup.GET(t+"/:id/_history/:vid", h.VRead)

	writeGroup := fhirGroup.Group("", auth.RequireScope(h.store.ResourceType(), auth.OpWrite))
	writeGroup.POST(t, h.Create)
	writeGroup.PUT(t+"/:id", h.Update)
	writeGroup.DELETE(t+"/:id", h.Delete)
}

// Search handles GET /T and POST /T/_search. _summary=count returns only
// the total.
func (h *Handler) Search(c echo.Context) error {
	ctx := c.Request().Context()
	params := fhir.ExtractSearchParams(c)

	if c.FormValue("_summary") == "count" {
		if len(params) == 0 {
			total, err := h.store.Count(ctx)
			if err != nil {
				return h.fail(c, err)
			}
			return c.JSON(http.StatusOK, fhir.NewCountBundle(total, selfURL(c)))
		}
		docs, err := h.store.Search(ctx, params)
		if err != nil {
			return h.fail(c, err)
		}
		return c.JSON(http.StatusOK, fhir.NewCountBundle(int64(len(docs)), selfURL(c)))
	}

	docs, err := h.store.Search(ctx, params)
	if err != nil {
		return h.fail(c, err)
	}
	page := pagination.FromContext(c)
	start, end := page.Bounds(len(docs))
	bundle := fhir.NewSearchBundle(h.store.ResourceType(), docs[start:end], selfURL(c), h.baseURL)
	return c.JSON(http.StatusOK, paged(c, bundle, page, len(docs)))
}

// Read handles GET /T/:id, answering 304 when If-None-Match holds the
// current version.
func (h *Handler) Read(c echo.Context) error {
	id := c.Param("id")
	doc, err := h.store.SearchByID(c.Request().Context(), id)
	if err != nil {
		return h.fail(c, err)
	}
	if doc == nil {
		return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome(h.store.ResourceType(), id))
	}
	if fhir.CheckIfNoneMatch(c, doc.VersionID()) {
		return c.NoContent(http.StatusNotModified)
	}
	fhir.SetVersionHeaders(c, doc.VersionID(), fhir.LastUpdated(doc))
	return c.JSON(http.StatusOK, doc)
}

// VRead handles GET /T/:id/_history/:vid.
func (h *Handler) VRead(c echo.Context) error {
	id, vid := c.Param("id"), c.Param("vid")
	doc, err := h.store.SearchByVersionID(c.Request().Context(), id, vid)
	if err != nil {
		return h.fail(c, err)
	}
	if doc == nil {
		return c.JSON(http.StatusNotFound, fhir.VersionNotFoundOutcome(h.store.ResourceType(), id, vid))
	}
	fhir.SetVersionHeaders(c, doc.VersionID(), fhir.LastUpdated(doc))
	return c.JSON(http.StatusOK, doc)
}

// HistoryInstance handles GET /T/:id/_history, newest version first.
func (h *Handler) HistoryInstance(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	docs, err := h.store.HistoryByID(ctx, id)
	if err != nil {
		return h.fail(c, err)
	}
	if len(docs) == 0 {
		current, err := h.store.SearchByID(ctx, id)
		if err != nil {
			return h.fail(c, err)
		}
		if current == nil {
			return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome(h.store.ResourceType(), id))
		}
	}

	fhir.SortVersionsDesc(docs)
	return c.JSON(http.StatusOK, fhir.NewHistoryBundle(h.store.ResourceType(), docs, h.baseURL))
}

// HistoryType handles GET /T/_history.
func (h *Handler) HistoryType(c echo.Context) error {
	docs, err := h.store.History(c.Request().Context(), fhir.ExtractSearchParams(c))
	if err != nil {
		return h.fail(c, err)
	}
	fhir.SortVersionsDesc(docs)
	page := pagination.FromContext(c)
	start, end := page.Bounds(len(docs))
	bundle := fhir.NewHistoryBundle(h.store.ResourceType(), docs[start:end], h.baseURL)
	return c.JSON(http.StatusOK, paged(c, bundle, page, len(docs)))
}

// Create handles POST /T. The id comes from the payload or is generated.
func (h *Handler) Create(c echo.Context) error {
	payload, err := h.readResource(c)
	if err != nil {
		return h.fail(c, err)
	}

	id := payload.ID()
	if id == "" {
		id = uuid.New().String()
	}
	res, err := h.store.Create(c.Request().Context(), id, payload)
	if err != nil {
		return h.fail(c, err)
	}

	version := res.Resource.VersionID()
	c.Response().Header().Set("Location", h.versionLocation(res.ID, version))
	fhir.SetVersionHeaders(c, version, fhir.LastUpdated(res.Resource))
	return c.JSON(http.StatusCreated, res.Resource)
}

// Update handles PUT /T/:id, honoring If-Match. It answers 201 when the
// resource did not exist.
func (h *Handler) Update(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	payload, err := h.readResource(c)
	if err != nil {
		return h.fail(c, err)
	}
	if pid := payload.ID(); pid != "" && pid != id {
		return h.fail(c, fmt.Errorf("%w: resource id %q does not match URL id %q", fhir.ErrInvalidArgument, pid, id))
	}

	if c.Request().Header.Get("If-Match") != "" {
		current, err := h.store.SearchByID(ctx, id)
		if err != nil {
			return h.fail(c, err)
		}
		if err := fhir.CheckIfMatch(c, current.VersionID()); err != nil {
			return h.fail(c, err)
		}
	}

	res, err := h.store.Update(ctx, id, payload)
	if err != nil {
		return h.fail(c, err)
	}

	fhir.SetVersionHeaders(c, res.ResourceVersion, fhir.LastUpdated(res.Resource))
	if res.Created {
		c.Response().Header().Set("Location", h.versionLocation(res.ID, res.ResourceVersion))
		return c.JSON(http.StatusCreated, res.Resource)
	}
	return c.JSON(http.StatusOK, res.Resource)
}

// Delete handles DELETE /T/:id.
func (h *Handler) Delete(c echo.Context) error {
	res, err := h.store.Remove(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	h.logger.Debug().Str("id", c.Param("id")).Int64("deleted", res.Deleted).Msg("resource deleted")
	return c.NoContent(http.StatusNoContent)
}

// readResource decodes the request body and checks its resourceType.
func (h *Handler) readResource(c echo.Context) (docstore.Document, error) {
	body, err := io.ReadAll(c.Request().Body)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return nil, he
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", fhir.ErrInvalidArgument, err)
	}
	doc, err := docstore.DecodeDocument(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", fhir.ErrInvalidArgument, err)
	}
	if rt, ok := doc["resourceType"]; ok && rt != h.store.ResourceType() {
		return nil, fmt.Errorf("%w: resourceType %v does not match %s", fhir.ErrInvalidArgument, rt, h.store.ResourceType())
	}
	return doc, nil
}

func (h *Handler) versionLocation(id, version string) string {
	return fmt.Sprintf("%s/_history/%s", fhir.FullURL(h.baseURL, h.store.ResourceType(), id), version)
}

func (h *Handler) fail(c echo.Context, err error) error {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}
	status := fhir.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("path", c.Path()).Msg("request failed")
	} else if errors.Is(err, fhir.ErrConflict) {
		h.logger.Info().Err(err).Str("path", c.Path()).Msg("write conflict")
	}
	return c.JSON(status, fhir.OutcomeForError(err))
}

// paged reports the full match count and replaces the bundle links with
// the paging links of the request. POSTed searches link to the GET form.
func paged(c echo.Context, b *fhir.Bundle, page pagination.Params, total int) *fhir.Bundle {
	b.Total = &total

	req := c.Request()
	base := fmt.Sprintf("%s://%s%s", c.Scheme(), req.Host, strings.TrimSuffix(req.URL.Path, "/_search"))
	query, err := c.FormParams()
	if err != nil {
		query = req.URL.Query()
	}

	b.Link = nil
	for _, l := range page.Links(base, query, total) {
		b.Link = append(b.Link, fhir.BundleLink{Relation: l.Relation, URL: l.URL})
	}
	return b
}

func selfURL(c echo.Context) string {
	req := c.Request()
	return fmt.Sprintf("%s://%s%s", c.Scheme(), req.Host, req.URL.RequestURI())
}
