package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/fhirstore/internal/platform/auth"
)

// AccessEntry describes one access to clinical data.
type AccessEntry struct {
	Timestamp    time.Time
	RequestID    string
	UserID       string
	Scopes       []string
	Interaction  string
	ResourceType string
	ResourceID   string
	Method       string
	Path         string
	RemoteIP     string
	StatusCode   int
}

// AccessRecorder persists access entries.
type AccessRecorder interface {
	RecordAccess(entry AccessEntry) error
}

// AccessRecorderFunc adapts a function to AccessRecorder.
type AccessRecorderFunc func(entry AccessEntry) error

func (f AccessRecorderFunc) RecordAccess(entry AccessEntry) error {
	return f(entry)
}

// Audit logs every request under /fhir/ as an access entry tagged with the
// caller identity and the FHIR interaction, and forwards it to recorder when
// one is given.
func Audit(logger zerolog.Logger, recorder AccessRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !strings.HasPrefix(req.URL.Path, "/fhir/") {
				return next(c)
			}

			err := next(c)

			ctx := c.Request().Context()
			resourceType, id, vid := splitFHIRPath(req.URL.Path)
			action := interaction(req.Method, id, vid, req.URL.Path)
			if op, ok := systemInteractions[resourceType]; ok {
				resourceType, action = "", op
			}
			entry := AccessEntry{
				Timestamp:    time.Now().UTC(),
				RequestID:    GetRequestID(c),
				UserID:       auth.UserIDFromContext(ctx),
				Scopes:       auth.ScopesFromContext(ctx),
				Interaction:  action,
				ResourceType: resourceType,
				ResourceID:   id,
				Method:       req.Method,
				Path:         req.URL.Path,
				RemoteIP:     c.RealIP(),
				StatusCode:   responseStatus(c, err),
			}

			if recorder != nil {
				if recErr := recorder.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).Str("request_id", entry.RequestID).Msg("failed to record access entry")
				}
			}

			logger.Info().
				Str("type", "fhir_access").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Strs("scopes", entry.Scopes).
				Str("interaction", entry.Interaction).
				Str("resource_type", entry.ResourceType).
				Str("resource_id", entry.ResourceID).
				Int("status", entry.StatusCode).
				Str("remote_ip", entry.RemoteIP).
				Msg("access")

			return err
		}
	}
}

// systemInteractions maps the first path segment of server-level endpoints
// to the interaction they perform.
var systemInteractions = map[string]string{
	"metadata": "capabilities",
	"_changes": "subscribe",
}

// splitFHIRPath extracts type, id and version from /fhir/Type[/id[/_history[/vid]]].
// Operation segments such as _search and _history in the id slot are not ids.
func splitFHIRPath(path string) (resourceType, id, vid string) {
	segs := strings.Split(strings.Trim(strings.TrimPrefix(path, "/fhir/"), "/"), "/")
	resourceType = segs[0]
	if len(segs) > 1 && !strings.HasPrefix(segs[1], "_") {
		id = segs[1]
	}
	if id != "" && len(segs) > 3 && segs[2] == "_history" {
		vid = segs[3]
	}
	return resourceType, id, vid
}

// interaction names the FHIR RESTful interaction of a request.
func interaction(method, id, vid, path string) string {
	history := strings.Contains(path, "/_history")
	switch method {
	case http.MethodGet, http.MethodHead:
		switch {
		case vid != "":
			return "vread"
		case history && id != "":
			return "history-instance"
		case history:
			return "history-type"
		case id != "":
			return "read"
		default:
			return "search-type"
		}
	case http.MethodPost:
		if strings.HasSuffix(path, "/_search") {
			return "search-type"
		}
		return "create"
	case http.MethodPut:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "unknown"
	}
}
