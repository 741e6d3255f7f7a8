package resource

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/fhirstore/internal/platform/fhir"
)

// ErrorHandler renders errors that escape handlers and middleware as
// OperationOutcome resources.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		var outcome *fhir.OperationOutcome

		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
			msg := fmt.Sprint(he.Message)
			switch status {
			case http.StatusUnauthorized:
				outcome = fhir.UnauthorizedOutcome(msg)
			case http.StatusForbidden:
				outcome = fhir.ForbiddenOutcome(msg)
			case http.StatusTooManyRequests:
				outcome = fhir.ThrottleOutcome()
			case http.StatusNotFound:
				outcome = fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeNotFound, msg)
			case http.StatusMethodNotAllowed:
				outcome = fhir.NotSupportedOutcome(msg)
			case http.StatusRequestEntityTooLarge:
				outcome = fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeTooCostly, msg)
			case http.StatusGatewayTimeout:
				outcome = fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeTimeout, msg)
			default:
				outcome = fhir.ErrorOutcome(msg)
			}
		} else {
			status = fhir.HTTPStatus(err)
			outcome = fhir.OutcomeForError(err)
		}

		if status >= http.StatusInternalServerError {
			logger.Error().Err(err).Str("path", c.Path()).Msg("unhandled error")
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(status)
		} else {
			werr = c.JSON(status, outcome)
		}
		if werr != nil {
			logger.Error().Err(werr).Msg("write error response")
		}
	}
}
