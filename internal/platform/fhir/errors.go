package fhir

import (
	"errors"
	"net/http"
)

// Error kinds surfaced by the search compiler and the versioned store.
// Callers wrap them with fmt.Errorf("%w: ...") and test with errors.Is.
var (
	// ErrInvalidArgument marks a malformed search value or request input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrConflict marks a write that lost against a concurrent change, a
	// create over an existing id, or a failed removal.
	ErrConflict = errors.New("conflict")
	// ErrStorageUnavailable marks a failure of the underlying document store.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// HTTPStatus maps an error to the response status code.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// OutcomeForError renders err as an OperationOutcome with the issue type that
// matches its kind.
func OutcomeForError(err error) *OperationOutcome {
	switch {
	case errors.Is(err, ErrInvalidArgument):
		return NewOperationOutcome(IssueSeverityError, IssueTypeInvalid, err.Error())
	case errors.Is(err, ErrConflict):
		return ConflictOutcome(err.Error())
	case errors.Is(err, ErrStorageUnavailable):
		return NewOperationOutcome(IssueSeverityError, IssueTypeTransient, err.Error())
	default:
		return InternalErrorOutcome(err.Error())
	}
}
