package fhir

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{fmt.Errorf("%w: bad date", ErrInvalidArgument), http.StatusBadRequest},
		{fmt.Errorf("%w: version moved", ErrConflict), http.StatusConflict},
		{fmt.Errorf("count: %w", fmt.Errorf("%w: down", ErrStorageUnavailable)), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := HTTPStatus(tt.err); got != tt.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestOutcomeForError(t *testing.T) {
	tests := []struct {
		err      error
		code     string
		severity string
	}{
		{fmt.Errorf("%w: bad", ErrInvalidArgument), IssueTypeInvalid, IssueSeverityError},
		{fmt.Errorf("%w: lost race", ErrConflict), IssueTypeConflict, IssueSeverityError},
		{fmt.Errorf("%w: down", ErrStorageUnavailable), IssueTypeTransient, IssueSeverityError},
		{errors.New("boom"), IssueTypeException, IssueSeverityFatal},
	}
	for _, tt := range tests {
		oo := OutcomeForError(tt.err)
		if oo.ResourceType != "OperationOutcome" || len(oo.Issue) != 1 {
			t.Fatalf("unexpected outcome %+v", oo)
		}
		if oo.Issue[0].Code != tt.code || oo.Issue[0].Severity != tt.severity {
			t.Errorf("OutcomeForError(%v) = %s/%s, want %s/%s", tt.err, oo.Issue[0].Severity, oo.Issue[0].Code, tt.severity, tt.code)
		}
		if oo.Issue[0].Diagnostics != tt.err.Error() {
			t.Errorf("diagnostics = %q", oo.Issue[0].Diagnostics)
		}
	}
}
