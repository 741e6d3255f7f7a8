package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestMatchScope(t *testing.T) {
	tests := []struct {
		granted  string
		required string
		want     bool
	}{
		{"Patient.read", "Patient.read", true},
		{"Patient.write", "Patient.read", false},
		{"user/*.*", "Patient.read", true},
		{"user/*.*", "Condition.write", true},
		{"patient/*.read", "Patient.read", true},
		{"patient/*.read", "Patient.write", false},
		{"user/Patient.write", "Patient.write", true},
		{"system/*.write", "Organization.write", true},
		{"Patient.read", "Condition.read", false},
		{"", "Patient.read", false},
		{"Patient.read", "", false},
		{"invalid", "Patient.read", false},
	}

	for _, tt := range tests {
		got := matchScope(tt.granted, tt.required)
		if got != tt.want {
			t.Errorf("matchScope(%q, %q) = %v, want %v", tt.granted, tt.required, got, tt.want)
		}
	}
}

func TestRequireScope(t *testing.T) {
	tests := []struct {
		name    string
		scopes  []string
		op      string
		wantErr bool
	}{
		{"read allowed", []string{"Patient.read"}, OpRead, false},
		{"write denied", []string{"Patient.read"}, OpWrite, true},
		{"wildcard", []string{"user/*.*"}, OpWrite, false},
		{"no scopes", nil, OpRead, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req = req.WithContext(WithIdentity(context.Background(), "u", tt.scopes))
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			handler := func(c echo.Context) error {
				return c.String(http.StatusOK, "ok")
			}
			err := RequireScope("Patient", tt.op)(handler)(c)

			if tt.wantErr {
				httpErr, ok := err.(*echo.HTTPError)
				if !ok || httpErr.Code != http.StatusForbidden {
					t.Errorf("expected 403, got %v", err)
				}
				return
			}
			if err != nil || rec.Code != http.StatusOK {
				t.Errorf("expected 200, got %d (%v)", rec.Code, err)
			}
		})
	}
}

func TestHasScope(t *testing.T) {
	ctx := WithIdentity(context.Background(), "u", []string{"patient/Condition.read", "user/Patient.*"})
	if !HasScope(ctx, "Condition", OpRead) || !HasScope(ctx, "Patient", OpWrite) {
		t.Error("granted scopes should match")
	}
	if HasScope(ctx, "Condition", OpWrite) || HasScope(context.Background(), "Patient", OpRead) {
		t.Error("ungranted scopes should not match")
	}
}
