package db

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

type stubPinger struct {
	err error
}

func (p stubPinger) Ping(ctx context.Context) error { return p.err }

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{"healthy", nil, http.StatusOK, "healthy"},
		{"unreachable", errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"), http.StatusServiceUnavailable, "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			if err := HealthHandler(stubPinger{err: tt.err}, "memory", nil)(c); err != nil {
				t.Fatalf("handler error: %v", err)
			}
			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}

			var report HealthReport
			if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
				t.Fatalf("invalid JSON: %v", err)
			}
			if report.Status != tt.wantBody {
				t.Errorf("expected status %q, got %q", tt.wantBody, report.Status)
			}
			if report.Driver != "memory" {
				t.Errorf("expected driver memory, got %q", report.Driver)
			}
			if report.Pool != nil {
				t.Error("pool stats should be omitted without a pool")
			}
			if tt.err != nil && report.Error == "" {
				t.Error("expected error detail in unhealthy report")
			}
		})
	}
}
