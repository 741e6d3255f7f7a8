package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/fhirstore/internal/config"
	"github.com/ehr/fhirstore/internal/platform/auth"
	"github.com/ehr/fhirstore/internal/platform/changefeed"
	"github.com/ehr/fhirstore/internal/platform/docstore"
)

const testKey = "0123456789abcdef0123456789abcdef"

func testConfig() *config.Config {
	return &config.Config{
		Port:            "8000",
		Env:             "development",
		StoreDriver:     config.DriverMemory,
		FHIRBaseVersion: "4_0_0",
		FHIRBaseURL:     "http://fhir.test/fhir",
		RateLimitRPS:    1000,
		RateLimitBurst:  1000,
		BodyLimit:       "1M",
		RequestTimeout:  5 * time.Second,
	}
}

func newTestServer(t *testing.T, cfg *config.Config) *echo.Echo {
	t.Helper()
	backend, err := openStore(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	t.Cleanup(func() { backend.Close() })

	reg := newRegistry()
	if _, err := initStore(context.Background(), backend, reg); err != nil {
		t.Fatalf("initStore: %v", err)
	}
	e, err := buildServer(cfg, zerolog.Nop(), backend, reg)
	if err != nil {
		t.Fatalf("buildServer: %v", err)
	}
	return e
}

func serve(e *echo.Echo, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, "application/fhir+json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestNewRegistry(t *testing.T) {
	got := newRegistry().Types()
	want := []string{"Condition", "DeviceUseStatement", "Organization", "Patient", "Practitioner"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Types() = %v, want %v", got, want)
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		level string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"WARN", zerolog.WarnLevel},
		{"", zerolog.InfoLevel},
		{"chatty", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		cfg := &config.Config{Env: "production", LogLevel: tt.level}
		if got := newLogger(cfg).GetLevel(); got != tt.want {
			t.Errorf("newLogger(%q) level = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestServer_PublicEndpoints(t *testing.T) {
	cfg := testConfig()
	cfg.Env = "production"
	cfg.AuthSigningKey = testKey
	e := newTestServer(t, cfg)

	rec := serve(e, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("/health = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"driver":"memory"`) {
		t.Errorf("health body = %s", rec.Body.String())
	}

	rec = serve(e, http.MethodGet, "/fhir/metadata", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("/fhir/metadata = %d", rec.Code)
	}
	var cs map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &cs)
	if cs["fhirVersion"] != "4.0.1" {
		t.Errorf("fhirVersion = %v", cs["fhirVersion"])
	}

	if rec := serve(e, http.MethodGet, "/metrics", "", nil); rec.Code != http.StatusOK {
		t.Errorf("/metrics = %d", rec.Code)
	}
}

func TestServer_RequiresTokenOutsideDevelopment(t *testing.T) {
	cfg := testConfig()
	cfg.Env = "production"
	cfg.AuthSigningKey = testKey
	e := newTestServer(t, cfg)

	rec := serve(e, http.MethodGet, "/fhir/Patient", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous search = %d, want 401", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "OperationOutcome") {
		t.Errorf("401 body should be an OperationOutcome: %s", rec.Body.String())
	}

	readToken, _ := auth.NewToken([]byte(testKey), "", "reader", []string{"user/*.read"}, time.Hour)
	bearer := map[string]string{"Authorization": "Bearer " + readToken}
	if rec := serve(e, http.MethodGet, "/fhir/Patient", "", bearer); rec.Code != http.StatusOK {
		t.Errorf("search with read token = %d", rec.Code)
	}
	if rec := serve(e, http.MethodPost, "/fhir/Patient", `{"id":"p1"}`, bearer); rec.Code != http.StatusForbidden {
		t.Errorf("create with read token = %d, want 403", rec.Code)
	}
}

func TestServer_PatientLifecycle(t *testing.T) {
	e := newTestServer(t, testConfig())

	rec := serve(e, http.MethodPut, "/fhir/Patient/p1",
		`{"resourceType":"Patient","name":[{"family":"Smith","given":["Ann"]}],"gender":"female"}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create via update = %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected a request id on the response")
	}

	rec = serve(e, http.MethodPut, "/fhir/Patient/p1",
		`{"resourceType":"Patient","name":[{"family":"Smith-Jones","given":["Ann"]}],"gender":"female"}`,
		map[string]string{"If-Match": `W/"1"`})
	if rec.Code != http.StatusOK {
		t.Fatalf("conditional update = %d: %s", rec.Code, rec.Body.String())
	}

	rec = serve(e, http.MethodGet, "/fhir/Patient?family=smith-j", "", nil)
	var bundle map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &bundle)
	if bundle["total"] != float64(1) {
		t.Errorf("family search total = %v", bundle["total"])
	}

	rec = serve(e, http.MethodGet, "/fhir/Patient/p1/_history", "", nil)
	json.Unmarshal(rec.Body.Bytes(), &bundle)
	if bundle["total"] != float64(2) {
		t.Errorf("history total = %v", bundle["total"])
	}

	if rec := serve(e, http.MethodDelete, "/fhir/Patient/p1", "", nil); rec.Code != http.StatusNoContent {
		t.Errorf("delete = %d", rec.Code)
	}
	if rec := serve(e, http.MethodGet, "/fhir/Patient/p1", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("read after delete = %d", rec.Code)
	}
}

func TestServer_BodyLimit(t *testing.T) {
	cfg := testConfig()
	cfg.BodyLimit = "64"
	e := newTestServer(t, cfg)

	body := `{"resourceType":"Patient","text":"` + strings.Repeat("x", 200) + `"}`
	rec := serve(e, http.MethodPost, "/fhir/Patient", body, nil)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized create = %d, want 413", rec.Code)
	}
}

func TestInitStore_SQLite(t *testing.T) {
	cfg := testConfig()
	cfg.StoreDriver = config.DriverSQLite
	cfg.SQLitePath = filepath.Join(t.TempDir(), "store.db")
	e := newTestServer(t, cfg)

	rec := serve(e, http.MethodPost, "/fhir/Organization", `{"resourceType":"Organization","id":"o1","name":"Acme"}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d: %s", rec.Code, rec.Body.String())
	}
	rec = serve(e, http.MethodGet, "/fhir/Organization?name=acm", "", nil)
	if !strings.Contains(rec.Body.String(), `"total":1`) {
		t.Errorf("search body = %s", rec.Body.String())
	}
}

func TestBuildStores_UnknownBase(t *testing.T) {
	if _, err := buildStores(docstore.NewMemoryDatabase(), newRegistry(), "5_0_0", zerolog.Nop()); err == nil {
		t.Error("expected error for unknown base")
	}
}

func TestReconcile(t *testing.T) {
	database := docstore.NewMemoryDatabase()
	stores, err := buildStores(database, newRegistry(), "4_0_0", zerolog.Nop())
	if err != nil {
		t.Fatalf("buildStores: %v", err)
	}
	ctx := context.Background()

	orphan := docstore.Document{"resourceType": "Patient", "id": "p9", "meta": map[string]interface{}{"versionId": "1"}}
	history := database.Collection(docstore.HistoryCollectionName("Patient"))
	if _, err := history.Insert(ctx, docstore.HistoryKey("p9", "1"), orphan); err != nil {
		t.Fatalf("seed: %v", err)
	}

	removed, err := stores["Patient"].Reconcile(ctx, "p9")
	if err != nil || removed != 1 {
		t.Fatalf("Reconcile = %d, %v", removed, err)
	}
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("AUTH_SIGNING_KEY", testKey)

	cmd := tokenCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--sub", "svc", "--scope", "user/*.*"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("token: %v", err)
	}
	if parts := strings.Split(strings.TrimSpace(out.String()), "."); len(parts) != 3 {
		t.Errorf("expected a JWT, got %q", out.String())
	}
}

func TestServer_ChangeFeed(t *testing.T) {
	e := newTestServer(t, testConfig())
	srv := httptest.NewServer(e)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/fhir/_changes?topic=Patient"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	time.Sleep(100 * time.Millisecond)

	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/fhir/Patient/p1", strings.NewReader(`{"resourceType":"Patient"}`))
	req.Header.Set(echo.HeaderContentType, "application/fhir+json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	resp.Body.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev changefeed.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.Interaction != "create" || ev.ResourceType != "Patient" || ev.ID != "p1" || ev.VersionID != "1" {
		t.Errorf("event = %+v", ev)
	}
}
