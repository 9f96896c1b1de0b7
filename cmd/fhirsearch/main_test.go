package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ehr/fhirsearch/internal/config"
	"github.com/ehr/fhirsearch/internal/platform/fhir"
	"github.com/ehr/fhirsearch/internal/platform/searchparam"
	"github.com/ehr/fhirsearch/internal/platform/store"
)

const testBundle = `{
  "resourceType": "Bundle",
  "type": "collection",
  "entry": [
    {"resource": {"resourceType": "Patient", "id": "p1", "name": [{"family": "Smith"}]}},
    {"resource": {"resourceType": "Patient", "id": "p2", "name": [{"family": "Jones"}]}},
    {"resource": {"resourceType": "Observation", "status": "final", "subject": {"reference": "Patient/p1"}}}
  ]
}`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("DATABASE_URL", "")
	t.Setenv("ENV", "test")
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

func TestLoadBundle(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()

	n, err := loadBundle(ctx, st, strings.NewReader(testBundle))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 stored entries, got %d", n)
	}
	if _, err := st.Current(ctx, "Patient", "p1"); err != nil {
		t.Errorf("expected Patient/p1 to keep its id: %v", err)
	}
	obs, _ := st.Search(ctx, "Observation", func(*fhir.Resource) (bool, error) { return true, nil })
	if len(obs) != 1 || obs[0].ID == "" {
		t.Errorf("expected one Observation with an assigned id, got %v", obs)
	}

	if _, err := loadBundle(ctx, st, strings.NewReader(`{"entry":[{"resource":{"id":"x"}}]}`)); err == nil {
		t.Error("expected an error for an entry without resourceType")
	}
}

func TestNewLogger_Level(t *testing.T) {
	cfg := testConfig(t)

	cfg.LogLevel = "warn"
	if got := newLogger(cfg, &bytes.Buffer{}).GetLevel(); got != zerolog.WarnLevel {
		t.Errorf("expected warn, got %s", got)
	}
	cfg.LogLevel = "loud"
	if got := newLogger(cfg, &bytes.Buffer{}).GetLevel(); got != zerolog.InfoLevel {
		t.Errorf("expected an unknown level to fall back to info, got %s", got)
	}
}

func TestLoadRegistry_ExtensionFile(t *testing.T) {
	cfg := testConfig(t)
	path := filepath.Join(t.TempDir(), "params.yaml")
	ext := `parameters:
  - code: gp-name
    type: string
    base: [Patient]
    path: [generalPractitioner.display]
`
	if err := os.WriteFile(path, []byte(ext), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg.SearchParametersFile = path

	reg, err := loadRegistry(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	def, ok := reg.Lookup("Patient", "gp-name")
	if !ok || def.Type != searchparam.TypeString {
		t.Errorf("expected gp-name to be registered, got %v", def)
	}
}

func TestNewServer_Routes(t *testing.T) {
	cfg := testConfig(t)
	st := store.NewMemory()
	e, err := newServer(cfg, zerolog.Nop(), st, nil, searchparam.Default())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	serve := func(method, target, tenant string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, target, nil)
		if tenant != "" {
			req.Header.Set("X-Tenant-ID", tenant)
		}
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	if rec := serve(http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Errorf("health: expected 200, got %d", rec.Code)
	}
	if rec := serve(http.MethodGet, "/health/db", ""); rec.Code != http.StatusNotFound {
		t.Errorf("health/db without a pool: expected 404, got %d", rec.Code)
	}
	if rec := serve(http.MethodGet, "/fhir/metadata", ""); rec.Code != http.StatusOK {
		t.Errorf("metadata: expected 200, got %d", rec.Code)
	}
	if rec := serve(http.MethodGet, "/fhir/Patient", "bad tenant!"); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid tenant: expected 400, got %d", rec.Code)
	}

	acme := store.WithTenant(context.Background(), "acme")
	if _, err := st.Update(acme, "Patient", "p1", map[string]interface{}{"resourceType": "Patient"}, 0); err != nil {
		t.Fatal(err)
	}
	total := func(tenant string) int {
		rec := serve(http.MethodGet, "/fhir/Patient", tenant)
		var b fhir.Bundle
		if err := json.Unmarshal(rec.Body.Bytes(), &b); err != nil || b.Total == nil {
			t.Fatalf("decode searchset %q: %v", rec.Body.String(), err)
		}
		return *b.Total
	}
	if got := total("acme"); got != 1 {
		t.Errorf("expected acme to see its patient, got %d", got)
	}
	if got := total(""); got != 0 {
		t.Errorf("expected the default tenant to see nothing, got %d", got)
	}

	rec := serve(http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, name := range []string{"fhirsearch_http_requests_total", "fhirsearch_searches_total"} {
		if !strings.Contains(body, name) {
			t.Errorf("expected %s in /metrics", name)
		}
	}
}

func TestSearchCmd(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	path := filepath.Join(t.TempDir(), "bundle.json")
	if err := os.WriteFile(path, []byte(testBundle), 0o600); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	cmd := searchCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--type", "Observation", "--query", "subject:Patient.family=smith", "--data", path})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var b fhir.Bundle
	if err := json.Unmarshal(out.Bytes(), &b); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if b.Total == nil || *b.Total != 1 {
		t.Errorf("expected one chained match, got %+v", b.Total)
	}
}

func TestParamsCmd(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	var out bytes.Buffer
	cmd := paramsCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--type", "Patient"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	defs, err := searchparam.Decode(&out)
	if err != nil {
		t.Fatalf("output should decode as an extension file: %v", err)
	}
	found := false
	for _, d := range defs {
		if d.Code == "family" {
			found = true
		}
	}
	if !found {
		t.Error("expected the family parameter in the output")
	}

	cmd = paramsCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--type", "Spaceship"})
	if err := cmd.Execute(); err == nil {
		t.Error("expected an error for an unknown type")
	}
}

func TestMigrationsFS(t *testing.T) {
	if _, err := migrationsFS("").Open("001_resource_versions.sql"); err != nil {
		t.Errorf("expected the embedded migrations: %v", err)
	}
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "010_extra.sql"), []byte("SELECT 1;"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := migrationsFS(dir).Open("010_extra.sql"); err != nil {
		t.Errorf("expected the directory migrations: %v", err)
	}
}
