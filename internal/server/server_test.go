package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/3leaps/bioindex/internal/errors"
	"github.com/3leaps/bioindex/internal/server/handlers"
	"github.com/3leaps/bioindex/pkg/builder"
	"github.com/3leaps/bioindex/pkg/catalog"
	"github.com/3leaps/bioindex/pkg/continuation"
	"github.com/3leaps/bioindex/pkg/planner"
	"github.com/3leaps/bioindex/pkg/provider/file"
	"github.com/3leaps/bioindex/pkg/recordstore"
)

func TestServerUsesStandardErrorHandlers(t *testing.T) {
	srv := New("127.0.0.1", 0)

	req := httptest.NewRequest(http.MethodGet, "/does-not-exist", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}

	var body apperrors.HTTPErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}

	if body.Error.Code != "NOT_FOUND" {
		t.Fatalf("expected error code NOT_FOUND, got %s", body.Error.Code)
	}
}

func TestServer_Port(t *testing.T) {
	tests := []struct {
		name string
		port int
	}{
		{"default port", 8080},
		{"custom port", 9000},
		{"zero port", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := New("127.0.0.1", tt.port)
			assert.Equal(t, tt.port, srv.Port())
		})
	}
}

func TestServer_Handler(t *testing.T) {
	srv := New("127.0.0.1", 8080)
	handler := srv.Handler()
	assert.NotNil(t, handler)
}

func TestServer_MethodNotAllowed(t *testing.T) {
	srv := New("127.0.0.1", 0)

	// POST to a GET-only endpoint should return 405
	req := httptest.NewRequest(http.MethodPost, "/version", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	var body apperrors.HTTPErrorResponse
	err := json.NewDecoder(rec.Body).Decode(&body)
	require.NoError(t, err)

	assert.Equal(t, "METHOD_NOT_ALLOWED", body.Error.Code)
}

func TestServer_RoutesRegistered(t *testing.T) {
	// Initialize health manager for health endpoint tests
	handlers.InitHealthManager("test")

	srv := New("127.0.0.1", 0)

	endpoints := []struct {
		method string
		path   string
		want   int // expected status (200 or other success code)
	}{
		{"GET", "/health", http.StatusOK},
		{"GET", "/health/live", http.StatusOK},
		{"GET", "/health/ready", http.StatusOK},
		{"GET", "/health/startup", http.StatusOK},
		{"GET", "/version", http.StatusOK},
	}

	for _, ep := range endpoints {
		t.Run(ep.method+" "+ep.path, func(t *testing.T) {
			req := httptest.NewRequest(ep.method, ep.path, nil)
			rec := httptest.NewRecorder()

			srv.Handler().ServeHTTP(rec, req)

			// Just verify route is registered and returns expected status
			assert.Equal(t, ep.want, rec.Code, "endpoint %s %s should return %d", ep.method, ep.path, ep.want)
		})
	}
}

func TestServer_AdminEndpointDisabledByDefault(t *testing.T) {
	// Ensure no admin token is set
	t.Setenv("BIOINDEX_ADMIN_TOKEN", "")
	t.Setenv("WORKHORSE_ADMIN_TOKEN", "")

	srv := New("127.0.0.1", 0)

	// Admin endpoint should not be registered
	req := httptest.NewRequest(http.MethodPost, "/admin/signal", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	// Should be 404 (not found) since endpoint is not registered
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// Note: no test covers the enabled admin endpoint. The route is
// registered only when adminToken() finds a token in the environment;
// TestServer_AdminEndpointDisabledByDefault covers the "no token" path.

func TestServer_BioRoutesUnavailableBeforeAttach(t *testing.T) {
	srv := New("127.0.0.1", 0)

	for _, path := range []string{
		"/api/bio/indexes",
		"/api/bio/query/variants",
		"/api/bio/count/variants",
		"/api/bio/match/variants",
		"/api/bio/all/variants",
		"/api/bio/cont",
	} {
		t.Run(path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, path, nil)
			rec := httptest.NewRecorder()

			srv.Handler().ServeHTTP(rec, req)

			assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		})
	}
}

// TestServer_QueryEnvelope drives /api/bio/query against a real planner
// over a temp-dir provider, asserting the response envelope shape.
func TestServer_QueryEnvelope(t *testing.T) {
	ctx := context.Background()

	dir := t.TempDir()
	prov, err := file.New(file.Config{BaseDir: dir})
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "variants"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "variants", "shard1.ndjson"),
		[]byte(`{"varId":"8:1:A:T"}`+"\n"+`{"varId":"8:2:C:G"}`+"\n"), 0o644))

	db, err := catalog.Open(ctx, catalog.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, catalog.Migrate(ctx, db))
	cat := catalog.New(db)
	require.NoError(t, cat.Put(ctx, catalog.IndexSpec{
		Name: "variants", SchemaName: "Variants", Prefix: "variants/", KeySchema: "varId",
	}))
	spec, err := cat.Get(ctx, "variants")
	require.NoError(t, err)
	_, err = builder.Build(ctx, cat, prov, *spec, builder.Config{Workers: 1})
	require.NoError(t, err)

	store := recordstore.New(prov, recordstore.Options{})
	cm := continuation.NewManager(0)
	t.Cleanup(cm.Close)
	pl := planner.New(cat, store, cm, planner.Config{})

	srv := New("127.0.0.1", 0)
	srv.Attach(cat, pl, 2<<20)

	req := httptest.NewRequest(http.MethodGet, "/api/bio/query/variants?key=8:1:A:T", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var envelope struct {
		Data         []json.RawMessage `json:"data"`
		Count        int               `json:"count"`
		Page         int               `json:"page"`
		Q            []string          `json:"q"`
		Index        string            `json:"index"`
		Continuation *string           `json:"continuation"`
		Limit        int64             `json:"limit"`
		Progress     struct {
			BytesRead  int64 `json:"bytes_read"`
			BytesTotal int64 `json:"bytes_total"`
		} `json:"progress"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&envelope))
	assert.Equal(t, 1, envelope.Count)
	assert.Equal(t, 1, envelope.Page)
	assert.Equal(t, []string{"8:1:A:T"}, envelope.Q)
	assert.Equal(t, "variants", envelope.Index)
	assert.Nil(t, envelope.Continuation)
	assert.EqualValues(t, 2<<20, envelope.Limit)
	assert.Equal(t, envelope.Progress.BytesTotal, envelope.Progress.BytesRead)
	require.Len(t, envelope.Data, 1)
	assert.Contains(t, string(envelope.Data[0]), "8:1:A:T")
}

// TestServer_QueryColumnFormat asserts format=column pivots the data
// array into per-column value arrays.
func TestServer_QueryColumnFormat(t *testing.T) {
	ctx := context.Background()

	dir := t.TempDir()
	prov, err := file.New(file.Config{BaseDir: dir})
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "gwas"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "gwas", "shard1.ndjson"),
		[]byte(`{"phenotype":"T2D","pValue":0.01}`+"\n"+`{"phenotype":"T2D","pValue":0.05}`+"\n"), 0o644))

	db, err := catalog.Open(ctx, catalog.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, catalog.Migrate(ctx, db))
	cat := catalog.New(db)
	require.NoError(t, cat.Put(ctx, catalog.IndexSpec{
		Name: "gwas", SchemaName: "GWAS", Prefix: "gwas/", KeySchema: "phenotype",
	}))
	spec, err := cat.Get(ctx, "gwas")
	require.NoError(t, err)
	_, err = builder.Build(ctx, cat, prov, *spec, builder.Config{Workers: 1})
	require.NoError(t, err)

	store := recordstore.New(prov, recordstore.Options{})
	cm := continuation.NewManager(0)
	t.Cleanup(cm.Close)

	srv := New("127.0.0.1", 0)
	srv.Attach(cat, planner.New(cat, store, cm, planner.Config{}), 0)

	req := httptest.NewRequest(http.MethodGet, "/api/bio/query/gwas?key=T2D&format=column", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var envelope struct {
		Data  map[string][]interface{} `json:"data"`
		Count int                      `json:"count"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&envelope))
	assert.Equal(t, 2, envelope.Count)
	assert.Equal(t, []interface{}{"T2D", "T2D"}, envelope.Data["phenotype"])
	require.Len(t, envelope.Data["pValue"], 2)
}
