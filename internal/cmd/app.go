package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"

	"github.com/3leaps/bioindex/internal/config"
	"github.com/3leaps/bioindex/pkg/catalog"
	"github.com/3leaps/bioindex/pkg/continuation"
	"github.com/3leaps/bioindex/pkg/planner"
	"github.com/3leaps/bioindex/pkg/provider"
	"github.com/3leaps/bioindex/pkg/provider/s3"
	"github.com/3leaps/bioindex/pkg/recordstore"
)

// app bundles the backing services every read/build verb needs: the
// blob-store provider, the ranged-read store built on it, the catalog
// of Index Specs, and the planner that answers queries against both.
type app struct {
	provider provider.Provider
	store    *recordstore.Store
	cat      *catalog.Catalog
	cm       *continuation.Manager
	planner  *planner.Planner
	dbCfg    catalog.Config
}

// newApp wires an app from the resolved Config. The blob-store provider
// is always S3 (or an S3-compatible endpoint); bioindex has no use for
// the local file provider outside of pkg tests, since its entire
// purpose is indexing objects already living in a bucket.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if cfg.Bio.Bucket == "" {
		return nil, fmt.Errorf("S3_BUCKET is required")
	}

	prov, err := s3.New(ctx, s3.Config{Bucket: cfg.Bio.Bucket})
	if err != nil {
		return nil, fmt.Errorf("connect to bucket %s: %w", cfg.Bio.Bucket, err)
	}

	store := recordstore.New(prov, recordstore.Options{})

	dbCfg := catalog.Config{
		Path:      cfg.Bio.DB.Path,
		URL:       cfg.Bio.DB.URL,
		AuthToken: cfg.Bio.DB.AuthToken,
	}
	if dbCfg.URL == "" {
		path, err := resolveCatalogDBPath(dbCfg.Path)
		if err != nil {
			return nil, err
		}
		dbCfg.Path = path
	}
	db, err := catalog.Open(ctx, dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open catalog database: %w", err)
	}
	if err := catalog.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate catalog schema: %w", err)
	}
	cat := catalog.New(db)

	cm := continuation.NewManager(30 * time.Minute)

	pl := planner.New(cat, store, cm, planner.Config{
		ResponseLimit: cfg.Bio.ResponseLimit,
		MatchLimit:    cfg.Bio.MatchLimit,
	})

	return &app{provider: prov, store: store, cat: cat, cm: cm, planner: pl, dbCfg: dbCfg}, nil
}

// resolveCatalogDBPath resolves the catalog database location. An
// explicit RDS_PATH wins; otherwise the catalog lives under the
// per-user application data directory, keyed by the app identity.
func resolveCatalogDBPath(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}

	identity := GetAppIdentity()
	if identity == nil || strings.TrimSpace(identity.ConfigName) == "" {
		return "", fmt.Errorf("app identity is not available to derive default catalog path")
	}

	dataDir := gfconfig.GetAppDataDir(identity.ConfigName)
	return filepath.Join(dataDir, "catalog", "catalog.db"), nil
}

// openDB opens an independent *sql.DB pointed at the same catalog
// backend as a.cat, for a builder worker's exclusive use.
func (a *app) openDB(ctx context.Context) (*sql.DB, error) {
	return catalog.Open(ctx, a.dbCfg)
}

// close releases resources held by the app. Only the continuation
// manager's sweep goroutine needs explicit teardown; the catalog's
// *sql.DB and the S3 provider close on process exit.
func (a *app) close() {
	if a.cm != nil {
		a.cm.Close()
	}
}
