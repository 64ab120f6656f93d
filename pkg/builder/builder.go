// Package builder populates an Index Table from the current contents of
// an index's blob-store prefix.
package builder

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/biogo/hts/bgzf"

	"github.com/3leaps/bioindex/pkg/bioerr"
	"github.com/3leaps/bioindex/pkg/catalog"
	"github.com/3leaps/bioindex/pkg/keyschema"
	"github.com/3leaps/bioindex/pkg/match"
	"github.com/3leaps/bioindex/pkg/provider"
)

// Config controls one Build invocation.
type Config struct {
	// Workers bounds the number of objects indexed in parallel.
	Workers int

	// Scope, if set, additionally filters objects under the index prefix
	// by glob include/exclude patterns, so an operator can index a
	// subset of a prefix without registering a second index.
	Scope *match.Config

	// OpenDB opens an independent *sql.DB handle for one worker, pointed
	// at the same catalog backend as the main connection. Workers do not
	// share a connection pool, matching the "each worker uses its own
	// database connection" concurrency model.
	OpenDB func(ctx context.Context) (*sql.DB, error)
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 8
	}
	return c
}

// Result summarizes one build.
type Result struct {
	RunID         string
	ObjectsOK     int64
	ObjectsFailed int64
	RowsWritten   int64
	// RecordsSkipped counts records dropped for a missing required key
	// field; the per-object breakdown lives in the run's event history.
	RecordsSkipped int64
	Failures       map[string]error
}

// activeBuilds serializes builds per index name within this process.
// Two concurrent builds of one index would interleave their per-object
// delete-then-insert transactions and leave a mix of both passes.
var activeBuilds sync.Map

// Build scans every object under spec.Prefix, in parallel up to
// cfg.Workers, collapsing each object's records into Index Rows and
// writing them in a single per-object transaction. On success for every
// object, the catalog's built flag is set to true. If any object fails,
// the build returns BuildFailed with per-object status; rows from
// objects that succeeded are left in place (the build is restartable).
//
// At most one Build per index name runs at a time; a second concurrent
// call for the same index fails immediately with BuildFailed.
func Build(ctx context.Context, cat *catalog.Catalog, p provider.Provider, spec catalog.IndexSpec, cfg Config) (*Result, error) {
	cfg = cfg.withDefaults()

	if _, loaded := activeBuilds.LoadOrStore(spec.Name, struct{}{}); loaded {
		return nil, bioerr.New(bioerr.BuildFailed, "Build", "build already in progress for index "+spec.Name)
	}
	defer activeBuilds.Delete(spec.Name)

	keySpec, err := keyschema.Parse(spec.KeySchema)
	if err != nil {
		return nil, err
	}

	keys, err := listObjectKeys(ctx, p, spec.Prefix, spec.Compressed, cfg.Scope)
	if err != nil {
		return nil, bioerr.Wrap(bioerr.BuildFailed, "Build", err)
	}

	run, err := cat.StartBuildRun(ctx, spec.Name)
	if err != nil {
		return nil, err
	}

	result := &Result{RunID: run.RunID, Failures: make(map[string]error)}

	workCh := make(chan string, len(keys))
	for _, k := range keys {
		workCh <- k
	}
	close(workCh)

	var mu sync.Mutex
	var wg sync.WaitGroup
	workers := cfg.Workers
	if workers > len(keys) && len(keys) > 0 {
		workers = len(keys)
	}
	if workers <= 0 {
		workers = 1
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			db := cat.DB()
			if cfg.OpenDB != nil {
				workerDB, err := cfg.OpenDB(ctx)
				if err != nil {
					mu.Lock()
					result.Failures["*worker*"] = err
					mu.Unlock()
					return
				}
				defer func() { _ = workerDB.Close() }()
				db = workerDB
			}

			for key := range workCh {
				rowsWritten, warnings, err := processObject(ctx, db, p, spec, keySpec, key)
				if err != nil {
					atomic.AddInt64(&result.ObjectsFailed, 1)
					mu.Lock()
					result.Failures[key] = err
					mu.Unlock()
					_ = cat.RecordBuildEvent(ctx, run.RunID, "object_failed", key, err.Error())
					continue
				}
				if warnings > 0 {
					atomic.AddInt64(&result.RecordsSkipped, int64(warnings))
					_ = cat.RecordBuildEvent(ctx, run.RunID, "records_skipped", key,
						fmt.Sprintf("%d record(s) missing a required key field", warnings))
				}
				atomic.AddInt64(&result.ObjectsOK, 1)
				atomic.AddInt64(&result.RowsWritten, int64(rowsWritten))
			}
		}()
	}
	wg.Wait()

	status := catalog.BuildRunSuccess
	switch {
	case result.ObjectsFailed > 0 && result.ObjectsOK == 0:
		status = catalog.BuildRunFailed
	case result.ObjectsFailed > 0:
		status = catalog.BuildRunPartial
	}
	if err := cat.FinishBuildRun(ctx, run.RunID, status, result.ObjectsOK, result.ObjectsFailed, result.RowsWritten); err != nil {
		return result, err
	}

	if result.ObjectsFailed > 0 {
		return result, bioerr.New(bioerr.BuildFailed, "Build",
			fmt.Sprintf("%d/%d objects failed", result.ObjectsFailed, int64(len(keys))))
	}

	if err := cat.SetBuilt(ctx, spec.Name, true); err != nil {
		return result, err
	}
	return result, nil
}

// processObject scans one object and replaces its rows within a single
// transaction (delete-then-insert), satisfying per-object idempotence:
// a restarted build overwrites exactly the rows it previously wrote for
// this object.
func processObject(ctx context.Context, db *sql.DB, p provider.Provider, spec catalog.IndexSpec, keySpec *keyschema.KeySpec, key string) (int, int, error) {
	stream, err := openObjectStream(ctx, p, key, spec.Compressed)
	if err != nil {
		return 0, 0, bioerr.Wrap(bioerr.BlobReadError, "processObject", err)
	}
	defer func() { _ = stream.Close() }()

	result, err := scanObject(stream, keySpec)
	if err != nil {
		return 0, 0, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, bioerr.Wrap(bioerr.DBError, "processObject", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := catalog.DeleteObjectRows(ctx, tx, spec.TableName, key); err != nil {
		return 0, 0, err
	}

	for i := range result.Rows {
		result.Rows[i].ObjectKey = key
	}
	if err := catalog.InsertRows(ctx, tx, spec.TableName, keySpec.IsLocus(), result.Rows); err != nil {
		return 0, 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, bioerr.Wrap(bioerr.DBError, "processObject", err)
	}
	return len(result.Rows), result.Warnings, nil
}

// openObjectStream opens a reader over the NDJSON contents of key,
// transparently decompressing BGZF when compressed is true. This is a
// linear full-object scan, so no .gzi-based seeking is needed; the
// stream just decodes block-by-block from the start. Compressed shards
// live under the canonical key plus a ".gz" suffix.
func openObjectStream(ctx context.Context, p provider.Provider, key string, compressed bool) (io.ReadCloser, error) {
	getter, ok := p.(provider.ObjectGetter)
	if !ok {
		return nil, fmt.Errorf("provider does not support GetObject")
	}
	if compressed && !strings.HasSuffix(key, ".gz") {
		key += ".gz"
	}
	body, _, err := getter.GetObject(ctx, key)
	if err != nil {
		return nil, err
	}
	if !compressed {
		return body, nil
	}

	br, err := bgzf.NewReader(body, 0)
	if err != nil {
		_ = body.Close()
		return nil, err
	}
	return &bgzfReadCloser{r: br, underlying: body}, nil
}

type bgzfReadCloser struct {
	r          *bgzf.Reader
	underlying io.ReadCloser
}

func (b *bgzfReadCloser) Read(p []byte) (int, error) { return b.r.Read(p) }
func (b *bgzfReadCloser) Close() error {
	b.r.Close()
	return b.underlying.Close()
}

// listObjectKeys enumerates every object under prefix in key order,
// excluding BGZF sidecar (".gzi") index files, and applying an optional
// scope filter. Keys are canonicalized: a compressed shard's ".gz"
// suffix is stripped, so Index Rows carry the same object key whether
// the build ran before or after the compression lifecycle.
func listObjectKeys(ctx context.Context, p provider.Provider, prefix string, compressed bool, scope *match.Config) ([]string, error) {
	var matcher *match.Matcher
	if scope != nil {
		m, err := match.New(*scope)
		if err != nil {
			return nil, err
		}
		matcher = m
		prefix = m.NarrowListing(prefix)
	}

	var keys []string
	token := ""
	for {
		res, err := p.List(ctx, provider.ListOptions{Prefix: prefix, ContinuationToken: token, MaxKeys: 1000})
		if err != nil {
			return nil, err
		}
		for _, obj := range res.Objects {
			if strings.HasSuffix(obj.Key, ".gzi") {
				continue
			}
			if matcher != nil && !matcher.Match(obj.Key) {
				continue
			}
			key := obj.Key
			if compressed {
				key = strings.TrimSuffix(key, ".gz")
			}
			keys = append(keys, key)
		}
		if !res.IsTruncated || res.ContinuationToken == "" {
			break
		}
		token = res.ContinuationToken
	}
	sort.Strings(keys)
	return keys, nil
}
