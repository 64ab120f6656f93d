package builder

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/bioindex/pkg/catalog"
	"github.com/3leaps/bioindex/pkg/provider"
)

// fakeProvider is an in-memory provider.Provider + ObjectGetter for
// exercising Build without a network dependency.
type fakeProvider struct {
	objects map[string][]byte
	fail    map[string]error

	// block, when set, makes GetObject announce itself on blocked and
	// then wait until block is closed, holding a build mid-flight.
	block   chan struct{}
	blocked chan struct{}
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		objects: make(map[string][]byte),
		fail:    make(map[string]error),
		blocked: make(chan struct{}, 8),
	}
}

func (f *fakeProvider) List(_ context.Context, opts provider.ListOptions) (*provider.ListResult, error) {
	var out []provider.ObjectSummary
	for k, v := range f.objects {
		if len(opts.Prefix) > 0 && (len(k) < len(opts.Prefix) || k[:len(opts.Prefix)] != opts.Prefix) {
			continue
		}
		out = append(out, provider.ObjectSummary{Key: k, Size: int64(len(v))})
	}
	return &provider.ListResult{Objects: out}, nil
}

func (f *fakeProvider) Head(_ context.Context, key string) (*provider.ObjectMeta, error) {
	body, ok := f.objects[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return &provider.ObjectMeta{ObjectSummary: provider.ObjectSummary{Key: key, Size: int64(len(body))}}, nil
}

func (f *fakeProvider) Close() error { return nil }

func (f *fakeProvider) GetObject(_ context.Context, key string) (io.ReadCloser, int64, error) {
	if f.block != nil {
		f.blocked <- struct{}{}
		<-f.block
	}
	if err, ok := f.fail[key]; ok {
		return nil, 0, err
	}
	body, ok := f.objects[key]
	if !ok {
		return nil, 0, errors.New("not found")
	}
	return io.NopCloser(bytes.NewReader(body)), int64(len(body)), nil
}

var _ provider.Provider = (*fakeProvider)(nil)
var _ provider.ObjectGetter = (*fakeProvider)(nil)

func newTestCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	ctx := context.Background()
	db, err := catalog.Open(ctx, catalog.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, catalog.Migrate(ctx, db))
	return catalog.New(db)
}

func countRows(t *testing.T, cat *catalog.Catalog, tableName string) int {
	t.Helper()
	var n int
	err := cat.DB().QueryRow(`SELECT count(*) FROM ` + quoteTableName(tableName)).Scan(&n)
	require.NoError(t, err)
	return n
}

func quoteTableName(name string) string { return `"` + name + `"` }

func TestBuild_ExactIndex_CollapsesRunsAndSucceeds(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()

	spec := catalog.IndexSpec{
		Name:       "snps",
		SchemaName: "SNPs",
		Prefix:     "data/snps/",
		KeySchema:  "phenotype",
	}
	require.NoError(t, cat.Put(ctx, spec))
	specPtr, err := cat.Get(ctx, "snps")
	require.NoError(t, err)
	spec = *specPtr

	p := newFakeProvider()
	p.objects["data/snps/shard1.ndjson"] = []byte(
		"{\"phenotype\":\"T2D\",\"v\":1}\n" +
			"{\"phenotype\":\"T2D\",\"v\":2}\n" +
			"{\"phenotype\":\"BMI\",\"v\":3}\n")

	result, err := Build(ctx, cat, p, spec, Config{Workers: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 1, result.ObjectsOK)
	assert.EqualValues(t, 0, result.ObjectsFailed)
	assert.EqualValues(t, 2, result.RowsWritten)

	got, err := cat.Get(ctx, "snps")
	require.NoError(t, err)
	assert.True(t, got.Built)
	assert.Equal(t, 2, countRows(t, cat, got.TableName))
}

func TestBuild_LocusIndex_AbutsRunsAcrossBoundary(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()

	spec := catalog.IndexSpec{
		Name:       "regions",
		SchemaName: "Regions",
		Prefix:     "data/regions/",
		KeySchema:  "sampleId,chrom:start-end",
	}
	require.NoError(t, cat.Put(ctx, spec))
	specPtr, err := cat.Get(ctx, "regions")
	require.NoError(t, err)
	spec = *specPtr

	p := newFakeProvider()
	p.objects["data/regions/shard1.ndjson"] = []byte(
		"{\"sampleId\":\"s1\",\"chrom\":\"chr1\",\"start\":100,\"end\":200}\n" +
			"{\"sampleId\":\"s1\",\"chrom\":\"chr1\",\"start\":200,\"end\":300}\n" +
			"{\"sampleId\":\"s1\",\"chrom\":\"chr1\",\"start\":500,\"end\":600}\n")

	result, err := Build(ctx, cat, p, spec, Config{Workers: 1})
	require.NoError(t, err)
	assert.EqualValues(t, 2, result.RowsWritten, "abutting [100,200) and [200,300) collapse; [500,600) starts a new run")
}

func TestBuild_InterchangeableKey_MaterializesOneRowPerAlternative(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()

	spec := catalog.IndexSpec{
		Name:       "dbsnp",
		SchemaName: "DbSNP",
		Prefix:     "data/dbsnp/",
		KeySchema:  "rsid|varId",
	}
	require.NoError(t, cat.Put(ctx, spec))
	specPtr, err := cat.Get(ctx, "dbsnp")
	require.NoError(t, err)
	spec = *specPtr

	p := newFakeProvider()
	p.objects["data/dbsnp/shard1.ndjson"] = []byte(
		"{\"rsid\":\"rs1\",\"varId\":\"1:100:A:G\"}\n")

	result, err := Build(ctx, cat, p, spec, Config{Workers: 1})
	require.NoError(t, err)
	assert.EqualValues(t, 2, result.RowsWritten, "one row for rs1, one row for the varId alternative")
}

func TestBuild_ObjectFailure_ReportsPartialAndLeavesBuiltFalse(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()

	spec := catalog.IndexSpec{
		Name:       "mixed",
		SchemaName: "Mixed",
		Prefix:     "data/mixed/",
		KeySchema:  "phenotype",
	}
	require.NoError(t, cat.Put(ctx, spec))
	specPtr, err := cat.Get(ctx, "mixed")
	require.NoError(t, err)
	spec = *specPtr

	p := newFakeProvider()
	p.objects["data/mixed/good.ndjson"] = []byte("{\"phenotype\":\"T2D\"}\n")
	p.objects["data/mixed/bad.ndjson"] = []byte("{\"phenotype\":\"T2D\"")
	p.fail["data/mixed/missing.ndjson"] = errors.New("network error")
	p.objects["data/mixed/missing.ndjson"] = []byte("unused")

	result, err := Build(ctx, cat, p, spec, Config{Workers: 2})
	require.Error(t, err)
	assert.EqualValues(t, 1, result.ObjectsOK)
	assert.EqualValues(t, 2, result.ObjectsFailed)
	assert.Len(t, result.Failures, 2)

	got, err := cat.Get(ctx, "mixed")
	require.NoError(t, err)
	assert.False(t, got.Built, "a build with any object failure must not flip the built flag")
	assert.Equal(t, 1, countRows(t, cat, got.TableName), "rows from the successful object remain")
}

func TestBuild_Restart_IsIdempotentPerObject(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()

	spec := catalog.IndexSpec{
		Name:       "restart",
		SchemaName: "Restart",
		Prefix:     "data/restart/",
		KeySchema:  "phenotype",
	}
	require.NoError(t, cat.Put(ctx, spec))
	specPtr, err := cat.Get(ctx, "restart")
	require.NoError(t, err)
	spec = *specPtr

	p := newFakeProvider()
	p.objects["data/restart/shard1.ndjson"] = []byte(
		"{\"phenotype\":\"T2D\"}\n{\"phenotype\":\"BMI\"}\n")

	_, err = Build(ctx, cat, p, spec, Config{Workers: 1})
	require.NoError(t, err)
	got, err := cat.Get(ctx, "restart")
	require.NoError(t, err)
	firstCount := countRows(t, cat, got.TableName)

	_, err = Build(ctx, cat, p, spec, Config{Workers: 1})
	require.NoError(t, err)
	secondCount := countRows(t, cat, got.TableName)

	assert.Equal(t, firstCount, secondCount, "rebuilding the same object must not duplicate rows")
}

func TestBuild_TracksBuildRunHistory(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()

	spec := catalog.IndexSpec{
		Name:       "history",
		SchemaName: "History",
		Prefix:     "data/history/",
		KeySchema:  "phenotype",
	}
	require.NoError(t, cat.Put(ctx, spec))
	specPtr, err := cat.Get(ctx, "history")
	require.NoError(t, err)
	spec = *specPtr

	p := newFakeProvider()
	p.objects["data/history/shard1.ndjson"] = []byte("{\"phenotype\":\"T2D\"}\n")

	result, err := Build(ctx, cat, p, spec, Config{Workers: 1})
	require.NoError(t, err)

	runs, err := cat.ListBuildRuns(ctx, "history")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, result.RunID, runs[0].RunID)
	assert.Equal(t, catalog.BuildRunSuccess, runs[0].Status)
	assert.NotNil(t, runs[0].EndedAt)
}

func TestBuild_MissingKeyField_SkipsRecordWithWarning(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()

	spec := catalog.IndexSpec{
		Name:       "sparse",
		SchemaName: "Sparse",
		Prefix:     "data/sparse/",
		KeySchema:  "phenotype",
	}
	require.NoError(t, cat.Put(ctx, spec))
	specPtr, err := cat.Get(ctx, "sparse")
	require.NoError(t, err)
	spec = *specPtr

	p := newFakeProvider()
	p.objects["data/sparse/shard1.ndjson"] = []byte(
		"{\"phenotype\":\"T2D\"}\n" +
			"{\"other\":\"no key here\"}\n" +
			"{\"phenotype\":\"BMI\"}\n")

	result, err := Build(ctx, cat, p, spec, Config{Workers: 1})
	require.NoError(t, err)
	assert.EqualValues(t, 2, result.RowsWritten)
	assert.EqualValues(t, 1, result.RecordsSkipped)

	events, err := cat.ListBuildEvents(ctx, result.RunID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "records_skipped", events[0].EventType)
}

func TestBuild_EmptyPrefix_SucceedsWithZeroObjects(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()

	spec := catalog.IndexSpec{
		Name:       "empty",
		SchemaName: "Empty",
		Prefix:     "data/empty/",
		KeySchema:  "phenotype",
	}
	require.NoError(t, cat.Put(ctx, spec))
	specPtr, err := cat.Get(ctx, "empty")
	require.NoError(t, err)
	spec = *specPtr

	result, err := Build(ctx, cat, newFakeProvider(), spec, Config{Workers: 4})
	require.NoError(t, err)
	assert.EqualValues(t, 0, result.ObjectsOK)
	assert.EqualValues(t, 0, result.RowsWritten)

	got, err := cat.Get(ctx, "empty")
	require.NoError(t, err)
	assert.True(t, got.Built)
}

func TestBuild_ContextCancellation(t *testing.T) {
	cat := newTestCatalog(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	spec := catalog.IndexSpec{
		Name:       "cancelled",
		SchemaName: "Cancelled",
		Prefix:     "data/cancelled/",
		KeySchema:  "phenotype",
	}
	require.NoError(t, cat.Put(context.Background(), spec))
	specPtr, err := cat.Get(context.Background(), "cancelled")
	require.NoError(t, err)
	spec = *specPtr

	_, err = Build(ctx, cat, newFakeProvider(), spec, Config{Workers: 1})
	// an already-expired context should surface as an error from the
	// catalog layer (StartBuildRun's insert) rather than silently succeed.
	assert.Error(t, err)
}

func TestBuild_ConcurrentSameIndexRejected(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()

	spec := catalog.IndexSpec{
		Name:       "locked",
		SchemaName: "Locked",
		Prefix:     "data/locked/",
		KeySchema:  "phenotype",
	}
	require.NoError(t, cat.Put(ctx, spec))
	specPtr, err := cat.Get(ctx, "locked")
	require.NoError(t, err)
	spec = *specPtr

	p := newFakeProvider()
	p.objects["data/locked/shard1.ndjson"] = []byte("{\"phenotype\":\"T2D\"}\n")

	release := make(chan struct{})
	p.block = release

	firstDone := make(chan error, 1)
	go func() {
		_, err := Build(ctx, cat, p, spec, Config{Workers: 1})
		firstDone <- err
	}()

	// Wait until the first build holds the per-index lock (it blocks
	// inside GetObject until released).
	<-p.blocked

	_, err = Build(ctx, cat, p, spec, Config{Workers: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already in progress")

	close(release)
	require.NoError(t, <-firstDone)
}
