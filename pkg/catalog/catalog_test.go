package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/bioindex/pkg/bioerr"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	ctx := context.Background()
	db, err := Open(ctx, Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, Migrate(ctx, db))
	return New(db)
}

func TestPut_CreatesIndexTable(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	err := c.Put(ctx, IndexSpec{
		Name:       "my-index",
		SchemaName: "MyIndex",
		Prefix:     "data/my-index/",
		KeySchema:  "phenotype,chromosome:position",
	})
	require.NoError(t, err)

	got, err := c.Get(ctx, "my-index")
	require.NoError(t, err)
	assert.Equal(t, "data/my-index/", got.Prefix)
	assert.False(t, got.Built)
	assert.False(t, got.Compressed)

	var tableCount int
	err = c.db.QueryRowContext(ctx,
		`SELECT count(*) FROM sqlite_master WHERE type='table' AND name=?`, got.TableName).Scan(&tableCount)
	require.NoError(t, err)
	assert.Equal(t, 1, tableCount)
}

func TestPut_ReplaceDropsOldTable(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, IndexSpec{Name: "idx", SchemaName: "Idx", Prefix: "p/", KeySchema: "varId"}))
	first, err := c.Get(ctx, "idx")
	require.NoError(t, err)
	firstTable := first.TableName

	require.NoError(t, c.InsertTestRow(ctx, firstTable))

	require.NoError(t, c.Put(ctx, IndexSpec{Name: "idx", SchemaName: "Idx", Prefix: "p2/", KeySchema: "varId"}))
	second, err := c.Get(ctx, "idx")
	require.NoError(t, err)
	assert.Equal(t, "p2/", second.Prefix)
	assert.False(t, second.Built)

	// The table name derives from the index name alone, so the replacement
	// table reuses it; the drop shows as the inserted row being gone.
	var rowCount int
	err = c.db.QueryRowContext(ctx,
		`SELECT count(*) FROM `+quoteIdent(second.TableName)).Scan(&rowCount)
	require.NoError(t, err)
	assert.Equal(t, 0, rowCount, "old table should have been dropped on replace")
}

// InsertTestRow is test-only scaffolding to prove a table has live rows
// before a replacing Put, so the drop can be observed.
func (c *Catalog) InsertTestRow(ctx context.Context, tableName string) error {
	_, err := c.db.ExecContext(ctx, `INSERT INTO `+quoteIdent(tableName)+` (k1, object_key, start_offset, end_offset) VALUES ('x', 'obj', 0, 1)`)
	return err
}

func TestGet_UnknownIndex(t *testing.T) {
	c := newTestCatalog(t)
	_, err := c.Get(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, bioerr.Is(err, bioerr.UnknownIndex))
}

func TestList(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, IndexSpec{Name: "b", SchemaName: "B", Prefix: "b/", KeySchema: "varId"}))
	require.NoError(t, c.Put(ctx, IndexSpec{Name: "a", SchemaName: "A", Prefix: "a/", KeySchema: "varId"}))

	specs, err := c.List(ctx)
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, "a", specs[0].Name)
	assert.Equal(t, "b", specs[1].Name)
}

func TestDrop(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, IndexSpec{Name: "idx", SchemaName: "Idx", Prefix: "p/", KeySchema: "varId"}))
	spec, err := c.Get(ctx, "idx")
	require.NoError(t, err)

	require.NoError(t, c.Drop(ctx, "idx"))

	_, err = c.Get(ctx, "idx")
	require.Error(t, err)
	assert.True(t, bioerr.Is(err, bioerr.UnknownIndex))

	var tableCount int
	err = c.db.QueryRowContext(ctx,
		`SELECT count(*) FROM sqlite_master WHERE type='table' AND name=?`, spec.TableName).Scan(&tableCount)
	require.NoError(t, err)
	assert.Equal(t, 0, tableCount)
}

func TestDrop_UnknownIndex(t *testing.T) {
	c := newTestCatalog(t)
	err := c.Drop(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, bioerr.Is(err, bioerr.UnknownIndex))
}

func TestSetBuiltAndCompressed(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, IndexSpec{Name: "idx", SchemaName: "Idx", Prefix: "p/", KeySchema: "varId"}))

	require.NoError(t, c.SetBuilt(ctx, "idx", true))
	require.NoError(t, c.SetCompressed(ctx, "idx", true))

	spec, err := c.Get(ctx, "idx")
	require.NoError(t, err)
	assert.True(t, spec.Built)
	assert.True(t, spec.Compressed)
}

func TestSetBuilt_UnknownIndex(t *testing.T) {
	c := newTestCatalog(t)
	err := c.SetBuilt(context.Background(), "nope", true)
	require.Error(t, err)
	assert.True(t, bioerr.Is(err, bioerr.UnknownIndex))
}

func TestBuildRunLifecycle(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, IndexSpec{Name: "idx", SchemaName: "Idx", Prefix: "p/", KeySchema: "varId"}))

	run, err := c.StartBuildRun(ctx, "idx")
	require.NoError(t, err)
	assert.Equal(t, BuildRunRunning, run.Status)

	require.NoError(t, c.RecordBuildEvent(ctx, run.RunID, "corrupt_shard", "obj/1.ndjson", "malformed json at line 4"))
	require.NoError(t, c.FinishBuildRun(ctx, run.RunID, BuildRunPartial, 9, 1, 1000))

	runs, err := c.ListBuildRuns(ctx, "idx")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, BuildRunPartial, runs[0].Status)
	assert.EqualValues(t, 9, runs[0].ObjectsOK)
	assert.EqualValues(t, 1, runs[0].ObjectsFailed)

	events, err := c.ListBuildEvents(ctx, run.RunID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "corrupt_shard", events[0].EventType)
}
