package sqlitegraph

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hashcons/internal/graph"
	"github.com/roach88/hashcons/internal/graph/graphtest"
)

// createTestGraph opens a fresh file-backed graph for testing.
func createTestGraph(t *testing.T) *Graph {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	g, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { g.Close() })
	return g
}

func TestConformance(t *testing.T) {
	graphtest.Run(t, func(t *testing.T) graph.Graph {
		return createTestGraph(t)
	})
}

func TestConformance_InMemory(t *testing.T) {
	graphtest.Run(t, func(t *testing.T) graph.Graph {
		g, err := Open(":memory:", nil)
		require.NoError(t, err)
		return g
	})
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	g, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer g.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		g, err := Open(path, nil)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		g.Close()
	}

	g, err := Open(path, nil)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer g.Close()

	tables := []string{"vertices", "properties", "edges", "graph_indexes", "index_entries", "id_blocks"}
	for _, table := range tables {
		var name string
		err := g.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpen_Pragmas(t *testing.T) {
	g := createTestGraph(t)

	for name, want := range map[string]string{
		"journal_mode": "wal",
		"synchronous":  "1",
		"busy_timeout": "5000",
		"foreign_keys": "1",
		"user_version": "1",
	} {
		if err := g.verifyPragma(name, want); err != nil {
			t.Error(err)
		}
	}
}

func TestOpen_RefusesNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	g, err := Open(path, nil)
	require.NoError(t, err)
	_, err = g.db.Exec("PRAGMA user_version = 99")
	require.NoError(t, err)
	require.NoError(t, g.Close())

	_, err = Open(path, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "newer than supported")
}

func TestPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	g, err := Open(path, nil)
	require.NoError(t, err)
	spec := graph.IndexSpec{Name: "leafIndex", Label: "Leaf", Keys: []string{"type", "value"}, Unique: true}
	require.NoError(t, g.EnsureIndex(ctx, spec))
	tx, err := g.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.CreateVertex(ctx, graph.Vertex{ID: 1, Label: "Leaf", Properties: graph.Properties{"type": "T", "value": "v"}}))
	_, err = tx.ReserveIDs(ctx, "default", 1, 1000)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	require.NoError(t, g.Close())

	g, err = Open(path, nil)
	require.NoError(t, err)
	defer g.Close()

	got, found, err := g.Index(ctx, "leafIndex")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, got.Equal(spec))

	tx, err = g.Begin(ctx)
	require.NoError(t, err)
	defer tx.Close()
	var n int
	for v, err := range tx.QueryVertices(ctx, "Leaf", graph.Eq("type", "T"), graph.Eq("value", "v")) {
		require.NoError(t, err)
		assert.Equal(t, int64(1), v.ID)
		n++
	}
	assert.Equal(t, 1, n)

	start, err := tx.ReserveIDs(ctx, "default", 1, 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(1001), start)
}

func TestCompile_UsesIndexWhenCovered(t *testing.T) {
	spec := graph.IndexSpec{Name: "leafIndex", Label: "Leaf", Keys: []string{"type", "value"}, Unique: true}
	filters := []graph.Filter{graph.Eq("value", "v"), graph.Eq("type", "T")}

	idx := coveringIndex([]graph.IndexSpec{spec}, "Leaf", filters)
	require.NotNil(t, idx)

	sql, params, err := vertexQuery{label: "Leaf", filters: filters, index: idx}.compile(0, false, 10)
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT v.id, v.label FROM index_entries ie JOIN vertices v ON v.id = ie.vertex_id"+
			" WHERE ie.index_name = ? AND ie.entry = ? AND v.label = ? ORDER BY v.id ASC LIMIT ?",
		sql)
	assert.Len(t, params, 4)

	assert.Nil(t, coveringIndex([]graph.IndexSpec{spec}, "Leaf", filters[:1]))
	assert.Nil(t, coveringIndex([]graph.IndexSpec{spec}, "Composite", filters))
}

func TestCompile_PropertyScan(t *testing.T) {
	sql, params, err := vertexQuery{label: "Leaf", filters: []graph.Filter{graph.Eq("type", "T")}}.compile(42, true, 10)
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT v.id, v.label FROM vertices v"+
			" WHERE EXISTS (SELECT 1 FROM properties p WHERE p.vertex_id = v.id AND p.key = ? AND p.value = ?)"+
			" AND v.label = ? AND v.id > ? ORDER BY v.id ASC LIMIT ?",
		sql)
	assert.Equal(t, []any{"type", []byte("sT"), "Leaf", int64(42), 10}, params)

	sql, params, err = vertexQuery{}.compile(0, false, 5)
	require.NoError(t, err)
	assert.Equal(t, "SELECT v.id, v.label FROM vertices v ORDER BY v.id ASC LIMIT ?", sql)
	assert.Equal(t, []any{5}, params)

	_, _, err = vertexQuery{filters: []graph.Filter{graph.Eq("x", 1.5)}}.compile(0, false, 5)
	assert.Error(t, err)
}
