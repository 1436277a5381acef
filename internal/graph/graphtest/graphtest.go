// Package graphtest is a conformance suite for graph.Graph implementations.
package graphtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hashcons/internal/graph"
)

// Factory opens an empty graph. The graph is closed by the suite.
type Factory func(t *testing.T) graph.Graph

var nameIndex = graph.IndexSpec{Name: "byName", Label: "Item", Keys: []string{"kind", "name"}, Unique: true}

// Run executes the conformance suite against graphs from open.
func Run(t *testing.T, open Factory) {
	cases := []struct {
		name string
		fn   func(t *testing.T, g graph.Graph)
	}{
		{"CreateAndRead", testCreateAndRead},
		{"ReadYourWrites", testReadYourWrites},
		{"RollbackDiscards", testRollbackDiscards},
		{"QueryWithAndWithoutIndex", testQuery},
		{"UniqueIndexConflict", testUniqueConflict},
		{"NonUniqueIndexAllowsDuplicates", testNonUnique},
		{"EnsureIndexBackfillsAndDetectsMismatch", testEnsureIndex},
		{"Edges", testEdges},
		{"Count", testCount},
		{"ReserveIDs", testReserveIDs},
		{"ReserveIDsRolledBack", testReserveRollback},
		{"ScanPagesInOrder", testScan},
		{"CloseIdempotent", testClose},
		{"ConcurrentGetOrCreate", testConcurrent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := open(t)
			t.Cleanup(func() { g.Close() })
			tc.fn(t, g)
		})
	}
}

func item(id int64, kind, name string) graph.Vertex {
	return graph.Vertex{
		ID:    id,
		Label: "Item",
		Properties: graph.Properties{
			"kind": kind,
			"name": name,
			"size": int64(id * 10),
			"raw":  []byte{byte(id), 0},
		},
	}
}

// update runs fn in a transaction and commits.
func update(t *testing.T, g graph.Graph, fn func(tx graph.Tx) error) error {
	t.Helper()
	ctx := context.Background()
	tx, err := g.Begin(ctx)
	require.NoError(t, err)
	defer tx.Close()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func collect(t *testing.T, seq func(func(graph.Vertex, error) bool)) []graph.Vertex {
	t.Helper()
	out := []graph.Vertex{}
	for v, err := range seq {
		require.NoError(t, err)
		out = append(out, v)
	}
	return out
}

func ids(vs []graph.Vertex) []int64 {
	out := make([]int64, len(vs))
	for i, v := range vs {
		out[i] = v.ID
	}
	return out
}

func testCreateAndRead(t *testing.T, g graph.Graph) {
	ctx := context.Background()
	require.NoError(t, update(t, g, func(tx graph.Tx) error {
		return tx.CreateVertex(ctx, item(7, "a", "x"))
	}))

	tx, err := g.Begin(ctx)
	require.NoError(t, err)
	defer tx.Close()

	v, err := tx.Vertex(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "Item", v.Label)
	name, ok := v.Properties.String("name")
	assert.True(t, ok)
	assert.Equal(t, "x", name)
	size, ok := v.Properties.Int("size")
	assert.True(t, ok)
	assert.Equal(t, int64(70), size)
	raw, ok := v.Properties.Bytes("raw")
	assert.True(t, ok)
	assert.Equal(t, []byte{7, 0}, raw)

	_, err = tx.Vertex(ctx, 8)
	assert.ErrorIs(t, err, graph.ErrNotFound)
}

func testReadYourWrites(t *testing.T, g graph.Graph) {
	ctx := context.Background()
	require.NoError(t, g.EnsureIndex(ctx, nameIndex))

	tx, err := g.Begin(ctx)
	require.NoError(t, err)
	defer tx.Close()

	require.NoError(t, tx.CreateVertex(ctx, item(1, "a", "x")))
	got := collect(t, tx.QueryVertices(ctx, "Item", graph.Eq("kind", "a"), graph.Eq("name", "x")))
	assert.Equal(t, []int64{1}, ids(got))

	got = collect(t, tx.QueryVertices(ctx, "Item", graph.Eq("size", int64(10))))
	assert.Equal(t, []int64{1}, ids(got))
}

func testRollbackDiscards(t *testing.T, g graph.Graph) {
	ctx := context.Background()
	tx, err := g.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.CreateVertex(ctx, item(1, "a", "x")))
	require.NoError(t, tx.Close())

	tx, err = g.Begin(ctx)
	require.NoError(t, err)
	defer tx.Close()
	_, err = tx.Vertex(ctx, 1)
	assert.ErrorIs(t, err, graph.ErrNotFound)
	counts, err := tx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), counts.Vertices)
}

func testQuery(t *testing.T, g graph.Graph) {
	ctx := context.Background()
	require.NoError(t, g.EnsureIndex(ctx, nameIndex))
	require.NoError(t, update(t, g, func(tx graph.Tx) error {
		for i, kv := range [][2]string{{"a", "x"}, {"a", "y"}, {"b", "x"}} {
			if err := tx.CreateVertex(ctx, item(int64(i+1), kv[0], kv[1])); err != nil {
				return err
			}
		}
		return tx.CreateVertex(ctx, graph.Vertex{ID: 4, Label: "Other", Properties: graph.Properties{"kind": "a", "name": "x"}})
	}))

	tx, err := g.Begin(ctx)
	require.NoError(t, err)
	defer tx.Close()

	// Covered by the index.
	got := collect(t, tx.QueryVertices(ctx, "Item", graph.Eq("name", "x"), graph.Eq("kind", "a")))
	assert.Equal(t, []int64{1}, ids(got))

	// Not covered: scans by property.
	got = collect(t, tx.QueryVertices(ctx, "Item", graph.Eq("name", "x")))
	assert.Equal(t, []int64{1, 3}, ids(got))

	got = collect(t, tx.QueryVertices(ctx, "Other", graph.Eq("name", "x")))
	assert.Equal(t, []int64{4}, ids(got))

	got = collect(t, tx.QueryVertices(ctx, "Item", graph.Eq("name", "z")))
	assert.Empty(t, got)

	// A string never matches an int or bytes value with the same text.
	got = collect(t, tx.QueryVertices(ctx, "Item", graph.Eq("size", "10")))
	assert.Empty(t, got)

	got = collect(t, tx.QueryVertices(ctx, "Item", graph.Eq("raw", []byte{2, 0})))
	assert.Equal(t, []int64{2}, ids(got))

	// Stopping early is allowed.
	for v, err := range tx.QueryVertices(ctx, "Item") {
		require.NoError(t, err)
		assert.Equal(t, int64(1), v.ID)
		break
	}
}

func testUniqueConflict(t *testing.T, g graph.Graph) {
	ctx := context.Background()
	require.NoError(t, g.EnsureIndex(ctx, nameIndex))
	require.NoError(t, update(t, g, func(tx graph.Tx) error {
		return tx.CreateVertex(ctx, item(1, "a", "x"))
	}))

	err := update(t, g, func(tx graph.Tx) error {
		return tx.CreateVertex(ctx, item(2, "a", "x"))
	})
	assert.ErrorIs(t, err, graph.ErrConflict)

	// Same id is a conflict too.
	err = update(t, g, func(tx graph.Tx) error {
		return tx.CreateVertex(ctx, item(1, "c", "z"))
	})
	assert.ErrorIs(t, err, graph.ErrConflict)

	tx, err := g.Begin(ctx)
	require.NoError(t, err)
	defer tx.Close()
	counts, err := tx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Vertices)
}

func testNonUnique(t *testing.T, g graph.Graph) {
	ctx := context.Background()
	spec := nameIndex
	spec.Unique = false
	require.NoError(t, g.EnsureIndex(ctx, spec))
	require.NoError(t, update(t, g, func(tx graph.Tx) error {
		if err := tx.CreateVertex(ctx, item(1, "a", "x")); err != nil {
			return err
		}
		return tx.CreateVertex(ctx, item(2, "a", "x"))
	}))

	tx, err := g.Begin(ctx)
	require.NoError(t, err)
	defer tx.Close()
	got := collect(t, tx.QueryVertices(ctx, "Item", graph.Eq("kind", "a"), graph.Eq("name", "x")))
	assert.Equal(t, []int64{1, 2}, ids(got))
}

func testEnsureIndex(t *testing.T, g graph.Graph) {
	ctx := context.Background()
	require.NoError(t, update(t, g, func(tx graph.Tx) error {
		return tx.CreateVertex(ctx, item(1, "a", "x"))
	}))

	_, found, err := g.Index(ctx, nameIndex.Name)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, g.EnsureIndex(ctx, nameIndex))
	require.NoError(t, g.EnsureIndex(ctx, nameIndex))

	spec, found, err := g.Index(ctx, nameIndex.Name)
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, spec.Equal(nameIndex))

	changed := nameIndex
	changed.Keys = []string{"name"}
	assert.ErrorIs(t, g.EnsureIndex(ctx, changed), graph.ErrIndexMismatch)

	// The vertex written before the index exists is covered by it.
	err = update(t, g, func(tx graph.Tx) error {
		return tx.CreateVertex(ctx, item(2, "a", "x"))
	})
	assert.ErrorIs(t, err, graph.ErrConflict)
}

func testEdges(t *testing.T, g graph.Graph) {
	ctx := context.Background()
	require.NoError(t, update(t, g, func(tx graph.Tx) error {
		for i := int64(1); i <= 3; i++ {
			if err := tx.CreateVertex(ctx, item(i, "a", fmt.Sprint(i))); err != nil {
				return err
			}
		}
		if err := tx.CreateEdge(ctx, graph.Edge{From: 1, To: 2, Label: "L_2_0"}); err != nil {
			return err
		}
		if err := tx.CreateEdge(ctx, graph.Edge{From: 1, To: 2, Label: "L_2_1"}); err != nil {
			return err
		}
		return tx.CreateEdge(ctx, graph.Edge{From: 2, To: 3, Label: "M_1_0"})
	}))

	tx, err := g.Begin(ctx)
	require.NoError(t, err)
	defer tx.Close()

	edges, err := tx.OutEdges(ctx, 1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []graph.Edge{
		{From: 1, To: 2, Label: "L_2_0"},
		{From: 1, To: 2, Label: "L_2_1"},
	}, edges)

	edges, err = tx.OutEdges(ctx, 3)
	require.NoError(t, err)
	assert.Empty(t, edges)

	err = tx.CreateEdge(ctx, graph.Edge{From: 1, To: 99, Label: "dangling"})
	assert.ErrorIs(t, err, graph.ErrNotFound)
}

func testCount(t *testing.T, g graph.Graph) {
	ctx := context.Background()
	require.NoError(t, update(t, g, func(tx graph.Tx) error {
		if err := tx.CreateVertex(ctx, item(1, "a", "x")); err != nil {
			return err
		}
		if err := tx.CreateVertex(ctx, item(2, "a", "y")); err != nil {
			return err
		}
		if err := tx.CreateVertex(ctx, graph.Vertex{ID: 3, Label: "Other"}); err != nil {
			return err
		}
		return tx.CreateEdge(ctx, graph.Edge{From: 3, To: 1, Label: "e"})
	}))

	tx, err := g.Begin(ctx)
	require.NoError(t, err)
	defer tx.Close()
	counts, err := tx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts.Vertices)
	assert.Equal(t, int64(1), counts.Edges)
	assert.Equal(t, map[string]int64{"Item": 2, "Other": 1}, counts.ByLabel)
}

func testReserveIDs(t *testing.T, g graph.Graph) {
	ctx := context.Background()
	var starts []int64
	require.NoError(t, update(t, g, func(tx graph.Tx) error {
		for _, floor := range []int64{1, 1, 50} {
			start, err := tx.ReserveIDs(ctx, "ns", floor, 10)
			if err != nil {
				return err
			}
			starts = append(starts, start)
		}
		return nil
	}))
	assert.Equal(t, []int64{1, 11, 50}, starts)

	// Persisted across transactions, and namespaces are independent.
	require.NoError(t, update(t, g, func(tx graph.Tx) error {
		start, err := tx.ReserveIDs(ctx, "ns", 1, 5)
		if err != nil {
			return err
		}
		assert.Equal(t, int64(60), start)
		start, err = tx.ReserveIDs(ctx, "other", 1, 5)
		if err != nil {
			return err
		}
		assert.Equal(t, int64(1), start)
		return nil
	}))
}

func testReserveRollback(t *testing.T, g graph.Graph) {
	ctx := context.Background()
	tx, err := g.Begin(ctx)
	require.NoError(t, err)
	start, err := tx.ReserveIDs(ctx, "ns", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), start)
	require.NoError(t, tx.Close())

	require.NoError(t, update(t, g, func(tx graph.Tx) error {
		start, err := tx.ReserveIDs(ctx, "ns", 1, 10)
		if err != nil {
			return err
		}
		assert.Equal(t, int64(1), start)
		return nil
	}))
}

func testScan(t *testing.T, g graph.Graph) {
	ctx := context.Background()
	const n = 700
	require.NoError(t, update(t, g, func(tx graph.Tx) error {
		// Insert out of order.
		for i := int64(n); i >= 1; i-- {
			if err := tx.CreateVertex(ctx, item(i, "k", fmt.Sprint(i))); err != nil {
				return err
			}
		}
		return nil
	}))

	tx, err := g.Begin(ctx)
	require.NoError(t, err)
	defer tx.Close()

	got := ids(collect(t, tx.ScanVertices(ctx)))
	require.Len(t, got, n)
	for i, id := range got {
		require.Equal(t, int64(i+1), id)
	}

	got = ids(collect(t, tx.QueryVertices(ctx, "Item", graph.Eq("kind", "k"))))
	assert.Len(t, got, n)
}

func testClose(t *testing.T, g graph.Graph) {
	ctx := context.Background()
	tx, err := g.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.CreateVertex(ctx, item(1, "a", "x")))
	require.NoError(t, tx.Commit())
	require.NoError(t, tx.Close())
	require.NoError(t, tx.Close())

	assert.ErrorIs(t, tx.Commit(), graph.ErrClosed)
	assert.ErrorIs(t, tx.CreateVertex(ctx, item(2, "a", "y")), graph.ErrClosed)
	_, err = tx.Vertex(ctx, 1)
	assert.ErrorIs(t, err, graph.ErrClosed)
}

func testConcurrent(t *testing.T, g graph.Graph) {
	ctx := context.Background()
	require.NoError(t, g.EnsureIndex(ctx, nameIndex))

	const workers = 8
	var wg sync.WaitGroup
	results := make([]int64, workers)
	errs := make([]error, workers)
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[w], errs[w] = getOrCreate(ctx, g, int64(w+1))
		}()
	}
	wg.Wait()

	for w := range workers {
		require.NoError(t, errs[w])
		assert.Equal(t, results[0], results[w], "worker %d", w)
	}

	tx, err := g.Begin(ctx)
	require.NoError(t, err)
	defer tx.Close()
	counts, err := tx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Vertices)
}

// getOrCreate looks up the shared item and creates it with id when absent,
// retrying on conflict.
func getOrCreate(ctx context.Context, g graph.Graph, id int64) (int64, error) {
	for attempt := 0; attempt < 50; attempt++ {
		got, err := func() (int64, error) {
			tx, err := g.Begin(ctx)
			if err != nil {
				return 0, err
			}
			defer tx.Close()
			for v, err := range tx.QueryVertices(ctx, "Item", graph.Eq("kind", "shared"), graph.Eq("name", "one")) {
				if err != nil {
					return 0, err
				}
				return v.ID, nil
			}
			if err := tx.CreateVertex(ctx, item(id, "shared", "one")); err != nil {
				return 0, err
			}
			return id, tx.Commit()
		}()
		if errors.Is(err, graph.ErrConflict) {
			continue
		}
		return got, err
	}
	return 0, fmt.Errorf("item %d: too many conflicts", id)
}
