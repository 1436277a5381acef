package testutil

import (
	"path/filepath"
	"testing"

	"github.com/roach88/hashcons/internal/graph"
	"github.com/roach88/hashcons/internal/graph/badgergraph"
	"github.com/roach88/hashcons/internal/graph/sqlitegraph"
)

// Substrate names a graph factory for table-driven tests.
type Substrate struct {
	Name string
	Open func(t *testing.T) graph.Graph
}

// Substrates returns a factory for every graph implementation.
func Substrates() []Substrate {
	return []Substrate{
		{Name: "sqlite", Open: OpenSQLite},
		{Name: "badger", Open: OpenBadger},
	}
}

// OpenSQLite opens a file-backed SQLite graph in a temp dir. The graph is
// closed when the test ends.
func OpenSQLite(t *testing.T) graph.Graph {
	t.Helper()
	return OpenSQLiteAt(t, filepath.Join(t.TempDir(), "test.db"))
}

// OpenSQLiteAt opens a SQLite graph at path, closed when the test ends.
func OpenSQLiteAt(t *testing.T, path string) graph.Graph {
	t.Helper()
	g, err := sqlitegraph.Open(path, nil)
	if err != nil {
		t.Fatalf("sqlitegraph.Open() failed: %v", err)
	}
	t.Cleanup(func() { g.Close() })
	return g
}

// OpenBadger opens an in-memory Badger graph, closed when the test ends.
func OpenBadger(t *testing.T) graph.Graph {
	t.Helper()
	g, err := badgergraph.Open(badgergraph.InMemoryConfig())
	if err != nil {
		t.Fatalf("badgergraph.Open() failed: %v", err)
	}
	t.Cleanup(func() { g.Close() })
	return g
}
