package store

import (
	"context"
	"iter"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hashcons/internal/graph"
	"github.com/roach88/hashcons/internal/testutil"
)

// forEachSubstrate runs fn once per graph implementation.
func forEachSubstrate(t *testing.T, fn func(t *testing.T, g graph.Graph)) {
	for _, sub := range testutil.Substrates() {
		t.Run(sub.Name, func(t *testing.T) {
			fn(t, sub.Open(t))
		})
	}
}

// createTestStore opens a global-scope store with deterministic session ids
// and a private metrics registry.
func createTestStore(t *testing.T, g graph.Graph, mutate ...func(*Options)) *Store {
	t.Helper()
	opts := Options{
		Registerer: prometheus.NewRegistry(),
		SessionIDs: testutil.NewSequenceGenerator(""),
		Retry:      RetryPolicy{Attempts: 3},
	}
	for _, m := range mutate {
		m(&opts)
	}
	s, err := Open(context.Background(), g, opts)
	require.NoError(t, err)
	return s
}

// flakyGraph wraps a graph and fails the first commits with a conflict.
type flakyGraph struct {
	graph.Graph
	mu            sync.Mutex
	failCommits   int
	commits       int
	duplicateRead bool
}

func (g *flakyGraph) Begin(ctx context.Context) (graph.Tx, error) {
	tx, err := g.Graph.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &flakyTx{Tx: tx, g: g}, nil
}

type flakyTx struct {
	graph.Tx
	g *flakyGraph
}

func (t *flakyTx) Commit() error {
	t.g.mu.Lock()
	t.g.commits++
	fail := t.g.commits <= t.g.failCommits
	t.g.mu.Unlock()
	if fail {
		t.Tx.Close()
		return graph.ErrConflict
	}
	return t.Tx.Commit()
}

// QueryVertices yields every match twice when duplicateRead is set,
// simulating an index that lost its uniqueness.
func (t *flakyTx) QueryVertices(ctx context.Context, label string, filters ...graph.Filter) iter.Seq2[graph.Vertex, error] {
	inner := t.Tx.QueryVertices(ctx, label, filters...)
	if !t.g.duplicateRead {
		return inner
	}
	return func(yield func(graph.Vertex, error) bool) {
		for v, err := range inner {
			if !yield(v, err) || err != nil {
				return
			}
			dup := v
			dup.ID += 1000
			if !yield(dup, nil) {
				return
			}
		}
	}
}
