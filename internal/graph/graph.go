package graph

import (
	"context"
	"errors"
	"iter"
)

// Substrate errors. Implementations wrap driver errors with these sentinels
// where the category is known.
var (
	// ErrNotFound is returned when a vertex does not exist.
	ErrNotFound = errors.New("graph: not found")

	// ErrConflict is returned when a write violates a unique index or
	// loses a transaction conflict.
	ErrConflict = errors.New("graph: conflict")

	// ErrClosed is returned when a closed Tx or Graph is used.
	ErrClosed = errors.New("graph: closed")

	// ErrIndexMismatch is returned when EnsureIndex finds an index of the
	// same name with a different definition.
	ErrIndexMismatch = errors.New("graph: index definition mismatch")
)

// Vertex is a labelled vertex with caller-assigned id.
type Vertex struct {
	ID         int64
	Label      string
	Properties Properties
}

// Edge is a directed labelled edge.
type Edge struct {
	From  int64
	To    int64
	Label string
}

// Filter restricts QueryVertices to vertices whose property Key equals Value.
type Filter struct {
	Key   string
	Value any
}

// Eq builds a Filter.
func Eq(key string, value any) Filter {
	return Filter{Key: key, Value: value}
}

// IndexSpec declares a composite index over properties of one label.
type IndexSpec struct {
	Name   string   `cbor:"name" json:"name"`
	Label  string   `cbor:"label" json:"label"`
	Keys   []string `cbor:"keys" json:"keys"`
	Unique bool     `cbor:"unique" json:"unique"`
}

// Equal reports whether two specs define the same index.
func (s IndexSpec) Equal(o IndexSpec) bool {
	if s.Name != o.Name || s.Label != o.Label || s.Unique != o.Unique || len(s.Keys) != len(o.Keys) {
		return false
	}
	for i := range s.Keys {
		if s.Keys[i] != o.Keys[i] {
			return false
		}
	}
	return true
}

// Covers reports whether the index answers a query on label with exactly
// the given filters (in any order).
func (s IndexSpec) Covers(label string, filters []Filter) bool {
	if s.Label != label || len(filters) != len(s.Keys) {
		return false
	}
	for _, k := range s.Keys {
		found := false
		for _, f := range filters {
			if f.Key == k {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Counts summarizes the contents of a graph.
type Counts struct {
	Vertices int64            `json:"vertices"`
	Edges    int64            `json:"edges"`
	ByLabel  map[string]int64 `json:"by_label"`
}

// Graph is a transactional property graph.
type Graph interface {
	// Begin opens a read-write transaction.
	Begin(ctx context.Context) (Tx, error)

	// EnsureIndex declares an index if absent and indexes existing
	// vertices of its label. Returns ErrIndexMismatch if an index with the
	// same name but a different definition exists, and ErrConflict if
	// existing vertices violate a unique index.
	EnsureIndex(ctx context.Context, spec IndexSpec) error

	// Index returns the definition of a named index.
	Index(ctx context.Context, name string) (IndexSpec, bool, error)

	// Close releases the substrate.
	Close() error
}

// Tx is a unit of work against a Graph. A Tx is not safe for concurrent use.
type Tx interface {
	// CreateVertex writes a vertex. The id must be unused.
	CreateVertex(ctx context.Context, v Vertex) error

	// CreateEdge writes an edge between existing vertices.
	CreateEdge(ctx context.Context, e Edge) error

	// QueryVertices lazily yields vertices with the label whose properties
	// equal every filter, in ascending id order. Declared indexes are used
	// when one covers the filters exactly.
	QueryVertices(ctx context.Context, label string, filters ...Filter) iter.Seq2[Vertex, error]

	// Vertex reads one vertex. Returns ErrNotFound if absent.
	Vertex(ctx context.Context, id int64) (Vertex, error)

	// OutEdges returns the edges leaving a vertex, in unspecified order.
	OutEdges(ctx context.Context, id int64) ([]Edge, error)

	// ScanVertices lazily yields every vertex in ascending id order.
	ScanVertices(ctx context.Context) iter.Seq2[Vertex, error]

	// Count returns vertex and edge totals.
	Count(ctx context.Context) (Counts, error)

	// ReserveIDs atomically reserves [start, start+size) with start >= floor
	// above the namespace's high-water mark.
	ReserveIDs(ctx context.Context, namespace string, floor, size int64) (int64, error)

	// Commit makes all writes durable and visible.
	Commit() error

	// Close discards uncommitted writes. Safe to call after Commit and
	// more than once.
	Close() error
}
