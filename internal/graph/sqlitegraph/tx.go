package sqlitegraph

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/hashcons/internal/graph"
)

// Tx is a SQLite transaction implementing graph.Tx.
type Tx struct {
	tx      *sql.Tx
	indexes []graph.IndexSpec
	done    bool
}

var _ graph.Tx = (*Tx)(nil)

// CreateVertex inserts the vertex, its properties and its index entries.
// A unique index violation or an id already in use returns graph.ErrConflict.
func (t *Tx) CreateVertex(ctx context.Context, v graph.Vertex) error {
	if t.done {
		return graph.ErrClosed
	}
	if v.Label == "" {
		return fmt.Errorf("create vertex %d: label is required", v.ID)
	}

	props, err := graph.EncodeProperties(v.Properties)
	if err != nil {
		return fmt.Errorf("create vertex %d: %w", v.ID, err)
	}

	if _, err := t.tx.ExecContext(ctx, `
		INSERT INTO vertices (id, label) VALUES (?, ?)
	`, v.ID, v.Label); err != nil {
		return fmt.Errorf("create vertex %d: %w", v.ID, classify(err))
	}

	for _, key := range v.Properties.SortedKeys() {
		if _, err := t.tx.ExecContext(ctx, `
			INSERT INTO properties (vertex_id, key, value) VALUES (?, ?, ?)
		`, v.ID, key, props[key]); err != nil {
			return fmt.Errorf("create vertex %d: property %q: %w", v.ID, key, classify(err))
		}
	}

	for _, spec := range t.indexes {
		if spec.Label != v.Label {
			continue
		}
		if _, err := insertIndexEntry(ctx, t.tx, spec, v.ID, props); err != nil {
			return fmt.Errorf("create vertex %d: %w", v.ID, err)
		}
	}

	return nil
}

// CreateEdge inserts an edge. Missing endpoints return graph.ErrNotFound.
func (t *Tx) CreateEdge(ctx context.Context, e graph.Edge) error {
	if t.done {
		return graph.ErrClosed
	}
	if _, err := t.tx.ExecContext(ctx, `
		INSERT INTO edges (from_id, to_id, label) VALUES (?, ?, ?)
	`, e.From, e.To, e.Label); err != nil {
		return fmt.Errorf("create edge %d->%d: %w", e.From, e.To, classify(err))
	}
	return nil
}

// ReserveIDs advances the namespace high-water mark by size, starting no
// lower than floor.
func (t *Tx) ReserveIDs(ctx context.Context, namespace string, floor, size int64) (int64, error) {
	if t.done {
		return 0, graph.ErrClosed
	}
	if size <= 0 {
		return 0, fmt.Errorf("reserve ids: size must be positive, got %d", size)
	}

	var high int64
	err := t.tx.QueryRowContext(ctx, `
		SELECT high FROM id_blocks WHERE namespace = ?
	`, namespace).Scan(&high)
	if err != nil && err != sql.ErrNoRows {
		return 0, fmt.Errorf("reserve ids: %w", classify(err))
	}

	start := max(high, floor)
	if _, err := t.tx.ExecContext(ctx, `
		INSERT INTO id_blocks (namespace, high) VALUES (?, ?)
		ON CONFLICT(namespace) DO UPDATE SET high = excluded.high
	`, namespace, start+size); err != nil {
		return 0, fmt.Errorf("reserve ids: %w", classify(err))
	}
	return start, nil
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	if t.done {
		return graph.ErrClosed
	}
	t.done = true
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", classify(err))
	}
	return nil
}

// Close rolls back unless already committed or closed.
func (t *Tx) Close() error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Rollback(); err != nil {
		return fmt.Errorf("rollback: %w", classify(err))
	}
	return nil
}

// insertIndexEntry writes the index entry for a vertex. Returns false if the
// vertex lacks one of the indexed keys.
func insertIndexEntry(ctx context.Context, tx *sql.Tx, spec graph.IndexSpec, id int64, props map[string][]byte) (bool, error) {
	entry, ok := graph.IndexEntry(spec, props)
	if !ok {
		return false, nil
	}
	slot := id
	if spec.Unique {
		slot = 0
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO index_entries (index_name, entry, slot, vertex_id) VALUES (?, ?, ?, ?)
	`, spec.Name, entry, slot, id); err != nil {
		return false, fmt.Errorf("index %q: %w", spec.Name, classify(err))
	}
	return true, nil
}
