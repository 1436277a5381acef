package sqlitegraph

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"iter"

	"github.com/roach88/hashcons/internal/graph"
)

// QueryVertices yields matching vertices page by page in ascending id order.
func (t *Tx) QueryVertices(ctx context.Context, label string, filters ...graph.Filter) iter.Seq2[graph.Vertex, error] {
	q := vertexQuery{
		label:   label,
		filters: filters,
		index:   coveringIndex(t.indexes, label, filters),
	}
	return t.pages(ctx, q)
}

// ScanVertices yields every vertex in ascending id order.
func (t *Tx) ScanVertices(ctx context.Context) iter.Seq2[graph.Vertex, error] {
	return t.pages(ctx, vertexQuery{})
}

func (t *Tx) pages(ctx context.Context, q vertexQuery) iter.Seq2[graph.Vertex, error] {
	return func(yield func(graph.Vertex, error) bool) {
		if t.done {
			yield(graph.Vertex{}, graph.ErrClosed)
			return
		}

		var (
			after   int64
			started bool
		)
		for {
			query, params, err := q.compile(after, started, pageSize)
			if err != nil {
				yield(graph.Vertex{}, err)
				return
			}
			heads, err := t.scanHeads(ctx, query, params)
			if err != nil {
				yield(graph.Vertex{}, err)
				return
			}
			for _, v := range heads {
				props, err := t.properties(ctx, v.ID)
				if err != nil {
					yield(graph.Vertex{}, err)
					return
				}
				v.Properties = props
				if !yield(v, nil) {
					return
				}
			}
			if len(heads) < pageSize {
				return
			}
			after, started = heads[len(heads)-1].ID, true
		}
	}
}

// scanHeads runs a compiled page query and returns id/label pairs.
func (t *Tx) scanHeads(ctx context.Context, query string, params []any) ([]graph.Vertex, error) {
	rows, err := t.tx.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("query vertices: %w", classify(err))
	}
	defer rows.Close()

	heads := make([]graph.Vertex, 0, pageSize)
	for rows.Next() {
		var v graph.Vertex
		if err := rows.Scan(&v.ID, &v.Label); err != nil {
			return nil, fmt.Errorf("scan vertex: %w", err)
		}
		heads = append(heads, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query vertices: %w", classify(err))
	}
	return heads, nil
}

// Vertex reads one vertex with its properties.
func (t *Tx) Vertex(ctx context.Context, id int64) (graph.Vertex, error) {
	if t.done {
		return graph.Vertex{}, graph.ErrClosed
	}
	v := graph.Vertex{ID: id}
	err := t.tx.QueryRowContext(ctx, `SELECT label FROM vertices WHERE id = ?`, id).Scan(&v.Label)
	if err == sql.ErrNoRows {
		return graph.Vertex{}, fmt.Errorf("vertex %d: %w", id, graph.ErrNotFound)
	}
	if err != nil {
		return graph.Vertex{}, fmt.Errorf("vertex %d: %w", id, classify(err))
	}
	props, err := t.properties(ctx, id)
	if err != nil {
		return graph.Vertex{}, err
	}
	v.Properties = props
	return v, nil
}

// OutEdges returns the edges leaving a vertex in insertion order.
func (t *Tx) OutEdges(ctx context.Context, id int64) ([]graph.Edge, error) {
	if t.done {
		return nil, graph.ErrClosed
	}
	rows, err := t.tx.QueryContext(ctx, `
		SELECT from_id, to_id, label FROM edges WHERE from_id = ? ORDER BY seq ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("out edges %d: %w", id, classify(err))
	}
	defer rows.Close()

	edges := []graph.Edge{}
	for rows.Next() {
		var e graph.Edge
		if err := rows.Scan(&e.From, &e.To, &e.Label); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("out edges %d: %w", id, classify(err))
	}
	return edges, nil
}

// Count returns vertex totals per label and the edge total.
func (t *Tx) Count(ctx context.Context) (graph.Counts, error) {
	if t.done {
		return graph.Counts{}, graph.ErrClosed
	}
	counts := graph.Counts{ByLabel: map[string]int64{}}

	rows, err := t.tx.QueryContext(ctx, `
		SELECT label, COUNT(*) FROM vertices GROUP BY label ORDER BY label ASC
	`)
	if err != nil {
		return graph.Counts{}, fmt.Errorf("count: %w", classify(err))
	}
	for rows.Next() {
		var (
			label string
			n     int64
		)
		if err := rows.Scan(&label, &n); err != nil {
			rows.Close()
			return graph.Counts{}, fmt.Errorf("count: %w", err)
		}
		counts.ByLabel[label] = n
		counts.Vertices += n
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return graph.Counts{}, fmt.Errorf("count: %w", classify(err))
	}
	rows.Close()

	if err := t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM edges`).Scan(&counts.Edges); err != nil {
		return graph.Counts{}, fmt.Errorf("count edges: %w", classify(err))
	}
	return counts, nil
}

func (t *Tx) properties(ctx context.Context, id int64) (graph.Properties, error) {
	raw, err := readRawProperties(ctx, t.tx, id)
	if err != nil {
		return nil, err
	}
	props, err := graph.DecodeProperties(raw)
	if err != nil {
		return nil, fmt.Errorf("vertex %d: %w", id, err)
	}
	return props, nil
}

// readRawProperties returns the encoded properties of a vertex.
func readRawProperties(ctx context.Context, tx *sql.Tx, id int64) (map[string][]byte, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT key, value FROM properties WHERE vertex_id = ? ORDER BY key ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("properties of %d: %w", id, classify(err))
	}
	defer rows.Close()

	raw := map[string][]byte{}
	for rows.Next() {
		var (
			key   string
			value []byte
		)
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan property: %w", err)
		}
		raw[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("properties of %d: %w", id, classify(err))
	}
	return raw, nil
}

// loadIndexes reads every declared index.
func loadIndexes(ctx context.Context, tx *sql.Tx) ([]graph.IndexSpec, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT name, label, keys, is_unique FROM graph_indexes ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("load indexes: %w", classify(err))
	}
	defer rows.Close()

	indexes := []graph.IndexSpec{}
	for rows.Next() {
		spec, err := scanIndex(rows)
		if err != nil {
			return nil, err
		}
		indexes = append(indexes, spec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load indexes: %w", classify(err))
	}
	return indexes, nil
}

func readIndex(ctx context.Context, tx *sql.Tx, name string) (graph.IndexSpec, bool, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT name, label, keys, is_unique FROM graph_indexes WHERE name = ?
	`, name)
	spec, err := scanIndex(row)
	if err == sql.ErrNoRows {
		return graph.IndexSpec{}, false, nil
	}
	if err != nil {
		return graph.IndexSpec{}, false, err
	}
	return spec, true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanIndex(s scanner) (graph.IndexSpec, error) {
	var (
		spec     graph.IndexSpec
		keysJSON string
	)
	if err := s.Scan(&spec.Name, &spec.Label, &keysJSON, &spec.Unique); err != nil {
		return graph.IndexSpec{}, err
	}
	if err := json.Unmarshal([]byte(keysJSON), &spec.Keys); err != nil {
		return graph.IndexSpec{}, fmt.Errorf("index %q keys: %w", spec.Name, err)
	}
	return spec, nil
}
