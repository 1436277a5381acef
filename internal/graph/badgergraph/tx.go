package badgergraph

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/dgraph-io/badger/v4"

	"github.com/roach88/hashcons/internal/graph"
)

// pageSize bounds how many ids are collected per iterator pass. Badger
// allows one open iterator per read-write transaction, so iterators are
// closed before any vertex is yielded.
const pageSize = 256

// Tx is a Badger transaction implementing graph.Tx.
type Tx struct {
	txn     *badger.Txn
	indexes []graph.IndexSpec
	done    bool
}

var _ graph.Tx = (*Tx)(nil)

func (t *Tx) check(ctx context.Context) error {
	if t.done {
		return graph.ErrClosed
	}
	return ctx.Err()
}

// CreateVertex writes the vertex record, its label membership and its
// index entries.
func (t *Tx) CreateVertex(ctx context.Context, v graph.Vertex) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	if v.Label == "" {
		return fmt.Errorf("create vertex %d: label is required", v.ID)
	}

	props, err := graph.EncodeProperties(v.Properties)
	if err != nil {
		return fmt.Errorf("create vertex %d: %w", v.ID, err)
	}

	key := vertexKey(v.ID)
	if _, err := t.txn.Get(key); err == nil {
		return fmt.Errorf("create vertex %d: %w: id in use", v.ID, graph.ErrConflict)
	} else if !errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("create vertex %d: %w", v.ID, classify(err))
	}

	for _, spec := range t.indexes {
		if spec.Label != v.Label {
			continue
		}
		if _, err := putIndexEntry(t.txn, spec, v.ID, props); err != nil {
			return fmt.Errorf("create vertex %d: %w", v.ID, classify(err))
		}
	}

	raw, err := encMode.Marshal(vertexRecord{Label: v.Label, Props: props})
	if err != nil {
		return fmt.Errorf("create vertex %d: %w", v.ID, err)
	}
	if err := t.txn.Set(key, raw); err != nil {
		return fmt.Errorf("create vertex %d: %w", v.ID, classify(err))
	}
	if err := t.txn.Set(labelKey(v.Label, v.ID), nil); err != nil {
		return fmt.Errorf("create vertex %d: %w", v.ID, classify(err))
	}
	return nil
}

// putIndexEntry writes the index entry for a vertex. A unique entry that
// already exists returns graph.ErrConflict. Returns false if the vertex
// lacks one of the indexed keys.
func putIndexEntry(txn *badger.Txn, spec graph.IndexSpec, id int64, props map[string][]byte) (bool, error) {
	entry, ok := graph.IndexEntry(spec, props)
	if !ok {
		return false, nil
	}
	key := entryPrefix(spec.Name, entry)
	if spec.Unique {
		// The read puts the key in this transaction's read set, so a
		// concurrent writer of the same entry fails at commit.
		if _, err := txn.Get(key); err == nil {
			return false, fmt.Errorf("index %q: %w", spec.Name, graph.ErrConflict)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return false, err
		}
	} else {
		key = append(key, encodeID(id)...)
	}
	if err := txn.Set(key, encodeID(id)); err != nil {
		return false, err
	}
	return true, nil
}

// CreateEdge writes an edge between existing vertices.
func (t *Tx) CreateEdge(ctx context.Context, e graph.Edge) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	for _, id := range []int64{e.From, e.To} {
		if _, err := t.txn.Get(vertexKey(id)); errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("create edge %d->%d: vertex %d: %w", e.From, e.To, id, graph.ErrNotFound)
		} else if err != nil {
			return fmt.Errorf("create edge %d->%d: %w", e.From, e.To, classify(err))
		}
	}
	if err := t.txn.Set(edgeKey(e.From, e.Label, e.To), nil); err != nil {
		return fmt.Errorf("create edge %d->%d: %w", e.From, e.To, classify(err))
	}
	return nil
}

// Vertex reads one vertex.
func (t *Tx) Vertex(ctx context.Context, id int64) (graph.Vertex, error) {
	if err := t.check(ctx); err != nil {
		return graph.Vertex{}, err
	}
	rec, err := readVertex(t.txn, id)
	if err != nil {
		return graph.Vertex{}, err
	}
	return toVertex(id, rec)
}

func toVertex(id int64, rec vertexRecord) (graph.Vertex, error) {
	props, err := graph.DecodeProperties(rec.Props)
	if err != nil {
		return graph.Vertex{}, fmt.Errorf("vertex %d: %w", id, err)
	}
	return graph.Vertex{ID: id, Label: rec.Label, Properties: props}, nil
}

func readVertex(txn *badger.Txn, id int64) (vertexRecord, error) {
	item, err := txn.Get(vertexKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return vertexRecord{}, fmt.Errorf("vertex %d: %w", id, graph.ErrNotFound)
	}
	if err != nil {
		return vertexRecord{}, fmt.Errorf("vertex %d: %w", id, classify(err))
	}
	var rec vertexRecord
	if err := item.Value(func(val []byte) error {
		return decMode.Unmarshal(val, &rec)
	}); err != nil {
		return vertexRecord{}, fmt.Errorf("decode vertex %d: %w", id, err)
	}
	if rec.Props == nil {
		rec.Props = map[string][]byte{}
	}
	return rec, nil
}

// OutEdges returns the edges leaving a vertex ordered by label then target.
func (t *Tx) OutEdges(ctx context.Context, id int64) ([]graph.Edge, error) {
	if err := t.check(ctx); err != nil {
		return nil, err
	}
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = edgePrefix(id)
	it := t.txn.NewIterator(opts)
	defer it.Close()

	edges := []graph.Edge{}
	for it.Rewind(); it.Valid(); it.Next() {
		from, label, to, err := parseEdgeKey(it.Item().KeyCopy(nil))
		if err != nil {
			return nil, err
		}
		edges = append(edges, graph.Edge{From: from, To: to, Label: label})
	}
	return edges, nil
}

// QueryVertices yields matching vertices in ascending id order, through a
// covering index when one is declared.
func (t *Tx) QueryVertices(ctx context.Context, label string, filters ...graph.Filter) iter.Seq2[graph.Vertex, error] {
	var prefix []byte
	var direct bool
	covering := coveringIndex(t.indexes, label, filters)
	if covering != nil {
		entry, err := graph.FilterEntry(*covering, filters)
		if err != nil {
			return func(yield func(graph.Vertex, error) bool) {
				yield(graph.Vertex{}, err)
			}
		}
		prefix = entryPrefix(covering.Name, entry)
		direct = covering.Unique
	} else if label != "" {
		prefix = labelPrefix(label)
	} else {
		prefix = []byte(prefixVertex)
	}

	return func(yield func(graph.Vertex, error) bool) {
		if err := t.check(ctx); err != nil {
			yield(graph.Vertex{}, err)
			return
		}

		if direct {
			id, found, err := t.uniqueEntry(prefix)
			if err != nil || !found {
				if err != nil {
					yield(graph.Vertex{}, err)
				}
				return
			}
			t.yieldMatching(ctx, []int64{id}, label, filters, yield)
			return
		}

		var after []byte
		for {
			ids, last, err := t.page(prefix, after)
			if err != nil {
				yield(graph.Vertex{}, err)
				return
			}
			if !t.yieldMatching(ctx, ids, label, filters, yield) {
				return
			}
			if len(ids) < pageSize {
				return
			}
			after = last
		}
	}
}

// ScanVertices yields every vertex in ascending id order.
func (t *Tx) ScanVertices(ctx context.Context) iter.Seq2[graph.Vertex, error] {
	return t.QueryVertices(ctx, "")
}

// yieldMatching loads each vertex and yields the ones that match. Returns
// false when iteration should stop.
func (t *Tx) yieldMatching(ctx context.Context, ids []int64, label string, filters []graph.Filter, yield func(graph.Vertex, error) bool) bool {
	for _, id := range ids {
		if err := t.check(ctx); err != nil {
			yield(graph.Vertex{}, err)
			return false
		}
		rec, err := readVertex(t.txn, id)
		if err != nil {
			yield(graph.Vertex{}, err)
			return false
		}
		if label != "" && rec.Label != label {
			continue
		}
		ok, err := graph.Matches(rec.Props, filters)
		if err != nil {
			yield(graph.Vertex{}, err)
			return false
		}
		if !ok {
			continue
		}
		v, err := toVertex(id, rec)
		if err != nil {
			yield(graph.Vertex{}, err)
			return false
		}
		if !yield(v, nil) {
			return false
		}
	}
	return true
}

func (t *Tx) uniqueEntry(key []byte) (int64, bool, error) {
	item, err := t.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, classify(err)
	}
	var id int64
	err = item.Value(func(val []byte) error {
		id, err = decodeID(val)
		return err
	})
	return id, err == nil, err
}

// page collects up to pageSize vertex ids under prefix, strictly after the
// key after. Keys under every page prefix end in an encoded id; for the
// vertex prefix the id is the whole suffix.
func (t *Tx) page(prefix, after []byte) ([]int64, []byte, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := t.txn.NewIterator(opts)
	defer it.Close()

	ids := make([]int64, 0, pageSize)
	var last []byte
	if after == nil {
		it.Rewind()
	} else {
		it.Seek(after)
	}
	for ; it.Valid() && len(ids) < pageSize; it.Next() {
		key := it.Item().KeyCopy(nil)
		if after != nil && bytes.Equal(key, after) {
			continue
		}
		id, err := decodeID(key[len(key)-8:])
		if err != nil {
			return nil, nil, err
		}
		ids = append(ids, id)
		last = key
	}
	return ids, last, nil
}

// labelIDs returns the ids of every vertex with the label.
func labelIDs(txn *badger.Txn, label string) ([]int64, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = labelPrefix(label)
	it := txn.NewIterator(opts)
	defer it.Close()

	var ids []int64
	for it.Rewind(); it.Valid(); it.Next() {
		key := it.Item().Key()
		id, err := decodeID(key[len(key)-8:])
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Count tallies label membership and edge keys.
func (t *Tx) Count(ctx context.Context) (graph.Counts, error) {
	if err := t.check(ctx); err != nil {
		return graph.Counts{}, err
	}
	counts := graph.Counts{ByLabel: map[string]int64{}}

	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = []byte(prefixLabel)
	it := t.txn.NewIterator(opts)
	for it.Rewind(); it.Valid(); it.Next() {
		label, err := parseLabelKey(it.Item().Key())
		if err != nil {
			it.Close()
			return graph.Counts{}, err
		}
		counts.ByLabel[label]++
		counts.Vertices++
	}
	it.Close()

	opts.Prefix = []byte(prefixEdge)
	it = t.txn.NewIterator(opts)
	for it.Rewind(); it.Valid(); it.Next() {
		counts.Edges++
	}
	it.Close()

	return counts, nil
}

// ReserveIDs advances the namespace high-water mark by size, starting no
// lower than floor.
func (t *Tx) ReserveIDs(ctx context.Context, namespace string, floor, size int64) (int64, error) {
	if err := t.check(ctx); err != nil {
		return 0, err
	}
	if size <= 0 {
		return 0, fmt.Errorf("reserve ids: size must be positive, got %d", size)
	}

	key := markKey(namespace)
	var high int64
	item, err := t.txn.Get(key)
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
	case err != nil:
		return 0, fmt.Errorf("reserve ids: %w", classify(err))
	default:
		if err := item.Value(func(val []byte) error {
			high, err = decodeID(val)
			return err
		}); err != nil {
			return 0, fmt.Errorf("reserve ids: %w", err)
		}
	}

	start := max(high, floor)
	if err := t.txn.Set(key, encodeID(start+size)); err != nil {
		return 0, fmt.Errorf("reserve ids: %w", classify(err))
	}
	return start, nil
}

// Commit commits the transaction. A lost optimistic concurrency check
// returns graph.ErrConflict.
func (t *Tx) Commit() error {
	if t.done {
		return graph.ErrClosed
	}
	t.done = true
	defer t.txn.Discard()
	if err := t.txn.Commit(); err != nil {
		return fmt.Errorf("commit: %w", classify(err))
	}
	return nil
}

// Close discards the transaction unless already committed or closed.
func (t *Tx) Close() error {
	if t.done {
		return nil
	}
	t.done = true
	t.txn.Discard()
	return nil
}

// coveringIndex returns the declared index answering label+filters exactly.
func coveringIndex(indexes []graph.IndexSpec, label string, filters []graph.Filter) *graph.IndexSpec {
	if len(filters) == 0 {
		return nil
	}
	for i := range indexes {
		if indexes[i].Covers(label, filters) {
			return &indexes[i]
		}
	}
	return nil
}
