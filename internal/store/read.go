package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"slices"

	"github.com/roach88/hashcons/internal/atom"
	"github.com/roach88/hashcons/internal/graph"
)

// ErrCorrupt is returned when a stored atom's properties and edges disagree.
var ErrCorrupt = errors.New("store: corrupt atom")

// Record is a stored atom with its identity.
type Record struct {
	ID   atom.Identity
	Atom atom.Atom
}

// Stats summarizes the stored atoms.
type Stats struct {
	Vertices   int64 `json:"vertices"`
	Edges      int64 `json:"edges"`
	Leaves     int64 `json:"leaves"`
	Composites int64 `json:"composites"`
}

// Atom reads the atom stored under id. Composite children are rebuilt
// from the positional edge labels and checked against the stored arity
// and identity sequence. Returns an error wrapping graph.ErrNotFound if id
// is unknown.
func (s *Session) Atom(ctx context.Context, id atom.Identity) (atom.Atom, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return atom.Atom{}, atom.NewUnavailableError("read atom", graph.ErrClosed)
	}

	v, err := s.tx.Vertex(ctx, int64(id))
	if errors.Is(err, graph.ErrNotFound) {
		return atom.Atom{}, fmt.Errorf("atom %d: %w", id, graph.ErrNotFound)
	}
	if err != nil {
		return atom.Atom{}, atom.NewUnavailableError(fmt.Sprintf("read atom %d", id), err)
	}
	return s.decode(ctx, v)
}

// decode rebuilds an atom from its vertex. Caller holds s.mu.
func (s *Session) decode(ctx context.Context, v graph.Vertex) (atom.Atom, error) {
	kind, err := atom.ParseKind(v.Label)
	if err != nil {
		return atom.Atom{}, fmt.Errorf("atom %d: %w", v.ID, err)
	}
	typ, ok := v.Properties.String(PropType)
	if !ok {
		return atom.Atom{}, fmt.Errorf("atom %d: %w: missing %s", v.ID, ErrCorrupt, PropType)
	}

	if kind == atom.KindLeaf {
		value, ok := v.Properties.String(PropValue)
		if !ok {
			return atom.Atom{}, fmt.Errorf("atom %d: %w: missing %s", v.ID, ErrCorrupt, PropValue)
		}
		return atom.Leaf(typ, value), nil
	}

	arity, ok := v.Properties.Int(PropArity)
	if !ok || arity < 1 {
		return atom.Atom{}, fmt.Errorf("atom %d: %w: bad %s", v.ID, ErrCorrupt, PropArity)
	}
	raw, ok := v.Properties.Bytes(PropIDs)
	if !ok {
		return atom.Atom{}, fmt.Errorf("atom %d: %w: missing %s", v.ID, ErrCorrupt, PropIDs)
	}
	stored, err := atom.DecodeIdentities(raw)
	if err != nil {
		return atom.Atom{}, fmt.Errorf("atom %d: %w: %v", v.ID, ErrCorrupt, err)
	}

	edges, err := s.tx.OutEdges(ctx, v.ID)
	if err != nil {
		return atom.Atom{}, atom.NewUnavailableError(fmt.Sprintf("read edges of %d", v.ID), err)
	}
	children, err := childrenFromEdges(typ, int(arity), edges)
	if err != nil {
		return atom.Atom{}, fmt.Errorf("atom %d: %w: %v", v.ID, ErrCorrupt, err)
	}
	if !slices.Equal(children, stored) {
		return atom.Atom{}, fmt.Errorf("atom %d: %w: edges %v disagree with %s %v", v.ID, ErrCorrupt, children, PropIDs, stored)
	}
	return atom.Composite(typ, children...), nil
}

// childrenFromEdges orders edge targets by the position in their labels.
// Substrate edge order is never relied on.
func childrenFromEdges(typ string, arity int, edges []graph.Edge) ([]atom.Identity, error) {
	if len(edges) != arity {
		return nil, fmt.Errorf("%d edges for arity %d", len(edges), arity)
	}
	children := make([]atom.Identity, arity)
	seen := make([]bool, arity)
	for _, e := range edges {
		et, ea, pos, err := ParseEdgeLabel(e.Label)
		if err != nil {
			return nil, err
		}
		if et != typ || ea != arity {
			return nil, fmt.Errorf("edge label %q does not match %s/%d", e.Label, typ, arity)
		}
		if seen[pos] {
			return nil, fmt.Errorf("duplicate edge for position %d", pos)
		}
		seen[pos] = true
		children[pos] = atom.Identity(e.To)
	}
	return children, nil
}

// Atoms yields every stored atom in identity order. The session is locked
// for the whole iteration, so the loop body must not call its methods.
func (s *Session) Atoms(ctx context.Context) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.done {
			yield(Record{}, atom.NewUnavailableError("scan atoms", graph.ErrClosed))
			return
		}
		for v, err := range s.tx.ScanVertices(ctx) {
			if err != nil {
				yield(Record{}, atom.NewUnavailableError("scan atoms", err))
				return
			}
			a, err := s.decode(ctx, v)
			if err != nil {
				yield(Record{}, err)
				return
			}
			if !yield(Record{ID: atom.Identity(v.ID), Atom: a}, nil) {
				return
			}
		}
	}
}

// Stats counts stored atoms and edges.
func (s *Session) Stats(ctx context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return Stats{}, atom.NewUnavailableError("stats", graph.ErrClosed)
	}
	counts, err := s.tx.Count(ctx)
	if err != nil {
		return Stats{}, atom.NewUnavailableError("stats", err)
	}
	return Stats{
		Vertices:   counts.Vertices,
		Edges:      counts.Edges,
		Leaves:     counts.ByLabel[atom.KindLeaf.String()],
		Composites: counts.ByLabel[atom.KindComposite.String()],
	}, nil
}

// Dump writes one line per stored atom:
//
//	Leaf[1]: Node_A('v1')
//	Composite[2]: Link_B([1 1])
func (s *Session) Dump(ctx context.Context, w io.Writer) error {
	for rec, err := range s.Atoms(ctx) {
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "%s[%d]: %s\n", rec.Atom.Kind, rec.ID, rec.Atom); err != nil {
			return fmt.Errorf("dump: %w", err)
		}
	}
	return nil
}
