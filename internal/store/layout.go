package store

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/hashcons/internal/atom"
	"github.com/roach88/hashcons/internal/graph"
)

// Vertex property names.
const (
	PropKind  = "kind"
	PropType  = "type"
	PropValue = "value"
	PropArity = "arity"
	PropIDs   = "ids"
)

// Index names.
const (
	LeafIndex      = "leafIndex"
	CompositeIndex = "compositeIndex"
)

// atomIndexes returns the index definitions for the atom layout.
func atomIndexes(unique bool) []graph.IndexSpec {
	return []graph.IndexSpec{
		{Name: LeafIndex, Label: atom.KindLeaf.String(), Keys: []string{PropType, PropValue}, Unique: unique},
		{Name: CompositeIndex, Label: atom.KindComposite.String(), Keys: []string{PropType, PropIDs}, Unique: unique},
	}
}

// EdgeLabel returns the label of the edge from a composite to its child at pos.
func EdgeLabel(typ string, arity, pos int) string {
	return typ + "_" + strconv.Itoa(arity) + "_" + strconv.Itoa(pos)
}

// ParseEdgeLabel splits an edge label. The type may itself contain
// underscores, so the numeric fields are taken from the right.
func ParseEdgeLabel(label string) (typ string, arity, pos int, err error) {
	i := strings.LastIndexByte(label, '_')
	if i < 0 {
		return "", 0, 0, fmt.Errorf("edge label %q: missing position", label)
	}
	j := strings.LastIndexByte(label[:i], '_')
	if j < 0 {
		return "", 0, 0, fmt.Errorf("edge label %q: missing arity", label)
	}
	if arity, err = strconv.Atoi(label[j+1 : i]); err != nil || arity < 1 {
		return "", 0, 0, fmt.Errorf("edge label %q: bad arity", label)
	}
	if pos, err = strconv.Atoi(label[i+1:]); err != nil || pos < 0 || pos >= arity {
		return "", 0, 0, fmt.Errorf("edge label %q: bad position", label)
	}
	return label[:j], arity, pos, nil
}

// toVertex builds the vertex for a validated atom.
func toVertex(id atom.Identity, a atom.Atom) graph.Vertex {
	props := graph.Properties{
		PropKind: a.Kind.String(),
		PropType: a.Type,
	}
	if a.Kind == atom.KindLeaf {
		props[PropValue] = a.Value
	} else {
		props[PropArity] = int64(a.Arity())
		props[PropIDs] = atom.EncodeIdentities(a.Children)
	}
	return graph.Vertex{ID: int64(id), Label: a.Kind.String(), Properties: props}
}

// lookupFilters returns the index query for an atom's identity key.
func lookupFilters(a atom.Atom) []graph.Filter {
	if a.Kind == atom.KindLeaf {
		return []graph.Filter{graph.Eq(PropType, a.Type), graph.Eq(PropValue, a.Value)}
	}
	return []graph.Filter{graph.Eq(PropType, a.Type), graph.Eq(PropIDs, atom.EncodeIdentities(a.Children))}
}
