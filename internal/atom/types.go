package atom

import (
	"fmt"
	"strconv"
)

// Kind tags the variant of an Atom.
type Kind uint8

const (
	// KindUnknown is the zero value and is never valid.
	KindUnknown Kind = iota
	// KindLeaf is a typed terminal value.
	KindLeaf
	// KindComposite is a typed ordered tuple of atom references.
	KindComposite
)

// String returns the vertex label used for the kind.
func (k Kind) String() string {
	switch k {
	case KindLeaf:
		return "Leaf"
	case KindComposite:
		return "Composite"
	default:
		return "Kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "Leaf":
		return KindLeaf, nil
	case "Composite":
		return KindComposite, nil
	default:
		return KindUnknown, NewUnknownKindError(s)
	}
}

// Identity is the persistent handle assigned to one distinct content pattern.
// Valid identities are strictly positive.
type Identity int64

// String formats the identity as a decimal number.
func (id Identity) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// Atom is a stored unit: either a Leaf or a Composite.
//
// Exactly one variant is meaningful, selected by Kind. Value is used by
// leaves only; Children by composites only.
type Atom struct {
	Kind     Kind
	Type     string
	Value    string
	Children []Identity
}

// Leaf constructs a leaf atom.
func Leaf(typ, value string) Atom {
	return Atom{Kind: KindLeaf, Type: typ, Value: value}
}

// Composite constructs a composite atom. The children slice is copied.
func Composite(typ string, children ...Identity) Atom {
	ids := make([]Identity, len(children))
	copy(ids, children)
	return Atom{Kind: KindComposite, Type: typ, Children: ids}
}

// Arity returns the number of children (0 for leaves).
func (a Atom) Arity() int {
	return len(a.Children)
}

// Validate checks the variant invariants.
func (a Atom) Validate() error {
	switch a.Kind {
	case KindLeaf:
		if len(a.Children) != 0 {
			return NewInvalidAtomError(fmt.Sprintf("leaf %q has %d children", a.Type, len(a.Children)))
		}
		return nil
	case KindComposite:
		if len(a.Children) == 0 {
			return NewInvalidAtomError(fmt.Sprintf("composite %q has no children; zero-arity nodes must be leaves", a.Type))
		}
		for i, id := range a.Children {
			if id <= 0 {
				return NewInvalidAtomError(fmt.Sprintf("composite %q child %d has invalid identity %d", a.Type, i, id))
			}
		}
		return nil
	default:
		return NewUnknownKindError(a.Kind.String())
	}
}

// String renders the atom in the dump notation: type('value') or type([1 2 3]).
func (a Atom) String() string {
	if a.Kind == KindLeaf {
		return fmt.Sprintf("%s(%s)", a.Type, quoteValue(a.Value))
	}
	return fmt.Sprintf("%s(%v)", a.Type, a.Children)
}
