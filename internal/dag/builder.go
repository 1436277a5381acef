package dag

import (
	"context"
	"fmt"

	"github.com/roach88/hashcons/internal/atom"
)

// Resolver returns identities for atoms, creating them as needed.
// *store.Session implements it.
type Resolver interface {
	GetOrCreateLeaf(ctx context.Context, typ, value string) (atom.Identity, error)
	GetOrCreateComposite(ctx context.Context, typ string, children []atom.Identity) (atom.Identity, error)
}

// Builder resolves trees against a Resolver.
type Builder struct {
	r     Resolver
	nodes int64
}

// NewBuilder creates a builder for one session.
func NewBuilder(r Resolver) *Builder {
	return &Builder{r: r}
}

// Nodes returns how many tree nodes were resolved so far.
func (b *Builder) Nodes() int64 {
	return b.nodes
}

type frame struct {
	node *atom.Tree
	ids  []atom.Identity
}

// Resolve returns the identity of the tree's root. Children are resolved
// left to right before their parent. The first error aborts the walk and
// is returned unchanged; atoms created before it belong to the caller's
// session.
func (b *Builder) Resolve(ctx context.Context, root *atom.Tree) (atom.Identity, error) {
	if root == nil {
		return 0, atom.NewInvalidAtomError("nil tree")
	}

	stack := []*frame{{node: root}}
	var result atom.Identity

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		n := top.node

		var id atom.Identity
		var err error
		switch n.Kind {
		case atom.KindLeaf:
			if len(n.Children) != 0 {
				return 0, atom.NewInvalidAtomError(fmt.Sprintf("leaf %q has %d children", n.Type, len(n.Children)))
			}
			id, err = b.r.GetOrCreateLeaf(ctx, n.Type, n.Value)

		case atom.KindComposite:
			if len(n.Children) == 0 {
				return 0, atom.NewInvalidAtomError(fmt.Sprintf("composite %q has no children", n.Type))
			}
			if len(top.ids) < len(n.Children) {
				child := n.Children[len(top.ids)]
				if child == nil {
					return 0, atom.NewInvalidAtomError(fmt.Sprintf("composite %q child %d is nil", n.Type, len(top.ids)))
				}
				stack = append(stack, &frame{node: child, ids: make([]atom.Identity, 0, len(child.Children))})
				continue
			}
			id, err = b.r.GetOrCreateComposite(ctx, n.Type, top.ids)

		default:
			return 0, atom.NewUnknownKindError(n.Kind.String())
		}
		if err != nil {
			return 0, err
		}

		b.nodes++
		stack = stack[:len(stack)-1]
		if len(stack) == 0 {
			result = id
		} else {
			parent := stack[len(stack)-1]
			parent.ids = append(parent.ids, id)
		}
	}
	return result, nil
}

// ResolveAll resolves each tree in order and returns their identities.
func (b *Builder) ResolveAll(ctx context.Context, trees []*atom.Tree) ([]atom.Identity, error) {
	ids := make([]atom.Identity, 0, len(trees))
	for i, t := range trees {
		id, err := b.Resolve(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
