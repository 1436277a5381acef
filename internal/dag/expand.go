package dag

import (
	"context"
	"fmt"

	"github.com/roach88/hashcons/internal/atom"
)

// Reader reads stored atoms. *store.Session implements it.
type Reader interface {
	Atom(ctx context.Context, id atom.Identity) (atom.Atom, error)
}

// Expand rebuilds the tree rooted at id. Shared sub-DAGs are read once
// and appear as the same *atom.Tree at every position.
func Expand(ctx context.Context, r Reader, id atom.Identity) (*atom.Tree, error) {
	type expandFrame struct {
		id   atom.Identity
		a    atom.Atom
		kids []*atom.Tree
	}

	memo := map[atom.Identity]*atom.Tree{}
	onStack := map[atom.Identity]bool{}
	var stack []*expandFrame

	// visit returns the finished tree for id, or pushes a frame for a
	// composite that still needs its children.
	visit := func(id atom.Identity) (*atom.Tree, error) {
		if t, ok := memo[id]; ok {
			return t, nil
		}
		if onStack[id] {
			return nil, fmt.Errorf("atom %d: cycle in stored graph", id)
		}
		a, err := r.Atom(ctx, id)
		if err != nil {
			return nil, err
		}
		if a.Kind == atom.KindLeaf {
			t := atom.LeafTree(a.Type, a.Value)
			memo[id] = t
			return t, nil
		}
		onStack[id] = true
		stack = append(stack, &expandFrame{id: id, a: a, kids: make([]*atom.Tree, 0, a.Arity())})
		return nil, nil
	}

	root, err := visit(id)
	if err != nil || root != nil {
		return root, err
	}

	for {
		top := stack[len(stack)-1]
		if len(top.kids) < top.a.Arity() {
			t, err := visit(top.a.Children[len(top.kids)])
			if err != nil {
				return nil, err
			}
			if t != nil {
				top.kids = append(top.kids, t)
			}
			continue
		}

		t := atom.CompositeTree(top.a.Type, top.kids...)
		memo[top.id] = t
		delete(onStack, top.id)
		stack = stack[:len(stack)-1]
		if len(stack) == 0 {
			return t, nil
		}
		parent := stack[len(stack)-1]
		parent.kids = append(parent.kids, t)
	}
}
