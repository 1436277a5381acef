package dag

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hashcons/internal/atom"
	"github.com/roach88/hashcons/internal/graph"
	"github.com/roach88/hashcons/internal/store"
	"github.com/roach88/hashcons/internal/testutil"
)

// memResolver hash-conses in memory and records the call order.
type memResolver struct {
	ids   map[string]atom.Identity
	atoms map[atom.Identity]atom.Atom
	calls []string
	fail  string
}

func newMemResolver() *memResolver {
	return &memResolver{ids: map[string]atom.Identity{}, atoms: map[atom.Identity]atom.Atom{}}
}

func (m *memResolver) resolve(a atom.Atom) (atom.Identity, error) {
	m.calls = append(m.calls, a.Type)
	if a.Type == m.fail {
		return 0, atom.NewUnavailableError("resolve", errors.New("injected"))
	}
	key, err := atom.DeriveKey(a)
	if err != nil {
		return 0, err
	}
	if id, ok := m.ids[string(key.Bytes())]; ok {
		return id, nil
	}
	id := atom.Identity(len(m.ids) + 1)
	m.ids[string(key.Bytes())] = id
	m.atoms[id] = a
	return id, nil
}

func (m *memResolver) GetOrCreateLeaf(_ context.Context, typ, value string) (atom.Identity, error) {
	return m.resolve(atom.Leaf(typ, value))
}

func (m *memResolver) GetOrCreateComposite(_ context.Context, typ string, children []atom.Identity) (atom.Identity, error) {
	return m.resolve(atom.Composite(typ, children...))
}

func (m *memResolver) Atom(_ context.Context, id atom.Identity) (atom.Atom, error) {
	a, ok := m.atoms[id]
	if !ok {
		return atom.Atom{}, graph.ErrNotFound
	}
	return a, nil
}

func TestResolve_PostorderLeftToRight(t *testing.T) {
	r := newMemResolver()
	b := NewBuilder(r)

	tree := atom.MustParseTree("R(A(x('1'), y('2')), z('3'))")
	_, err := b.Resolve(context.Background(), tree)
	require.NoError(t, err)

	assert.Equal(t, []string{"x", "y", "A", "z", "R"}, r.calls)
	assert.Equal(t, int64(5), b.Nodes())
}

func TestResolve_SharesIdenticalSubtrees(t *testing.T) {
	r := newMemResolver()
	b := NewBuilder(r)

	tree := atom.MustParseTree("Link_B(Node_A('v1'), Node_A('v1'))")
	root, err := b.Resolve(context.Background(), tree)
	require.NoError(t, err)

	assert.Len(t, r.atoms, 2)
	assert.Equal(t, atom.Composite("Link_B", 1, 1), r.atoms[root])
}

func TestResolve_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := NewBuilder(newMemResolver()).Resolve(ctx, nil)
	assert.True(t, atom.IsInvalidAtom(err))

	_, err = NewBuilder(newMemResolver()).Resolve(ctx, atom.CompositeTree("P", atom.LeafTree("T", "v"), atom.CompositeTree("Empty")))
	assert.True(t, atom.IsInvalidAtom(err))

	_, err = NewBuilder(newMemResolver()).Resolve(ctx, atom.CompositeTree("P", nil))
	assert.True(t, atom.IsInvalidAtom(err))

	leafWithKids := &atom.Tree{Kind: atom.KindLeaf, Type: "T", Children: []*atom.Tree{atom.LeafTree("T", "v")}}
	_, err = NewBuilder(newMemResolver()).Resolve(ctx, leafWithKids)
	assert.True(t, atom.IsInvalidAtom(err))

	_, err = NewBuilder(newMemResolver()).Resolve(ctx, &atom.Tree{Type: "X"})
	assert.True(t, atom.IsUnknownKind(err))

	// Resolver errors stop the walk unchanged.
	r := newMemResolver()
	r.fail = "A"
	_, err = NewBuilder(r).Resolve(ctx, atom.MustParseTree("R(A(x('1')), z('2'))"))
	assert.True(t, atom.IsSubstrateUnavailable(err))
	assert.Equal(t, []string{"x", "A"}, r.calls)
}

func TestResolve_DeepTree(t *testing.T) {
	const depth = 200000
	tree := atom.LeafTree("L", "bottom")
	for i := 0; i < depth; i++ {
		tree = atom.CompositeTree("N", tree)
	}

	r := newMemResolver()
	b := NewBuilder(r)
	root, err := b.Resolve(context.Background(), tree)
	require.NoError(t, err)
	assert.Equal(t, atom.Identity(depth+1), root)
	assert.Equal(t, int64(depth+1), b.Nodes())

	back, err := Expand(context.Background(), r, root)
	require.NoError(t, err)
	assert.Equal(t, depth+1, back.Size())
}

func TestResolveAll(t *testing.T) {
	r := newMemResolver()
	b := NewBuilder(r)

	ids, err := b.ResolveAll(context.Background(), []*atom.Tree{
		atom.MustParseTree("P(a('1'))"),
		atom.MustParseTree("a('1')"),
		atom.MustParseTree("P(a('1'))"),
	})
	require.NoError(t, err)
	assert.Equal(t, []atom.Identity{2, 1, 2}, ids)

	_, err = b.ResolveAll(context.Background(), []*atom.Tree{atom.MustParseTree("a('1')"), nil})
	assert.ErrorContains(t, err, "tree 1")
}

func TestExpand_RoundTrip(t *testing.T) {
	r := newMemResolver()
	src := "Root(Link_B(Node_A('v1'), Node_A('v1')), Link_B(Node_A('v1'), Node_A('v1')), Node_A('v2'))"
	root, err := NewBuilder(r).Resolve(context.Background(), atom.MustParseTree(src))
	require.NoError(t, err)

	back, err := Expand(context.Background(), r, root)
	require.NoError(t, err)
	assert.Equal(t, src, atom.FormatTree(back))

	// Shared sub-DAGs come back as one node.
	assert.Same(t, back.Children[0], back.Children[1])
	assert.Same(t, back.Children[0].Children[0], back.Children[0].Children[1])

	_, err = Expand(context.Background(), r, 99)
	assert.ErrorIs(t, err, graph.ErrNotFound)
}

func TestExpand_DetectsCycles(t *testing.T) {
	r := newMemResolver()
	r.atoms[1] = atom.Composite("Loop", 2)
	r.atoms[2] = atom.Composite("Loop", 1)

	_, err := Expand(context.Background(), r, 1)
	assert.ErrorContains(t, err, "cycle")
}

func TestResolve_AgainstStore(t *testing.T) {
	for _, sub := range testutil.Substrates() {
		t.Run(sub.Name, func(t *testing.T) {
			ctx := context.Background()
			s, err := store.Open(ctx, sub.Open(t), store.Options{
				Registerer: prometheus.NewRegistry(),
				SessionIDs: testutil.NewSequenceGenerator(""),
			})
			require.NoError(t, err)

			tree := atom.MustParseTree("Link_B(Node_A('v1'), Node_A('v1'))")
			var root atom.Identity
			require.NoError(t, s.Update(ctx, func(sess *store.Session) error {
				root, err = NewBuilder(sess).Resolve(ctx, tree)
				return err
			}))

			require.NoError(t, s.View(ctx, func(sess *store.Session) error {
				stats, err := sess.Stats(ctx)
				require.NoError(t, err)
				assert.Equal(t, int64(2), stats.Vertices)
				assert.Equal(t, int64(2), stats.Edges)

				back, err := Expand(ctx, sess, root)
				require.NoError(t, err)
				assert.Equal(t, atom.FormatTree(tree), atom.FormatTree(back))
				assert.Equal(t, atom.Fingerprint(tree), atom.Fingerprint(back))
				return nil
			}))

			// Resolving the same tree again creates nothing.
			require.NoError(t, s.Update(ctx, func(sess *store.Session) error {
				again, err := NewBuilder(sess).Resolve(ctx, tree)
				require.NoError(t, err)
				assert.Equal(t, root, again)
				assert.Equal(t, int64(0), sess.Counters().Created)
				return nil
			}))
		})
	}
}
