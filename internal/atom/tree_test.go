package atom

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTree_Leaf(t *testing.T) {
	tree, err := ParseTree("Node_A('v1')")
	require.NoError(t, err)

	assert.Equal(t, KindLeaf, tree.Kind)
	assert.Equal(t, "Node_A", tree.Type)
	assert.Equal(t, "v1", tree.Value)
	assert.Empty(t, tree.Children)
}

func TestParseTree_Nested(t *testing.T) {
	tree, err := ParseTree("Link1(Link2(Node1('value1')), Link3(Node2('value2')))")
	require.NoError(t, err)

	require.Equal(t, KindComposite, tree.Kind)
	require.Len(t, tree.Children, 2)
	assert.Equal(t, "Link2", tree.Children[0].Type)
	assert.Equal(t, "value1", tree.Children[0].Children[0].Value)
	assert.Equal(t, "Link3", tree.Children[1].Type)
	assert.Equal(t, "value2", tree.Children[1].Children[0].Value)
	assert.Equal(t, 5, tree.Size())
}

func TestParseTree_Escapes(t *testing.T) {
	tree, err := ParseTree(`T('a\'b\\c')`)
	require.NoError(t, err)
	assert.Equal(t, `a'b\c`, tree.Value)
}

func TestParseTree_EmptyValue(t *testing.T) {
	tree, err := ParseTree("T('')")
	require.NoError(t, err)
	assert.Equal(t, KindLeaf, tree.Kind)
	assert.Equal(t, "", tree.Value)
}

func TestParseTree_Errors(t *testing.T) {
	cases := map[string]string{
		"empty":          "",
		"no parens":      "Node",
		"zero arity":     "Link()",
		"unterminated":   "Node('v1",
		"missing close":  "Link(Node('a')",
		"trailing":       "Node('a') x",
		"two roots":      "Node('a') Node('b')",
		"bad separator":  "Link(Node('a'); Node('b'))",
		"value and kids": "Link('a', Node('b'))",
	}

	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseTree(src)
			assert.Error(t, err)
		})
	}
}

func TestFormatTree_RoundTrip(t *testing.T) {
	srcs := []string{
		"Node_A('v1')",
		"Link_B(Node_A('v1'), Node_A('v1'))",
		`Link1(Link2(Node1('it\'s')), Link3(Node2('value2'), Node3('x')))`,
	}

	for _, src := range srcs {
		tree := MustParseTree(src)
		assert.Equal(t, src, FormatTree(tree))

		again, err := ParseTree(FormatTreeIndented(tree))
		require.NoError(t, err)
		assert.Equal(t, src, FormatTree(again))
	}
}

func TestFormatTreeIndented(t *testing.T) {
	tree := MustParseTree("Link_B(Node_A('v1'), Link_C(Node_A('v2')))")

	want := strings.Join([]string{
		"Link_B(",
		"  Node_A('v1'),",
		"  Link_C(",
		"    Node_A('v2')))",
	}, "\n")
	assert.Equal(t, want, FormatTreeIndented(tree))
}

func TestFormatTree_DeepTreeDoesNotRecurse(t *testing.T) {
	const depth = 100000
	tree := LeafTree("L", "x")
	for i := 0; i < depth; i++ {
		tree = CompositeTree("C", tree)
	}

	out := FormatTree(tree)
	assert.True(t, strings.HasPrefix(out, "C(C(C("))
	assert.Equal(t, depth+1, tree.Size())

	parsed, err := ParseTree(out)
	require.NoError(t, err)
	assert.Equal(t, depth+1, parsed.Size())
}
