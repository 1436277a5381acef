package atom

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKey_Leaf(t *testing.T) {
	k, err := DeriveKey(Leaf("Node_A", "v1"))
	require.NoError(t, err)

	assert.Equal(t, KindLeaf, k.Kind)
	assert.Equal(t, "Node_A", k.Type)
	assert.Equal(t, []byte("v1"), k.Payload)
}

func TestDeriveKey_LeafIsNotNormalized(t *testing.T) {
	// "é" precomposed vs "e" + combining acute: distinct bytes, distinct keys
	k1, err := DeriveKey(Leaf("T", "\u00e9"))
	require.NoError(t, err)
	k2, err := DeriveKey(Leaf("T", "e\u0301"))
	require.NoError(t, err)

	assert.False(t, k1.Equal(k2))
	assert.NotEqual(t, k1.Bytes(), k2.Bytes())
}

func TestDeriveKey_CompositeOrderSensitive(t *testing.T) {
	k1, err := DeriveKey(Composite("T", 1, 2, 3))
	require.NoError(t, err)
	k2, err := DeriveKey(Composite("T", 3, 2, 1))
	require.NoError(t, err)

	assert.False(t, k1.Equal(k2), "child order must matter")
}

func TestDeriveKey_NoDelimiterAmbiguity(t *testing.T) {
	cases := []struct {
		name string
		a, b []Identity
	}{
		{"split digits", []Identity{1, 23}, []Identity{12, 3}},
		{"different lengths", []Identity{1, 2}, []Identity{12}},
		{"prefix", []Identity{1}, []Identity{1, 1}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			k1, err := DeriveKey(Composite("T", tc.a...))
			require.NoError(t, err)
			k2, err := DeriveKey(Composite("T", tc.b...))
			require.NoError(t, err)
			assert.False(t, bytes.Equal(k1.Bytes(), k2.Bytes()))
		})
	}
}

func TestDeriveKey_KindSeparatesLeafFromComposite(t *testing.T) {
	comp, err := DeriveKey(Composite("T", 1))
	require.NoError(t, err)

	// A leaf whose value happens to equal the composite payload
	leaf, err := DeriveKey(Leaf("T", string(comp.Payload)))
	require.NoError(t, err)

	assert.Equal(t, comp.Payload, leaf.Payload)
	assert.NotEqual(t, comp.Bytes(), leaf.Bytes())
}

func TestDeriveKey_TypePayloadBoundary(t *testing.T) {
	k1, err := DeriveKey(Leaf("ab", "c"))
	require.NoError(t, err)
	k2, err := DeriveKey(Leaf("a", "bc"))
	require.NoError(t, err)

	assert.NotEqual(t, k1.Bytes(), k2.Bytes())
}

func TestDeriveKey_Errors(t *testing.T) {
	_, err := DeriveKey(Atom{Kind: Kind(9), Type: "T"})
	assert.True(t, IsUnknownKind(err))

	_, err = DeriveKey(Atom{Kind: KindComposite, Type: "T"})
	assert.True(t, IsInvalidAtom(err), "zero-arity composite")

	_, err = DeriveKey(Composite("T", 1, 0))
	assert.True(t, IsInvalidAtom(err), "non-positive child")

	_, err = DeriveKey(Atom{Kind: KindLeaf, Type: "T", Children: []Identity{1}})
	assert.True(t, IsInvalidAtom(err), "leaf with children")
}

func TestEncodeIdentities_RoundTrip(t *testing.T) {
	seqs := [][]Identity{
		{},
		{1},
		{1, 2, 3},
		{1 << 40, 7, 1<<62 + 5},
	}

	for _, ids := range seqs {
		enc := EncodeIdentities(ids)
		dec, err := DecodeIdentities(enc)
		require.NoError(t, err)
		assert.Equal(t, ids, dec)
	}
}

func TestDecodeIdentities_RejectsMalformed(t *testing.T) {
	_, err := DecodeIdentities(nil)
	assert.Error(t, err)

	enc := EncodeIdentities([]Identity{1, 2})
	_, err = DecodeIdentities(enc[:len(enc)-1])
	assert.Error(t, err, "truncated word")

	_, err = DecodeIdentities(append(enc, 0))
	assert.Error(t, err, "trailing byte")
}

func TestKeyString(t *testing.T) {
	k, err := DeriveKey(Composite("Link_B", 4, 5))
	require.NoError(t, err)
	assert.Equal(t, "Composite/Link_B/[4 5]", k.String())

	k, err = DeriveKey(Leaf("Node_A", "it's"))
	require.NoError(t, err)
	assert.Equal(t, `Leaf/Node_A/'it\'s'`, k.String())
}
