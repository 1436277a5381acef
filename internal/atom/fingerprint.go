package atom

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Domain prefixes for content fingerprints.
// Version suffix enables future algorithm migration.
const (
	DomainLeaf      = "hashcons/leaf/v1"
	DomainComposite = "hashcons/composite/v1"
)

// Digest is a 256-bit content fingerprint.
type Digest [32]byte

// String returns the lowercase hex form.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Short returns the first 12 hex characters, for listings.
func (d Digest) Short() string {
	return d.String()[:12]
}

// LeafDigest fingerprints a leaf.
// Format: BLAKE3(domain + 0x00 + uvarint len(type) + type + uvarint len(value) + value)
func LeafDigest(typ, value string) Digest {
	h := blake3.New()
	writeDomain(h, DomainLeaf)
	writeField(h, []byte(typ))
	writeField(h, []byte(value))
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// CompositeDigest fingerprints a composite from its children's digests.
// Unlike identities, digests do not depend on the store that assigned them,
// so two stores holding the same content produce the same digests.
func CompositeDigest(typ string, children []Digest) Digest {
	h := blake3.New()
	writeDomain(h, DomainComposite)
	writeField(h, []byte(typ))
	var n [binary.MaxVarintLen64]byte
	h.Write(n[:binary.PutUvarint(n[:], uint64(len(children)))])
	for _, c := range children {
		h.Write(c[:])
	}
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// Fingerprint computes the Merkle digest of a tree.
// Structurally identical subtrees always produce identical digests.
func Fingerprint(t *Tree) Digest {
	type frame struct {
		t    *Tree
		next int
		kids []Digest
	}

	var result Digest
	stack := []*frame{{t: t}}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		if top.t.Kind != KindLeaf && top.next < len(top.t.Children) {
			child := top.t.Children[top.next]
			top.next++
			stack = append(stack, &frame{t: child})
			continue
		}

		var d Digest
		if top.t.Kind == KindLeaf {
			d = LeafDigest(top.t.Type, top.t.Value)
		} else {
			d = CompositeDigest(top.t.Type, top.kids)
		}
		stack = stack[:len(stack)-1]
		if len(stack) == 0 {
			result = d
		} else {
			parent := stack[len(stack)-1]
			parent.kids = append(parent.kids, d)
		}
	}
	return result
}

func writeDomain(h *blake3.Hasher, domain string) {
	h.Write([]byte(domain))
	h.Write([]byte{0x00}) // separator between domain and data
}

func writeField(h *blake3.Hasher, b []byte) {
	var n [binary.MaxVarintLen64]byte
	h.Write(n[:binary.PutUvarint(n[:], uint64(len(b)))])
	h.Write(b)
}
