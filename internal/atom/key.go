package atom

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
)

// identityWidth is the fixed byte width of one encoded identity.
const identityWidth = 8

// Key is the identity key of an atom: the canonical content signature used
// to detect duplicates.
//
// For leaves Payload holds the raw value bytes. For composites Payload holds
// EncodeIdentities(children). Type is kept separately so substrates can
// index (type, payload) as two properties.
type Key struct {
	Kind    Kind
	Type    string
	Payload []byte
}

// DeriveKey computes the identity key of an atom.
// Returns an *Error if the atom is malformed or of an unknown kind.
func DeriveKey(a Atom) (Key, error) {
	if err := a.Validate(); err != nil {
		return Key{}, err
	}

	switch a.Kind {
	case KindLeaf:
		return Key{Kind: KindLeaf, Type: a.Type, Payload: []byte(a.Value)}, nil
	case KindComposite:
		return Key{Kind: KindComposite, Type: a.Type, Payload: EncodeIdentities(a.Children)}, nil
	default:
		return Key{}, NewUnknownKindError(a.Kind.String())
	}
}

// Bytes returns the canonical encoding of the whole key.
// Format: kind byte, uvarint len(type), type, uvarint len(payload), payload.
// Length prefixes make the encoding injective across all three fields.
func (k Key) Bytes() []byte {
	buf := make([]byte, 0, 1+2*binary.MaxVarintLen64+len(k.Type)+len(k.Payload))
	buf = append(buf, byte(k.Kind))
	buf = binary.AppendUvarint(buf, uint64(len(k.Type)))
	buf = append(buf, k.Type...)
	buf = binary.AppendUvarint(buf, uint64(len(k.Payload)))
	buf = append(buf, k.Payload...)
	return buf
}

// Equal reports whether two keys are byte-identical.
func (k Key) Equal(other Key) bool {
	return k.Kind == other.Kind && k.Type == other.Type && bytes.Equal(k.Payload, other.Payload)
}

// String renders the key for logs and error messages.
// The rendering is for humans only; use Bytes for comparisons.
func (k Key) String() string {
	var b strings.Builder
	b.WriteString(k.Kind.String())
	b.WriteByte('/')
	b.WriteString(k.Type)
	b.WriteByte('/')
	if k.Kind == KindComposite {
		ids, err := DecodeIdentities(k.Payload)
		if err != nil {
			fmt.Fprintf(&b, "<%x>", k.Payload)
		} else {
			fmt.Fprintf(&b, "%v", ids)
		}
		return b.String()
	}
	b.WriteString(quoteValue(string(k.Payload)))
	return b.String()
}

// EncodeIdentities encodes an ordered identity sequence.
//
// Format: uvarint(count) followed by count 8-byte big-endian words.
// The explicit count and fixed width make the encoding injective:
// [1,23] and [12,3] differ in their words, [1,2] and [12] in their count.
func EncodeIdentities(ids []Identity) []byte {
	buf := make([]byte, 0, binary.MaxVarintLen64+identityWidth*len(ids))
	buf = binary.AppendUvarint(buf, uint64(len(ids)))
	for _, id := range ids {
		buf = binary.BigEndian.AppendUint64(buf, uint64(id))
	}
	return buf
}

// DecodeIdentities is the exact inverse of EncodeIdentities.
func DecodeIdentities(b []byte) ([]Identity, error) {
	count, n := binary.Uvarint(b)
	if n <= 0 {
		return nil, fmt.Errorf("decode identities: bad count prefix")
	}
	rest := b[n:]
	if count > uint64(len(rest))/identityWidth || uint64(len(rest)) != count*identityWidth {
		return nil, fmt.Errorf("decode identities: %d bytes for %d identities", len(rest), count)
	}

	ids := make([]Identity, count)
	for i := range ids {
		ids[i] = Identity(binary.BigEndian.Uint64(rest[i*identityWidth:]))
	}
	return ids, nil
}
