package badgergraph

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

const (
	prefixVertex = "v/"
	prefixLabel  = "l/"
	prefixEdge   = "e/"
	prefixEntry  = "x/"
	prefixIndex  = "i/"
	prefixMark   = "m/"
)

// vertexRecord is the stored form of a vertex. Property values are
// graph.EncodeValue encodings.
type vertexRecord struct {
	Label string            `cbor:"label"`
	Props map[string][]byte `cbor:"props"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	// Core deterministic encoding: same record, same bytes.
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("badgergraph: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("badgergraph: CBOR decoder initialization failed: " + err.Error())
	}
}

func encodeID(id int64) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(id)^(1<<63))
}

func decodeID(b []byte) (int64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("id has %d bytes", len(b))
	}
	return int64(binary.BigEndian.Uint64(b) ^ (1 << 63)), nil
}

func appendName(b []byte, name string) []byte {
	b = binary.AppendUvarint(b, uint64(len(name)))
	return append(b, name...)
}

func vertexKey(id int64) []byte {
	return append([]byte(prefixVertex), encodeID(id)...)
}

func labelPrefix(label string) []byte {
	return appendName([]byte(prefixLabel), label)
}

func labelKey(label string, id int64) []byte {
	return append(labelPrefix(label), encodeID(id)...)
}

func edgePrefix(from int64) []byte {
	return append([]byte(prefixEdge), encodeID(from)...)
}

func edgeKey(from int64, label string, to int64) []byte {
	k := appendName(edgePrefix(from), label)
	return append(k, encodeID(to)...)
}

// parseEdgeKey splits an edge key built by edgeKey.
func parseEdgeKey(key []byte) (from int64, label string, to int64, err error) {
	rest, ok := bytes.CutPrefix(key, []byte(prefixEdge))
	if !ok || len(rest) < 16 {
		return 0, "", 0, fmt.Errorf("malformed edge key %x", key)
	}
	if from, err = decodeID(rest[:8]); err != nil {
		return 0, "", 0, err
	}
	rest = rest[8:]
	n, w := binary.Uvarint(rest)
	if w <= 0 || uint64(len(rest)-w) != n+8 {
		return 0, "", 0, fmt.Errorf("malformed edge key %x", key)
	}
	label = string(rest[w : w+int(n)])
	if to, err = decodeID(rest[w+int(n):]); err != nil {
		return 0, "", 0, err
	}
	return from, label, to, nil
}

// parseLabelKey returns the label of a label membership key.
func parseLabelKey(key []byte) (string, error) {
	rest, ok := bytes.CutPrefix(key, []byte(prefixLabel))
	if !ok {
		return "", fmt.Errorf("malformed label key %x", key)
	}
	n, w := binary.Uvarint(rest)
	if w <= 0 || uint64(len(rest)-w) != n+8 {
		return "", fmt.Errorf("malformed label key %x", key)
	}
	return string(rest[w : w+int(n)]), nil
}

func entryPrefix(index string, entry []byte) []byte {
	k := appendName([]byte(prefixEntry), index)
	return append(k, entry...)
}

func indexKey(name string) []byte {
	return appendName([]byte(prefixIndex), name)
}

func markKey(namespace string) []byte {
	return appendName([]byte(prefixMark), namespace)
}
