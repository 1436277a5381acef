package graph

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
)

// Properties holds vertex properties. Values are string, int64 or []byte.
type Properties map[string]any

// String returns a string property.
func (p Properties) String(key string) (string, bool) {
	v, ok := p[key].(string)
	return v, ok
}

// Int returns an int64 property.
func (p Properties) Int(key string) (int64, bool) {
	v, ok := p[key].(int64)
	return v, ok
}

// Bytes returns a []byte property.
func (p Properties) Bytes(key string) ([]byte, bool) {
	v, ok := p[key].([]byte)
	return v, ok
}

// SortedKeys returns property keys in byte order.
func (p Properties) SortedKeys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Value type tags.
const (
	tagString byte = 's'
	tagInt    byte = 'i'
	tagBytes  byte = 'b'
)

// EncodeValue encodes a property value as a type tag followed by its bytes.
// Equal values of equal type always encode to equal bytes, and values of
// different types never collide, so encoded values can be compared and
// indexed directly.
func EncodeValue(v any) ([]byte, error) {
	switch val := v.(type) {
	case string:
		return append([]byte{tagString}, val...), nil
	case int64:
		// Flip the sign bit so byte order matches numeric order
		return binary.BigEndian.AppendUint64([]byte{tagInt}, uint64(val)^(1<<63)), nil
	case int:
		return EncodeValue(int64(val))
	case []byte:
		return append([]byte{tagBytes}, val...), nil
	default:
		return nil, fmt.Errorf("unsupported property type %T", v)
	}
}

// DecodeValue is the inverse of EncodeValue.
func DecodeValue(b []byte) (any, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("empty property value")
	}
	switch b[0] {
	case tagString:
		return string(b[1:]), nil
	case tagInt:
		if len(b) != 9 {
			return nil, fmt.Errorf("int property has %d bytes", len(b)-1)
		}
		return int64(binary.BigEndian.Uint64(b[1:]) ^ (1 << 63)), nil
	case tagBytes:
		return bytes.Clone(b[1:]), nil
	default:
		return nil, fmt.Errorf("unknown property tag %q", b[0])
	}
}

// EncodeProperties encodes every value of p.
func EncodeProperties(p Properties) (map[string][]byte, error) {
	out := make(map[string][]byte, len(p))
	for k, v := range p {
		enc, err := EncodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", k, err)
		}
		out[k] = enc
	}
	return out, nil
}

// DecodeProperties is the inverse of EncodeProperties.
func DecodeProperties(raw map[string][]byte) (Properties, error) {
	p := make(Properties, len(raw))
	for k, b := range raw {
		v, err := DecodeValue(b)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", k, err)
		}
		p[k] = v
	}
	return p, nil
}

// IndexEntry builds the composite index entry for a vertex's properties:
// each encoded value in spec key order, length-prefixed. ok is false if a
// key is missing, in which case the vertex is not indexed.
func IndexEntry(spec IndexSpec, props map[string][]byte) (entry []byte, ok bool) {
	for _, k := range spec.Keys {
		v, present := props[k]
		if !present {
			return nil, false
		}
		entry = binary.AppendUvarint(entry, uint64(len(v)))
		entry = append(entry, v...)
	}
	return entry, true
}

// FilterEntry builds the index entry a set of filters would match.
func FilterEntry(spec IndexSpec, filters []Filter) ([]byte, error) {
	props := make(map[string][]byte, len(filters))
	for _, f := range filters {
		enc, err := EncodeValue(f.Value)
		if err != nil {
			return nil, fmt.Errorf("filter %q: %w", f.Key, err)
		}
		props[f.Key] = enc
	}
	entry, ok := IndexEntry(spec, props)
	if !ok {
		return nil, fmt.Errorf("filters do not cover index %q", spec.Name)
	}
	return entry, nil
}

// Matches reports whether encoded properties satisfy every filter.
func Matches(props map[string][]byte, filters []Filter) (bool, error) {
	for _, f := range filters {
		want, err := EncodeValue(f.Value)
		if err != nil {
			return false, fmt.Errorf("filter %q: %w", f.Key, err)
		}
		if got, ok := props[f.Key]; !ok || !bytes.Equal(got, want) {
			return false, nil
		}
	}
	return true, nil
}
