// Package badgergraph implements graph.Graph on a Badger key-value store.
//
// Key layout (ids are 8-byte big-endian with the sign bit flipped, names
// are uvarint length-prefixed):
//
//	v/<id>                      vertex record (CBOR)
//	l/<label><id>               label membership, empty value
//	e/<from><label><to>         edge, empty value
//	x/<index><entry>            unique index entry, value is the vertex id
//	x/<index><entry><id>        non-unique index entry, value is the vertex id
//	i/<index>                   index definition (CBOR)
//	m/<namespace>               id reservation high-water mark
//
// Edges are a set: two edges with the same endpoints and label collapse
// into one.
//
// Unique indexes rely on Badger's optimistic concurrency control. Creating
// a vertex reads its unique entry key before writing it, so of two
// transactions creating the same entry concurrently, the second to commit
// fails with graph.ErrConflict.
package badgergraph
