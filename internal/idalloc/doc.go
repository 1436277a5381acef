// Package idalloc produces identities for newly created atoms.
//
// An Allocator is a strictly increasing logical counter followed by an
// injective Transform. Counters are handed out from blocks reserved through
// the substrate, so identities stay unique across process restarts against a
// persistent store:
//
//	counter: 1 2 3 ... (block [1, 1+BlockSize) reserved in the substrate)
//	Identity transform:        1, 2, 3, ...
//	Partitioned{Bits: 4, P: 2}: 18, 34, 50, ...
//
// Allocation knows nothing about content. It is pure sequence generation plus
// a deterministic mapping, owned by the store rather than held in a global.
package idalloc
