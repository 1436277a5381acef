package idalloc

import (
	"fmt"
	"math"

	"github.com/roach88/hashcons/internal/atom"
)

// Transform maps logical counters to externally visible identities.
// Implementations must be injective and strictly monotonic over [1, Max()].
type Transform interface {
	// Apply maps a counter. ok is false if counter is outside [1, Max()].
	Apply(counter int64) (id atom.Identity, ok bool)

	// Max returns the largest counter the transform accepts.
	Max() int64
}

// IdentityTransform uses the counter as the identity.
type IdentityTransform struct{}

// Apply implements Transform.
func (IdentityTransform) Apply(counter int64) (atom.Identity, bool) {
	if counter < 1 {
		return 0, false
	}
	return atom.Identity(counter), true
}

// Max implements Transform.
func (IdentityTransform) Max() int64 {
	return math.MaxInt64
}

// Partitioned reserves the low Bits of every identity for a partition number,
// so several namespaces can share one identity space without overlapping.
// This mirrors vertex id layouts that embed a partition in the id.
type Partitioned struct {
	Bits      uint
	Partition int64
}

// MaxPartitionBits bounds Partitioned.Bits.
const MaxPartitionBits = 32

// NewPartitioned validates and returns a Partitioned transform.
func NewPartitioned(bits uint, partition int64) (Partitioned, error) {
	if bits > MaxPartitionBits {
		return Partitioned{}, fmt.Errorf("partition bits %d exceeds %d", bits, MaxPartitionBits)
	}
	if partition < 0 || partition >= int64(1)<<bits {
		return Partitioned{}, fmt.Errorf("partition %d out of range for %d bits", partition, bits)
	}
	return Partitioned{Bits: bits, Partition: partition}, nil
}

// Apply implements Transform.
func (p Partitioned) Apply(counter int64) (atom.Identity, bool) {
	if counter < 1 || counter > p.Max() {
		return 0, false
	}
	return atom.Identity(counter<<p.Bits | p.Partition), true
}

// Max implements Transform.
func (p Partitioned) Max() int64 {
	return math.MaxInt64 >> p.Bits
}
