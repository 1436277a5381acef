package idalloc

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/hashcons/internal/atom"
)

// DefaultBlockSize is the number of counters reserved per substrate round trip.
const DefaultBlockSize = 1000

// Reserver durably reserves counter blocks.
//
// ReserveIDs must return a start >= floor such that [start, start+size) was
// never returned before for namespace, and record start+size as the new
// high-water mark. Substrate transactions implement it, so a reservation
// becomes durable together with the atoms that use it.
type Reserver interface {
	ReserveIDs(ctx context.Context, namespace string, floor, size int64) (start int64, err error)
}

// Options configures an Allocator.
type Options struct {
	// Namespace scopes the high-water mark in the substrate.
	Namespace string

	// BlockSize is the number of counters reserved at once.
	// Defaults to DefaultBlockSize.
	BlockSize int64

	// Transform maps counters to identities. Defaults to IdentityTransform.
	Transform Transform

	// Limit caps the counter below Transform.Max(). Zero means no cap.
	Limit int64
}

// Allocator hands out identities. Safe for concurrent use.
type Allocator struct {
	mu        sync.Mutex
	namespace string
	blockSize int64
	transform Transform
	limit     int64

	// next is the next counter to hand out; [next, end) is reserved.
	next int64
	end  int64

	// owner is the Reserver whose uncommitted transaction holds the
	// current block, nil once that reservation is durable.
	owner Reserver
}

// New creates an allocator positioned before counter 1.
func New(opts Options) (*Allocator, error) {
	if opts.Namespace == "" {
		opts.Namespace = "default"
	}
	if opts.BlockSize == 0 {
		opts.BlockSize = DefaultBlockSize
	}
	if opts.BlockSize < 0 {
		return nil, fmt.Errorf("block size must be positive, got %d", opts.BlockSize)
	}
	if opts.Transform == nil {
		opts.Transform = IdentityTransform{}
	}

	limit := opts.Transform.Max()
	if opts.Limit < 0 {
		return nil, fmt.Errorf("limit must be non-negative, got %d", opts.Limit)
	}
	if opts.Limit > 0 && opts.Limit < limit {
		limit = opts.Limit
	}

	return &Allocator{
		namespace: opts.Namespace,
		blockSize: opts.BlockSize,
		transform: opts.Transform,
		limit:     limit,
		next:      1,
		end:       1,
	}, nil
}

// Namespace returns the reservation namespace.
func (a *Allocator) Namespace() string {
	return a.namespace
}

// Next returns a fresh identity, reserving a new block through r when the
// current one is used up. A nil r reserves blocks in memory only.
//
// A block reserved through a Reserver that has not committed yet is only
// handed out to that same Reserver; other callers reserve their own block,
// so every identity is covered by a reservation in the transaction that
// writes it.
//
// Returns an *atom.Error with ALLOCATION_EXHAUSTED when no counter is left,
// or SUBSTRATE_UNAVAILABLE when the reservation fails.
func (a *Allocator) Next(ctx context.Context, r Reserver) (atom.Identity, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.next >= a.end || (a.owner != nil && a.owner != r) {
		if err := a.reserve(ctx, r); err != nil {
			return 0, err
		}
	}

	counter := a.next
	id, ok := a.transform.Apply(counter)
	if !ok {
		return 0, atom.NewExhaustedError(fmt.Sprintf("counter %d outside transform range", counter))
	}
	a.next++
	return id, nil
}

// reserve claims a block starting no lower than a.next. Caller holds a.mu.
func (a *Allocator) reserve(ctx context.Context, r Reserver) error {
	floor := a.next
	if floor > a.limit {
		return atom.NewExhaustedError(fmt.Sprintf("namespace %q exhausted after %d identities", a.namespace, a.limit))
	}

	start := floor
	if r != nil {
		var err error
		start, err = r.ReserveIDs(ctx, a.namespace, floor, a.blockSize)
		if err != nil {
			return atom.NewUnavailableError("reserve identity block", err)
		}
		if start < floor {
			return atom.NewUnavailableError("reserve identity block",
				fmt.Errorf("substrate returned block start %d below floor %d", start, floor))
		}
		if start > a.limit {
			return atom.NewExhaustedError(fmt.Sprintf("namespace %q exhausted: block starts at %d, limit %d", a.namespace, start, a.limit))
		}
	}

	size := a.blockSize
	if size > a.limit-start+1 {
		size = a.limit - start + 1
	}
	a.next = start
	a.end = start + size
	a.owner = r
	return nil
}

// Commit marks blocks reserved through r as durable, making them available
// to every caller. The store calls it after r's transaction commits.
func (a *Allocator) Commit(r Reserver) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.owner == r {
		a.owner = nil
	}
}

// Release forgets the unused tail of a block reserved through r. The store
// calls it when r's transaction aborts, because the reservation was rolled
// back with it. The position is kept, so no identity is repeated.
func (a *Allocator) Release(r Reserver) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.owner == r {
		a.end = a.next
		a.owner = nil
	}
}

// Position returns the next counter to be handed out.
func (a *Allocator) Position() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.next
}
