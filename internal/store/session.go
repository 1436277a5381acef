package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/hashcons/internal/atom"
	"github.com/roach88/hashcons/internal/graph"
)

// Counters tallies get-or-create outcomes within one session.
type Counters struct {
	Hits    int64 `json:"hits"`
	Created int64 `json:"created"`
	Edges   int64 `json:"edges"`
}

// Session is one unit of work against the store. Its methods serialize
// concurrent callers.
type Session struct {
	store  *Store
	tx     graph.Tx
	id     string
	logger *slog.Logger

	mu sync.Mutex
	// cache maps key bytes to identities resolved in this session.
	cache map[string]atom.Identity
	// known holds identities confirmed to exist in the substrate.
	known    map[atom.Identity]struct{}
	counters Counters
	// failed is the first substrate error; a failed session cannot commit.
	failed error
	// rejected is the first core error. The session's partial writes are
	// rolled back instead of committed.
	rejected error
	done   bool
	view   bool
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Counters returns the session's get-or-create tallies.
func (s *Session) Counters() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}

// GetOrCreateLeaf returns the identity of the leaf (typ, value), creating
// it on first encounter.
func (s *Session) GetOrCreateLeaf(ctx context.Context, typ, value string) (atom.Identity, error) {
	return s.GetOrCreate(ctx, atom.Leaf(typ, value))
}

// GetOrCreateComposite returns the identity of the composite (typ,
// children), creating it on first encounter. Every child must be an
// existing identity.
func (s *Session) GetOrCreateComposite(ctx context.Context, typ string, children []atom.Identity) (atom.Identity, error) {
	return s.GetOrCreate(ctx, atom.Composite(typ, children...))
}

// GetOrCreate dispatches on the atom's kind. Any error aborts the
// session: later calls fail and Commit rolls back.
func (s *Session) GetOrCreate(ctx context.Context, a atom.Atom) (atom.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return 0, atom.NewUnavailableError("get or create", graph.ErrClosed)
	}
	if s.failed != nil {
		return 0, atom.NewUnavailableError("get or create: session failed earlier", s.failed)
	}
	if s.rejected != nil {
		return 0, fmt.Errorf("get or create: session aborted: %w", s.rejected)
	}

	id, err := s.getOrCreate(ctx, a)
	if err != nil && s.failed == nil && s.rejected == nil {
		s.rejected = err
		s.logger.Debug("session aborted", "error", err)
	}
	return id, err
}

func (s *Session) getOrCreate(ctx context.Context, a atom.Atom) (atom.Identity, error) {
	key, err := atom.DeriveKey(a)
	if err != nil {
		return 0, err
	}
	cacheKey := string(key.Bytes())
	kind := a.Kind.String()

	if id, ok := s.cache[cacheKey]; ok {
		s.hit(kind)
		return id, nil
	}

	if s.store.dedup == DedupGlobal {
		id, found, err := s.lookup(ctx, a, key)
		if err != nil {
			return 0, err
		}
		if found {
			s.cache[cacheKey] = id
			s.known[id] = struct{}{}
			s.hit(kind)
			return id, nil
		}
	}

	id, err := s.create(ctx, a)
	if err != nil {
		return 0, err
	}
	s.cache[cacheKey] = id
	s.known[id] = struct{}{}
	return id, nil
}

func (s *Session) hit(kind string) {
	s.counters.Hits++
	s.store.metrics.DedupHits.WithLabelValues(kind).Inc()
}

// lookup queries the atom index for key.
func (s *Session) lookup(ctx context.Context, a atom.Atom, key atom.Key) (atom.Identity, bool, error) {
	var ids []atom.Identity
	for v, err := range s.tx.QueryVertices(ctx, a.Kind.String(), lookupFilters(a)...) {
		if err != nil {
			return 0, false, s.fail("lookup "+key.String(), err)
		}
		ids = append(ids, atom.Identity(v.ID))
	}
	switch len(ids) {
	case 0:
		return 0, false, nil
	case 1:
		return ids[0], true, nil
	default:
		s.logger.Error("identity key collision", "key", key.String(), "ids", ids)
		return 0, false, atom.NewCollisionError(key, ids)
	}
}

// create allocates an identity and writes the atom and its child edges.
func (s *Session) create(ctx context.Context, a atom.Atom) (atom.Identity, error) {
	for i, child := range a.Children {
		if err := s.checkExists(ctx, child); err != nil {
			if errors.Is(err, graph.ErrNotFound) {
				return 0, atom.NewInvalidAtomError(fmt.Sprintf("composite %q child %d: identity %d does not exist", a.Type, i, child))
			}
			return 0, s.fail(fmt.Sprintf("check child %d", child), err)
		}
	}

	id, err := s.store.alloc.Next(ctx, s.tx)
	if err != nil {
		if atom.IsSubstrateUnavailable(err) {
			s.failed = err
		}
		return 0, err
	}

	if err := s.tx.CreateVertex(ctx, toVertex(id, a)); err != nil {
		return 0, s.fail(fmt.Sprintf("create %s %d", a.Kind, id), err)
	}
	arity := a.Arity()
	for pos, child := range a.Children {
		edge := graph.Edge{From: int64(id), To: int64(child), Label: EdgeLabel(a.Type, arity, pos)}
		if err := s.tx.CreateEdge(ctx, edge); err != nil {
			return 0, s.fail(fmt.Sprintf("create edge %s", edge.Label), err)
		}
	}

	kind := a.Kind.String()
	s.counters.Created++
	s.counters.Edges += int64(arity)
	s.store.metrics.AtomsCreated.WithLabelValues(kind).Inc()
	s.store.metrics.EdgesCreated.Add(float64(arity))
	s.logger.Debug("atom created", "id", id, "kind", kind, "type", a.Type, "arity", arity)
	return id, nil
}

// checkExists confirms a child identity names a stored vertex.
func (s *Session) checkExists(ctx context.Context, id atom.Identity) error {
	if _, ok := s.known[id]; ok {
		return nil
	}
	if _, err := s.tx.Vertex(ctx, int64(id)); err != nil {
		return err
	}
	s.known[id] = struct{}{}
	return nil
}

// fail records a substrate error; the session will refuse to commit.
func (s *Session) fail(op string, err error) error {
	e := atom.NewUnavailableError(op, err)
	if s.failed == nil {
		s.failed = e
	}
	return e
}

// Commit makes the session's atoms durable. A session that hit any
// error is rolled back instead and Commit returns that error.
func (s *Session) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return atom.NewUnavailableError("commit", graph.ErrClosed)
	}
	if s.failed != nil {
		s.abort(OutcomeFailed)
		return atom.NewUnavailableError("commit: session failed earlier", s.failed)
	}
	if s.rejected != nil {
		s.abort(OutcomeAborted)
		return fmt.Errorf("commit: session aborted: %w", s.rejected)
	}

	s.done = true
	if err := s.tx.Commit(); err != nil {
		s.store.alloc.Release(s.tx)
		s.store.metrics.Sessions.WithLabelValues(OutcomeFailed).Inc()
		s.logger.Debug("session commit failed", "error", err)
		return atom.NewUnavailableError("commit", err)
	}
	s.store.alloc.Commit(s.tx)
	s.store.metrics.Sessions.WithLabelValues(OutcomeCommitted).Inc()
	s.logger.Debug("session committed",
		"created", s.counters.Created,
		"hits", s.counters.Hits,
		"edges", s.counters.Edges)
	return nil
}

// Close discards the session's writes unless it committed. Safe to call
// after Commit and more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil
	}
	outcome := OutcomeAborted
	if s.failed != nil {
		outcome = OutcomeFailed
	}
	return s.abort(outcome)
}

// abort rolls back and releases the allocator block. Caller holds s.mu.
func (s *Session) abort(outcome string) error {
	s.done = true
	err := s.tx.Close()
	s.store.alloc.Release(s.tx)
	if !s.view {
		s.store.metrics.Sessions.WithLabelValues(outcome).Inc()
		s.logger.Debug("session rolled back", "outcome", outcome)
	}
	if err != nil {
		return atom.NewUnavailableError("rollback", err)
	}
	return nil
}
