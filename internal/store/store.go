package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/hashcons/internal/atom"
	"github.com/roach88/hashcons/internal/graph"
	"github.com/roach88/hashcons/internal/idalloc"
)

// DedupScope selects which earlier atoms a get-or-create call can return.
type DedupScope string

const (
	// DedupGlobal shares atoms with every committed session.
	DedupGlobal DedupScope = "global"

	// DedupSession shares atoms within one session only.
	DedupSession DedupScope = "session"
)

// ParseDedupScope validates a scope name. Empty means DedupGlobal.
func ParseDedupScope(s string) (DedupScope, error) {
	switch DedupScope(s) {
	case "", DedupGlobal:
		return DedupGlobal, nil
	case DedupSession:
		return DedupSession, nil
	default:
		return "", fmt.Errorf("unknown dedup scope %q (want %q or %q)", s, DedupGlobal, DedupSession)
	}
}

// RetryPolicy bounds how often Update restarts a session after a
// SUBSTRATE_UNAVAILABLE error.
type RetryPolicy struct {
	// Attempts is the total number of tries. Values below 1 mean 1.
	Attempts int

	// Backoff is the pause before the second try, doubled after each
	// further failure.
	Backoff time.Duration
}

// DefaultRetryPolicy returns the policy used when Options.Retry is zero.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 5, Backoff: 10 * time.Millisecond}
}

// Options configures a Store.
type Options struct {
	// Dedup selects the deduplication scope. Defaults to DedupGlobal.
	Dedup DedupScope

	// Allocator configures identity allocation.
	Allocator idalloc.Options

	// Retry configures Update. Defaults to DefaultRetryPolicy.
	Retry RetryPolicy

	// Logger receives session lifecycle events. Defaults to discarding.
	Logger *slog.Logger

	// Registerer receives the store metrics. Nil leaves them unregistered.
	Registerer prometheus.Registerer

	// SessionIDs names sessions. Defaults to UUIDv7Generator.
	SessionIDs SessionIDGenerator
}

// Store resolves atoms to identities on top of a graph substrate.
// It is safe for concurrent use; each goroutine uses its own Session.
type Store struct {
	graph   graph.Graph
	alloc   *idalloc.Allocator
	dedup   DedupScope
	retry   RetryPolicy
	logger  *slog.Logger
	metrics *Metrics
	ids     SessionIDGenerator
}

// Open prepares g for atom storage. In global scope the unique atom
// indexes are declared; this fails if g already holds duplicate atoms.
// In session scope, a graph that carries the unique indexes is refused.
func Open(ctx context.Context, g graph.Graph, opts Options) (*Store, error) {
	scope, err := ParseDedupScope(string(opts.Dedup))
	if err != nil {
		return nil, err
	}

	alloc, err := idalloc.New(opts.Allocator)
	if err != nil {
		return nil, fmt.Errorf("allocator: %w", err)
	}

	metrics, err := NewMetrics(opts.Registerer)
	if err != nil {
		return nil, err
	}

	if opts.Retry.Attempts < 1 {
		opts.Retry = DefaultRetryPolicy()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.SessionIDs == nil {
		opts.SessionIDs = UUIDv7Generator{}
	}

	switch scope {
	case DedupGlobal:
		for _, spec := range atomIndexes(true) {
			if err := g.EnsureIndex(ctx, spec); err != nil {
				if errors.Is(err, graph.ErrConflict) {
					return nil, fmt.Errorf("graph holds duplicate atoms, global dedup is not possible: %w", err)
				}
				return nil, atom.NewUnavailableError("declare "+spec.Name, err)
			}
		}
	case DedupSession:
		for _, spec := range atomIndexes(true) {
			existing, found, err := g.Index(ctx, spec.Name)
			if err != nil {
				return nil, atom.NewUnavailableError("inspect "+spec.Name, err)
			}
			if found && existing.Unique {
				return nil, fmt.Errorf("graph declares unique index %q, session dedup would violate it", spec.Name)
			}
		}
	}

	opts.Logger.Debug("store opened",
		"dedup", scope,
		"namespace", alloc.Namespace(),
		"retry_attempts", opts.Retry.Attempts)

	return &Store{
		graph:   g,
		alloc:   alloc,
		dedup:   scope,
		retry:   opts.Retry,
		logger:  opts.Logger,
		metrics: metrics,
		ids:     opts.SessionIDs,
	}, nil
}

// Dedup returns the store's deduplication scope.
func (s *Store) Dedup() DedupScope {
	return s.dedup
}

// Metrics returns the store counters.
func (s *Store) Metrics() *Metrics {
	return s.metrics
}

// Begin opens a session on a fresh substrate transaction.
func (s *Store) Begin(ctx context.Context) (*Session, error) {
	tx, err := s.graph.Begin(ctx)
	if err != nil {
		return nil, atom.NewUnavailableError("begin session", err)
	}
	id := s.ids.Generate()
	s.logger.Debug("session started", "session_id", id)
	return &Session{
		store:  s,
		tx:     tx,
		id:     id,
		logger: s.logger.With("session_id", id),
		cache:  map[string]atom.Identity{},
		known:  map[atom.Identity]struct{}{},
	}, nil
}

// Update runs fn in a new session and commits it. If fn or the commit
// fails with SUBSTRATE_UNAVAILABLE, the session is discarded and fn runs
// again in a fresh session, up to Retry.Attempts tries. Any other error
// aborts without retry. fn must not keep identities from a failed try.
func (s *Store) Update(ctx context.Context, fn func(*Session) error) error {
	backoff := s.retry.Backoff
	var err error
	for attempt := 1; attempt <= s.retry.Attempts; attempt++ {
		err = s.try(ctx, fn)
		if err == nil || !atom.IsSubstrateUnavailable(err) || attempt == s.retry.Attempts {
			break
		}

		s.logger.Warn("session failed, retrying",
			"attempt", attempt,
			"max_attempts", s.retry.Attempts,
			"error", err)

		if backoff > 0 {
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("update: %w", ctx.Err())
			case <-timer.C:
			}
			backoff *= 2
		}
	}
	return err
}

func (s *Store) try(ctx context.Context, fn func(*Session) error) error {
	sess, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := fn(sess); err != nil {
		return err
	}
	return sess.Commit()
}

// View runs fn in a session that is always discarded.
func (s *Store) View(ctx context.Context, fn func(*Session) error) error {
	sess, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	sess.view = true
	defer sess.Close()
	return fn(sess)
}
