package store

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hashcons/internal/atom"
	"github.com/roach88/hashcons/internal/graph"
	"github.com/roach88/hashcons/internal/idalloc"
	"github.com/roach88/hashcons/internal/testutil"
)

func TestGetOrCreate_IdempotentWithinSession(t *testing.T) {
	forEachSubstrate(t, func(t *testing.T, g graph.Graph) {
		ctx := context.Background()
		s := createTestStore(t, g)

		sess, err := s.Begin(ctx)
		require.NoError(t, err)
		defer sess.Close()

		a, err := sess.GetOrCreateLeaf(ctx, "Node_A", "v1")
		require.NoError(t, err)
		b, err := sess.GetOrCreateLeaf(ctx, "Node_A", "v1")
		require.NoError(t, err)
		assert.Equal(t, a, b)

		c1, err := sess.GetOrCreateComposite(ctx, "Link_B", []atom.Identity{a})
		require.NoError(t, err)
		c2, err := sess.GetOrCreate(ctx, atom.Composite("Link_B", a))
		require.NoError(t, err)
		assert.Equal(t, c1, c2)

		stats, err := sess.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, Stats{Vertices: 2, Edges: 1, Leaves: 1, Composites: 1}, stats)
		assert.Equal(t, Counters{Hits: 2, Created: 2, Edges: 1}, sess.Counters())
	})
}

func TestGetOrCreate_IdempotentAcrossSessions(t *testing.T) {
	forEachSubstrate(t, func(t *testing.T, g graph.Graph) {
		ctx := context.Background()
		s := createTestStore(t, g)

		var leaf, pair atom.Identity
		require.NoError(t, s.Update(ctx, func(sess *Session) error {
			var err error
			if leaf, err = sess.GetOrCreateLeaf(ctx, "Node_A", "v1"); err != nil {
				return err
			}
			pair, err = sess.GetOrCreateComposite(ctx, "Link_B", []atom.Identity{leaf, leaf})
			return err
		}))

		require.NoError(t, s.Update(ctx, func(sess *Session) error {
			got, err := sess.GetOrCreateLeaf(ctx, "Node_A", "v1")
			require.NoError(t, err)
			assert.Equal(t, leaf, got)

			got, err = sess.GetOrCreateComposite(ctx, "Link_B", []atom.Identity{leaf, leaf})
			require.NoError(t, err)
			assert.Equal(t, pair, got)

			assert.Equal(t, Counters{Hits: 2}, sess.Counters())
			return nil
		}))
	})
}

func TestGetOrCreate_StructuralSharing(t *testing.T) {
	forEachSubstrate(t, func(t *testing.T, g graph.Graph) {
		ctx := context.Background()
		s := createTestStore(t, g)

		// Link_B(Node_A('v1'), Node_A('v1'))
		var root, leaf atom.Identity
		require.NoError(t, s.Update(ctx, func(sess *Session) error {
			l1, err := sess.GetOrCreateLeaf(ctx, "Node_A", "v1")
			if err != nil {
				return err
			}
			l2, err := sess.GetOrCreateLeaf(ctx, "Node_A", "v1")
			if err != nil {
				return err
			}
			leaf = l1
			root, err = sess.GetOrCreateComposite(ctx, "Link_B", []atom.Identity{l1, l2})
			return err
		}))

		require.NoError(t, s.View(ctx, func(sess *Session) error {
			stats, err := sess.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, Stats{Vertices: 2, Edges: 2, Leaves: 1, Composites: 1}, stats)

			a, err := sess.Atom(ctx, root)
			require.NoError(t, err)
			assert.Equal(t, atom.Composite("Link_B", leaf, leaf), a)
			return nil
		}))
	})
}

func TestGetOrCreate_OrderPreserved(t *testing.T) {
	forEachSubstrate(t, func(t *testing.T, g graph.Graph) {
		ctx := context.Background()
		s := createTestStore(t, g)

		require.NoError(t, s.Update(ctx, func(sess *Session) error {
			var ids []atom.Identity
			for _, v := range []string{"a", "b", "c"} {
				id, err := sess.GetOrCreateLeaf(ctx, "V", v)
				require.NoError(t, err)
				ids = append(ids, id)
			}

			abc, err := sess.GetOrCreateComposite(ctx, "T", ids)
			require.NoError(t, err)
			cba, err := sess.GetOrCreateComposite(ctx, "T", []atom.Identity{ids[2], ids[1], ids[0]})
			require.NoError(t, err)
			assert.NotEqual(t, abc, cba)

			got, err := sess.Atom(ctx, abc)
			require.NoError(t, err)
			assert.Equal(t, ids, got.Children)

			got, err = sess.Atom(ctx, cba)
			require.NoError(t, err)
			assert.Equal(t, []atom.Identity{ids[2], ids[1], ids[0]}, got.Children)
			return nil
		}))
	})
}

func TestGetOrCreate_NoDelimiterAmbiguity(t *testing.T) {
	forEachSubstrate(t, func(t *testing.T, g graph.Graph) {
		ctx := context.Background()
		s := createTestStore(t, g)

		require.NoError(t, s.Update(ctx, func(sess *Session) error {
			// Identities 1..12 are the first twelve leaves.
			for i := 1; i <= 12; i++ {
				id, err := sess.GetOrCreateLeaf(ctx, "N", strings.Repeat("x", i))
				require.NoError(t, err)
				require.Equal(t, atom.Identity(i), id)
			}
			oneTwo, err := sess.GetOrCreateComposite(ctx, "T", []atom.Identity{1, 2})
			require.NoError(t, err)
			twelve, err := sess.GetOrCreateComposite(ctx, "T", []atom.Identity{12})
			require.NoError(t, err)
			assert.NotEqual(t, oneTwo, twelve)
			return nil
		}))
	})
}

func TestGetOrCreate_PositionalEdges(t *testing.T) {
	forEachSubstrate(t, func(t *testing.T, g graph.Graph) {
		ctx := context.Background()
		s := createTestStore(t, g)

		var root atom.Identity
		var kids []atom.Identity
		require.NoError(t, s.Update(ctx, func(sess *Session) error {
			for _, v := range []string{"p", "q", "r"} {
				id, err := sess.GetOrCreateLeaf(ctx, "Leaf0", v)
				if err != nil {
					return err
				}
				kids = append(kids, id)
			}
			var err error
			root, err = sess.GetOrCreateComposite(ctx, "Node_1", kids)
			return err
		}))

		tx, err := g.Begin(ctx)
		require.NoError(t, err)
		defer tx.Close()

		edges, err := tx.OutEdges(ctx, int64(root))
		require.NoError(t, err)
		assert.ElementsMatch(t, []graph.Edge{
			{From: int64(root), To: int64(kids[0]), Label: "Node_1_3_0"},
			{From: int64(root), To: int64(kids[1]), Label: "Node_1_3_1"},
			{From: int64(root), To: int64(kids[2]), Label: "Node_1_3_2"},
		}, edges)

		v, err := tx.Vertex(ctx, int64(root))
		require.NoError(t, err)
		assert.Equal(t, "Composite", v.Label)
		arity, _ := v.Properties.Int(PropArity)
		assert.Equal(t, int64(3), arity)
		ids, _ := v.Properties.Bytes(PropIDs)
		assert.Equal(t, atom.EncodeIdentities(kids), ids)
	})
}

func TestGetOrCreate_DistinctLeaves(t *testing.T) {
	forEachSubstrate(t, func(t *testing.T, g graph.Graph) {
		ctx := context.Background()
		s := createTestStore(t, g)

		require.NoError(t, s.Update(ctx, func(sess *Session) error {
			a, err := sess.GetOrCreateLeaf(ctx, "Node_A", "v1")
			require.NoError(t, err)
			b, err := sess.GetOrCreateLeaf(ctx, "Node_A", "v2")
			require.NoError(t, err)
			c, err := sess.GetOrCreateLeaf(ctx, "Node_B", "v1")
			require.NoError(t, err)
			assert.Len(t, map[atom.Identity]bool{a: true, b: true, c: true}, 3)

			stats, err := sess.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(3), stats.Leaves)
			assert.Equal(t, int64(0), stats.Edges)
			return nil
		}))
	})
}

func TestGetOrCreate_Errors(t *testing.T) {
	tests := []struct {
		name  string
		atom  atom.Atom
		check func(error) bool
	}{
		{"unknown kind", atom.Atom{Kind: atom.Kind(9), Type: "X"}, atom.IsUnknownKind},
		{"empty composite", atom.Composite("Empty"), atom.IsInvalidAtom},
		{"zero child", atom.Composite("T", 0), atom.IsInvalidAtom},
		{"missing child", atom.Composite("T", 42), atom.IsInvalidAtom},
	}

	forEachSubstrate(t, func(t *testing.T, g graph.Graph) {
		ctx := context.Background()
		s := createTestStore(t, g)

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				sess, err := s.Begin(ctx)
				require.NoError(t, err)
				defer sess.Close()

				_, err = sess.GetOrCreate(ctx, tt.atom)
				assert.True(t, tt.check(err), "got %v", err)

				// The session is aborted: later calls repeat the error.
				_, err = sess.GetOrCreateLeaf(ctx, "T", "v")
				assert.True(t, tt.check(err), "got %v", err)

				err = sess.Commit()
				assert.True(t, tt.check(err), "got %v", err)
			})
		}

		require.NoError(t, s.View(ctx, func(sess *Session) error {
			stats, err := sess.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, Stats{}, stats)
			return nil
		}))
	})
}

func TestSession_CoreErrorDiscardsPartialTree(t *testing.T) {
	forEachSubstrate(t, func(t *testing.T, g graph.Graph) {
		ctx := context.Background()
		reg := prometheus.NewRegistry()
		s := createTestStore(t, g, func(o *Options) {
			o.Allocator = idalloc.Options{Limit: 1}
			o.Registerer = reg
		})

		sess, err := s.Begin(ctx)
		require.NoError(t, err)
		defer sess.Close()

		leaf, err := sess.GetOrCreateLeaf(ctx, "A", "x")
		require.NoError(t, err)
		_, err = sess.GetOrCreateComposite(ctx, "P", []atom.Identity{leaf})
		require.True(t, atom.IsExhausted(err), "got %v", err)

		err = sess.Commit()
		require.Error(t, err)
		assert.True(t, atom.IsExhausted(err), "got %v", err)
		assert.False(t, atom.IsSubstrateUnavailable(err))

		require.NoError(t, s.View(ctx, func(sess *Session) error {
			stats, err := sess.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, Stats{}, stats)

			_, err = sess.Atom(ctx, leaf)
			assert.ErrorIs(t, err, graph.ErrNotFound)
			return nil
		}))

		m := s.Metrics()
		assert.Equal(t, 1.0, promtest.ToFloat64(m.Sessions.WithLabelValues(OutcomeAborted)))
		assert.Equal(t, 0.0, promtest.ToFloat64(m.Sessions.WithLabelValues(OutcomeCommitted)))
	})
}

func TestGetOrCreate_ClosedSession(t *testing.T) {
	forEachSubstrate(t, func(t *testing.T, g graph.Graph) {
		ctx := context.Background()
		s := createTestStore(t, g)

		sess, err := s.Begin(ctx)
		require.NoError(t, err)
		leaf, err := sess.GetOrCreateLeaf(ctx, "T", "v")
		require.NoError(t, err)
		_, err = sess.GetOrCreateComposite(ctx, "T", []atom.Identity{leaf})
		require.NoError(t, err)
		require.NoError(t, sess.Commit())

		_, err = sess.GetOrCreateLeaf(ctx, "T", "w")
		assert.True(t, atom.IsSubstrateUnavailable(err))
		assert.ErrorIs(t, err, graph.ErrClosed)
	})
}

func TestSession_AbortLeavesStateUnchanged(t *testing.T) {
	forEachSubstrate(t, func(t *testing.T, g graph.Graph) {
		ctx := context.Background()
		s := createTestStore(t, g)

		sess, err := s.Begin(ctx)
		require.NoError(t, err)
		aborted, err := sess.GetOrCreateLeaf(ctx, "T", "gone")
		require.NoError(t, err)
		require.NoError(t, sess.Close())
		require.NoError(t, sess.Close())

		require.NoError(t, s.Update(ctx, func(sess *Session) error {
			stats, err := sess.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, Stats{}, stats)

			_, err = sess.Atom(ctx, aborted)
			assert.ErrorIs(t, err, graph.ErrNotFound)

			// Identities are never handed out twice in one process.
			id, err := sess.GetOrCreateLeaf(ctx, "T", "gone")
			require.NoError(t, err)
			assert.Greater(t, id, aborted)
			return nil
		}))
	})
}

func TestSession_DedupScope(t *testing.T) {
	forEachSubstrate(t, func(t *testing.T, g graph.Graph) {
		ctx := context.Background()
		s := createTestStore(t, g, func(o *Options) { o.Dedup = DedupSession })
		assert.Equal(t, DedupSession, s.Dedup())

		var first atom.Identity
		require.NoError(t, s.Update(ctx, func(sess *Session) error {
			a, err := sess.GetOrCreateLeaf(ctx, "T", "v")
			require.NoError(t, err)
			b, err := sess.GetOrCreateLeaf(ctx, "T", "v")
			require.NoError(t, err)
			assert.Equal(t, a, b, "shared within the session")
			first = a
			return nil
		}))

		require.NoError(t, s.Update(ctx, func(sess *Session) error {
			a, err := sess.GetOrCreateLeaf(ctx, "T", "v")
			require.NoError(t, err)
			assert.NotEqual(t, first, a, "not shared across sessions")

			// Earlier atoms are still valid children.
			_, err = sess.GetOrCreateComposite(ctx, "P", []atom.Identity{first, a})
			require.NoError(t, err)
			return nil
		}))

		// The duplicates make global dedup impossible on this graph.
		_, err := Open(ctx, g, Options{Dedup: DedupGlobal})
		require.Error(t, err)
		assert.ErrorIs(t, err, graph.ErrConflict)
	})
}

func TestOpen_SessionScopeRefusesUniqueIndexes(t *testing.T) {
	forEachSubstrate(t, func(t *testing.T, g graph.Graph) {
		ctx := context.Background()
		createTestStore(t, g)

		_, err := Open(ctx, g, Options{Dedup: DedupSession})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unique index")

		_, err = Open(ctx, g, Options{Dedup: "sometimes"})
		assert.Error(t, err)
	})
}

func TestUpdate_RetriesSubstrateConflicts(t *testing.T) {
	ctx := context.Background()
	fg := &flakyGraph{Graph: testutil.OpenSQLite(t), failCommits: 2}
	reg := prometheus.NewRegistry()
	s := createTestStore(t, fg, func(o *Options) { o.Registerer = reg })

	calls := 0
	var id atom.Identity
	err := s.Update(ctx, func(sess *Session) error {
		calls++
		var err error
		id, err = sess.GetOrCreateLeaf(ctx, "T", "v")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	require.NoError(t, s.View(ctx, func(sess *Session) error {
		a, err := sess.Atom(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, atom.Leaf("T", "v"), a)
		return nil
	}))

	m := s.Metrics()
	assert.Equal(t, 2.0, promtest.ToFloat64(m.Sessions.WithLabelValues(OutcomeFailed)))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.Sessions.WithLabelValues(OutcomeCommitted)))
}

func TestUpdate_GivesUpAfterAttempts(t *testing.T) {
	ctx := context.Background()
	fg := &flakyGraph{Graph: testutil.OpenSQLite(t), failCommits: 100}
	s := createTestStore(t, fg)

	calls := 0
	err := s.Update(ctx, func(sess *Session) error {
		calls++
		_, err := sess.GetOrCreateLeaf(ctx, "T", "v")
		return err
	})
	assert.True(t, atom.IsSubstrateUnavailable(err))
	assert.ErrorIs(t, err, graph.ErrConflict)
	assert.Equal(t, 3, calls)
}

func TestUpdate_DoesNotRetryCoreErrors(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t, testutil.OpenSQLite(t))

	calls := 0
	err := s.Update(ctx, func(sess *Session) error {
		calls++
		if _, err := sess.GetOrCreateLeaf(ctx, "T", "kept?"); err != nil {
			return err
		}
		_, err := sess.GetOrCreateComposite(ctx, "Empty", nil)
		return err
	})
	assert.True(t, atom.IsInvalidAtom(err))
	assert.Equal(t, 1, calls)

	require.NoError(t, s.View(ctx, func(sess *Session) error {
		stats, err := sess.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), stats.Vertices, "aborted session wrote nothing")
		return nil
	}))
}

func TestUpdate_CallerErrorAborts(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t, testutil.OpenBadger(t))
	boom := errors.New("boom")

	err := s.Update(ctx, func(sess *Session) error {
		if _, err := sess.GetOrCreateLeaf(ctx, "T", "v"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1.0, promtest.ToFloat64(s.Metrics().Sessions.WithLabelValues(OutcomeAborted)))
}

func TestUpdate_ConcurrentSessionsShareAtoms(t *testing.T) {
	forEachSubstrate(t, func(t *testing.T, g graph.Graph) {
		ctx := context.Background()
		s := createTestStore(t, g, func(o *Options) {
			o.Retry = RetryPolicy{Attempts: 50}
		})

		const workers = 8
		roots := make([]atom.Identity, workers)
		errs := make([]error, workers)
		var wg sync.WaitGroup
		for w := range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs[w] = s.Update(ctx, func(sess *Session) error {
					a, err := sess.GetOrCreateLeaf(ctx, "Node_A", "v1")
					if err != nil {
						return err
					}
					b, err := sess.GetOrCreateLeaf(ctx, "Node_A", "v2")
					if err != nil {
						return err
					}
					roots[w], err = sess.GetOrCreateComposite(ctx, "Link_B", []atom.Identity{a, b})
					return err
				})
			}()
		}
		wg.Wait()

		for w := range workers {
			require.NoError(t, errs[w])
			assert.Equal(t, roots[0], roots[w])
		}

		require.NoError(t, s.View(ctx, func(sess *Session) error {
			stats, err := sess.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, Stats{Vertices: 3, Edges: 2, Leaves: 2, Composites: 1}, stats)
			return nil
		}))
	})
}

func TestGetOrCreate_KeyCollision(t *testing.T) {
	ctx := context.Background()
	fg := &flakyGraph{Graph: testutil.OpenSQLite(t)}
	s := createTestStore(t, fg)

	require.NoError(t, s.Update(ctx, func(sess *Session) error {
		_, err := sess.GetOrCreateLeaf(ctx, "T", "v")
		return err
	}))

	fg.duplicateRead = true
	err := s.Update(ctx, func(sess *Session) error {
		_, err := sess.GetOrCreateLeaf(ctx, "T", "v")
		return err
	})
	assert.True(t, atom.IsCollision(err), "got %v", err)
}

func TestStore_PartitionedIdentities(t *testing.T) {
	forEachSubstrate(t, func(t *testing.T, g graph.Graph) {
		ctx := context.Background()
		p, err := idalloc.NewPartitioned(4, 3)
		require.NoError(t, err)
		s := createTestStore(t, g, func(o *Options) {
			o.Allocator = idalloc.Options{Transform: p, BlockSize: 2}
		})

		require.NoError(t, s.Update(ctx, func(sess *Session) error {
			var ids []atom.Identity
			for _, v := range []string{"a", "b", "c"} {
				id, err := sess.GetOrCreateLeaf(ctx, "T", v)
				require.NoError(t, err)
				ids = append(ids, id)
			}
			assert.Equal(t, []atom.Identity{1<<4 | 3, 2<<4 | 3, 3<<4 | 3}, ids)

			root, err := sess.GetOrCreateComposite(ctx, "P", ids)
			require.NoError(t, err)
			got, err := sess.Atom(ctx, root)
			require.NoError(t, err)
			assert.Equal(t, ids, got.Children)
			return nil
		}))
	})
}

func TestStore_ExhaustedAllocator(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t, testutil.OpenSQLite(t), func(o *Options) {
		o.Allocator = idalloc.Options{Limit: 2, BlockSize: 10}
	})

	err := s.Update(ctx, func(sess *Session) error {
		for _, v := range []string{"a", "b", "c"} {
			if _, err := sess.GetOrCreateLeaf(ctx, "T", v); err != nil {
				return err
			}
		}
		return nil
	})
	assert.True(t, atom.IsExhausted(err), "got %v", err)
}

func TestStore_Metrics(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	s := createTestStore(t, testutil.OpenSQLite(t), func(o *Options) { o.Registerer = reg })

	require.NoError(t, s.Update(ctx, func(sess *Session) error {
		a, err := sess.GetOrCreateLeaf(ctx, "Node_A", "v1")
		if err != nil {
			return err
		}
		b, err := sess.GetOrCreateLeaf(ctx, "Node_A", "v1")
		if err != nil {
			return err
		}
		_, err = sess.GetOrCreateComposite(ctx, "Link_B", []atom.Identity{a, b})
		return err
	}))

	m := s.Metrics()
	assert.Equal(t, 1.0, promtest.ToFloat64(m.AtomsCreated.WithLabelValues("Leaf")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.AtomsCreated.WithLabelValues("Composite")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.DedupHits.WithLabelValues("Leaf")))
	assert.Equal(t, 2.0, promtest.ToFloat64(m.EdgesCreated))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.Sessions.WithLabelValues(OutcomeCommitted)))

	// A second store on the same registry shares the collectors.
	s2 := createTestStore(t, testutil.OpenSQLite(t), func(o *Options) { o.Registerer = reg })
	assert.Same(t, m.AtomsCreated, s2.Metrics().AtomsCreated)
}

func TestSession_IDs(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t, testutil.OpenBadger(t))

	for _, want := range []string{"session-1", "session-2"} {
		sess, err := s.Begin(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, sess.ID())
		require.NoError(t, sess.Close())
	}
}

func TestParseDedupScope(t *testing.T) {
	for in, want := range map[string]DedupScope{"": DedupGlobal, "global": DedupGlobal, "session": DedupSession} {
		got, err := ParseDedupScope(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseDedupScope("GLOBAL")
	assert.Error(t, err)
}
