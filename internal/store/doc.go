// Package store implements hash-consing over a graph substrate: every
// distinct atom (typed leaf value or typed ordered tuple of atoms) is
// stored once and identified by a stable atom.Identity.
//
// # Sessions
//
// All reads and writes happen in a Session, which wraps one substrate
// transaction. A Session remembers every key it resolved, so repeated
// get-or-create calls are answered without touching the substrate and
// atoms created earlier in the same session are visible before commit.
//
//	err := s.Update(ctx, func(sess *store.Session) error {
//		leaf, err := sess.GetOrCreateLeaf(ctx, "Node_A", "v1")
//		if err != nil {
//			return err
//		}
//		_, err = sess.GetOrCreateComposite(ctx, "Link_B", []atom.Identity{leaf, leaf})
//		return err
//	})
//
// # Deduplication scope
//
// With DedupGlobal the substrate's unique leafIndex and compositeIndex are
// consulted, so an atom is shared with every earlier committed session.
// With DedupSession only atoms created in the current session are shared.
//
// # Persisted layout
//
//	label      Leaf | Composite
//	kind       "Leaf" | "Composite"
//	type       atom type tag
//	value      leaf value (Leaf only)
//	arity      child count (Composite only)
//	ids        atom.EncodeIdentities of the children (Composite only)
//
// Composites get one edge per child, labelled <type>_<arity>_<position>.
//
// # Errors
//
// Operations return *atom.Error values. SUBSTRATE_UNAVAILABLE covers every
// substrate failure, including losing a unique-index race to a concurrent
// session; Update restarts the whole session in that case. A session that
// hit a substrate failure refuses to commit.
package store
