package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/hashcons/internal/atom"
	"github.com/roach88/hashcons/internal/dag"
	"github.com/roach88/hashcons/internal/graph/sqlitegraph"
	"github.com/roach88/hashcons/internal/idalloc"
	"github.com/roach88/hashcons/internal/store"
	"github.com/roach88/hashcons/internal/testutil"
)

// Harness executes one scenario against its own store.
type Harness struct {
	store  *store.Store
	logger *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Execution flow:
//  1. Open an in-memory SQLite graph and a store on it
//  2. Run each session, resolving its trees in order
//  3. Commit or roll back each session
//  4. Evaluate assertions against the final store
//
// The returned error reports infrastructure failures; scenario failures
// are recorded in Result.Errors.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	if err := validateScenario(scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests

	g, err := sqlitegraph.Open(":memory:", logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory graph: %w", err)
	}
	defer g.Close()

	st, err := store.Open(ctx, g, store.Options{
		Dedup:      store.DedupScope(scenario.Dedup),
		Allocator:  idalloc.Options{Limit: scenario.AllocatorLimit},
		Logger:     logger,
		Registerer: prometheus.NewRegistry(),
		SessionIDs: testutil.NewSequenceGenerator("session"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	h := &Harness{store: st, logger: logger}
	result := NewResult()

	for i, step := range scenario.Sessions {
		if err := h.runSession(ctx, step, result); err != nil {
			return nil, fmt.Errorf("session %d (%s): %w", i, step.Name, err)
		}
	}

	if err := st.View(ctx, func(sess *store.Session) error {
		stats, err := sess.Stats(ctx)
		if err != nil {
			return err
		}
		result.Stats = stats

		actx := &AssertionContext{Ctx: ctx, Session: sess}
		for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
			result.AddError(msg)
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("failed to evaluate assertions: %w", err)
	}

	return result, nil
}

// runSession resolves a session's trees and finishes it. Resolution
// errors are compared with the step's expectation. A failed tree aborts
// the store session, so its commit is refused and nothing it wrote is kept.
func (h *Harness) runSession(ctx context.Context, step SessionStep, result *Result) error {
	sess, err := h.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	b := dag.NewBuilder(sess)
	treeFailed := false
	for _, tree := range step.Trees {
		before := sess.Counters()
		id, err := b.Resolve(ctx, tree.parsed)
		after := sess.Counters()

		event := TraceEvent{
			Type:    EventTree,
			Session: step.Name,
			Tree:    tree.Name,
			Created: after.Created - before.Created,
			Hits:    after.Hits - before.Hits,
			Edges:   after.Edges - before.Edges,
		}

		switch {
		case err != nil:
			treeFailed = true
			code := errorCode(err)
			event.Error = code
			if tree.ExpectError == "" {
				result.AddError(fmt.Sprintf("tree %s: unexpected error: %v", tree.Name, err))
			} else if code != tree.ExpectError {
				result.AddError(fmt.Sprintf("tree %s: expected error %s, got %v", tree.Name, tree.ExpectError, err))
			}
		case tree.ExpectError != "":
			event.ID = int64(id)
			result.Identities[tree.Name] = int64(id)
			result.AddError(fmt.Sprintf("tree %s: expected error %s, resolved to %d", tree.Name, tree.ExpectError, id))
		default:
			event.ID = int64(id)
			result.Identities[tree.Name] = int64(id)
		}
		result.addEvent(event)
	}

	outcome := store.OutcomeAborted
	var finishErr error
	if step.Commits() {
		outcome = store.OutcomeCommitted
		if finishErr = sess.Commit(); finishErr != nil {
			outcome = store.OutcomeAborted
			if atom.IsSubstrateUnavailable(finishErr) {
				outcome = store.OutcomeFailed
			}
			if !treeFailed {
				result.AddError(fmt.Sprintf("session %s: commit failed: %v", step.Name, finishErr))
			}
		}
	} else {
		finishErr = sess.Close()
		if finishErr != nil {
			return finishErr
		}
	}

	totals := sess.Counters()
	event := TraceEvent{
		Type:      EventSession,
		Session:   step.Name,
		SessionID: sess.ID(),
		Created:   totals.Created,
		Hits:      totals.Hits,
		Edges:     totals.Edges,
		Outcome:   outcome,
	}
	if finishErr != nil {
		event.Error = errorCode(finishErr)
	}
	result.addEvent(event)
	h.logger.Debug("session finished", "session", step.Name, "outcome", outcome)
	return nil
}

// errorCode returns the atom error code of err, or "ERROR".
func errorCode(err error) string {
	var atomErr *atom.Error
	if errors.As(err, &atomErr) {
		return string(atomErr.Code)
	}
	return "ERROR"
}
