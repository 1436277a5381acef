package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/hashcons/internal/atom"
	"github.com/roach88/hashcons/internal/dag"
	"github.com/roach88/hashcons/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes the trace to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for i, event := range e.Trace {
		if event.Type == EventTree {
			fmt.Fprintf(&buf, "  [%d] %s/%s -> %d\n", i+1, event.Session, event.Tree, event.ID)
		} else {
			fmt.Fprintf(&buf, "  [%d] %s %s\n", i+1, event.Session, event.Outcome)
		}
	}

	return buf.String()
}

// AssertionContext gives assertions read access to the final store.
type AssertionContext struct {
	Ctx     context.Context
	Session *store.Session
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertVertexCount:
			err = assertCount(result, assertion, result.Stats.Vertices)
		case AssertEdgeCount:
			err = assertCount(result, assertion, result.Stats.Edges)
		case AssertLeafCount:
			err = assertCount(result, assertion, result.Stats.Leaves)
		case AssertCompositeCount:
			err = assertCount(result, assertion, result.Stats.Composites)
		case AssertSameIdentity:
			err = assertSameIdentity(result, assertion)
		case AssertDistinctIdentity:
			err = assertDistinctIdentity(result, assertion)
		case AssertChildren, AssertExpandsTo:
			if actx == nil || actx.Session == nil {
				err = fmt.Errorf("assertion[%d]: %s requires a store session", i, assertion.Type)
			} else if assertion.Type == AssertChildren {
				err = assertChildren(actx, result, assertion)
			} else {
				err = assertExpandsTo(actx, result, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}

// assertCount compares a store total with the expected count.
func assertCount(result *Result, assertion Assertion, actual int64) error {
	if assertion.Count == nil {
		return fmt.Errorf("%s: count is required", assertion.Type)
	}
	if *assertion.Count == actual {
		return nil
	}
	return &AssertionError{
		Type:     assertion.Type,
		Expected: fmt.Sprintf("%d", *assertion.Count),
		Actual:   fmt.Sprintf("%d", actual),
		Trace:    result.Trace,
	}
}

// identities looks up the resolved identity of each named tree.
func identities(result *Result, assertion Assertion, names []string) ([]int64, error) {
	ids := make([]int64, len(names))
	for i, name := range names {
		id, ok := result.Identities[name]
		if !ok {
			return nil, &AssertionError{
				Type:     assertion.Type,
				Expected: fmt.Sprintf("tree %s resolved", name),
				Actual:   "tree failed to resolve",
				Trace:    result.Trace,
			}
		}
		ids[i] = id
	}
	return ids, nil
}

func assertSameIdentity(result *Result, assertion Assertion) error {
	ids, err := identities(result, assertion, assertion.Trees)
	if err != nil {
		return err
	}
	for _, id := range ids[1:] {
		if id != ids[0] {
			return &AssertionError{
				Type:     AssertSameIdentity,
				Expected: fmt.Sprintf("one identity for %v", assertion.Trees),
				Actual:   fmt.Sprintf("identities %v", ids),
				Trace:    result.Trace,
			}
		}
	}
	return nil
}

func assertDistinctIdentity(result *Result, assertion Assertion) error {
	ids, err := identities(result, assertion, assertion.Trees)
	if err != nil {
		return err
	}
	seen := map[int64]string{}
	for i, id := range ids {
		if prev, ok := seen[id]; ok {
			return &AssertionError{
				Type:     AssertDistinctIdentity,
				Expected: fmt.Sprintf("distinct identities for %v", assertion.Trees),
				Actual:   fmt.Sprintf("%s and %s share identity %d", prev, assertion.Trees[i], id),
				Trace:    result.Trace,
			}
		}
		seen[id] = assertion.Trees[i]
	}
	return nil
}

// assertChildren reads the stored composite and compares its children
// with the identities of the listed trees.
func assertChildren(actx *AssertionContext, result *Result, assertion Assertion) error {
	ids, err := identities(result, assertion, append([]string{assertion.Tree}, assertion.Children...))
	if err != nil {
		return err
	}

	a, err := actx.Session.Atom(actx.Ctx, atom.Identity(ids[0]))
	if err != nil {
		return fmt.Errorf("%s: read %s: %w", AssertChildren, assertion.Tree, err)
	}

	want := make([]atom.Identity, len(ids)-1)
	for i, id := range ids[1:] {
		want[i] = atom.Identity(id)
	}
	if !slices.Equal(a.Children, want) {
		return &AssertionError{
			Type:     AssertChildren,
			Expected: fmt.Sprintf("%s children %v", assertion.Tree, want),
			Actual:   fmt.Sprintf("%v", a.Children),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertExpandsTo rebuilds the stored DAG under a tree and compares its
// expression with the expected one.
func assertExpandsTo(actx *AssertionContext, result *Result, assertion Assertion) error {
	ids, err := identities(result, assertion, []string{assertion.Tree})
	if err != nil {
		return err
	}

	tree, err := dag.Expand(actx.Ctx, actx.Session, atom.Identity(ids[0]))
	if err != nil {
		return fmt.Errorf("%s: expand %s: %w", AssertExpandsTo, assertion.Tree, err)
	}

	expected, err := atom.ParseTree(assertion.Expect)
	if err != nil {
		return fmt.Errorf("%s: expect: %w", AssertExpandsTo, err)
	}
	if got, want := atom.FormatTree(tree), atom.FormatTree(expected); got != want {
		return &AssertionError{
			Type:     AssertExpandsTo,
			Expected: want,
			Actual:   got,
			Trace:    result.Trace,
		}
	}
	return nil
}
