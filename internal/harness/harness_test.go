package harness

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hashcons/internal/store"
)

func count(n int64) *int64 { return &n }

func singleSession(trees ...TreeStep) []SessionStep {
	return []SessionStep{{Name: "s", Trees: trees}}
}

func TestRun_PassingScenario(t *testing.T) {
	scenario := &Scenario{
		Name:        "inline",
		Description: "built in code",
		Sessions: singleSession(
			TreeStep{Name: "pair", Tree: "Pair(A('x'), A('x'))"},
			TreeStep{Name: "x", Tree: "A('x')"},
		),
		Assertions: []Assertion{
			{Type: AssertVertexCount, Count: count(2)},
			{Type: AssertChildren, Tree: "pair", Children: []string{"x", "x"}},
		},
	}

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, map[string]int64{"pair": 2, "x": 1}, result.Identities)
	assert.Len(t, result.Trace, 3)
	assert.Equal(t, EventSession, result.Trace[2].Type)
	assert.Equal(t, "session-1", result.Trace[2].SessionID)
}

func TestRun_FailingAssertions(t *testing.T) {
	scenario := &Scenario{
		Name:        "failing",
		Description: "every assertion is wrong",
		Sessions: singleSession(
			TreeStep{Name: "ab", Tree: "P(a('1'), b('2'))"},
			TreeStep{Name: "a", Tree: "a('1')"},
			TreeStep{Name: "b", Tree: "b('2')"},
		),
		Assertions: []Assertion{
			{Type: AssertVertexCount, Count: count(99)},
			{Type: AssertEdgeCount, Count: count(1)},
			{Type: AssertSameIdentity, Trees: []string{"a", "b"}},
			{Type: AssertDistinctIdentity, Trees: []string{"a", "a"}},
			{Type: AssertChildren, Tree: "ab", Children: []string{"b", "a"}},
			{Type: AssertExpandsTo, Tree: "ab", Expect: "P(b('2'), a('1'))"},
		},
	}

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 6)
	assert.Contains(t, result.Errors[0], "Assertion failed: vertex_count")
	assert.Contains(t, result.Errors[0], "Expected: 99")
	assert.Contains(t, result.Errors[0], "Actual: 3")
	assert.Contains(t, result.Errors[1], "edge_count")
	assert.Contains(t, result.Errors[2], "same_identity")
	assert.Contains(t, result.Errors[3], "a and a share identity 1")
	assert.Contains(t, result.Errors[4], "children")
	assert.Contains(t, result.Errors[5], "Actual: P(a('1'), b('2'))")
}

func TestRun_UnexpectedAndMissingErrors(t *testing.T) {
	limit := &Scenario{
		Name:           "limit",
		Description:    "allocator runs dry",
		AllocatorLimit: 1,
		Sessions: singleSession(
			TreeStep{Name: "a", Tree: "A('1')", ExpectError: "ALLOCATION_EXHAUSTED"},
			TreeStep{Name: "b", Tree: "A('2')"},
		),
		Assertions: []Assertion{{Type: AssertVertexCount, Count: count(0)}},
	}

	result, err := Run(context.Background(), limit)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "tree a: expected error ALLOCATION_EXHAUSTED, resolved to 1")
	assert.Contains(t, result.Errors[1], "tree b: unexpected error")
	assert.Equal(t, "ALLOCATION_EXHAUSTED", result.Trace[1].Error)
	assert.NotContains(t, result.Identities, "b")

	// The failed tree aborts the session; its commit is refused.
	require.Len(t, result.Trace, 3)
	assert.Equal(t, store.OutcomeAborted, result.Trace[2].Outcome)
	assert.Equal(t, "ALLOCATION_EXHAUSTED", result.Trace[2].Error)
	assert.Equal(t, int64(0), result.Stats.Vertices)
}

func TestRun_AssertionOnFailedTree(t *testing.T) {
	scenario := &Scenario{
		Name:           "failed_ref",
		Description:    "assertion references a tree that did not resolve",
		AllocatorLimit: 1,
		Sessions: singleSession(
			TreeStep{Name: "a", Tree: "A('1')"},
			TreeStep{Name: "b", Tree: "A('2')", ExpectError: "ALLOCATION_EXHAUSTED"},
		),
		Assertions: []Assertion{{Type: AssertDistinctIdentity, Trees: []string{"a", "b"}}},
	}

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "tree failed to resolve")
}

func TestRun_InvalidScenario(t *testing.T) {
	_, err := Run(context.Background(), &Scenario{Name: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid scenario")
}

func TestAssertionError_IncludesTrace(t *testing.T) {
	err := &AssertionError{
		Type:     AssertVertexCount,
		Expected: "2",
		Actual:   "3",
		Trace: []TraceEvent{
			{Seq: 1, Type: EventTree, Session: "s", Tree: "t", ID: 7},
			{Seq: 2, Type: EventSession, Session: "s", Outcome: "committed"},
		},
	}

	msg := err.Error()
	assert.True(t, strings.HasPrefix(msg, "Assertion failed: vertex_count\n"))
	assert.Contains(t, msg, "[1] s/t -> 7")
	assert.Contains(t, msg, "[2] s committed")
}

func TestMarshalSnapshot_TrailingNewline(t *testing.T) {
	result := NewResult()
	result.addEvent(TraceEvent{Type: EventTree, Session: "s", Tree: "t", ID: 1, Created: 1})

	data, err := MarshalSnapshot("snap", result)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(data), "}\n"))
	assert.Contains(t, string(data), `"seq": 1`)
	assert.NotContains(t, string(data), `"hits"`)
}
