package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/hashcons/internal/atom"
	"github.com/roach88/hashcons/internal/store"
)

// Scenario is a scripted sequence of sessions followed by assertions.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Dedup selects the store's deduplication scope. Defaults to global.
	Dedup string `yaml:"dedup,omitempty"`

	// AllocatorLimit caps identity allocation. Zero means no cap.
	AllocatorLimit int64 `yaml:"allocator_limit,omitempty"`

	// Sessions run in order, each in its own transaction.
	Sessions []SessionStep `yaml:"sessions"`

	// Assertions validate the final store.
	Assertions []Assertion `yaml:"assertions"`
}

// SessionStep resolves trees in one session.
type SessionStep struct {
	// Name labels the session in the trace.
	Name string `yaml:"name"`

	// Commit controls whether the session commits. Defaults to true.
	Commit *bool `yaml:"commit,omitempty"`

	// Trees are resolved in order.
	Trees []TreeStep `yaml:"trees"`
}

// Commits reports whether the session should commit.
func (s SessionStep) Commits() bool {
	return s.Commit == nil || *s.Commit
}

// TreeStep resolves one tree.
type TreeStep struct {
	// Name identifies the tree in assertions. Unique within a scenario.
	Name string `yaml:"name"`

	// Tree is the tree in expression notation, e.g. "P(T('v'))".
	Tree string `yaml:"tree"`

	// ExpectError is the error code resolution must fail with, e.g.
	// ALLOCATION_EXHAUSTED. Empty means resolution must succeed.
	ExpectError string `yaml:"expect_error,omitempty"`

	parsed *atom.Tree
}

// Assertion validates the final store.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Count is the expected total (count assertions).
	Count *int64 `yaml:"count,omitempty"`

	// Trees lists tree names (same_identity, distinct_identity).
	Trees []string `yaml:"trees,omitempty"`

	// Tree names the tree under test (children, expands_to).
	Tree string `yaml:"tree,omitempty"`

	// Children lists the expected child trees in order (children).
	Children []string `yaml:"children,omitempty"`

	// Expect is the expected expression (expands_to).
	Expect string `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertVertexCount      = "vertex_count"
	AssertEdgeCount        = "edge_count"
	AssertLeafCount        = "leaf_count"
	AssertCompositeCount   = "composite_count"
	AssertSameIdentity     = "same_identity"
	AssertDistinctIdentity = "distinct_identity"
	AssertChildren         = "children"
	AssertExpandsTo        = "expands_to"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields, or fails validation.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks required fields, parses every tree and resolves
// tree references in assertions.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Dedup != "" {
		if _, err := store.ParseDedupScope(s.Dedup); err != nil {
			return err
		}
	}
	if s.AllocatorLimit < 0 {
		return fmt.Errorf("allocator_limit must be non-negative")
	}
	if len(s.Sessions) == 0 {
		return fmt.Errorf("sessions list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	names := map[string]bool{}
	for i := range s.Sessions {
		sess := &s.Sessions[i]
		if sess.Name == "" {
			return fmt.Errorf("sessions[%d]: name is required", i)
		}
		if len(sess.Trees) == 0 {
			return fmt.Errorf("sessions[%d]: trees list is required and must be non-empty", i)
		}
		for j := range sess.Trees {
			step := &sess.Trees[j]
			if step.Name == "" {
				return fmt.Errorf("sessions[%d].trees[%d]: name is required", i, j)
			}
			if names[step.Name] {
				return fmt.Errorf("sessions[%d].trees[%d]: duplicate tree name %q", i, j, step.Name)
			}
			names[step.Name] = true
			parsed, err := atom.ParseTree(step.Tree)
			if err != nil {
				return fmt.Errorf("sessions[%d].trees[%d]: %w", i, j, err)
			}
			step.parsed = parsed
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i], names); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, names map[string]bool) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	checkNames := func(list ...string) error {
		for _, n := range list {
			if !names[n] {
				return fmt.Errorf("assertions[%d]: unknown tree %q", index, n)
			}
		}
		return nil
	}

	switch a.Type {
	case AssertVertexCount, AssertEdgeCount, AssertLeafCount, AssertCompositeCount:
		if a.Count == nil {
			return fmt.Errorf("assertions[%d]: count is required for %s", index, a.Type)
		}
		if *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	case AssertSameIdentity, AssertDistinctIdentity:
		if len(a.Trees) < 2 {
			return fmt.Errorf("assertions[%d]: at least two trees are required for %s", index, a.Type)
		}
		return checkNames(a.Trees...)
	case AssertChildren:
		if a.Tree == "" || len(a.Children) == 0 {
			return fmt.Errorf("assertions[%d]: tree and children are required for children", index)
		}
		return checkNames(append([]string{a.Tree}, a.Children...)...)
	case AssertExpandsTo:
		if a.Tree == "" || a.Expect == "" {
			return fmt.Errorf("assertions[%d]: tree and expect are required for expands_to", index)
		}
		if _, err := atom.ParseTree(a.Expect); err != nil {
			return fmt.Errorf("assertions[%d]: expect: %w", index, err)
		}
		return checkNames(a.Tree)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
