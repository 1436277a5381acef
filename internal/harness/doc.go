// Package harness runs scripted atom-store scenarios and checks their
// outcome.
//
// # Scenario Format
//
// Scenarios are YAML files. Each session resolves named trees in order and
// then commits or rolls back. Assertions run against the final store.
//
//	name: shared_leaf
//	description: "Equal leaves under one composite share a vertex"
//	dedup: global
//	sessions:
//	  - name: build
//	    commit: true
//	    trees:
//	      - name: link
//	        tree: "Link_B(Node_A('v1'), Node_A('v1'))"
//	      - name: leaf
//	        tree: "Node_A('v1')"
//	assertions:
//	  - type: vertex_count
//	    count: 2
//	  - type: children
//	    tree: link
//	    children: [leaf, leaf]
//
// # Assertion Types
//
//   - vertex_count, edge_count, leaf_count, composite_count: exact totals
//   - same_identity: every listed tree resolved to one identity
//   - distinct_identity: the listed trees resolved to pairwise different identities
//   - children: a composite's stored children are the listed trees, in order
//   - expands_to: the stored DAG under a tree expands to the given expression
//
// # Deterministic Testing
//
// Every scenario runs against a fresh in-memory SQLite graph with
// sequential session ids ("session-1", "session-2", ...), so traces are
// reproducible and can be compared to golden files.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/shared_leaf.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(ctx, scenario)
//	if !result.Pass {
//	    for _, msg := range result.Errors {
//	        log.Println(msg)
//	    }
//	}
package harness
