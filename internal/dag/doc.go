// Package dag turns trees into hash-consed DAGs and back.
//
// Builder.Resolve walks a tree in postorder, children left to right, and
// asks a Resolver (normally a store.Session) for the identity of every
// node. Identical subtrees resolve to the same identity, so a tree with
// repeated structure is stored as a DAG.
//
// Both directions use explicit stacks, so input depth is bounded by
// memory, not by the goroutine stack.
package dag
