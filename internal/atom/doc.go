// Package atom defines the content model of the hashcons store.
//
// This package contains types and pure functions only. All other internal
// packages import atom; atom imports nothing internal. This keeps the model
// the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - An Atom is a tagged union over {Leaf, Composite}, dispatched on Kind
//   - Leaf type and value are opaque strings, never normalized
//   - Composite children are referenced by Identity, never by pointer
//   - Identity keys are byte-exact: equal keys mean equal content
package atom
