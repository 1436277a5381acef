// Package graph defines the substrate contract the atom store is built on:
// labelled vertices with typed properties, labelled edges, composite
// property indexes and transactions.
//
// Implementations live in subpackages:
//   - sqlitegraph: SQLite via mattn/go-sqlite3
//   - badgergraph: Badger key-value store
//
// # Transactions
//
// Every read and write goes through a Tx. A Tx must provide
// read-your-writes: a vertex created in a Tx is returned by later
// QueryVertices calls on the same Tx. Visibility to other transactions
// before Commit is implementation-defined. Close without Commit discards
// all writes of the Tx, including identity block reservations.
//
// # Unique indexes
//
// A unique IndexSpec rejects a second vertex with the same indexed values
// with ErrConflict, either at CreateVertex or at Commit. This is the
// primitive that keeps concurrent get-or-create calls from creating two
// vertices for one key.
package graph
