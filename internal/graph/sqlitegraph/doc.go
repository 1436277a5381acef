// Package sqlitegraph implements graph.Graph on SQLite.
//
// Vertices, properties and edges live in plain tables. Declared indexes are
// materialized in index_entries, whose primary key doubles as the unique
// constraint for unique indexes: a second vertex with the same entry fails
// the insert and surfaces as graph.ErrConflict.
//
// The connection pool is limited to a single connection, so transactions
// from one process are serialized. Each Tx holds that connection until it
// commits or closes; callers must not use the Graph directly while one of
// its transactions is open.
package sqlitegraph
