package sqlitegraph

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/hashcons/internal/graph"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - Initial property graph schema
const currentSchemaVersion = 1

// Graph is a SQLite-backed graph.Graph.
type Graph struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ graph.Graph = (*Graph)(nil)

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// Path ":memory:" opens a private in-memory database.
func Open(path string, logger *slog.Logger) (*Graph, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time. A single connection also
	// keeps ":memory:" databases alive for the lifetime of the Graph.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	logger.Debug("sqlite graph opened", "path", path, "schema_version", currentSchemaVersion)
	return &Graph{db: db, logger: logger}, nil
}

// Close closes the database connection.
func (g *Graph) Close() error {
	if g.db == nil {
		return nil
	}
	return g.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
func (g *Graph) DB() *sql.DB {
	return g.db
}

// Begin opens a transaction. It blocks while another transaction holds the
// connection.
func (g *Graph) Begin(ctx context.Context) (graph.Tx, error) {
	sqlTx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", classify(err))
	}
	indexes, err := loadIndexes(ctx, sqlTx)
	if err != nil {
		sqlTx.Rollback()
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &Tx{tx: sqlTx, indexes: indexes}, nil
}

// EnsureIndex declares an index and backfills entries for existing vertices.
func (g *Graph) EnsureIndex(ctx context.Context, spec graph.IndexSpec) error {
	if spec.Name == "" || spec.Label == "" || len(spec.Keys) == 0 {
		return fmt.Errorf("ensure index: name, label and keys are required")
	}

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ensure index %q: %w", spec.Name, classify(err))
	}
	defer tx.Rollback()

	existing, found, err := readIndex(ctx, tx, spec.Name)
	if err != nil {
		return fmt.Errorf("ensure index %q: %w", spec.Name, err)
	}
	if found {
		if !existing.Equal(spec) {
			return fmt.Errorf("ensure index %q: %w", spec.Name, graph.ErrIndexMismatch)
		}
		return nil
	}

	keysJSON, err := json.Marshal(spec.Keys)
	if err != nil {
		return fmt.Errorf("ensure index %q: %w", spec.Name, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO graph_indexes (name, label, keys, is_unique)
		VALUES (?, ?, ?, ?)
	`, spec.Name, spec.Label, string(keysJSON), spec.Unique); err != nil {
		return fmt.Errorf("ensure index %q: %w", spec.Name, classify(err))
	}

	n, err := backfill(ctx, tx, spec)
	if err != nil {
		return fmt.Errorf("ensure index %q: %w", spec.Name, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ensure index %q: %w", spec.Name, classify(err))
	}
	g.logger.Debug("index declared", "name", spec.Name, "label", spec.Label, "unique", spec.Unique, "backfilled", n)
	return nil
}

// Index returns a declared index definition.
func (g *Graph) Index(ctx context.Context, name string) (graph.IndexSpec, bool, error) {
	tx, err := g.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return graph.IndexSpec{}, false, fmt.Errorf("index %q: %w", name, classify(err))
	}
	defer tx.Rollback()

	spec, found, err := readIndex(ctx, tx, name)
	if err != nil {
		return graph.IndexSpec{}, false, fmt.Errorf("index %q: %w", name, err)
	}
	return spec, found, nil
}

// backfill writes index entries for every existing vertex with the index label.
func backfill(ctx context.Context, tx *sql.Tx, spec graph.IndexSpec) (int, error) {
	var ids []int64
	rows, err := tx.QueryContext(ctx, `SELECT id FROM vertices WHERE label = ? ORDER BY id ASC`, spec.Label)
	if err != nil {
		return 0, fmt.Errorf("backfill: %w", classify(err))
	}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("backfill: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("backfill: %w", err)
	}
	rows.Close()

	n := 0
	for _, id := range ids {
		props, err := readRawProperties(ctx, tx, id)
		if err != nil {
			return 0, fmt.Errorf("backfill: %w", err)
		}
		ok, err := insertIndexEntry(ctx, tx, spec, id, props)
		if err != nil {
			return 0, fmt.Errorf("backfill vertex %d: %w", id, err)
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
// A database written by a newer schema is refused.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version > currentSchemaVersion {
		return fmt.Errorf("schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (g *Graph) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := g.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

// classify maps SQLite constraint and locking errors onto graph sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrTxDone) || errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %v", graph.ErrClosed, err)
	}
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return err
	}
	switch {
	case se.ExtendedCode == sqlite3.ErrConstraintForeignKey:
		return fmt.Errorf("%w: %v", graph.ErrNotFound, err)
	case se.Code == sqlite3.ErrConstraint, se.Code == sqlite3.ErrBusy, se.Code == sqlite3.ErrLocked:
		return fmt.Errorf("%w: %v", graph.ErrConflict, err)
	}
	return err
}
