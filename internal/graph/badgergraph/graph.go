package badgergraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/roach88/hashcons/internal/graph"
)

// Graph is a Badger-backed graph.Graph.
type Graph struct {
	db     *badger.DB
	logger *slog.Logger

	stopGC chan struct{}
	gcDone chan struct{}
	once   sync.Once
}

var _ graph.Graph = (*Graph)(nil)

// Open opens a Badger database with the given configuration. A value log
// GC loop runs when GCInterval is set and the database is on disk.
func Open(cfg Config) (*Graph, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	logger := cfg.Logger
	if logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: logger})
	} else {
		opts = opts.WithLogger(nil)
		logger = slog.New(slog.DiscardHandler)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	g := &Graph{db: db, logger: logger}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		if cfg.GCDiscardRatio <= 0 || cfg.GCDiscardRatio >= 1 {
			db.Close()
			return nil, fmt.Errorf("gc discard ratio must be in (0, 1), got %v", cfg.GCDiscardRatio)
		}
		g.stopGC = make(chan struct{})
		g.gcDone = make(chan struct{})
		go g.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}

	logger.Debug("badger graph opened", "path", cfg.Path, "in_memory", cfg.InMemory)
	return g, nil
}

// Close stops garbage collection and closes the database. Safe to call
// more than once.
func (g *Graph) Close() error {
	var err error
	g.once.Do(func() {
		if g.stopGC != nil {
			close(g.stopGC)
			<-g.gcDone
		}
		err = g.db.Close()
	})
	return err
}

func (g *Graph) runGC(interval time.Duration, ratio float64) {
	defer close(g.gcDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-g.stopGC:
			return
		case <-ticker.C:
			// ErrNoRewrite means no GC was needed.
			if err := g.db.RunValueLogGC(ratio); err == nil {
				g.logger.Debug("badger value log GC completed")
			} else if !errors.Is(err, badger.ErrNoRewrite) {
				g.logger.Warn("badger value log GC error", "error", err)
			}
		}
	}
}

// Begin opens a read-write transaction.
func (g *Graph) Begin(ctx context.Context) (graph.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	txn := g.db.NewTransaction(true)
	indexes, err := loadIndexes(txn)
	if err != nil {
		txn.Discard()
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &Tx{txn: txn, indexes: indexes}, nil
}

// EnsureIndex declares an index and backfills entries for existing vertices.
func (g *Graph) EnsureIndex(ctx context.Context, spec graph.IndexSpec) error {
	if spec.Name == "" || spec.Label == "" || len(spec.Keys) == 0 {
		return fmt.Errorf("ensure index: name, label and keys are required")
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("ensure index %q: %w", spec.Name, err)
	}

	backfilled := 0
	err := g.db.Update(func(txn *badger.Txn) error {
		existing, found, err := readIndex(txn, spec.Name)
		if err != nil {
			return err
		}
		if found {
			if !existing.Equal(spec) {
				return graph.ErrIndexMismatch
			}
			return nil
		}

		raw, err := encMode.Marshal(spec)
		if err != nil {
			return err
		}
		if err := txn.Set(indexKey(spec.Name), raw); err != nil {
			return err
		}

		ids, err := labelIDs(txn, spec.Label)
		if err != nil {
			return err
		}
		for _, id := range ids {
			rec, err := readVertex(txn, id)
			if err != nil {
				return err
			}
			ok, err := putIndexEntry(txn, spec, id, rec.Props)
			if err != nil {
				return fmt.Errorf("backfill vertex %d: %w", id, err)
			}
			if ok {
				backfilled++
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("ensure index %q: %w", spec.Name, classify(err))
	}
	g.logger.Debug("index declared", "name", spec.Name, "label", spec.Label, "unique", spec.Unique, "backfilled", backfilled)
	return nil
}

// Index returns a declared index definition.
func (g *Graph) Index(ctx context.Context, name string) (graph.IndexSpec, bool, error) {
	if err := ctx.Err(); err != nil {
		return graph.IndexSpec{}, false, err
	}
	var (
		spec  graph.IndexSpec
		found bool
	)
	err := g.db.View(func(txn *badger.Txn) error {
		var err error
		spec, found, err = readIndex(txn, name)
		return err
	})
	if err != nil {
		return graph.IndexSpec{}, false, fmt.Errorf("index %q: %w", name, classify(err))
	}
	return spec, found, nil
}

func readIndex(txn *badger.Txn, name string) (graph.IndexSpec, bool, error) {
	item, err := txn.Get(indexKey(name))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return graph.IndexSpec{}, false, nil
	}
	if err != nil {
		return graph.IndexSpec{}, false, err
	}
	var spec graph.IndexSpec
	err = item.Value(func(val []byte) error {
		return decMode.Unmarshal(val, &spec)
	})
	if err != nil {
		return graph.IndexSpec{}, false, fmt.Errorf("decode index %q: %w", name, err)
	}
	return spec, true, nil
}

func loadIndexes(txn *badger.Txn) ([]graph.IndexSpec, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefixIndex)
	it := txn.NewIterator(opts)
	defer it.Close()

	indexes := []graph.IndexSpec{}
	for it.Rewind(); it.Valid(); it.Next() {
		var spec graph.IndexSpec
		err := it.Item().Value(func(val []byte) error {
			return decMode.Unmarshal(val, &spec)
		})
		if err != nil {
			return nil, fmt.Errorf("decode index: %w", err)
		}
		indexes = append(indexes, spec)
	}
	return indexes, nil
}

// classify maps Badger errors onto graph sentinels.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrConflict):
		return fmt.Errorf("%w: %v", graph.ErrConflict, err)
	case errors.Is(err, badger.ErrDiscardedTxn), errors.Is(err, badger.ErrDBClosed):
		return fmt.Errorf("%w: %v", graph.ErrClosed, err)
	}
	return err
}
