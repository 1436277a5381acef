package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/hashcons/internal/config"
	"github.com/roach88/hashcons/internal/graph"
	"github.com/roach88/hashcons/internal/graph/badgergraph"
	"github.com/roach88/hashcons/internal/graph/sqlitegraph"
	"github.com/roach88/hashcons/internal/store"
)

// backend is an open graph with a store on top.
type backend struct {
	graph    graph.Graph
	store    *store.Store
	registry *prometheus.Registry
	textfile string
}

// openBackend opens the configured graph and store.
func openBackend(ctx context.Context, opts *RootOptions) (*backend, error) {
	cfg := opts.Config
	logger := opts.Logger

	g, err := openGraph(cfg, opts)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	storeOpts, err := cfg.StoreOptions()
	if err != nil {
		g.Close()
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	registry := prometheus.NewRegistry()
	storeOpts.Logger = logger
	storeOpts.Registerer = registry
	storeOpts.SessionIDs = opts.SessionIDs

	st, err := store.Open(ctx, g, storeOpts)
	if err != nil {
		g.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}

	logger.Debug("store ready", "backend", cfg.Backend, "path", cfg.Path, "dedup", st.Dedup())
	return &backend{
		graph:    g,
		store:    st,
		registry: registry,
		textfile: cfg.Metrics.Textfile,
	}, nil
}

func openGraph(cfg config.Config, opts *RootOptions) (graph.Graph, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		g, err := sqlitegraph.Open(cfg.Path, opts.Logger)
		if err != nil {
			return nil, err
		}
		return g, nil
	case config.BackendBadger:
		bc := cfg.BadgerGraphConfig()
		bc.Logger = opts.Logger
		g, err := badgergraph.Open(bc)
		if err != nil {
			return nil, err
		}
		return g, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// Close writes the metrics textfile, if configured, and closes the graph.
func (b *backend) Close() error {
	var errs []error
	if b.textfile != "" {
		if err := prometheus.WriteToTextfile(b.textfile, b.registry); err != nil {
			errs = append(errs, fmt.Errorf("write metrics: %w", err))
		}
	}
	if err := b.graph.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close graph: %w", err))
	}
	return errors.Join(errs...)
}

// closeBackend closes b, logging instead of failing the command.
func closeBackend(b *backend, opts *RootOptions) {
	if err := b.Close(); err != nil {
		opts.Logger.Error("error closing database", "error", err)
	}
}
