package store

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "hashcons"

// Metrics holds the store's Prometheus counters.
type Metrics struct {
	// AtomsCreated counts atoms written to the substrate.
	// Labels: kind (Leaf, Composite)
	AtomsCreated *prometheus.CounterVec

	// DedupHits counts get-or-create calls answered with an existing atom.
	// Labels: kind (Leaf, Composite)
	DedupHits *prometheus.CounterVec

	// EdgesCreated counts composite-to-child edges written.
	EdgesCreated prometheus.Counter

	// Sessions counts finished sessions.
	// Labels: outcome (committed, aborted, failed)
	Sessions *prometheus.CounterVec
}

// Session outcomes.
const (
	OutcomeCommitted = "committed"
	OutcomeAborted   = "aborted"
	OutcomeFailed    = "failed"
)

// NewMetrics creates the store counters and registers them on reg. A nil
// reg leaves them unregistered. Collectors already registered by another
// store on the same registry are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		AtomsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "atoms_created_total",
			Help:      "Atoms written to the substrate, by kind.",
		}, []string{"kind"}),
		DedupHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "dedup_hits_total",
			Help:      "Get-or-create calls resolved to an existing atom, by kind.",
		}, []string{"kind"}),
		EdgesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "edges_created_total",
			Help:      "Composite-to-child edges written to the substrate.",
		}),
		Sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_total",
			Help:      "Finished sessions, by outcome.",
		}, []string{"outcome"}),
	}
	if reg == nil {
		return m, nil
	}

	var err error
	if m.AtomsCreated, err = register(reg, m.AtomsCreated); err != nil {
		return nil, err
	}
	if m.DedupHits, err = register(reg, m.DedupHits); err != nil {
		return nil, err
	}
	if m.EdgesCreated, err = register(reg, m.EdgesCreated); err != nil {
		return nil, err
	}
	if m.Sessions, err = register(reg, m.Sessions); err != nil {
		return nil, err
	}
	return m, nil
}

// register adds c to reg, returning the collector already registered
// under the same descriptor if there is one.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register metrics: %w", err)
	}
	return c, nil
}
