// Package gen produces random atom trees for load and smoke testing.
//
// Trees are drawn from a seeded generator, so a given Options value always
// yields the same sequence. Leaf types are "Leaf<n>", composite types
// "Node<n>" and leaf values "Value<n>".
package gen

import (
	"fmt"
	"iter"
	"math/rand/v2"

	"github.com/roach88/hashcons/internal/atom"
)

// DefaultSeed seeds generators that do not set one.
const DefaultSeed = 42

// Options bounds the generated trees.
type Options struct {
	// Types is the number of distinct leaf and composite type names.
	Types int `yaml:"types" json:"types"`

	// Values is the number of distinct leaf values.
	Values int `yaml:"values" json:"values"`

	// Width is the maximum number of children of a composite.
	Width int `yaml:"width" json:"width"`

	// Height is the maximum distance from a root to a leaf.
	Height int `yaml:"height" json:"height"`

	// Elements is the number of trees to generate.
	Elements int `yaml:"elements" json:"elements"`

	// Seed seeds the random source. Zero means DefaultSeed.
	Seed uint64 `yaml:"seed" json:"seed"`
}

// DefaultOptions returns small bounds that still produce sharing.
func DefaultOptions() Options {
	return Options{
		Types:    3,
		Values:   3,
		Width:    3,
		Height:   3,
		Elements: 100,
		Seed:     DefaultSeed,
	}
}

// Validate checks that every bound is usable.
func (o Options) Validate() error {
	switch {
	case o.Types < 1:
		return fmt.Errorf("types must be at least 1, got %d", o.Types)
	case o.Values < 1:
		return fmt.Errorf("values must be at least 1, got %d", o.Values)
	case o.Width < 1:
		return fmt.Errorf("width must be at least 1, got %d", o.Width)
	case o.Height < 0:
		return fmt.Errorf("height must be non-negative, got %d", o.Height)
	case o.Elements < 0:
		return fmt.Errorf("elements must be non-negative, got %d", o.Elements)
	}
	return nil
}

// Generator draws random trees. Not safe for concurrent use.
type Generator struct {
	opts Options
	rnd  *rand.Rand
}

// New creates a generator. Returns an error if opts is invalid.
func New(opts Options) (*Generator, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.Seed == 0 {
		opts.Seed = DefaultSeed
	}
	return &Generator{
		opts: opts,
		rnd:  rand.New(rand.NewPCG(opts.Seed, opts.Seed)),
	}, nil
}

// Options returns the bounds the generator was created with.
func (g *Generator) Options() Options {
	return g.opts
}

// Next returns a fresh random tree.
func (g *Generator) Next() *atom.Tree {
	return g.node(g.opts.Width, g.opts.Height)
}

// Trees yields Elements trees.
func (g *Generator) Trees() iter.Seq[*atom.Tree] {
	return func(yield func(*atom.Tree) bool) {
		for i := 0; i < g.opts.Elements; i++ {
			if !yield(g.Next()) {
				return
			}
		}
	}
}

// All returns Elements trees as a slice.
func (g *Generator) All() []*atom.Tree {
	trees := make([]*atom.Tree, 0, g.opts.Elements)
	for t := range g.Trees() {
		trees = append(trees, t)
	}
	return trees
}

// node draws a tree of at most the given width and depth. A composite picks
// its own width and depth below those bounds and passes them to its
// children, so siblings share a shape budget. Recursion is bounded by
// Options.Height.
func (g *Generator) node(width, depth int) *atom.Tree {
	if depth == 0 {
		typ := g.name("Leaf", g.opts.Types)
		return atom.LeafTree(typ, g.name("Value", g.opts.Values))
	}

	w := g.rnd.IntN(width) + 1
	d := g.rnd.IntN(depth) + 1

	children := make([]*atom.Tree, w)
	for i := range children {
		children[i] = g.node(w, d-1)
	}
	return atom.CompositeTree(g.name("Node", g.opts.Types), children...)
}

func (g *Generator) name(prefix string, n int) string {
	return fmt.Sprintf("%s%d", prefix, g.rnd.IntN(n))
}
