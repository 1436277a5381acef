// Package config loads hashcons configuration from YAML.
//
// A file is first checked against an embedded CUE schema, then decoded
// over Default(). Command-line flags override the result.
//
//	backend: badger
//	path: ./atoms
//	dedup: global
//	allocator:
//	  block_size: 1000
//	  partition_bits: 4
//	  partition: 3
//	retry:
//	  attempts: 5
//	  backoff: 10ms
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/hashcons/internal/gen"
	"github.com/roach88/hashcons/internal/graph/badgergraph"
	"github.com/roach88/hashcons/internal/idalloc"
	"github.com/roach88/hashcons/internal/store"
)

//go:embed schema.cue
var schemaSource []byte

// Backend names.
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// Config is the full hashcons configuration.
type Config struct {
	Backend   string          `yaml:"backend" json:"backend"`
	Path      string          `yaml:"path" json:"path"`
	Dedup     string          `yaml:"dedup" json:"dedup"`
	Allocator AllocatorConfig `yaml:"allocator" json:"allocator"`
	Retry     RetryConfig     `yaml:"retry" json:"retry"`
	Generator gen.Options     `yaml:"generator" json:"generator"`
	Badger    BadgerConfig    `yaml:"badger" json:"badger"`
	Metrics   MetricsConfig   `yaml:"metrics" json:"metrics"`
}

// AllocatorConfig configures identity allocation.
type AllocatorConfig struct {
	Namespace     string `yaml:"namespace" json:"namespace"`
	BlockSize     int64  `yaml:"block_size" json:"block_size"`
	PartitionBits uint   `yaml:"partition_bits" json:"partition_bits"`
	Partition     int64  `yaml:"partition" json:"partition"`
	Limit         int64  `yaml:"limit" json:"limit"`
}

// RetryConfig configures retries of conflicting sessions.
type RetryConfig struct {
	Attempts int           `yaml:"attempts" json:"attempts"`
	Backoff  time.Duration `yaml:"backoff" json:"backoff"`
}

// BadgerConfig holds the Badger-only settings.
type BadgerConfig struct {
	SyncWrites     bool          `yaml:"sync_writes" json:"sync_writes"`
	GCInterval     time.Duration `yaml:"gc_interval" json:"gc_interval"`
	GCDiscardRatio float64       `yaml:"gc_discard_ratio" json:"gc_discard_ratio"`
}

// MetricsConfig controls metric export.
type MetricsConfig struct {
	// Textfile, when set, receives the store counters in the Prometheus
	// text format after each command.
	Textfile string `yaml:"textfile" json:"textfile"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	retry := store.DefaultRetryPolicy()
	bc := badgergraph.DefaultConfig("")
	return Config{
		Backend: BackendSQLite,
		Path:    "hashcons.db",
		Dedup:   string(store.DedupGlobal),
		Allocator: AllocatorConfig{
			Namespace: "atoms",
			BlockSize: idalloc.DefaultBlockSize,
		},
		Retry: RetryConfig{
			Attempts: retry.Attempts,
			Backoff:  retry.Backoff,
		},
		Generator: gen.DefaultOptions(),
		Badger: BadgerConfig{
			SyncWrites:     bc.SyncWrites,
			GCInterval:     bc.GCInterval,
			GCDiscardRatio: bc.GCDiscardRatio,
		},
	}
}

// Load reads the file at path. An empty path returns Default().
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse validates data against the schema and decodes it over Default().
// Unknown fields are rejected.
func Parse(data []byte) (Config, error) {
	if err := validate(data); err != nil {
		return Config{}, err
	}

	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// validate checks the raw document against #Config.
func validate(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	if doc == nil {
		return nil
	}
	asJSON, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("config is not a plain mapping: %w", err)
	}

	ctx := cuecontext.New()
	schema := ctx.CompileBytes(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("config schema: %w", err)
	}
	value := ctx.CompileBytes(asJSON, cue.Filename("config"))
	if err := value.Err(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %s", cueerrors.Details(err, nil))
	}
	return nil
}

// Validate checks cross-field constraints the schema cannot express, and
// values set after loading (flags).
func (c Config) Validate() error {
	switch c.Backend {
	case BackendSQLite, BackendBadger:
	default:
		return fmt.Errorf("unknown backend %q: must be %s or %s", c.Backend, BackendSQLite, BackendBadger)
	}
	if c.Path == "" {
		return fmt.Errorf("path is required")
	}
	if _, err := store.ParseDedupScope(c.Dedup); err != nil {
		return err
	}
	if _, err := c.Transform(); err != nil {
		return err
	}
	if c.Retry.Attempts < 1 {
		return fmt.Errorf("retry attempts must be at least 1, got %d", c.Retry.Attempts)
	}
	if err := c.Generator.Validate(); err != nil {
		return fmt.Errorf("generator: %w", err)
	}
	return nil
}

// Transform returns the identity transform the allocator settings describe.
func (c Config) Transform() (idalloc.Transform, error) {
	if c.Allocator.PartitionBits == 0 {
		if c.Allocator.Partition != 0 {
			return nil, fmt.Errorf("partition %d requires partition_bits", c.Allocator.Partition)
		}
		return idalloc.IdentityTransform{}, nil
	}
	p, err := idalloc.NewPartitioned(c.Allocator.PartitionBits, c.Allocator.Partition)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// StoreOptions maps the configuration onto store.Options. Logger,
// Registerer and SessionIDs are left for the caller.
func (c Config) StoreOptions() (store.Options, error) {
	transform, err := c.Transform()
	if err != nil {
		return store.Options{}, err
	}
	return store.Options{
		Dedup: store.DedupScope(c.Dedup),
		Allocator: idalloc.Options{
			Namespace: c.Allocator.Namespace,
			BlockSize: c.Allocator.BlockSize,
			Transform: transform,
			Limit:     c.Allocator.Limit,
		},
		Retry: store.RetryPolicy{
			Attempts: c.Retry.Attempts,
			Backoff:  c.Retry.Backoff,
		},
	}, nil
}

// BadgerGraphConfig returns the Badger settings for c.Path.
func (c Config) BadgerGraphConfig() badgergraph.Config {
	return badgergraph.Config{
		Path:           c.Path,
		SyncWrites:     c.Badger.SyncWrites,
		GCInterval:     c.Badger.GCInterval,
		GCDiscardRatio: c.Badger.GCDiscardRatio,
	}
}
