// Package config loads ledger configuration from defaults, an optional YAML
// file and TRACELEDGER_ environment variables, then validates the result
// against an embedded CUE schema.
package config

import (
	_ "embed"
	"fmt"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/roach88/traceledger/internal/graph"
	"github.com/roach88/traceledger/internal/integrity"
	"github.com/roach88/traceledger/internal/lineage"
)

// EnvPrefix prefixes every environment override. A double underscore
// separates nesting levels: TRACELEDGER_DATABASE__PATH sets database.path.
const EnvPrefix = "TRACELEDGER_"

//go:embed schema.cue
var schemaSource string

// Config is the full ledger configuration.
type Config struct {
	Database  Database  `koanf:"database" json:"database"`
	Log       Log       `koanf:"log" json:"log"`
	Integrity Integrity `koanf:"integrity" json:"integrity"`
	Traversal Traversal `koanf:"traversal" json:"traversal"`
	Lineage   Lineage   `koanf:"lineage" json:"lineage"`
	API       API       `koanf:"api" json:"api"`
}

// Database locates the SQLite file.
type Database struct {
	Path         string `koanf:"path" json:"path"`
	MaxOpenConns int    `koanf:"max_open_conns" json:"max_open_conns"`
}

// Log selects the logger level and encoding.
type Log struct {
	Level  string `koanf:"level" json:"level"`
	Format string `koanf:"format" json:"format"`
}

// Integrity tunes background verification. A zero Interval disables the
// scheduled run.
type Integrity struct {
	WindowSize  int64         `koanf:"window_size" json:"window_size"`
	Parallelism int           `koanf:"parallelism" json:"parallelism"`
	Interval    time.Duration `koanf:"interval" json:"interval"`
}

// Traversal bounds graph traces and impact analysis.
type Traversal struct {
	MaxDepthLimit int           `koanf:"max_depth_limit" json:"max_depth_limit"`
	ImpactDepth   int           `koanf:"impact_depth" json:"impact_depth"`
	MaxNodes      int           `koanf:"max_nodes" json:"max_nodes"`
	Timeout       time.Duration `koanf:"timeout" json:"timeout"`
	Thresholds    Thresholds    `koanf:"thresholds" json:"thresholds"`
}

// Thresholds are the impact scope boundaries.
type Thresholds struct {
	Low    int `koanf:"low" json:"low"`
	Medium int `koanf:"medium" json:"medium"`
	High   int `koanf:"high" json:"high"`
}

// Lineage bounds lineage walks.
type Lineage struct {
	MaxDepth int           `koanf:"max_depth" json:"max_depth"`
	MaxNodes int           `koanf:"max_nodes" json:"max_nodes"`
	Timeout  time.Duration `koanf:"timeout" json:"timeout"`
}

// API configures the HTTP listener.
type API struct {
	Addr string `koanf:"addr" json:"addr"`
}

// Default returns the built-in configuration.
func Default() Config {
	g := graph.DefaultOptions()
	return Config{
		Database: Database{Path: "traceledger.db", MaxOpenConns: 4},
		Log:      Log{Level: "info", Format: "json"},
		Integrity: Integrity{
			WindowSize:  integrity.DefaultWindowSize,
			Parallelism: integrity.DefaultParallelism,
			Interval:    time.Hour,
		},
		Traversal: Traversal{
			MaxDepthLimit: g.MaxDepthLimit,
			ImpactDepth:   g.ImpactDepth,
			MaxNodes:      g.MaxNodes,
			Timeout:       g.Timeout,
			Thresholds: Thresholds{
				Low:    g.Thresholds.Low,
				Medium: g.Thresholds.Medium,
				High:   g.Thresholds.High,
			},
		},
		Lineage: Lineage{MaxDepth: 50, MaxNodes: 10_000, Timeout: 5 * time.Second},
		API:     API{Addr: ":8080"},
	}
}

// Load merges the defaults, the YAML file at path (skipped when empty) and
// the environment, in increasing precedence. The returned slice holds every
// schema violation; a nil Config means the sources could not be read.
func Load(path string) (*Config, []error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("load config file %s: %w", path, err)}
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, []error{fmt.Errorf("load environment: %w", err)}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, []error{fmt.Errorf("decode config: %w", err)}
	}
	return &cfg, cfg.Validate()
}

func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

// Validate checks c against the embedded schema.
func (c Config) Validate() []error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return []error{fmt.Errorf("compile config schema: %w", err)}
	}

	val := ctx.Encode(c)
	if err := val.Err(); err != nil {
		return []error{fmt.Errorf("encode config: %w", err)}
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(val)
	err := unified.Validate(cue.Concrete(true), cue.All())
	if err == nil {
		return nil
	}
	var out []error
	for _, e := range cueerrors.Errors(err) {
		out = append(out, fmt.Errorf("config: %s", strings.TrimSpace(e.Error())))
	}
	return out
}

// GraphOptions converts the traversal section.
func (c Config) GraphOptions() graph.Options {
	t := c.Traversal
	return graph.Options{
		MaxDepthLimit: t.MaxDepthLimit,
		ImpactDepth:   t.ImpactDepth,
		MaxNodes:      t.MaxNodes,
		Timeout:       t.Timeout,
		Thresholds: graph.Thresholds{
			Low:    t.Thresholds.Low,
			Medium: t.Thresholds.Medium,
			High:   t.Thresholds.High,
		},
	}
}

// LineageOptions converts the lineage section.
func (c Config) LineageOptions() lineage.Options {
	return lineage.Options{
		MaxDepth: c.Lineage.MaxDepth,
		MaxNodes: c.Lineage.MaxNodes,
		Timeout:  c.Lineage.Timeout,
	}
}

// IntegrityOptions converts the integrity section.
func (c Config) IntegrityOptions() integrity.Options {
	return integrity.Options{
		WindowSize:  c.Integrity.WindowSize,
		Parallelism: c.Integrity.Parallelism,
	}
}
