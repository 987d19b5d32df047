// Package config implements the CLI flag surface (§6) and the optional
// --config YAML pre-seed, in the teacher's tools/flags.go style: a long
// name plus an optional shorthand registered on a single flag.FlagSet,
// with defaults the YAML file may override before flag.Parse runs.
package config

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds every knob listed in §6's CLI table plus the ambient
// stack's --config/--silent/--memory-limit-mb extras.
type Config struct {
	Source      []string `yaml:"source"`
	OutDir      string   `yaml:"outdir"`
	Encoding    string   `yaml:"encoding"`
	Method      string   `yaml:"method"`
	ChunkMethod string   `yaml:"chunkMethod"`
	KeepChunks  bool     `yaml:"keepChunks"`
	NoChunking  bool     `yaml:"noChunking"`
	NoIndexing  bool     `yaml:"noIndexing"`
	Attributes  []string `yaml:"attributes"`
	Projection  string   `yaml:"projection"`
	Title       string   `yaml:"title"`
	GeneratePage string  `yaml:"generatePage"`

	MaxPointsPerChunk int    `yaml:"maxPointsPerChunk"`
	MaxPointsPerNode  int    `yaml:"maxPointsPerNode"`
	MemoryLimitMB     int    `yaml:"memoryLimitMB"`
	Silent            bool   `yaml:"silent"`
	ConfigPath        string `yaml:"-"`
}

// Default matches the original's documented defaults for chunk/node
// budgets (several million points per chunk, ten thousand per node).
func Default() Config {
	return Config{
		Encoding:          "DEFAULT",
		Method:            "poisson",
		ChunkMethod:       "LASZIP",
		MaxPointsPerChunk: 4_000_000,
		MaxPointsPerNode:  10_000,
	}
}

// Parse builds a Config from args: a first pass only looks for
// --config so its values can seed flag defaults, then a second pass
// runs the real flag.FlagSet so explicit command-line flags still win.
func Parse(args []string) (Config, error) {
	cfg := Default()

	configPath := scanConfigPath(args)
	if configPath != "" {
		if err := loadYAML(configPath, &cfg); err != nil {
			return cfg, err
		}
		cfg.ConfigPath = configPath
	}

	fs := flag.NewFlagSet("octree_converter", flag.ContinueOnError)

	var source stringList
	fs.Var(&source, "source", "Input files or directories; recurses one level; keeps .las/.laz")
	fs.Var(&source, "i", "shorthand for --source")

	outdir := fs.String("outdir", cfg.OutDir, "Output directory (auto-derived if absent)")
	fs.StringVar(outdir, "o", cfg.OutDir, "shorthand for --outdir")

	encoding := fs.String("encoding", cfg.Encoding, "Per-node encoding: BROTLI or DEFAULT")

	method := fs.String("method", cfg.Method, "Sampler: poisson, poisson_average, or random")
	fs.StringVar(method, "m", cfg.Method, "shorthand for --method")

	chunkMethod := fs.String("chunkMethod", cfg.ChunkMethod, "Chunker backend: LASZIP, LAS_CUSTOM, or SKIP")
	keepChunks := fs.Bool("keep-chunks", cfg.KeepChunks, "Do not delete chunks/ after indexing")
	noChunking := fs.Bool("no-chunking", cfg.NoChunking, "Skip the chunking phase")
	noIndexing := fs.Bool("no-indexing", cfg.NoIndexing, "Skip the indexing phase")

	var attributes stringList
	fs.Var(&attributes, "attributes", "Attribute whitelist (position always implied)")

	projection := fs.String("projection", cfg.Projection, "Stored verbatim in metadata.json")
	generatePage := fs.String("generate-page", cfg.GeneratePage, "Copy the HTML viewer template, nested under pointclouds/<name>/")
	fs.StringVar(generatePage, "p", cfg.GeneratePage, "shorthand for --generate-page")
	title := fs.String("title", cfg.Title, "Viewer page title")

	maxPerChunk := fs.Int("maxPointsPerChunk", cfg.MaxPointsPerChunk, "Chunker target budget")
	maxPerNode := fs.Int("maxPointsPerNode", cfg.MaxPointsPerNode, "Per-node point budget")
	memoryLimit := fs.Int("memory-limit-mb", cfg.MemoryLimitMB, "Memory ceiling in MB; stored in the config, not applied by any pipeline stage")
	silent := fs.Bool("silent", cfg.Silent, "Suppress non-error log output")
	fs.String("config", "", "YAML file pre-seeding flag defaults")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if len(source) > 0 {
		cfg.Source = []string(source)
	}
	cfg.OutDir = *outdir
	cfg.Encoding = strings.ToUpper(*encoding)
	cfg.Method = *method
	cfg.ChunkMethod = *chunkMethod
	cfg.KeepChunks = *keepChunks
	cfg.NoChunking = *noChunking
	cfg.NoIndexing = *noIndexing
	if len(attributes) > 0 {
		cfg.Attributes = []string(attributes)
	}
	cfg.Projection = *projection
	cfg.GeneratePage = *generatePage
	cfg.Title = *title
	cfg.MaxPointsPerChunk = *maxPerChunk
	cfg.MaxPointsPerNode = *maxPerNode
	cfg.MemoryLimitMB = *memoryLimit
	cfg.Silent = *silent

	if len(cfg.Source) == 0 {
		return cfg, fmt.Errorf("config: --source is required")
	}
	return cfg, nil
}

func scanConfigPath(args []string) string {
	for i, a := range args {
		if a == "--config" || a == "-config" {
			if i+1 < len(args) {
				return args[i+1]
			}
		}
		if strings.HasPrefix(a, "--config=") {
			return strings.TrimPrefix(a, "--config=")
		}
	}
	return ""
}

func loadYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return nil
}

// stringList implements flag.Value as a comma-separated or repeated
// string slice flag, the pattern the teacher's boolean/string flag
// helpers generalize for multi-value inputs like --source/--attributes.
type stringList []string

func (s *stringList) String() string {
	return strings.Join(*s, ",")
}

func (s *stringList) Set(v string) error {
	*s = append(*s, strings.Split(v, ",")...)
	return nil
}
