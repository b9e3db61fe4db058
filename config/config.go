package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flashts/flashts/chunk"
	"github.com/flashts/flashts/series"
)

// EngineConfig holds the defaults series.DefaultConfig() would otherwise
// hard-code, so a deployment can tune chunk size / retention / duplicate
// policy without recompiling. One struct per concern, same as the rest of
// this file.
type EngineConfig struct {
	ChunkSize         int    `yaml:"chunk_size"`
	RetentionMs       int64  `yaml:"retention_ms"`
	DuplicatePolicy   string `yaml:"duplicate_policy"`
	MaxWorkers        int    `yaml:"max_workers"`
	EvaluationTimeout time.Duration `yaml:"evaluation_timeout"`
}

// HTTPConfig configures this module's HTTP-only surface (no SQL backend,
// no pull-based scrape targets).
type HTTPConfig struct {
	Address string `yaml:"address"`
}

type LogConfig struct {
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

// Config is the top-level YAML document for the daemon.
type Config struct {
	EngineConfig EngineConfig `yaml:"engine"`
	HTTPConfig   HTTPConfig   `yaml:"http"`
	LogConfig    LogConfig    `yaml:"logs"`
}

var DefaultConfig = Config{
	EngineConfig: EngineConfig{
		ChunkSize:         chunk.DefaultMaxSize,
		RetentionMs:       0,
		DuplicatePolicy:   "LAST",
		MaxWorkers:        0, // 0 means use runtime.GOMAXPROCS(0)
		EvaluationTimeout: 30 * time.Second,
	},
	HTTPConfig: HTTPConfig{
		Address: "0.0.0.0:4201",
	},
	LogConfig: LogConfig{
		LogLevel: "info",
	},
}

// LoadConfig reads and decodes a YAML config file, falling back to
// DefaultConfig's values for anything the file omits.
func LoadConfig(cfgFilePath string) (*Config, error) {
	cfg := DefaultConfig
	file, err := os.Open(cfgFilePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	d := yaml.NewDecoder(file)
	if err := d.Decode(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// SeriesDefaults maps EngineConfig onto series.Config, the shape
// metricsdb.Database's GetOrCreate/Create paths consume.
func (c EngineConfig) SeriesDefaults() series.Config {
	cfg := series.DefaultConfig()
	if c.ChunkSize > 0 {
		cfg.ChunkSize = c.ChunkSize
	}
	cfg.RetentionMs = c.RetentionMs
	if p, err := chunk.ParseDuplicatePolicy(c.DuplicatePolicy); err == nil {
		cfg.DuplicatePolicy = p
	}
	return cfg
}
