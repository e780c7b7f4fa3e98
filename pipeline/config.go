package pipeline

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileConfig is the optional YAML configuration. CLI flags override any
// value set here; zero values defer to built-in defaults.
type FileConfig struct {
	OutputDir string `yaml:"output_dir"`
	Format    string `yaml:"format"`
	Workers   int    `yaml:"workers"`
	// Parallel is a pointer so "unset" is distinguishable from false.
	Parallel  *bool  `yaml:"parallel"`
	HistoryDB string `yaml:"history_db"`
}

// LoadConfig reads and validates a YAML config file.
func LoadConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := &FileConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Workers < 0 {
		return nil, fmt.Errorf("config workers must be >= 0, got %d", cfg.Workers)
	}
	if cfg.Format != "" && cfg.Format != "csv" && cfg.Format != "parquet" {
		return nil, fmt.Errorf("config format %q not supported (csv|parquet)", cfg.Format)
	}
	return cfg, nil
}
