// Package config holds the orchestrator's configuration tree. One file per
// concern, a DefaultConfig() constructor, and yaml.v3 (de)serialization in
// a struct-of-structs shape.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds all orchestrator configuration.
type Config struct {
	OutputDir string `yaml:"output_dir"`

	Architect    ArchitectConfig    `yaml:"architect"`
	Builder      BuilderConfig      `yaml:"builder"`
	Integration  IntegrationConfig  `yaml:"integration"`
	QualityGate  QualityGateConfig  `yaml:"quality_gate"`
	Persistence  PersistenceConfig  `yaml:"persistence"`
	GraphRAG     GraphRAGConfig     `yaml:"graph_rag"`
	Logging      LoggingConfig      `yaml:"logging"`

	BudgetLimit *float64 `yaml:"budget_limit"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		OutputDir: ".forge/output",

		Architect: ArchitectConfig{
			MaxRetries: 2,
			Timeout:    "300s",
		},
		Builder: BuilderConfig{
			MaxConcurrent: 4,
			Depth:         "standard",
			Timeout:       "1800s",
		},
		Integration: IntegrationConfig{
			TraefikImage:  "traefik:v3.0",
			ComposeTimeout: "180s",
		},
		QualityGate: QualityGateConfig{
			MaxFixRetries: 3,
		},
		Persistence: PersistenceConfig{
			Enabled:                 true,
			MaxPatternsPerInjection: 5,
			DatabasePath:            ".forge/learning.db",
			SimilarityThreshold:     0.3,
		},
		GraphRAG: GraphRAGConfig{
			PageRankDamping:      0.85,
			LouvainSeed:          42,
			CharsPerToken:        4,
			ContextTokenBudget:   2000,
			VectorBatchSize:      300,
			SemanticWeight:       0.6,
			GraphWeight:          0.4,
		},
		Logging: LoggingConfig{
			DebugMode:  false,
			Level:      "info",
			JSONFormat: true,
		},
	}
}

// Load reads a YAML config file, applying defaults for anything left zero.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config back out as YAML, mainly used by `forge init`.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config %s: %w", path, err)
	}
	return nil
}
