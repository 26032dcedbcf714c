package config

// PersistenceConfig controls the cross-run learning store (RunTracker +
// PatternStore).
type PersistenceConfig struct {
	Enabled                 bool    `yaml:"enabled"`
	DatabasePath            string  `yaml:"database_path"`
	MaxPatternsPerInjection int     `yaml:"max_patterns_per_injection"`
	// SimilarityThreshold is the max cosine distance for a pattern to be
	// considered "semantically similar" (0.3, empirically chosen in the
	// source, exposed here as a tunable).
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
}
