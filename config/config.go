// Package config loads the substrate configuration from YAML, overlaying a
// file on top of built-in defaults. A missing file is not an error; invalid
// YAML or invalid values are.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/locilabs/loci/coordinator"
	"github.com/locilabs/loci/core"
	"github.com/locilabs/loci/isolation"
	"github.com/locilabs/loci/offload"
)

// EmbedderConfig selects and configures the embedding backend.
type EmbedderConfig struct {
	// Kind is "mock" or "onnx".
	Kind string `yaml:"kind"`

	// ONNX model files, used when Kind is "onnx".
	ModelPath     string `yaml:"model_path"`
	TokenizerPath string `yaml:"tokenizer_path"`
	LibraryPath   string `yaml:"library_path"`
}

// StoreConfig selects and configures the blob storage backend.
type StoreConfig struct {
	// Kind is "memory" or "sqlite".
	Kind string `yaml:"kind"`

	// Path is the SQLite database file, used when Kind is "sqlite".
	Path string `yaml:"path"`
}

// SummarizerConfig selects and configures the summarization backend.
type SummarizerConfig struct {
	// Kind is "extractive" or "claude".
	Kind string `yaml:"kind"`

	// MaxSentences bounds extractive summaries.
	MaxSentences int `yaml:"max_sentences"`

	// Model and MaxTokens apply when Kind is "claude".
	Model     string `yaml:"model"`
	MaxTokens int64  `yaml:"max_tokens"`
}

// Config is the full substrate configuration.
type Config struct {
	Isolation   isolation.Options  `yaml:"isolation"`
	Offload     offload.Config     `yaml:"offload"`
	Coordinator coordinator.Config `yaml:"coordinator"`
	Embedder    EmbedderConfig     `yaml:"embedder"`
	Store       StoreConfig        `yaml:"store"`
	Summarizer  SummarizerConfig   `yaml:"summarizer"`
}

// Default returns the built-in configuration: in-memory storage, mock
// embedder, extractive summarizer, federation off.
func Default() *Config {
	return &Config{
		Isolation:   isolation.Options{},
		Offload:     offload.DefaultConfig(),
		Coordinator: coordinator.DefaultConfig(),
		Embedder:    EmbedderConfig{Kind: "mock"},
		Store:       StoreConfig{Kind: "memory"},
		Summarizer:  SummarizerConfig{Kind: "extractive", MaxSentences: 3},
	}
}

// Load reads configuration from a YAML file. Empty path falls back to
// ~/.loci/config.yaml. Missing file returns defaults. Invalid YAML or
// invalid values return an error.
func Load(path string) (*Config, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Default(), nil
		}
		path = filepath.Join(home, ".loci", "config.yaml")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Start with defaults; YAML overwrites only specified fields.
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot produce a working substrate.
func (c *Config) Validate() error {
	if c.Offload.RelevanceThreshold < 0 || c.Offload.RelevanceThreshold > 1 {
		return fmt.Errorf("%w: offload relevance_threshold %.2f outside [0,1]",
			core.ErrInvalidConfig, c.Offload.RelevanceThreshold)
	}
	if c.Offload.QuarantineThreshold < 0 || c.Offload.QuarantineThreshold > 1 {
		return fmt.Errorf("%w: offload quarantine_threshold %.2f outside [0,1]",
			core.ErrInvalidConfig, c.Offload.QuarantineThreshold)
	}
	if c.Coordinator.MaxTenants < 0 {
		return fmt.Errorf("%w: coordinator max_tenants must not be negative", core.ErrInvalidConfig)
	}
	w := c.Coordinator.FederationWeights
	if w.SourceCount < 0 || w.AvgRelevance < 0 {
		return fmt.Errorf("%w: federation weights must not be negative", core.ErrInvalidConfig)
	}

	switch c.Embedder.Kind {
	case "mock":
	case "onnx":
		if c.Embedder.ModelPath == "" || c.Embedder.TokenizerPath == "" {
			return fmt.Errorf("%w: onnx embedder requires model_path and tokenizer_path", core.ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown embedder kind %q", core.ErrInvalidConfig, c.Embedder.Kind)
	}

	switch c.Store.Kind {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("%w: sqlite store requires a path", core.ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store kind %q", core.ErrInvalidConfig, c.Store.Kind)
	}

	switch c.Summarizer.Kind {
	case "extractive", "claude":
	default:
		return fmt.Errorf("%w: unknown summarizer kind %q", core.ErrInvalidConfig, c.Summarizer.Kind)
	}

	// Federation must be consistent between the isolator and the
	// coordinator, or shared-path checks would disagree with registration.
	if c.Coordinator.FederationEnabled != c.Isolation.FederationEnabled {
		return fmt.Errorf("%w: federation_enabled must match between isolation and coordinator", core.ErrInvalidConfig)
	}
	return nil
}
