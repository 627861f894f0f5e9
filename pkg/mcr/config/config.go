// Package config defines the service configuration and its YAML loader.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mcr-lab/mcr/pkg/mcr/internalerr"
)

// Duration is a time.Duration that unmarshals from YAML strings like "5s".
type Duration time.Duration

// Std converts to the standard library type.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalYAML accepts a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Model configures the generative text backend.
type Model struct {
	BaseURL     string   `yaml:"base_url"`
	APIKey      string   `yaml:"api_key"`
	Name        string   `yaml:"name"`
	Temperature float64  `yaml:"temperature"`
	MaxTokens   int      `yaml:"max_tokens"`
	Timeout     Duration `yaml:"timeout"`
}

// Embedding configures the embedding backend. An empty BaseURL disables
// embeddings; dependents then degrade to their default confidence.
type Embedding struct {
	BaseURL   string   `yaml:"base_url"`
	APIKey    string   `yaml:"api_key"`
	Name      string   `yaml:"name"`
	CacheSize int      `yaml:"cache_size"`
	Timeout   Duration `yaml:"timeout"`
}

// Reasoner configures the symbolic engine.
type Reasoner struct {
	QueryTimeout Duration `yaml:"query_timeout"`
	MaxSolutions int      `yaml:"max_solutions"`
}

// Storage configures where sessions and performance records live.
type Storage struct {
	SessionDir string `yaml:"session_dir"`
	PerfDB     string `yaml:"perf_db"`
}

// Router configures strategy routing weights.
type Router struct {
	SuccessWeight      float64 `yaml:"success_weight"`
	LatencyWeight      float64 `yaml:"latency_weight"`
	CostWeight         float64 `yaml:"cost_weight"`
	ExactMatchWeight   float64 `yaml:"exact_match_weight"`
	PartialMatchWeight float64 `yaml:"partial_match_weight"`
}

// Deduction configures confidence-weighted deduction.
type Deduction struct {
	DefaultConfidence float64 `yaml:"default_confidence"`
	Hypotheses        int     `yaml:"hypotheses"`
	Threshold         float64 `yaml:"threshold"`
}

// Refine configures the refinement loop.
type Refine struct {
	MaxIterations int `yaml:"max_iterations"`
}

// Config is the full service configuration.
type Config struct {
	Model     Model     `yaml:"model"`
	Embedding Embedding `yaml:"embedding"`
	Reasoner  Reasoner  `yaml:"reasoner"`
	Storage   Storage   `yaml:"storage"`
	Router    Router    `yaml:"router"`
	Deduction Deduction `yaml:"deduction"`
	Refine    Refine    `yaml:"refine"`
}

// Default returns a working local configuration pointing at an
// OpenAI-compatible server on localhost.
func Default() Config {
	return Config{
		Model: Model{
			BaseURL:     "http://localhost:11434/v1",
			Name:        "llama3.1",
			Temperature: 0.0,
			MaxTokens:   1024,
			Timeout:     Duration(60 * time.Second),
		},
		Embedding: Embedding{
			Name:      "nomic-embed-text",
			CacheSize: 1024,
			Timeout:   Duration(30 * time.Second),
		},
		Reasoner: Reasoner{
			QueryTimeout: Duration(10 * time.Second),
			MaxSolutions: 100,
		},
		Storage: Storage{
			SessionDir: "data/sessions",
			PerfDB:     "data/perf.db",
		},
		Router: Router{
			SuccessWeight:      100,
			LatencyWeight:      10,
			CostWeight:         1,
			ExactMatchWeight:   2,
			PartialMatchWeight: 1,
		},
		Deduction: Deduction{
			DefaultConfidence: 0.9,
			Hypotheses:        3,
			Threshold:         0.7,
		},
		Refine: Refine{
			MaxIterations: 3,
		},
	}
}

// Load reads a YAML config file, applying defaults for anything the file
// leaves unset.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: %v", internalerr.ErrInvalidConfig, err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Model.BaseURL == "" {
		return fmt.Errorf("%w: model.base_url is required", internalerr.ErrInvalidConfig)
	}
	if c.Refine.MaxIterations < 0 {
		return fmt.Errorf("%w: refine.max_iterations must be >= 0", internalerr.ErrInvalidConfig)
	}
	if c.Deduction.Threshold < 0 || c.Deduction.Threshold > 1 {
		return fmt.Errorf("%w: deduction.threshold must be in [0,1]", internalerr.ErrInvalidConfig)
	}
	return nil
}
