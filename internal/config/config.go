// Package config loads and saves engine configuration from config.toml
// (kept YAML-encoded per the teacher project's convention; the file extension
// is cosmetic, the decoder is gopkg.in/yaml.v3).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all engine configuration (spec.md §6).
type Config struct {
	DataDir       string              `yaml:"data_dir"`
	Storage       StorageConfig       `yaml:"storage"`
	Cache         CacheConfig         `yaml:"cache"`
	Reparse       ReparseConfig       `yaml:"reparse"`
	Consolidation ConsolidationConfig `yaml:"consolidation"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	Import        ImportConfig        `yaml:"import"`
	Logging       LoggingConfig       `yaml:"logging"`
	Episodic      EpisodicConfig      `yaml:"episodic"`
}

// ConnectionMode enumerates how the Storage Core reaches its backing file.
type ConnectionMode string

const (
	ConnectionModeMemory         ConnectionMode = "memory"
	ConnectionModeLocalFile      ConnectionMode = "local_file"
	ConnectionModeRemoteEndpoint ConnectionMode = "remote_endpoint"
)

// RetryPolicy configures exponential backoff for transient pool failures.
type RetryPolicy struct {
	Attempts       int           `yaml:"attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	Multiplier     float64       `yaml:"multiplier"`
}

// PoolConfig configures the storage connection pool (spec.md §4.1).
type PoolConfig struct {
	Min               int           `yaml:"min"`
	Max               int           `yaml:"max"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	MaxLifetime       time.Duration `yaml:"max_lifetime"`
	Retry             RetryPolicy   `yaml:"retry"`
	ShutdownGracePeriod time.Duration `yaml:"shutdown_grace_period"`
}

// StorageConfig configures the Storage Core.
type StorageConfig struct {
	ConnectionMode ConnectionMode `yaml:"connection_mode"`
	Path           string         `yaml:"path"`
	Namespace      string         `yaml:"namespace"`
	Database       string         `yaml:"database"`
	Pool           PoolConfig     `yaml:"pool"`
	RequireVectorExt bool         `yaml:"require_vector_ext"`
}

// CacheConfig configures working memory.
type CacheConfig struct {
	Enabled  bool          `yaml:"enabled"`
	TTL      time.Duration `yaml:"ttl"`
	MaxBytes int64         `yaml:"max_bytes"`
	MaxItems int           `yaml:"max_items"`
}

// ReparseConfig configures the background reparse worker (spec.md §4.5).
type ReparseConfig struct {
	Enabled            bool          `yaml:"enabled"`
	DebounceMs         int           `yaml:"debounce_ms"`
	MaxPendingChanges  int           `yaml:"max_pending_changes"`
	BackgroundParsing  bool          `yaml:"background_parsing"`
	Workers            int           `yaml:"workers"`
}

// Debounce returns the configured debounce window as a duration.
func (r ReparseConfig) Debounce() time.Duration {
	return time.Duration(r.DebounceMs) * time.Millisecond
}

// ConsolidationConfig configures periodic consolidation and decay (spec.md §4.4.5).
type ConsolidationConfig struct {
	IntervalSecs       int     `yaml:"interval_secs"`
	DecayRateLambda    float64 `yaml:"decay_rate_lambda"`
	ForgetThreshold    float64 `yaml:"forget_threshold"`
	PatternMinCluster  int     `yaml:"pattern_min_cluster"`
}

// Interval returns the configured tick interval as a duration.
func (c ConsolidationConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSecs) * time.Second
}

// EmbeddingProviderName enumerates supported embedding backends (spec.md §6).
// The engine only depends on the embedding.Engine interface; concrete HTTP
// clients for these providers are external collaborators (spec.md §1).
type EmbeddingProviderName string

const (
	EmbeddingProviderOpenAI EmbeddingProviderName = "openai"
	EmbeddingProviderOllama EmbeddingProviderName = "ollama"
	EmbeddingProviderONNX   EmbeddingProviderName = "onnx"
	EmbeddingProviderMock   EmbeddingProviderName = "mock"
)

// ProviderEndpoint configures one embedding provider.
type ProviderEndpoint struct {
	Name      EmbeddingProviderName `yaml:"name"`
	Endpoint  string                `yaml:"endpoint"`
	APIKey    string                `yaml:"api_key"`
	Model     string                `yaml:"model"`
	Dimension int                   `yaml:"dimension"`
}

// EmbeddingConfig configures the embedding provider manager.
type EmbeddingConfig struct {
	Primary        EmbeddingProviderName `yaml:"primary"`
	Fallbacks      []EmbeddingProviderName `yaml:"fallbacks,omitempty"`
	Providers      []ProviderEndpoint    `yaml:"providers,omitempty"`
	RequestTimeout time.Duration         `yaml:"request_timeout"`
}

// ImportConfig configures bulk directory import into a workspace (spec.md §4.2).
type ImportConfig struct {
	RespectGitignore bool     `yaml:"respect_gitignore"`
	FollowLinks      bool     `yaml:"follow_links"`
	IncludePatterns  []string `yaml:"include_patterns,omitempty"`
	ExcludePatterns  []string `yaml:"exclude_patterns,omitempty"`
	MaxDepth         int      `yaml:"max_depth"`
}

// LoggingConfig configures categorized logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories,omitempty"`
	Level      string          `yaml:"level"`
}

// EpisodicConfig configures episode search ranking (spec.md §4.4.2, Open Question).
// The exact ranking weights are unspecified in source; this module picks a
// stable, documented scheme and exposes the weights as configuration.
type EpisodicConfig struct {
	TextMatchWeight   float64 `yaml:"text_match_weight"`
	RecencyWeight     float64 `yaml:"recency_weight"`
	ImportanceWeight  float64 `yaml:"importance_weight"`
	AccessCountWeight float64 `yaml:"access_count_weight"`
}

// DefaultConfig returns the engine's default configuration.
func DefaultConfig() *Config {
	return &Config{
		DataDir: ".engine",
		Storage: StorageConfig{
			ConnectionMode: ConnectionModeLocalFile,
			Path:           ".engine/db/engine.sqlite",
			Namespace:      "default",
			Database:       "engine",
			Pool: PoolConfig{
				Min:            1,
				Max:            8,
				ConnectTimeout: 5 * time.Second,
				IdleTimeout:    5 * time.Minute,
				MaxLifetime:    1 * time.Hour,
				Retry: RetryPolicy{
					Attempts:       5,
					InitialBackoff: 50 * time.Millisecond,
					MaxBackoff:     2 * time.Second,
					Multiplier:     2.0,
				},
				ShutdownGracePeriod: 5 * time.Second,
			},
			RequireVectorExt: false,
		},
		Cache: CacheConfig{
			Enabled:  true,
			TTL:      30 * time.Minute,
			MaxBytes: 8 * 1024 * 1024,
			MaxItems: 10000,
		},
		Reparse: ReparseConfig{
			Enabled:           true,
			DebounceMs:        500,
			MaxPendingChanges: 200,
			BackgroundParsing: true,
			Workers:           4,
		},
		Consolidation: ConsolidationConfig{
			IntervalSecs:      900,
			DecayRateLambda:   0.02,
			ForgetThreshold:   0.05,
			PatternMinCluster: 5,
		},
		Embedding: EmbeddingConfig{
			Primary:        EmbeddingProviderMock,
			Fallbacks:      nil,
			RequestTimeout: 30 * time.Second,
		},
		Import: ImportConfig{
			RespectGitignore: true,
			FollowLinks:      false,
			MaxDepth:         0,
		},
		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
		Episodic: EpisodicConfig{
			TextMatchWeight:   0.45,
			RecencyWeight:     0.2,
			ImportanceWeight:  0.25,
			AccessCountWeight: 0.1,
		},
	}
}

// Load reads configuration from path, falling back to defaults for any field
// absent from the file. A missing file is not an error; DefaultConfig() is
// returned unchanged.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the configuration to path as YAML.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}
