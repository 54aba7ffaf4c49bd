package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for docbot.
type Config struct {
	Chunk      ChunkConfig      `yaml:"chunk"`
	Index      IndexConfig      `yaml:"index"`
	Retrieve   RetrieveConfig   `yaml:"retrieve"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Generation GenerationConfig `yaml:"generation"`
	Synthesis  SynthesisConfig  `yaml:"synthesis"`
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ChunkConfig controls how raw text is split into passages.
type ChunkConfig struct {
	MinChars          int     `yaml:"min_chars"`
	MaxChars          int     `yaml:"max_chars"`
	OverlapFraction   float64 `yaml:"overlap_fraction"`
	ParagraphsPerPage int     `yaml:"paragraphs_per_page"`
}

// IndexConfig holds ingestion configuration.
type IndexConfig struct {
	Includes         []string `yaml:"includes"`
	Excludes         []string `yaml:"excludes"`
	EmbedConcurrency int      `yaml:"embed_concurrency"`
}

// RetrieveConfig holds retrieval configuration.
type RetrieveConfig struct {
	TopK         int `yaml:"top_k"`
	CacheSize    int `yaml:"cache_size"`
	CacheTTLSecs int `yaml:"cache_ttl_secs"`
}

// EmbeddingConfig holds embedding configuration.
type EmbeddingConfig struct {
	Provider          string  `yaml:"provider"` // "local", "openai", "ollama", "jina"
	Model             string  `yaml:"model"`
	BaseURL           string  `yaml:"base_url"`
	APIKeyEnv         string  `yaml:"api_key_env"`
	Dimension         int     `yaml:"dimension"`
	BatchSize         int     `yaml:"batch_size"`
	TimeoutSecs       int     `yaml:"timeout_secs"`
	MaxRetries        int     `yaml:"max_retries"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// GenerationConfig holds the generative model configuration.
type GenerationConfig struct {
	Provider    string  `yaml:"provider"` // "openai", "huggingface", "deepseek", "ollama"
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	TimeoutSecs int     `yaml:"timeout_secs"`
	MaxRetries  int     `yaml:"max_retries"`
	// BreakerFailures is the number of consecutive failures that opens the
	// circuit breaker.
	BreakerFailures  int `yaml:"breaker_failures"`
	BreakerResetSecs int `yaml:"breaker_reset_secs"`
}

// SynthesisConfig holds prompt configuration.
type SynthesisConfig struct {
	TemplatePath    string `yaml:"template_path"` // empty uses the built-in prompt
	MaxContextChars int    `yaml:"max_context_chars"`
}

// ServerConfig holds the HTTP adapter configuration.
type ServerConfig struct {
	Addr             string `yaml:"addr"`
	ReadTimeoutSecs  int    `yaml:"read_timeout_secs"`
	WriteTimeoutSecs int    `yaml:"write_timeout_secs"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" or "json"
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Chunk: ChunkConfig{
			MinChars:          20,
			MaxChars:          500,
			OverlapFraction:   0.1,
			ParagraphsPerPage: 5,
		},
		Index: IndexConfig{
			Includes:         []string{"**/*.txt", "**/*.md"},
			Excludes:         []string{"**/.git/**", "**/.docbot/**", "**/node_modules/**"},
			EmbedConcurrency: 4,
		},
		Retrieve: RetrieveConfig{
			TopK:         5,
			CacheSize:    100,
			CacheTTLSecs: 300,
		},
		Embedding: EmbeddingConfig{
			Provider:          "local",
			Model:             "hashing-v1",
			APIKeyEnv:         "OPENAI_API_KEY",
			Dimension:         512,
			BatchSize:         64,
			TimeoutSecs:       60,
			MaxRetries:        3,
			RequestsPerSecond: 5,
		},
		Generation: GenerationConfig{
			Provider:         "openai",
			Model:            "gpt-4o-mini",
			APIKeyEnv:        "OPENAI_API_KEY",
			MaxTokens:        512,
			Temperature:      0.2,
			TimeoutSecs:      60,
			MaxRetries:       2,
			BreakerFailures:  5,
			BreakerResetSecs: 30,
		},
		Synthesis: SynthesisConfig{
			MaxContextChars: 4000,
		},
		Server: ServerConfig{
			Addr:             ":8080",
			ReadTimeoutSecs:  30,
			WriteTimeoutSecs: 120,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Return defaults if no config file
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// LoadFromDir loads configuration from a directory (looks for docbot.yaml).
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, "docbot.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	path = filepath.Join(dir, ".docbot", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	return DefaultConfig(), nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Chunk.MinChars < 0 {
		return fmt.Errorf("chunk.min_chars must not be negative")
	}
	if c.Chunk.MaxChars <= c.Chunk.MinChars {
		return fmt.Errorf("chunk.max_chars (%d) must exceed chunk.min_chars (%d)", c.Chunk.MaxChars, c.Chunk.MinChars)
	}
	if c.Chunk.OverlapFraction < 0 || c.Chunk.OverlapFraction >= 0.5 {
		return fmt.Errorf("chunk.overlap_fraction must be in [0, 0.5)")
	}
	if c.Chunk.ParagraphsPerPage < 1 {
		return fmt.Errorf("chunk.paragraphs_per_page must be positive")
	}
	if c.Retrieve.TopK < 1 {
		return fmt.Errorf("retrieve.top_k must be positive")
	}
	if c.Embedding.Dimension < 1 {
		return fmt.Errorf("embedding.dimension must be positive")
	}
	if c.Embedding.MaxRetries < 0 || c.Generation.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	return nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Seconds converts a *_secs setting into a duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// IndexDBPath returns the path to the index database.
func IndexDBPath(dir string) string {
	return filepath.Join(dir, ".docbot", "index.db")
}

// EnsureDataDir ensures the .docbot directory exists.
func EnsureDataDir(dir string) error {
	return os.MkdirAll(filepath.Join(dir, ".docbot"), 0755)
}
