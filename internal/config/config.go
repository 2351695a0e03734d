// Package config loads engram configuration from YAML with environment
// overrides. Defaults live in code so a missing config file is not an error.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values. Exposed so tests and docs reference one source of truth.
const (
	DefaultScanCooldown     = 60 * time.Second
	DefaultBatchConcurrency = 8
	DefaultEmbedTimeout     = 30 * time.Second
	DefaultDecayTauDays     = 43.3 // 30-day half-life: tau = 30/ln2
	DefaultWorkingMemoryCap = 200
	DefaultSearchLimit      = 10
	DefaultMinSimilarity    = 0.5
	DefaultCacheSize        = 1024
)

// EmbeddingConfig selects and tunes the embedding provider.
type EmbeddingConfig struct {
	// Provider is "ollama" or "static".
	Provider string `yaml:"provider"`
	// Model is the provider model name, e.g. "nomic-embed-text".
	Model string `yaml:"model"`
	// Endpoint is the provider base URL (ollama only).
	Endpoint string `yaml:"endpoint"`
	// Dimensions is the expected vector dimension. 0 means trust the provider.
	Dimensions int `yaml:"dimensions"`
	// TimeoutSeconds bounds a single embedding call.
	TimeoutSeconds int `yaml:"timeout_seconds"`
	// CacheSize is the LRU entry count for embedding results.
	CacheSize int `yaml:"cache_size"`
	// MaxRetries bounds retry attempts on transient failures.
	MaxRetries int `yaml:"max_retries"`
	// RequestsPerSecond throttles provider calls. 0 disables throttling.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// RetrievalConfig tunes the retrieval engine.
type RetrievalConfig struct {
	// DecayTauDays is the temporal decay constant in days.
	DecayTauDays float64 `yaml:"decay_tau_days"`
	// DefaultLimit is the result count when the caller omits one.
	DefaultLimit int `yaml:"default_limit"`
	// MinSimilarity is the floor for vector matches.
	MinSimilarity float64 `yaml:"min_similarity"`
}

// IndexConfig tunes the write path.
type IndexConfig struct {
	// ScanCooldownSeconds is the minimum gap between index scans.
	ScanCooldownSeconds int `yaml:"scan_cooldown_seconds"`
	// BatchConcurrency bounds files in flight during a scan.
	BatchConcurrency int `yaml:"batch_concurrency"`
	// AllowPartialUpdate stores rows with pending embeddings when the
	// provider fails instead of rolling back.
	AllowPartialUpdate bool `yaml:"allow_partial_update"`
}

// WorkingMemoryConfig tunes per-session attention.
type WorkingMemoryConfig struct {
	// MaxEntries soft-caps entries per session.
	MaxEntries int `yaml:"max_entries"`
	// HotThreshold and WarmThreshold split attention tiers.
	HotThreshold  float64 `yaml:"hot_threshold"`
	WarmThreshold float64 `yaml:"warm_threshold"`
	// CoActivationBoost is added to related memories on activation.
	CoActivationBoost float64 `yaml:"co_activation_boost"`
}

// LogConfig tunes logging output.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Config is the root engram configuration.
type Config struct {
	// DataDir holds the store file, sentinel, lock, and logs.
	DataDir string `yaml:"data_dir"`
	// MemoryRoots are the allowed roots for memory files, relative to the
	// project root.
	MemoryRoots []string `yaml:"memory_roots"`
	// ConstitutionalRoots are the allowed roots for constitutional files.
	ConstitutionalRoots []string `yaml:"constitutional_roots"`

	Embedding     EmbeddingConfig     `yaml:"embedding"`
	Retrieval     RetrievalConfig     `yaml:"retrieval"`
	Index         IndexConfig         `yaml:"index"`
	WorkingMemory WorkingMemoryConfig `yaml:"working_memory"`
	Log           LogConfig           `yaml:"log"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		DataDir:             defaultDataDir(),
		MemoryRoots:         []string{"specs"},
		ConstitutionalRoots: []string{".opencode/skill"},
		Embedding: EmbeddingConfig{
			Provider:       "ollama",
			Model:          "nomic-embed-text",
			Endpoint:       "http://localhost:11434",
			TimeoutSeconds: int(DefaultEmbedTimeout / time.Second),
			CacheSize:      DefaultCacheSize,
			MaxRetries:     3,
		},
		Retrieval: RetrievalConfig{
			DecayTauDays:  DefaultDecayTauDays,
			DefaultLimit:  DefaultSearchLimit,
			MinSimilarity: DefaultMinSimilarity,
		},
		Index: IndexConfig{
			ScanCooldownSeconds: int(DefaultScanCooldown / time.Second),
			BatchConcurrency:    DefaultBatchConcurrency,
		},
		WorkingMemory: WorkingMemoryConfig{
			MaxEntries:        DefaultWorkingMemoryCap,
			HotThreshold:      0.75,
			WarmThreshold:     0.35,
			CoActivationBoost: 0.35,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads path (if it exists), merges it over defaults, applies
// environment overrides, and validates.
func Load(path string) (*Config, error) {
	cfg := New()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Defaults only.
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields from ENGRAM_* environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("ENGRAM_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("ENGRAM_EMBED_PROVIDER"); v != "" {
		c.Embedding.Provider = v
	}
	if v := os.Getenv("ENGRAM_EMBED_MODEL"); v != "" {
		c.Embedding.Model = v
	}
	if v := os.Getenv("ENGRAM_EMBED_ENDPOINT"); v != "" {
		c.Embedding.Endpoint = v
	}
	if v := os.Getenv("ENGRAM_EMBED_DIMENSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Embedding.Dimensions = n
		}
	}
	if v := os.Getenv("ENGRAM_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("ENGRAM_SCAN_COOLDOWN_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Index.ScanCooldownSeconds = n
		}
	}
}

// Validate checks ranges and required fields.
func (c *Config) Validate() error {
	switch c.Embedding.Provider {
	case "ollama", "static":
	default:
		return fmt.Errorf("unknown embedding provider %q", c.Embedding.Provider)
	}
	if c.Embedding.TimeoutSeconds <= 0 {
		c.Embedding.TimeoutSeconds = int(DefaultEmbedTimeout / time.Second)
	}
	if c.Retrieval.DecayTauDays <= 0 {
		c.Retrieval.DecayTauDays = DefaultDecayTauDays
	}
	if c.Retrieval.DefaultLimit <= 0 {
		c.Retrieval.DefaultLimit = DefaultSearchLimit
	}
	if c.Index.BatchConcurrency <= 0 {
		c.Index.BatchConcurrency = DefaultBatchConcurrency
	}
	if c.WorkingMemory.MaxEntries <= 0 {
		c.WorkingMemory.MaxEntries = DefaultWorkingMemoryCap
	}
	if c.WorkingMemory.HotThreshold <= c.WorkingMemory.WarmThreshold {
		return fmt.Errorf("working_memory: hot_threshold must exceed warm_threshold")
	}
	return nil
}

// ScanCooldown returns the scan cooldown as a duration.
func (c *Config) ScanCooldown() time.Duration {
	return time.Duration(c.Index.ScanCooldownSeconds) * time.Second
}

// EmbedTimeout returns the per-call embedding timeout.
func (c *Config) EmbedTimeout() time.Duration {
	return time.Duration(c.Embedding.TimeoutSeconds) * time.Second
}

// defaultDataDir is ~/.engram, falling back to .engram in the working
// directory when the home directory cannot be resolved.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".engram"
	}
	return filepath.Join(home, ".engram")
}
