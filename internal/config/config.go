// Package config provides configuration management for Engram.
// It builds a single Config struct once at process start from environment
// variables with the ENGRAM_ prefix, optionally overlaid by a YAML file,
// and passes it by reference; configuration is never re-read ad hoc.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings for the Engram engine.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	LLM       LLMConfig       `yaml:"llm"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Compact   CompactConfig   `yaml:"compaction"`
	Security  SecurityConfig  `yaml:"security"`
}

// ServerConfig contains HTTP API server configuration.
type ServerConfig struct {
	Port int    `yaml:"port"` // Server port (default: 7474)
	Host string `yaml:"host"` // Server host (default: 127.0.0.1)
}

// StorageConfig contains database configuration.
type StorageConfig struct {
	// Engine selects the backend: "postgres" (pgvector, server-side vector
	// search) or "sqlite" (embedded, in-process similarity). Default: sqlite.
	Engine string `yaml:"engine"`

	// PostgresDSN is the connection string for the postgres backend.
	PostgresDSN string `yaml:"postgres_dsn"`

	// SQLitePath is the database file path for the sqlite backend.
	SQLitePath string `yaml:"sqlite_path"`
}

// LLMConfig contains chat-completion and embedding provider configuration.
type LLMConfig struct {
	Provider        string `yaml:"provider"`          // ollama, openai, anthropic (default: ollama)
	OllamaURL       string `yaml:"ollama_url"`        // Ollama API URL (default: http://localhost:11434)
	OllamaModel     string `yaml:"ollama_model"`      // Ollama completion model (default: qwen2.5:7b)
	OpenAIAPIKey    string `yaml:"openai_api_key"`    // OpenAI API key
	OpenAIModel     string `yaml:"openai_model"`      // OpenAI completion model (default: gpt-4o-mini)
	AnthropicAPIKey string `yaml:"anthropic_api_key"` // Anthropic API key
	AnthropicModel  string `yaml:"anthropic_model"`   // Anthropic model (default: claude-3-5-sonnet-20241022)

	// EmbeddingModel is the embedding model name. OpenAI's
	// text-embedding-3-small natively produces 1536-dimension vectors;
	// other models must be configured to match.
	EmbeddingModel string `yaml:"embedding_model"`

	// InteractiveTimeout bounds outbound calls on the retrieval path.
	InteractiveTimeout time.Duration `yaml:"interactive_timeout"`

	// BatchTimeout bounds outbound calls during consolidation and compaction.
	BatchTimeout time.Duration `yaml:"batch_timeout"`
}

// RetrievalConfig tunes the read path.
type RetrievalConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold"` // Vector search floor (default: 0.6)
	PerQueryLimit       int     `yaml:"per_query_limit"`      // Results per synthesized query (default: 5)
	DefaultLimit        int     `yaml:"default_limit"`        // Final result cap (default: 5)
	EmbeddingCacheSize  int     `yaml:"embedding_cache_size"` // LRU entries for query embeddings (default: 512)
}

// CompactConfig tunes the background compaction sweep.
type CompactConfig struct {
	MaxOwnersPerRun   int     `yaml:"max_owners_per_run"`   // Owner batch size (default: 50)
	MaxCandidates     int     `yaml:"max_candidates"`       // Candidate items per owner (default: 100)
	MinAgeDays        int     `yaml:"min_age_days"`         // Minimum item age for compaction (default: 7)
	ScoreFloor        float64 `yaml:"score_floor"`          // Only items below this are candidates (default: 0.3)
	LLMRequestsPerSec float64 `yaml:"llm_requests_per_sec"` // Rate limit for batch LLM calls (default: 2)
}

// SecurityConfig contains API authentication settings.
type SecurityConfig struct {
	APIToken string `yaml:"api_token"` // Bearer token for the HTTP API (empty disables auth)
}

// LoadConfig loads configuration from environment variables with sensible
// defaults. All environment variables use the ENGRAM_ prefix.
func LoadConfig() (*Config, error) {
	return buildBaseConfig(), nil
}

// LoadConfigFile loads configuration from environment variables, then overlays
// non-zero values from the YAML file at path. The file is optional
// configuration for deployments that prefer files over environment variables.
func LoadConfigFile(path string) (*Config, error) {
	cfg := buildBaseConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// Validate checks settings that must be resolvable before the engine starts.
// Missing provider credentials are a configuration error and fail fast here
// rather than on the first outbound call.
func (c *Config) Validate() error {
	switch c.Storage.Engine {
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("config: storage engine is postgres but ENGRAM_POSTGRES_DSN is empty")
		}
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("config: storage engine is sqlite but ENGRAM_SQLITE_PATH is empty")
		}
	default:
		return fmt.Errorf("config: unknown storage engine %q", c.Storage.Engine)
	}

	switch c.LLM.Provider {
	case "openai":
		if c.LLM.OpenAIAPIKey == "" {
			return fmt.Errorf("config: LLM provider is openai but ENGRAM_OPENAI_API_KEY is empty")
		}
	case "anthropic":
		if c.LLM.AnthropicAPIKey == "" {
			return fmt.Errorf("config: LLM provider is anthropic but ENGRAM_ANTHROPIC_API_KEY is empty")
		}
	case "ollama":
		// Ollama requires no credentials.
	default:
		return fmt.Errorf("config: unknown LLM provider %q", c.LLM.Provider)
	}

	return nil
}

// buildBaseConfig constructs a Config from environment variables and defaults.
func buildBaseConfig() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port: getEnvInt("ENGRAM_PORT", 7474),
			Host: getEnv("ENGRAM_HOST", "127.0.0.1"),
		},
		Storage: StorageConfig{
			Engine:      getEnv("ENGRAM_STORAGE_ENGINE", "sqlite"),
			PostgresDSN: getEnv("ENGRAM_POSTGRES_DSN", ""),
			SQLitePath:  getEnv("ENGRAM_SQLITE_PATH", "./data/engram.db"),
		},
		LLM: LLMConfig{
			Provider:           getEnv("ENGRAM_LLM_PROVIDER", "ollama"),
			OllamaURL:          getEnv("ENGRAM_OLLAMA_URL", "http://localhost:11434"),
			OllamaModel:        getEnv("ENGRAM_OLLAMA_MODEL", "qwen2.5:7b"),
			OpenAIAPIKey:       getEnv("ENGRAM_OPENAI_API_KEY", ""),
			OpenAIModel:        getEnv("ENGRAM_OPENAI_MODEL", "gpt-4o-mini"),
			AnthropicAPIKey:    getEnv("ENGRAM_ANTHROPIC_API_KEY", ""),
			AnthropicModel:     getEnv("ENGRAM_ANTHROPIC_MODEL", "claude-3-5-sonnet-20241022"),
			EmbeddingModel:     getEnv("ENGRAM_EMBEDDING_MODEL", "text-embedding-3-small"),
			InteractiveTimeout: getEnvDuration("ENGRAM_INTERACTIVE_TIMEOUT", 15*time.Second),
			BatchTimeout:       getEnvDuration("ENGRAM_BATCH_TIMEOUT", 60*time.Second),
		},
		Retrieval: RetrievalConfig{
			SimilarityThreshold: getEnvFloat("ENGRAM_SIMILARITY_THRESHOLD", 0.6),
			PerQueryLimit:       getEnvInt("ENGRAM_PER_QUERY_LIMIT", 5),
			DefaultLimit:        getEnvInt("ENGRAM_DEFAULT_LIMIT", 5),
			EmbeddingCacheSize:  getEnvInt("ENGRAM_EMBEDDING_CACHE_SIZE", 512),
		},
		Compact: CompactConfig{
			MaxOwnersPerRun:   getEnvInt("ENGRAM_COMPACT_MAX_OWNERS", 50),
			MaxCandidates:     getEnvInt("ENGRAM_COMPACT_MAX_CANDIDATES", 100),
			MinAgeDays:        getEnvInt("ENGRAM_COMPACT_MIN_AGE_DAYS", 7),
			ScoreFloor:        getEnvFloat("ENGRAM_COMPACT_SCORE_FLOOR", 0.3),
			LLMRequestsPerSec: getEnvFloat("ENGRAM_COMPACT_LLM_RPS", 2),
		},
		Security: SecurityConfig{
			APIToken: getEnv("ENGRAM_API_TOKEN", ""),
		},
	}
	return cfg
}

// applyDefaults restores defaults for fields a YAML overlay zeroed out.
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 7474
	}
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Storage.Engine == "" {
		c.Storage.Engine = "sqlite"
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = "ollama"
	}
	if c.LLM.InteractiveTimeout == 0 {
		c.LLM.InteractiveTimeout = 15 * time.Second
	}
	if c.LLM.BatchTimeout == 0 {
		c.LLM.BatchTimeout = 60 * time.Second
	}
	if c.Retrieval.SimilarityThreshold == 0 {
		c.Retrieval.SimilarityThreshold = 0.6
	}
	if c.Retrieval.PerQueryLimit == 0 {
		c.Retrieval.PerQueryLimit = 5
	}
	if c.Retrieval.DefaultLimit == 0 {
		c.Retrieval.DefaultLimit = 5
	}
	if c.Retrieval.EmbeddingCacheSize == 0 {
		c.Retrieval.EmbeddingCacheSize = 512
	}
	if c.Compact.MaxOwnersPerRun == 0 {
		c.Compact.MaxOwnersPerRun = 50
	}
	if c.Compact.MaxCandidates == 0 {
		c.Compact.MaxCandidates = 100
	}
	if c.Compact.MinAgeDays == 0 {
		c.Compact.MinAgeDays = 7
	}
	if c.Compact.ScoreFloor == 0 {
		c.Compact.ScoreFloor = 0.3
	}
	if c.Compact.LLMRequestsPerSec == 0 {
		c.Compact.LLMRequestsPerSec = 2
	}
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value. Unparseable values fall back to the default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default
// value. Unparseable values fall back to the default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable (Go duration
// syntax, e.g. "15s") or returns a default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
