package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 7474, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Storage.Engine)
	assert.Equal(t, "ollama", cfg.LLM.Provider)
	assert.Equal(t, 0.6, cfg.Retrieval.SimilarityThreshold)
	assert.Equal(t, 5, cfg.Retrieval.PerQueryLimit)
	assert.Equal(t, 50, cfg.Compact.MaxOwnersPerRun)
	assert.Equal(t, 100, cfg.Compact.MaxCandidates)
	assert.Equal(t, 7, cfg.Compact.MinAgeDays)
	assert.Equal(t, 15*time.Second, cfg.LLM.InteractiveTimeout)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("ENGRAM_PORT", "9000")
	t.Setenv("ENGRAM_LLM_PROVIDER", "openai")
	t.Setenv("ENGRAM_OPENAI_API_KEY", "sk-test")
	t.Setenv("ENGRAM_SIMILARITY_THRESHOLD", "0.75")
	t.Setenv("ENGRAM_INTERACTIVE_TIMEOUT", "5s")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, 0.75, cfg.Retrieval.SimilarityThreshold)
	assert.Equal(t, 5*time.Second, cfg.LLM.InteractiveTimeout)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigBadEnvFallsBack(t *testing.T) {
	t.Setenv("ENGRAM_PORT", "not-a-number")
	t.Setenv("ENGRAM_SIMILARITY_THRESHOLD", "high")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 7474, cfg.Server.Port)
	assert.Equal(t, 0.6, cfg.Retrieval.SimilarityThreshold)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engram.yaml")
	content := []byte(`
server:
  port: 8080
storage:
  engine: postgres
  postgres_dsn: postgres://localhost/engram?sslmode=disable
retrieval:
  similarity_threshold: 0.7
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Storage.Engine)
	assert.Equal(t, 0.7, cfg.Retrieval.SimilarityThreshold)
	// Fields absent from the file keep their defaults.
	assert.Equal(t, 5, cfg.Retrieval.PerQueryLimit)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigFileMissing(t *testing.T) {
	_, err := LoadConfigFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateFailsFast(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"postgres without dsn", func(c *Config) {
			c.Storage.Engine = "postgres"
			c.Storage.PostgresDSN = ""
		}},
		{"unknown storage engine", func(c *Config) {
			c.Storage.Engine = "mongo"
		}},
		{"openai without key", func(c *Config) {
			c.LLM.Provider = "openai"
			c.LLM.OpenAIAPIKey = ""
		}},
		{"anthropic without key", func(c *Config) {
			c.LLM.Provider = "anthropic"
			c.LLM.AnthropicAPIKey = ""
		}},
		{"unknown provider", func(c *Config) {
			c.LLM.Provider = "bard"
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := buildBaseConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
