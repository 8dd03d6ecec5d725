package llm

import (
	"fmt"

	"github.com/pathwise/engram/internal/config"
)

// NewTextGenerator creates the TextGenerator for the configured provider.
func NewTextGenerator(cfg config.LLMConfig) (TextGenerator, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIClient(OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.OpenAIModel,
			Timeout: cfg.BatchTimeout,
		}), nil
	case "anthropic":
		return NewAnthropicClient(AnthropicConfig{
			APIKey:  cfg.AnthropicAPIKey,
			Model:   cfg.AnthropicModel,
			Timeout: cfg.BatchTimeout,
		}), nil
	case "ollama", "":
		return NewOllamaClient(OllamaConfig{
			BaseURL: cfg.OllamaURL,
			Model:   cfg.OllamaModel,
			Timeout: cfg.BatchTimeout,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.Provider)
	}
}

// NewEmbeddingGenerator creates the EmbeddingGenerator for the configured
// provider. Anthropic has no embeddings endpoint, so anthropic deployments
// fall back to OpenAI embeddings when a key is present, else Ollama.
// Returns (nil, nil) when no embedding backend can be constructed; callers
// must treat a nil generator as "embedding unavailable" and degrade.
func NewEmbeddingGenerator(cfg config.LLMConfig) (EmbeddingGenerator, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIEmbeddingClient(OpenAIEmbeddingConfig{
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.EmbeddingModel,
			Timeout: cfg.InteractiveTimeout,
		}), nil
	case "anthropic":
		if cfg.OpenAIAPIKey != "" {
			return NewOpenAIEmbeddingClient(OpenAIEmbeddingConfig{
				APIKey:  cfg.OpenAIAPIKey,
				Model:   cfg.EmbeddingModel,
				Timeout: cfg.InteractiveTimeout,
			}), nil
		}
		return nil, nil
	case "ollama", "":
		model := cfg.EmbeddingModel
		if model == "" || model == "text-embedding-3-small" {
			model = "nomic-embed-text"
		}
		return NewOllamaClient(OllamaConfig{
			BaseURL: cfg.OllamaURL,
			Model:   model,
			Timeout: cfg.InteractiveTimeout,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.Provider)
	}
}
