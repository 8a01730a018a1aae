package embedder

import (
	"context"
	"fmt"

	"github.com/54b3r/krishisakhi-go/internal/config"
	"github.com/54b3r/krishisakhi-go/internal/rag"
)

// Default embedding models per backend.
const (
	defaultGeminiModel = "text-embedding-004"
	defaultOpenAIModel = "text-embedding-3-small"
	defaultOllamaModel = "nomic-embed-text"

	// defaultGeminiDimensions is the output dimension of text-embedding-004.
	defaultGeminiDimensions = 768
	// defaultOllamaDimensions is the output dimension of nomic-embed-text.
	// Other Ollama models may differ; override with EMBEDDING_DIMENSIONS.
	defaultOllamaDimensions = 768
	// defaultOpenAIDimensions is the output dimension of text-embedding-3-small.
	defaultOpenAIDimensions = 1536
)

// Backend returns the effective embedding backend: EMBEDDING_PROVIDER, else
// MODEL_PROVIDER, else gemini.
func Backend() string {
	if b := config.Env("EMBEDDING_PROVIDER", ""); b != "" {
		return b
	}
	return config.Env("MODEL_PROVIDER", "gemini")
}

// DefaultDimensions returns the default embedding vector size for the
// given backend name. EMBEDDING_DIMENSIONS always takes precedence when set.
func DefaultDimensions(backend string) int {
	if v := config.EnvInt("EMBEDDING_DIMENSIONS", 0); v > 0 {
		return v
	}
	switch backend {
	case "gemini":
		return defaultGeminiDimensions
	case "ollama":
		return defaultOllamaDimensions
	default:
		return defaultOpenAIDimensions
	}
}

// NewFromEnv constructs a rag.Embedder using cascading defaults that inherit
// from the chat provider configuration when embedding-specific overrides are
// not set.
//
// Resolution order:
//
//  1. EMBEDDING_PROVIDER; if unset, inherits MODEL_PROVIDER (default: gemini)
//  2. Per-backend credentials are inherited from the chat provider's env vars
//  3. EMBEDDING_MODEL overrides the default model for the resolved backend
//  4. EMBEDDING_API_KEY overrides the inherited API key
//  5. EMBEDDING_ENDPOINT overrides the inherited endpoint
//  6. EMBEDDING_DIMENSIONS requests a specific output size where supported
func NewFromEnv(ctx context.Context) (rag.Embedder, error) {
	backend := Backend()
	dims := config.EnvInt("EMBEDDING_DIMENSIONS", 0)

	switch backend {
	case "gemini":
		apiKey := firstNonEmpty(config.Env("EMBEDDING_API_KEY", ""), config.Env("GOOGLE_API_KEY", ""))
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: gemini requires GOOGLE_API_KEY or EMBEDDING_API_KEY")
		}
		return NewGeminiEmbedder(ctx, &GeminiConfig{
			APIKey:     apiKey,
			Model:      config.Env("EMBEDDING_MODEL", defaultGeminiModel),
			Dimensions: dims,
			Timeout:    config.EnvDuration("EMBEDDING_TIMEOUT", defaultGeminiTimeout),
		})

	case "openai":
		apiKey := firstNonEmpty(config.Env("EMBEDDING_API_KEY", ""), config.Env("OPENAI_API_KEY", ""))
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: openai requires OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    config.Env("EMBEDDING_ENDPOINT", ""),
			APIKey:     apiKey,
			Model:      config.Env("EMBEDDING_MODEL", defaultOpenAIModel),
			Dimensions: dims,
		}), nil

	case "azure":
		apiKey := config.Env("EMBEDDING_API_KEY", "")
		endpoint := config.Env("EMBEDDING_ENDPOINT", "")
		if apiKey == "" || endpoint == "" {
			return nil, fmt.Errorf("embedder: azure requires EMBEDDING_API_KEY and EMBEDDING_ENDPOINT")
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    endpoint,
			APIKey:     apiKey,
			Model:      config.Env("EMBEDDING_MODEL", defaultOpenAIModel),
			Dimensions: dims,
			Azure:      true,
			APIVersion: config.Env("AZURE_OPENAI_API_VERSION", "2024-02-01"),
		}), nil

	case "ollama":
		return NewOllamaEmbedder(&OllamaConfig{
			Host:  firstNonEmpty(config.Env("EMBEDDING_ENDPOINT", ""), config.Env("OLLAMA_HOST", "http://localhost:11434")),
			Model: config.Env("EMBEDDING_MODEL", defaultOllamaModel),
		}), nil

	default:
		return nil, fmt.Errorf("embedder: unknown backend %q (valid values: gemini, openai, azure, ollama)", backend)
	}
}

// firstNonEmpty returns the first non-empty argument.
func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
