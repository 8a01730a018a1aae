// Package config provides YAML-based configuration for sakhi.
// Configuration is loaded with a layered precedence: defaults → YAML file → env vars.
// Environment variables always win, so container deployments can override any
// value without editing the file.
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. SAKHI_CONFIG environment variable
//  3. ~/.sakhi/config.yaml
//  4. ./sakhi.yaml
//
// If no file is found the system runs entirely from env vars.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration structure.
// Field names use yaml tags that mirror the env var naming (lowercase, underscored).
type Config struct {
	// Model configures the generative chat model provider.
	Model ModelConfig `yaml:"model"`

	// Embedding configures the embedding provider used by the retriever.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Index configures where the knowledge-base vectors and documents live.
	Index IndexConfig `yaml:"index"`

	// Qdrant configures the optional Qdrant index backend.
	Qdrant QdrantConfig `yaml:"qdrant"`

	// Speech configures speech-to-text.
	Speech SpeechConfig `yaml:"speech"`

	// Backend configures the remote farm-data API.
	Backend BackendConfig `yaml:"backend"`

	// Weather configures the OpenWeather client.
	Weather WeatherConfig `yaml:"weather"`

	// Pipeline tunes the answer pipeline.
	Pipeline PipelineConfig `yaml:"pipeline"`

	// Languages maps language codes to display names (e.g. hi: Hindi).
	Languages map[string]string `yaml:"languages"`

	// Server configures the HTTP server.
	Server ServerConfig `yaml:"server"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// Tracing configures Langfuse tracing integration.
	Tracing TracingConfig `yaml:"tracing"`
}

// ModelConfig holds generative model settings.
type ModelConfig struct {
	// Provider selects the backend: gemini, openai, ollama, ark.
	Provider string `yaml:"provider"`
	// MaxTokens is the maximum number of tokens in a response.
	MaxTokens int `yaml:"max_tokens"`
	// Temperature controls response randomness (0.0–1.0).
	Temperature float32 `yaml:"temperature"`
	// Gemini holds Google Gemini settings.
	Gemini GeminiConfig `yaml:"gemini"`
	// OpenAI holds OpenAI settings.
	OpenAI OpenAIConfig `yaml:"openai"`
	// Ollama holds Ollama settings.
	Ollama OllamaConfig `yaml:"ollama"`
	// Ark holds Volcengine Ark settings.
	Ark ArkConfig `yaml:"ark"`
}

// GeminiConfig holds Google Gemini provider settings.
type GeminiConfig struct {
	// APIKey is the Google API key. Prefer env var GOOGLE_API_KEY.
	APIKey string `yaml:"api_key"`
	// Model is the Gemini model name.
	Model string `yaml:"model"`
}

// OpenAIConfig holds OpenAI provider settings.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key. Prefer env var OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`
	// Model is the OpenAI model name.
	Model string `yaml:"model"`
	// BaseURL overrides the API endpoint (OpenAI-compatible gateways).
	BaseURL string `yaml:"base_url"`
}

// OllamaConfig holds Ollama provider settings.
type OllamaConfig struct {
	// Host is the Ollama API endpoint.
	Host string `yaml:"host"`
	// Model is the Ollama model name.
	Model string `yaml:"model"`
}

// ArkConfig holds Volcengine Ark provider settings.
type ArkConfig struct {
	// APIKey is the Ark API key. Prefer env var ARK_API_KEY.
	APIKey string `yaml:"api_key"`
	// Model is the Ark endpoint/model id.
	Model string `yaml:"model"`
	// BaseURL overrides the Ark endpoint.
	BaseURL string `yaml:"base_url"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	// Provider selects the embedding backend (gemini, openai, azure, ollama).
	Provider string `yaml:"provider"`
	// Model is the embedding model name.
	Model string `yaml:"model"`
	// Dimensions overrides the embedding vector size.
	Dimensions int `yaml:"dimensions"`
	// APIKey is the embedding API key. Prefer env var EMBEDDING_API_KEY.
	APIKey string `yaml:"api_key"`
	// Endpoint is the embedding API endpoint.
	Endpoint string `yaml:"endpoint"`
	// Timeout bounds each Gemini embedding request (e.g. "30s").
	Timeout string `yaml:"timeout"`
}

// IndexConfig holds knowledge-base index settings.
type IndexConfig struct {
	// Backend selects faiss (local files) or qdrant.
	Backend string `yaml:"backend"`
	// Path is the serialized FAISS flat index file.
	Path string `yaml:"path"`
	// DocsPath is the document text file, one chunk per "---" separated block.
	DocsPath string `yaml:"docs_path"`
	// TopK is the retrieval fan-out.
	TopK int `yaml:"top_k"`
}

// QdrantConfig holds Qdrant vector store settings.
type QdrantConfig struct {
	// Host is the Qdrant server hostname.
	Host string `yaml:"host"`
	// Port is the Qdrant gRPC port.
	Port int `yaml:"port"`
	// Collection is the Qdrant collection name.
	Collection string `yaml:"collection"`
	// APIKey is the Qdrant API key. Prefer env var QDRANT_API_KEY.
	APIKey string `yaml:"api_key"`
	// TLS enables TLS for the Qdrant connection.
	TLS bool `yaml:"tls"`
	// Timeout bounds each Qdrant request (e.g. "10s").
	Timeout string `yaml:"timeout"`
}

// SpeechConfig holds speech-to-text settings.
type SpeechConfig struct {
	// Provider selects google or gemini.
	Provider string `yaml:"provider"`
	// CredentialsFile is the Google service-account key file.
	CredentialsFile string `yaml:"credentials_file"`
	// Region is appended to language codes (hi → hi-IN).
	Region string `yaml:"region"`
	// Timeout bounds each recognizer request (e.g. "60s").
	Timeout string `yaml:"timeout"`
}

// BackendConfig holds remote farm-data API settings.
type BackendConfig struct {
	// BaseURL is the farm API root.
	BaseURL string `yaml:"base_url"`
	// Token is an optional bearer token. Prefer env var FARM_API_TOKEN.
	Token string `yaml:"token"`
}

// WeatherConfig holds OpenWeather settings.
type WeatherConfig struct {
	// APIKey is the OpenWeather API key. Prefer env var OPENWEATHER_API_KEY.
	APIKey string `yaml:"api_key"`
}

// PipelineConfig tunes the answer pipeline.
type PipelineConfig struct {
	// DegradePolicy is degrade (continue on stage failure) or strict.
	DegradePolicy string `yaml:"degrade_policy"`
	// SequentialStages disables running retrieval and image analysis concurrently.
	SequentialStages bool `yaml:"sequential_stages"`
	// SynthesizeInLanguage asks the model to answer directly in the user's language.
	SynthesizeInLanguage bool `yaml:"synthesize_in_language"`
	// CallTimeout bounds each model call (Go duration string, e.g. "45s").
	CallTimeout string `yaml:"call_timeout"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the bind address.
	Host string `yaml:"host"`
	// Port is the TCP port.
	Port int `yaml:"port"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// TracingConfig holds Langfuse tracing settings.
type TracingConfig struct {
	// PublicKey is the Langfuse public key. Prefer env var LANGFUSE_PUBLIC_KEY.
	PublicKey string `yaml:"public_key"`
	// SecretKey is the Langfuse secret key. Prefer env var LANGFUSE_SECRET_KEY.
	SecretKey string `yaml:"secret_key"`
	// Host is the Langfuse API host.
	Host string `yaml:"host"`
}

// envMapping maps YAML config fields to their corresponding env var names.
// Only non-empty YAML values are applied; env vars always take precedence.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{"MODEL_PROVIDER", func(c *Config) string { return c.Model.Provider }},
	{"MODEL_MAX_TOKENS", func(c *Config) string { return intStr(c.Model.MaxTokens) }},
	{"MODEL_TEMPERATURE", func(c *Config) string { return float32Str(c.Model.Temperature) }},
	{"GOOGLE_API_KEY", func(c *Config) string { return c.Model.Gemini.APIKey }},
	{"GEMINI_MODEL", func(c *Config) string { return c.Model.Gemini.Model }},
	{"OPENAI_API_KEY", func(c *Config) string { return c.Model.OpenAI.APIKey }},
	{"OPENAI_MODEL", func(c *Config) string { return c.Model.OpenAI.Model }},
	{"OPENAI_BASE_URL", func(c *Config) string { return c.Model.OpenAI.BaseURL }},
	{"OLLAMA_HOST", func(c *Config) string { return c.Model.Ollama.Host }},
	{"OLLAMA_MODEL", func(c *Config) string { return c.Model.Ollama.Model }},
	{"ARK_API_KEY", func(c *Config) string { return c.Model.Ark.APIKey }},
	{"ARK_MODEL", func(c *Config) string { return c.Model.Ark.Model }},
	{"ARK_BASE_URL", func(c *Config) string { return c.Model.Ark.BaseURL }},
	{"EMBEDDING_PROVIDER", func(c *Config) string { return c.Embedding.Provider }},
	{"EMBEDDING_MODEL", func(c *Config) string { return c.Embedding.Model }},
	{"EMBEDDING_DIMENSIONS", func(c *Config) string { return intStr(c.Embedding.Dimensions) }},
	{"EMBEDDING_API_KEY", func(c *Config) string { return c.Embedding.APIKey }},
	{"EMBEDDING_ENDPOINT", func(c *Config) string { return c.Embedding.Endpoint }},
	{"EMBEDDING_TIMEOUT", func(c *Config) string { return c.Embedding.Timeout }},
	{"INDEX_BACKEND", func(c *Config) string { return c.Index.Backend }},
	{"INDEX_PATH", func(c *Config) string { return c.Index.Path }},
	{"DOCS_PATH", func(c *Config) string { return c.Index.DocsPath }},
	{"RAG_TOP_K", func(c *Config) string { return intStr(c.Index.TopK) }},
	{"QDRANT_HOST", func(c *Config) string { return c.Qdrant.Host }},
	{"QDRANT_PORT", func(c *Config) string { return intStr(c.Qdrant.Port) }},
	{"QDRANT_COLLECTION", func(c *Config) string { return c.Qdrant.Collection }},
	{"QDRANT_API_KEY", func(c *Config) string { return c.Qdrant.APIKey }},
	{"QDRANT_TLS", func(c *Config) string { return boolStr(c.Qdrant.TLS) }},
	{"QDRANT_TIMEOUT", func(c *Config) string { return c.Qdrant.Timeout }},
	{"SPEECH_PROVIDER", func(c *Config) string { return c.Speech.Provider }},
	{"GOOGLE_APPLICATION_CREDENTIALS", func(c *Config) string { return c.Speech.CredentialsFile }},
	{"SPEECH_REGION", func(c *Config) string { return c.Speech.Region }},
	{"SPEECH_TIMEOUT", func(c *Config) string { return c.Speech.Timeout }},
	{"FARM_API_BASE_URL", func(c *Config) string { return c.Backend.BaseURL }},
	{"FARM_API_TOKEN", func(c *Config) string { return c.Backend.Token }},
	{"OPENWEATHER_API_KEY", func(c *Config) string { return c.Weather.APIKey }},
	{"SAKHI_DEGRADE_POLICY", func(c *Config) string { return c.Pipeline.DegradePolicy }},
	{"SAKHI_SEQUENTIAL_STAGES", func(c *Config) string { return boolStr(c.Pipeline.SequentialStages) }},
	{"SAKHI_SYNTHESIZE_IN_LANGUAGE", func(c *Config) string { return boolStr(c.Pipeline.SynthesizeInLanguage) }},
	{"SAKHI_CALL_TIMEOUT", func(c *Config) string { return c.Pipeline.CallTimeout }},
	{"SAKHI_LANGUAGES", func(c *Config) string { return languagesStr(c.Languages) }},
	{"SAKHI_HOST", func(c *Config) string { return c.Server.Host }},
	{"SAKHI_PORT", func(c *Config) string { return intStr(c.Server.Port) }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
	{"LANGFUSE_PUBLIC_KEY", func(c *Config) string { return c.Tracing.PublicKey }},
	{"LANGFUSE_SECRET_KEY", func(c *Config) string { return c.Tracing.SecretKey }},
	{"LANGFUSE_HOST", func(c *Config) string { return c.Tracing.Host }},
}

// Load reads a YAML config file and applies non-empty values as environment
// variables. Existing env vars are never overwritten (env always wins).
// Returns the path that was loaded, or empty string if no file was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applied := 0
	for _, m := range envMapping {
		yamlVal := m.value(&cfg)
		if yamlVal == "" || yamlVal == "0" || yamlVal == "false" {
			continue
		}
		if os.Getenv(m.envKey) != "" {
			continue
		}
		if err := os.Setenv(m.envKey, yamlVal); err != nil {
			return "", fmt.Errorf("config: set %s: %w", m.envKey, err)
		}
		applied++
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)

	return path, nil
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("SAKHI_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".sakhi", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("sakhi.yaml"); err == nil {
		return "sakhi.yaml"
	}

	return ""
}

// ParseLanguages parses the SAKHI_LANGUAGES form "ml=Malayalam,hi=Hindi".
// Malformed entries are skipped.
func ParseLanguages(s string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		code, name, ok := strings.Cut(strings.TrimSpace(pair), "=")
		code, name = strings.TrimSpace(code), strings.TrimSpace(name)
		if !ok || code == "" || name == "" {
			continue
		}
		out[code] = name
	}
	return out
}

// languagesStr renders a language map in the SAKHI_LANGUAGES form with
// sorted keys so the result is stable.
func languagesStr(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	codes := make([]string, 0, len(m))
	for code := range m {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	parts := make([]string, 0, len(codes))
	for _, code := range codes {
		parts = append(parts, code+"="+m[code])
	}
	return strings.Join(parts, ",")
}

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return fmt.Sprintf("%d", v)
}

// float32Str converts a float32 to string, returning "" for zero values.
func float32Str(v float32) string {
	if v == 0 {
		return ""
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
}

// boolStr converts a bool to string, returning "" for false.
func boolStr(v bool) string {
	if !v {
		return ""
	}
	return "true"
}
