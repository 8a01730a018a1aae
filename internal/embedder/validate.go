package embedder

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/54b3r/krishisakhi-go/internal/config"
)

// knownChatModelFragments contains name fragments that identify chat or
// vision models which are NOT suitable for embedding.
var knownChatModelFragments = []string{
	"gemini-",
	"gpt-4",
	"gpt-3.5",
	"o1",
	"o3",
	"llama3",
	"llama-3",
	"llava",
	"mistral",
	"gemma",
	"qwen",
	"deepseek",
	"claude",
}

// looksLikeChatModel returns true when the model name resembles a known
// chat/completion model rather than a dedicated embedding model.
func looksLikeChatModel(model string) bool {
	lower := strings.ToLower(model)
	if strings.Contains(lower, "embed") {
		return false
	}
	for _, frag := range knownChatModelFragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}

// Validate is a pre-flight check run before the embedder and index are
// constructed, so a misconfigured embedding backend fails at startup rather
// than on the first farmer question. It returns an error when the
// configuration is clearly broken and logs a warning when EMBEDDING_MODEL
// looks like a chat model.
//
// The query embedding model must be the one the index was built with; a
// mismatch surfaces only as a dimension error at query time.
func Validate(log *slog.Logger) error {
	backend := Backend()

	if config.Env("EMBEDDING_PROVIDER", "") == "" {
		log.Debug("embedder: EMBEDDING_PROVIDER not set, inheriting MODEL_PROVIDER",
			slog.String("backend", backend),
		)
	}

	switch backend {
	case "gemini":
		if firstNonEmpty(config.Env("EMBEDDING_API_KEY", ""), config.Env("GOOGLE_API_KEY", "")) == "" {
			return fmt.Errorf("embedder: no Gemini API key found; set GOOGLE_API_KEY or EMBEDDING_API_KEY")
		}
	case "openai":
		if firstNonEmpty(config.Env("EMBEDDING_API_KEY", ""), config.Env("OPENAI_API_KEY", "")) == "" {
			return fmt.Errorf("embedder: no OpenAI API key found; set OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
	case "azure":
		if config.Env("EMBEDDING_API_KEY", "") == "" || config.Env("EMBEDDING_ENDPOINT", "") == "" {
			return fmt.Errorf("embedder: azure embedding needs EMBEDDING_API_KEY and EMBEDDING_ENDPOINT")
		}
	case "ollama":
	case "ark":
		return fmt.Errorf("embedder: ark has no embedding backend; set EMBEDDING_PROVIDER to gemini, openai, azure or ollama")
	default:
		return fmt.Errorf("embedder: unknown backend %q", backend)
	}

	if model := config.Env("EMBEDDING_MODEL", ""); model != "" && looksLikeChatModel(model) {
		log.Warn("embedder: EMBEDDING_MODEL looks like a chat model, not an embedding model",
			slog.String("model", model),
			slog.String("hint", "use a dedicated embedding model e.g. text-embedding-004, nomic-embed-text"),
		)
	}
	return nil
}
