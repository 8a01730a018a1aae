package embedder

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"
)

// defaultGeminiTimeout bounds one embedContent request.
const defaultGeminiTimeout = 30 * time.Second

// contentEmbedder matches (*genai.Models).EmbedContent.
type contentEmbedder interface {
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// GeminiEmbedder implements rag.Embedder with the Gemini embedContent API.
// It is safe for concurrent use.
type GeminiEmbedder struct {
	// client is the shared genai models service.
	client contentEmbedder
	// model is the embedding model name (e.g. "text-embedding-004").
	model string
	// cfg is sent with every request; nil when no options are set.
	cfg *genai.EmbedContentConfig
	// timeout bounds every request.
	timeout time.Duration
}

// GeminiConfig holds the settings for constructing a GeminiEmbedder.
type GeminiConfig struct {
	// APIKey is the Google AI Studio key.
	APIKey string
	// Model is the embedding model name.
	Model string
	// Dimensions truncates the output vector (0 = model default).
	Dimensions int
	// TaskType is the optional Gemini task hint (RETRIEVAL_QUERY, RETRIEVAL_DOCUMENT).
	TaskType string
	// Timeout bounds each request (default 30s).
	Timeout time.Duration
}

// NewGeminiEmbedder constructs a GeminiEmbedder with its own genai client.
func NewGeminiEmbedder(ctx context.Context, cfg *GeminiConfig) (*GeminiEmbedder, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini embedder: create client: %w", err)
	}
	return newGeminiEmbedderWithClient(client.Models, cfg), nil
}

func newGeminiEmbedderWithClient(client contentEmbedder, cfg *GeminiConfig) *GeminiEmbedder {
	e := &GeminiEmbedder{client: client, model: cfg.Model, timeout: cfg.Timeout}
	if e.timeout <= 0 {
		e.timeout = defaultGeminiTimeout
	}
	if cfg.Dimensions > 0 || cfg.TaskType != "" {
		e.cfg = &genai.EmbedContentConfig{TaskType: cfg.TaskType}
		if cfg.Dimensions > 0 {
			d := int32(cfg.Dimensions)
			e.cfg.OutputDimensionality = &d
		}
	}
	return e
}

// Embed converts a batch of texts into their corresponding embeddings in a
// single request. The returned slice is parallel to the input slice.
func (e *GeminiEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.client.EmbedContent(ctx, e.model, contents, e.cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini embedder: request failed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini embedder: expected %d embeddings, got %d", len(texts), len(resp.Embeddings))
	}

	out := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		if emb == nil || len(emb.Values) == 0 {
			return nil, fmt.Errorf("gemini embedder: embedding %d is empty", i)
		}
		out[i] = emb.Values
	}
	return out, nil
}
