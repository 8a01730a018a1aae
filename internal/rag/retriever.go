package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/54b3r/krishisakhi-go/internal/logging"
)

// DefaultRetriever implements Retriever by combining an Embedder, a Searcher
// and the document list the index was built from. It is immutable after
// construction and safe for concurrent use.
type DefaultRetriever struct {
	// embedder converts query text to a dense vector.
	embedder Embedder

	// searcher performs the vector similarity search.
	searcher Searcher

	// documents is aligned with the index: position i is documents[i].
	documents []string

	// defaultTopK is the number of results to return when the caller passes 0.
	defaultTopK int
}

// NewRetriever constructs a DefaultRetriever. A mismatch between the index
// size and the document count is logged but tolerated; out-of-range
// positions are dropped at query time.
func NewRetriever(ctx context.Context, embedder Embedder, searcher Searcher, documents []string, indexSize int, defaultTopK int) (*DefaultRetriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if searcher == nil {
		return nil, fmt.Errorf("rag: searcher must not be nil")
	}
	if defaultTopK <= 0 {
		defaultTopK = DefaultTopK
	}
	log := logging.FromContext(ctx)
	if indexSize >= 0 && indexSize != len(documents) {
		log.Warn("rag: index size does not match document count",
			slog.Int("index_size", indexSize),
			slog.Int("documents", len(documents)),
		)
	} else {
		log.Info("rag: retriever ready", slog.Int("documents", len(documents)))
	}
	return &DefaultRetriever{
		embedder:    embedder,
		searcher:    searcher,
		documents:   documents,
		defaultTopK: defaultTopK,
	}, nil
}

// Retrieve embeds the query with one batched call, searches for the k
// nearest positions, drops positions without a document and joins the
// survivors with Separator. Documents are not deduplicated.
func (r *DefaultRetriever) Retrieve(ctx context.Context, query string, k int) (string, error) {
	if k <= 0 {
		k = r.defaultTopK
	}

	embeddings, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return RetrievalFailed, fmt.Errorf("%w: embedding query: %w", ErrRetrieval, err)
	}
	if len(embeddings) == 0 || len(embeddings[0]) == 0 {
		return RetrievalFailed, fmt.Errorf("%w: embedder returned empty result", ErrRetrieval)
	}

	positions, err := r.searcher.Search(ctx, embeddings[0], k)
	if err != nil {
		return RetrievalFailed, fmt.Errorf("%w: vector search: %w", ErrRetrieval, err)
	}

	selected := make([]string, 0, k)
	for _, pos := range positions {
		if len(selected) == k {
			break
		}
		if pos < 0 || pos >= int64(len(r.documents)) {
			continue
		}
		selected = append(selected, r.documents[pos])
	}

	logging.FromContext(ctx).Debug("rag: retrieved context",
		slog.Int("requested", k),
		slog.Int("hits", len(positions)),
		slog.Int("kept", len(selected)),
	)
	return strings.Join(selected, Separator), nil
}
