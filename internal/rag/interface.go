// Package rag retrieves supporting knowledge-base passages for a farmer's
// question. A query is embedded once, searched against a vector index whose
// positions line up with a document list, and the surviving documents are
// joined into a single context block for the answer prompt.
package rag

import (
	"context"
	"errors"
)

// Separator joins retrieved documents and splits the documents file.
const Separator = "\n---\n"

// DefaultTopK is the retrieval fan-out used when the caller passes k <= 0.
const DefaultTopK = 3

// RetrievalFailed is returned in place of context when retrieval fails, so a
// degraded answer can still be synthesised.
const RetrievalFailed = "Error: Could not retrieve relevant context."

// ErrRetrieval is wrapped by every error Retrieve returns.
var ErrRetrieval = errors.New("rag: retrieval failed")

// Embedder is the interface for converting text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Searcher performs nearest-neighbour search over an index whose positions
// correspond to documents. Implementations must be safe for concurrent use.
type Searcher interface {
	// Search returns up to k positions ordered best-first. A position may
	// be negative (no hit) or beyond the document list; callers filter.
	Search(ctx context.Context, query []float32, k int) ([]int64, error)
}

// Retriever is the high-level interface used by the assistant to fetch
// context for a question.
type Retriever interface {
	// Retrieve returns up to k documents joined by Separator, or
	// RetrievalFailed together with an error wrapping ErrRetrieval.
	Retrieve(ctx context.Context, query string, k int) (string, error)
}
