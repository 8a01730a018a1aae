// Package ingestion builds the knowledge-base index the retriever reads.
// Corpus files or pages are split into passages, embedded in batches and
// written as a FAISS flat index plus a documents file whose positions line
// up with the index. The same passages can also be upserted into Qdrant.
// This pipeline is invoked by the `sakhi index build` CLI command.
package ingestion

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/54b3r/krishisakhi-go/internal/index"
	"github.com/54b3r/krishisakhi-go/internal/logging"
	"github.com/54b3r/krishisakhi-go/internal/rag"
)

// Upserter receives embedded passages at consecutive positions.
// *rag.QdrantStore satisfies it.
type Upserter interface {
	Upsert(ctx context.Context, offset int, docs []string, embeddings [][]float32) error
}

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// ChunkSize is the maximum number of characters per passage.
	// Defaults to 1000 if zero.
	ChunkSize int

	// ChunkOverlap is the number of characters shared by consecutive
	// passages of one document. Defaults to 100 if zero; negative disables
	// overlap.
	ChunkOverlap int

	// BatchSize is the number of passages per embedding call.
	// Defaults to 32 if zero.
	BatchSize int

	// InnerProduct writes an inner-product index instead of L2.
	InnerProduct bool

	// HTTPTimeout is the timeout for each page fetch.
	// Defaults to 30s if zero.
	HTTPTimeout time.Duration

	// UserAgent is the HTTP User-Agent header sent with fetch requests.
	UserAgent string
}

// Result is a built knowledge base.
type Result struct {
	// Index holds one vector per passage.
	Index *index.FlatIndex
	// Docs holds the passages; Docs[i] is the text of index position i.
	Docs []string
}

// Pipeline orchestrates the read → chunk → embed → index flow.
type Pipeline struct {
	// embedder converts passages into dense vector embeddings.
	embedder rag.Embedder

	// upserter optionally mirrors every batch into a remote store.
	upserter Upserter

	// cfg holds the resolved pipeline configuration.
	cfg *Config

	// httpClient is the HTTP client used for fetching pages.
	httpClient *http.Client
}

// NewPipeline constructs a Pipeline. upserter may be nil.
func NewPipeline(embedder rag.Embedder, upserter Upserter, cfg *Config) (*Pipeline, error) {
	if embedder == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1000
	}
	if cfg.ChunkOverlap == 0 {
		cfg.ChunkOverlap = 100
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = 0
	}
	if cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = cfg.ChunkSize / 10
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "krishisakhi-go/1.0 (knowledge base ingestion)"
	}

	return &Pipeline{
		embedder: embedder,
		upserter: upserter,
		cfg:      cfg,
		httpClient: &http.Client{
			Timeout: cfg.HTTPTimeout,
		},
	}, nil
}

// Build reads, chunks and embeds all sources. Progress is reported via the
// optional progress callback.
func (p *Pipeline) Build(ctx context.Context, sources []Source, progress func(msg string)) (*Result, error) {
	if progress == nil {
		progress = func(string) {}
	}

	var passages []string
	for _, src := range sources {
		content, err := p.read(ctx, src)
		if err != nil {
			return nil, fmt.Errorf("ingestion: read %s: %w", src.Location, err)
		}
		chunks := p.chunk(content)
		progress(fmt.Sprintf("chunked %s into %d passages", src.Location, len(chunks)))
		passages = append(passages, chunks...)
	}
	if len(passages) == 0 {
		return nil, fmt.Errorf("ingestion: corpus produced no passages")
	}

	var x *index.FlatIndex
	for start := 0; start < len(passages); start += p.cfg.BatchSize {
		end := min(start+p.cfg.BatchSize, len(passages))
		batch := passages[start:end]

		embeddings, err := p.embedder.Embed(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("ingestion: embedding failed for passages %d-%d: %w", start, end-1, err)
		}
		if len(embeddings) != len(batch) {
			return nil, fmt.Errorf("ingestion: embedder returned %d vectors for %d passages", len(embeddings), len(batch))
		}
		if x == nil {
			metric := index.MetricL2
			if p.cfg.InnerProduct {
				metric = index.MetricInnerProduct
			}
			if x, err = index.NewFlat(len(embeddings[0]), metric); err != nil {
				return nil, fmt.Errorf("ingestion: %w", err)
			}
		}
		if err := x.Add(embeddings...); err != nil {
			return nil, fmt.Errorf("ingestion: %w", err)
		}
		if p.upserter != nil {
			if err := p.upserter.Upsert(ctx, start, batch, embeddings); err != nil {
				return nil, fmt.Errorf("ingestion: upsert failed for passages %d-%d: %w", start, end-1, err)
			}
		}
		progress(fmt.Sprintf("embedded %d/%d passages", end, len(passages)))
	}

	logging.FromContext(ctx).Info("ingestion: knowledge base built",
		slog.Int("sources", len(sources)),
		slog.Int("passages", len(passages)),
		slog.Int("dim", x.Dim()),
		slog.String("metric", x.Metric().String()),
	)
	return &Result{Index: x, Docs: passages}, nil
}

// Write saves the index and documents files.
func (r *Result) Write(indexPath, docsPath string) error {
	if err := index.WriteFlatFile(indexPath, r.Index); err != nil {
		return err
	}
	return index.WriteDocs(docsPath, r.Docs)
}

// read returns the raw text content of a source.
func (p *Pipeline) read(ctx context.Context, src Source) (string, error) {
	if src.Kind == KindFile {
		b, err := os.ReadFile(src.Location)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	return p.fetch(ctx, src.Location)
}

// fetch retrieves the raw text content of a URL.
func (p *Pipeline) fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", p.cfg.UserAgent)
	req.Header.Set("Accept", "text/plain, text/markdown, text/html")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d for %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading body: %w", err)
	}

	return string(body), nil
}

// chunk splits text into passages. Content is first split on the documents
// separator, so an existing docs file keeps its boundaries, then each part
// is cut into overlapping windows of cfg.ChunkSize runes.
func (p *Pipeline) chunk(text string) []string {
	var chunks []string
	for _, part := range strings.Split(text, rag.Separator) {
		chunks = append(chunks, p.window(part)...)
	}
	return chunks
}

// window cuts one document into overlapping rune windows.
func (p *Pipeline) window(text string) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}

	var chunks []string
	size := p.cfg.ChunkSize
	overlap := p.cfg.ChunkOverlap

	for start := 0; start < len(runes); start += size - overlap {
		end := min(start+size, len(runes))
		if c := strings.TrimSpace(string(runes[start:end])); c != "" {
			chunks = append(chunks, c)
		}
		if end == len(runes) {
			break
		}
	}

	return chunks
}
