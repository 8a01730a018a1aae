package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/54b3r/krishisakhi-go/internal/config"
	"github.com/54b3r/krishisakhi-go/internal/embedder"
	"github.com/54b3r/krishisakhi-go/internal/ingestion"
	"github.com/54b3r/krishisakhi-go/internal/logging"
	"github.com/54b3r/krishisakhi-go/internal/rag"
)

// NewIndexCmd constructs the `sakhi index` command group.
func NewIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Manage the agricultural knowledge base",
	}
	cmd.AddCommand(newIndexBuildCmd())
	return cmd
}

// newIndexBuildCmd constructs `sakhi index build`, which chunks and embeds a
// corpus into the FAISS index and documents file the assistant searches.
func newIndexBuildCmd() *cobra.Command {
	var (
		indexPath    string
		docsPath     string
		chunkSize    int
		chunkOverlap int
		batchSize    int
		innerProduct bool
		toQdrant     bool
	)

	cmd := &cobra.Command{
		Use:   "build [file|dir|url]...",
		Short: "Build the knowledge base index from text files and web pages",
		Long: `Chunk, embed and index a corpus of agricultural documents.

Directories are walked for .txt and .md files. http(s) arguments are fetched
as-is, so plain-text or markdown pages work best. Passage i of the documents
file is the text of vector i of the index, so both files must always be
written together.

The embedding model must match the one used at query time (EMBEDDING_PROVIDER,
EMBEDDING_MODEL). With --qdrant every batch is also upserted into the
QDRANT_COLLECTION collection, which is created if missing.

Examples:
  sakhi index build ./corpus
  sakhi index build --index kb.index --docs kb.txt paddy.md https://example.org/coconut-pests
  EMBEDDING_PROVIDER=ollama sakhi index build --qdrant ./corpus`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			if indexPath == "" {
				indexPath = config.Env("INDEX_PATH", "faiss_index.index")
			}
			if docsPath == "" {
				docsPath = config.Env("DOCS_PATH", "docs.txt")
			}

			sources, err := ingestion.ResolveSources(args)
			if err != nil {
				return fmt.Errorf("index: %w", err)
			}

			if err := embedder.Validate(log); err != nil {
				return fmt.Errorf("index: %w", err)
			}
			emb, err := embedder.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("index: failed to initialise embedder: %w", err)
			}
			log.Info("embedder initialised", slog.String("provider", embedder.Backend()))

			var upserter ingestion.Upserter
			if toQdrant {
				qcfg := qdrantConfig()
				store, err := rag.NewQdrantStore(ctx, qcfg, true)
				if err != nil {
					return fmt.Errorf("index: failed to connect to Qdrant at %s:%d: %w", qcfg.Host, qcfg.Port, err)
				}
				defer func() { _ = store.Close() }()
				upserter = store
				log.Info("qdrant store ready",
					slog.String("host", qcfg.Host),
					slog.Int("port", qcfg.Port),
					slog.String("collection", qcfg.Collection),
				)
			}

			pipeline, err := ingestion.NewPipeline(emb, upserter, &ingestion.Config{
				ChunkSize:    chunkSize,
				ChunkOverlap: chunkOverlap,
				BatchSize:    batchSize,
				InnerProduct: innerProduct,
			})
			if err != nil {
				return fmt.Errorf("index: failed to create pipeline: %w", err)
			}

			log.Info("starting ingestion", slog.Int("sources", len(sources)))
			res, err := pipeline.Build(ctx, sources, func(msg string) {
				log.Info(msg)
			})
			if err != nil {
				return fmt.Errorf("index: pipeline failed: %w", err)
			}

			if err := res.Write(indexPath, docsPath); err != nil {
				return fmt.Errorf("index: %w", err)
			}
			log.Info("knowledge base written",
				slog.String("index", indexPath),
				slog.String("docs", docsPath),
				slog.Int("passages", len(res.Docs)),
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&indexPath, "index", "", "Output FAISS index file (default: $INDEX_PATH or faiss_index.index)")
	cmd.Flags().StringVar(&docsPath, "docs", "", "Output documents file (default: $DOCS_PATH or docs.txt)")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 1000, "Maximum characters per passage")
	cmd.Flags().IntVar(&chunkOverlap, "chunk-overlap", 100, "Characters shared by consecutive passages (negative disables)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 32, "Passages per embedding request")
	cmd.Flags().BoolVar(&innerProduct, "inner-product", false, "Build an inner-product index instead of L2")
	cmd.Flags().BoolVar(&toQdrant, "qdrant", false, "Also upsert passages into Qdrant")

	return cmd
}
