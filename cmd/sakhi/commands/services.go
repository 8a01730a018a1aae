package commands

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/krishisakhi-go/internal/assistant"
	"github.com/54b3r/krishisakhi-go/internal/backend"
	"github.com/54b3r/krishisakhi-go/internal/config"
	"github.com/54b3r/krishisakhi-go/internal/embedder"
	"github.com/54b3r/krishisakhi-go/internal/farmlog"
	"github.com/54b3r/krishisakhi-go/internal/index"
	"github.com/54b3r/krishisakhi-go/internal/llm"
	"github.com/54b3r/krishisakhi-go/internal/predict"
	"github.com/54b3r/krishisakhi-go/internal/provider"
	"github.com/54b3r/krishisakhi-go/internal/rag"
	"github.com/54b3r/krishisakhi-go/internal/server"
	"github.com/54b3r/krishisakhi-go/internal/speech"
	"github.com/54b3r/krishisakhi-go/internal/translate"
	"github.com/54b3r/krishisakhi-go/internal/vision"
	"github.com/54b3r/krishisakhi-go/internal/weather"
)

// services is everything a command needs, built once at startup and torn
// down with close.
type services struct {
	assistant   *assistant.Assistant
	recorder    *farmlog.Recorder
	farm        *backend.Client
	transcriber speech.Service
	pingers     []server.Pinger
	closers     []func()
}

// close releases clients in reverse construction order.
func (s *services) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// buildServices wires the pipeline from environment configuration. Speech
// and weather are optional: a failure to set them up disables voice input
// or weather context with a warning.
func buildServices(ctx context.Context, log *slog.Logger, reg prometheus.Registerer) (*services, error) {
	svc := &services{}

	gen, providerCfg, err := buildGenerator(ctx, log)
	if err != nil {
		return nil, err
	}
	svc.pingers = append(svc.pingers, modelPinger(providerCfg)...)

	languages := translate.DefaultLanguages().Merge(config.ParseLanguages(config.Env("SAKHI_LANGUAGES", "")))

	retriever, err := buildRetriever(ctx, log, svc)
	if err != nil {
		svc.close()
		return nil, err
	}

	svc.farm = backend.New(backend.ConfigFromEnv())
	svc.pingers = append(svc.pingers, server.NewPinger("farm-api", svc.farm.Ping))

	var weatherProvider weather.Provider
	if config.Env("OPENWEATHER_API_KEY", "") != "" {
		weatherProvider = weather.NewFromEnv()
	} else {
		log.Info("weather disabled", slog.String("reason", "OPENWEATHER_API_KEY not set"))
	}

	var transcriber speech.Transcriber
	if stt, err := speech.NewFromEnv(ctx); err != nil {
		log.Warn("speech-to-text disabled", slog.Any("error", err))
	} else {
		svc.transcriber = stt
		transcriber = stt
		svc.closers = append(svc.closers, func() { _ = stt.Close() })
	}

	policy, err := assistant.ParsePolicy(config.Env("SAKHI_DEGRADE_POLICY", string(assistant.PolicyDegrade)))
	if err != nil {
		svc.close()
		return nil, err
	}

	svc.assistant, err = assistant.New(assistant.Deps{
		Generator:   gen,
		Translator:  translate.New(gen, languages),
		Languages:   languages,
		Retriever:   retriever,
		Analyzer:    vision.New(gen),
		Profiles:    svc.farm,
		Transcriber: transcriber,
		Weather:     weatherProvider,
		Predictor:   predict.New(gen),
	}, assistant.Config{
		TopK:                 config.EnvInt("RAG_TOP_K", rag.DefaultTopK),
		Policy:               policy,
		Sequential:           config.EnvBool("SAKHI_SEQUENTIAL_STAGES", false),
		SynthesizeInLanguage: config.EnvBool("SAKHI_SYNTHESIZE_IN_LANGUAGE", false),
		MetricsRegistry:      reg,
	})
	if err != nil {
		svc.close()
		return nil, err
	}

	svc.recorder = farmlog.NewRecorder(farmlog.NewExtractor(gen), svc.farm, transcriber)

	log.Info("pipeline ready",
		slog.String("policy", string(policy)),
		slog.Any("languages", languages.Codes()),
		slog.Bool("speech", transcriber != nil),
		slog.Bool("weather", weatherProvider != nil),
	)
	return svc, nil
}

// buildGenerator constructs the chat model named by MODEL_PROVIDER behind
// the per-call timeout.
func buildGenerator(ctx context.Context, log *slog.Logger) (*llm.Client, *provider.Config, error) {
	providerCfg := provider.ConfigFromEnv()
	chatModel, err := provider.New(ctx, providerCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialise model provider: %w", err)
	}
	log.Info("provider initialised",
		slog.String("provider", string(providerCfg.Backend)),
		slog.String("model", providerCfg.ModelName()),
	)
	gen, err := llm.New(chatModel, config.EnvDuration("SAKHI_CALL_TIMEOUT", llm.DefaultTimeout))
	if err != nil {
		return nil, nil, err
	}
	return gen, providerCfg, nil
}

// buildRetriever opens the knowledge base named by INDEX_BACKEND: local
// FAISS files (default) or a Qdrant collection. Either way the documents
// file resolves hit positions to text.
func buildRetriever(ctx context.Context, log *slog.Logger, svc *services) (rag.Retriever, error) {
	if err := embedder.Validate(log); err != nil {
		return nil, err
	}
	emb, err := embedder.NewFromEnv(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}

	docsPath := config.Env("DOCS_PATH", "docs.txt")
	docs, err := index.LoadDocs(docsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load documents: %w", err)
	}

	var (
		searcher  rag.Searcher
		indexSize int
	)
	switch backendName := strings.ToLower(config.Env("INDEX_BACKEND", "faiss")); backendName {
	case "faiss":
		indexPath := config.Env("INDEX_PATH", "faiss_index.index")
		x, err := index.ReadFlatFile(indexPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load index: %w", err)
		}
		searcher, indexSize = x, x.Len()
		log.Info("faiss index loaded",
			slog.String("path", indexPath),
			slog.Int("vectors", x.Len()),
			slog.Int("dim", x.Dim()),
		)
	case "qdrant":
		store, err := rag.NewQdrantStore(ctx, qdrantConfig(), false)
		if err != nil {
			return nil, err
		}
		svc.closers = append(svc.closers, func() { _ = store.Close() })
		svc.pingers = append(svc.pingers, server.NewPinger("qdrant", store.Ping))
		if indexSize, err = store.Count(ctx); err != nil {
			log.Warn("qdrant: could not count points", slog.Any("error", err))
			indexSize = -1
		}
		searcher = store
	default:
		return nil, fmt.Errorf("unknown INDEX_BACKEND %q (want faiss or qdrant)", backendName)
	}

	r, err := rag.NewRetriever(ctx, emb, searcher, docs, indexSize, config.EnvInt("RAG_TOP_K", rag.DefaultTopK))
	if err != nil {
		return nil, err
	}
	return r, nil
}

// qdrantConfig reads the QDRANT_* variables.
func qdrantConfig() *rag.QdrantConfig {
	return &rag.QdrantConfig{
		Host:       config.Env("QDRANT_HOST", "localhost"),
		Port:       config.EnvInt("QDRANT_PORT", 6334),
		Collection: config.Env("QDRANT_COLLECTION", "krishi_knowledge"),
		VectorSize: uint64(embedder.DefaultDimensions(embedder.Backend())), //nolint:gosec // dimensions are bounded
		APIKey:     config.Env("QDRANT_API_KEY", ""),
		UseTLS:     config.EnvBool("QDRANT_TLS", false),
		Timeout:    config.EnvDuration("QDRANT_TIMEOUT", 0),
	}
}

// modelPinger returns a zero-cost readiness probe for the configured model
// backend. Ark has no listing endpoint and gets none.
func modelPinger(cfg *provider.Config) []server.Pinger {
	switch cfg.Backend {
	case provider.BackendGemini:
		return []server.Pinger{server.NewHTTPPinger("gemini",
			"https://generativelanguage.googleapis.com/v1beta/models?pageSize=1",
			http.Header{"x-goog-api-key": {cfg.Gemini.APIKey}})}
	case provider.BackendOpenAI:
		base := strings.TrimRight(cfg.OpenAI.BaseURL, "/")
		if base == "" {
			base = "https://api.openai.com/v1"
		}
		return []server.Pinger{server.NewHTTPPinger("openai", base+"/models",
			http.Header{"Authorization": {"Bearer " + cfg.OpenAI.APIKey}})}
	case provider.BackendOllama:
		return []server.Pinger{server.NewHTTPPinger("ollama", strings.TrimRight(cfg.Ollama.Host, "/")+"/api/tags", nil)}
	default:
		return nil
	}
}
