// Package assistant answers a farmer's question. It composes the pipeline
// stages: the question is translated to English, the knowledge base is
// searched while any crop photo is captioned, one composite prompt is sent
// to the model, and the answer is translated back to the farmer's language.
//
// Stage failures are handled by a Policy. Under PolicyDegrade the stage's
// sentinel text stands in for its output and the answer is still produced;
// under PolicyStrict the first stage error aborts the request. A failed
// synthesis call always aborts.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/54b3r/krishisakhi-go/internal/backend"
	"github.com/54b3r/krishisakhi-go/internal/logging"
	"github.com/54b3r/krishisakhi-go/internal/predict"
	"github.com/54b3r/krishisakhi-go/internal/rag"
	"github.com/54b3r/krishisakhi-go/internal/speech"
	"github.com/54b3r/krishisakhi-go/internal/translate"
	"github.com/54b3r/krishisakhi-go/internal/vision"
	"github.com/54b3r/krishisakhi-go/internal/weather"
)

var (
	// ErrNoInput is returned when a request carries no question.
	ErrNoInput = errors.New("assistant: no query provided")
	// ErrSynthesis is returned when the answer model call fails.
	ErrSynthesis = errors.New("assistant: answer synthesis failed")
)

// Policy decides what a stage failure does to the request.
type Policy string

const (
	// PolicyDegrade substitutes the stage sentinel and continues.
	PolicyDegrade Policy = "degrade"
	// PolicyStrict aborts on the first stage error.
	PolicyStrict Policy = "strict"
)

// ParsePolicy parses SAKHI_DEGRADE_POLICY. The empty string is PolicyDegrade.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyDegrade:
		return PolicyDegrade, nil
	case PolicyStrict:
		return PolicyStrict, nil
	default:
		return "", fmt.Errorf("assistant: unknown degrade policy %q (want degrade or strict)", s)
	}
}

// Generator sends a text prompt. *llm.Client satisfies it.
type Generator interface {
	Text(ctx context.Context, prompt string) (string, error)
}

// ProfileSource looks up a farmer's profile.
type ProfileSource interface {
	Profile(ctx context.Context, userID string) (backend.Profile, error)
}

// Predictor produces dashboard predictions. On failure it returns usable
// defaults together with the error.
type Predictor interface {
	Predict(ctx context.Context, profile backend.Profile, report *weather.Report) (predict.Predictions, error)
}

// Deps are the collaborators of an Assistant. Generator, Translator,
// Retriever and Analyzer are required; the rest are only needed by Chat.
type Deps struct {
	Generator   Generator
	Translator  translate.Translator
	Languages   translate.Languages
	Retriever   rag.Retriever
	Analyzer    vision.ImageAnalyzer
	Profiles    ProfileSource
	Transcriber speech.Transcriber
	Weather     weather.Provider
	Predictor   Predictor
}

// Config tunes the pipeline.
type Config struct {
	// TopK is the retrieval fan-out (default rag.DefaultTopK).
	TopK int
	// Policy handles stage failures (default PolicyDegrade).
	Policy Policy
	// Sequential runs captioning and retrieval one after the other.
	Sequential bool
	// SynthesizeInLanguage asks the model to answer in the response
	// language directly and skips the outbound translation.
	SynthesizeInLanguage bool
	// MetricsRegistry receives the pipeline metrics; nil skips registration.
	MetricsRegistry prometheus.Registerer
}

// Query is one question to answer.
type Query struct {
	// Text is the question in Language.
	Text string
	// Language is the code of Text (default "en").
	Language string
	// ResponseLanguage is the code of the answer (default Language).
	ResponseLanguage string
	// Image is an optional crop photo.
	Image []byte
	// ImageMIME is the declared type of Image; empty is sniffed.
	ImageMIME string
	// Profile is the farmer's profile, if known.
	Profile backend.Profile
	// Predictions are today's dashboard predictions, if known.
	Predictions *predict.Predictions
}

// Answer is the pipeline result.
type Answer struct {
	// ResponseText is the answer in the response language.
	ResponseText string `json:"response_text"`
	// TranscribedText is the transcript of a spoken question.
	TranscribedText string `json:"transcribed_text,omitempty"`
	// Degraded lists the stages whose sentinel was used.
	Degraded []string `json:"degraded,omitempty"`
	// EnglishText is the synthesised answer before outbound translation.
	EnglishText string `json:"-"`
}

// Assistant runs the answer pipeline. It holds no per-request state and is
// safe for concurrent use.
type Assistant struct {
	deps    Deps
	cfg     Config
	metrics *pipelineMetrics
}

// New validates deps and returns an Assistant.
func New(deps Deps, cfg Config) (*Assistant, error) {
	switch {
	case deps.Generator == nil:
		return nil, fmt.Errorf("assistant: generator must not be nil")
	case deps.Translator == nil:
		return nil, fmt.Errorf("assistant: translator must not be nil")
	case deps.Retriever == nil:
		return nil, fmt.Errorf("assistant: retriever must not be nil")
	case deps.Analyzer == nil:
		return nil, fmt.Errorf("assistant: analyzer must not be nil")
	}
	if deps.Languages == nil {
		deps.Languages = translate.DefaultLanguages()
	}
	if cfg.TopK <= 0 {
		cfg.TopK = rag.DefaultTopK
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyDegrade
	}
	return &Assistant{deps: deps, cfg: cfg, metrics: newPipelineMetrics(cfg.MetricsRegistry)}, nil
}

// Languages returns the display-name table.
func (a *Assistant) Languages() translate.Languages { return a.deps.Languages }

// requestState accumulates degraded stages for one request.
type requestState struct {
	degraded []string
}

// absorb applies the policy to a stage error. It returns a non-nil error
// only when the request must abort.
func (a *Assistant) absorb(ctx context.Context, st *requestState, stage string, err error) error {
	if err == nil {
		return nil
	}
	if a.cfg.Policy == PolicyStrict {
		return fmt.Errorf("assistant: %s: %w", stage, err)
	}
	st.degraded = append(st.degraded, stage)
	a.metrics.degradedTotal.WithLabelValues(stage).Inc()
	logging.FromContext(ctx).Warn("assistant: stage degraded",
		slog.String("stage", stage),
		slog.Any("error", err),
	)
	return nil
}

// Answer runs the pipeline for q.
func (a *Assistant) Answer(ctx context.Context, q Query) (Answer, error) {
	var st requestState
	return a.answer(ctx, q, &st)
}

func (a *Assistant) answer(ctx context.Context, q Query, st *requestState) (Answer, error) {
	if strings.TrimSpace(q.Text) == "" {
		return Answer{}, ErrNoInput
	}
	src := q.Language
	if src == "" {
		src = translate.English
	}
	dest := q.ResponseLanguage
	if dest == "" {
		dest = src
	}
	log := logging.FromContext(ctx).With(slog.String("language", src), slog.String("response_language", dest))

	// 1. Question into English.
	start := time.Now()
	english, err := a.deps.Translator.Translate(ctx, q.Text, src, translate.English)
	a.metrics.observe(StageTranslateIn, start, err)
	if err := a.absorb(ctx, st, StageTranslateIn, err); err != nil {
		return Answer{}, err
	}

	// 2. Prompt language.
	promptLang := translate.English
	if a.cfg.SynthesizeInLanguage {
		promptLang = dest
	}
	langName := a.deps.Languages.Name(promptLang)

	// 3 and 4. Caption and retrieve.
	analysis, knowledge, err := a.gather(ctx, q, english, st)
	if err != nil {
		return Answer{}, err
	}

	// 5 and 6. Synthesize.
	prompt := buildPrompt(promptInput{
		Language:    langName,
		Profile:     profileText(q.Profile),
		Predictions: predictionsText(q.Predictions),
		Image:       analysis,
		Context:     knowledge,
		Question:    english,
	})
	start = time.Now()
	answer, err := a.deps.Generator.Text(ctx, prompt)
	a.metrics.observe(StageSynthesize, start, err)
	if err != nil {
		return Answer{}, fmt.Errorf("%w: %w", ErrSynthesis, err)
	}
	if strings.TrimSpace(answer) == "" {
		return Answer{}, fmt.Errorf("%w: model returned an empty answer", ErrSynthesis)
	}

	// 7. Answer out of English.
	out := answer
	if !a.cfg.SynthesizeInLanguage {
		start = time.Now()
		out, err = a.deps.Translator.Translate(ctx, answer, translate.English, dest)
		a.metrics.observe(StageTranslateOut, start, err)
		if err := a.absorb(ctx, st, StageTranslateOut, err); err != nil {
			return Answer{}, err
		}
	}

	log.Info("assistant: answered",
		slog.Bool("image", len(q.Image) > 0),
		slog.Int("answer_chars", len(out)),
		slog.Any("degraded", st.degraded),
	)
	return Answer{ResponseText: out, EnglishText: answer, Degraded: st.degraded}, nil
}

// gather runs image analysis and retrieval, concurrently unless configured
// otherwise. Both complete before it returns. Under PolicyStrict the first
// failure cancels the other stage and is returned.
func (a *Assistant) gather(ctx context.Context, q Query, english string, st *requestState) (analysis, knowledge string, err error) {
	var analyzeErr, retrieveErr error
	strict := a.cfg.Policy == PolicyStrict

	analyze := func(ctx context.Context) error {
		if len(q.Image) == 0 {
			analysis = vision.NoImage
			return nil
		}
		start := time.Now()
		analysis, analyzeErr = a.deps.Analyzer.Analyze(ctx, q.Image, q.ImageMIME)
		a.metrics.observe(StageAnalyze, start, analyzeErr)
		if strict && analyzeErr != nil {
			return fmt.Errorf("assistant: %s: %w", StageAnalyze, analyzeErr)
		}
		return nil
	}
	retrieve := func(ctx context.Context) error {
		start := time.Now()
		knowledge, retrieveErr = a.deps.Retriever.Retrieve(ctx, english, a.cfg.TopK)
		a.metrics.observe(StageRetrieve, start, retrieveErr)
		if strict && retrieveErr != nil {
			return fmt.Errorf("assistant: %s: %w", StageRetrieve, retrieveErr)
		}
		return nil
	}

	if a.cfg.Sequential {
		if err := analyze(ctx); err != nil {
			return "", "", err
		}
		if err := retrieve(ctx); err != nil {
			return "", "", err
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return analyze(gctx) })
		g.Go(func() error { return retrieve(gctx) })
		if err := g.Wait(); err != nil {
			return "", "", err
		}
	}

	_ = a.absorb(ctx, st, StageAnalyze, analyzeErr)
	_ = a.absorb(ctx, st, StageRetrieve, retrieveErr)
	return analysis, knowledge, nil
}

// profileText renders a profile for the prompt.
func profileText(p backend.Profile) string {
	if len(p) == 0 {
		return ""
	}
	return p.String()
}

// predictionsText renders predictions for the prompt.
func predictionsText(p *predict.Predictions) string {
	if p == nil {
		return ""
	}
	return p.String()
}
