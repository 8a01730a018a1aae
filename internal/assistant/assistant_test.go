package assistant

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/krishisakhi-go/internal/backend"
	"github.com/54b3r/krishisakhi-go/internal/llm"
	"github.com/54b3r/krishisakhi-go/internal/llm/llmtest"
	"github.com/54b3r/krishisakhi-go/internal/predict"
	"github.com/54b3r/krishisakhi-go/internal/rag"
	"github.com/54b3r/krishisakhi-go/internal/speech"
	"github.com/54b3r/krishisakhi-go/internal/translate"
	"github.com/54b3r/krishisakhi-go/internal/vision"
	"github.com/54b3r/krishisakhi-go/internal/weather"
)

const (
	stemBorerEN     = "How to manage stem borer in my rice crop?"
	stemBorerHI     = "मेरी धान की फसल में तना छेदक का प्रबंधन कैसे करें?"
	englishAnswer   = "Install pheromone traps at 8 per acre and release Trichogramma egg parasitoids."
	hindiAnswer     = "प्रति एकड़ 8 फेरोमोन ट्रैप लगाएं और ट्राइकोग्रामा छोड़ें।"
	translatePrefix = "Translate the following text"
	answerPrefix    = "You are 'Krishi Sakhi'"
)

// scripted answers translation, captioning and synthesis prompts.
func scripted(prompt string, images int) (string, error) {
	switch {
	case images > 0:
		return "Leaves show dead hearts typical of stem borer.", nil
	case strings.HasPrefix(prompt, "Translate the following text from Hindi to English"):
		return stemBorerEN, nil
	case strings.HasPrefix(prompt, "Translate the following text from English to Hindi"):
		return hindiAnswer, nil
	case strings.HasPrefix(prompt, answerPrefix):
		return englishAnswer, nil
	}
	return "", errors.New("unexpected prompt")
}

type fakeRetriever struct {
	err   error
	calls atomic.Int32
	gotK  int
	gotQ  string
	delay time.Duration
}

func (f *fakeRetriever) Retrieve(ctx context.Context, query string, k int) (string, error) {
	f.calls.Add(1)
	f.gotK, f.gotQ = k, query
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return rag.RetrievalFailed, ctx.Err()
		}
	}
	if f.err != nil {
		return rag.RetrievalFailed, f.err
	}
	return "Stem borer is controlled with pheromone traps." + rag.Separator + "Trichogramma release at 50,000 per ha.", nil
}

type harness struct {
	model     *llmtest.Model
	retriever *fakeRetriever
	reg       *prometheus.Registry
	asst      *Assistant
}

func newHarness(t *testing.T, respond llmtest.Responder, cfg Config, mutate func(*Deps)) *harness {
	t.Helper()
	m := llmtest.New(respond)
	client, err := llm.New(m, time.Second)
	require.NoError(t, err)

	h := &harness{model: m, retriever: &fakeRetriever{}, reg: prometheus.NewRegistry()}
	deps := Deps{
		Generator:  client,
		Translator: translate.New(client, nil),
		Retriever:  h.retriever,
		Analyzer:   vision.New(client),
	}
	if mutate != nil {
		mutate(&deps)
	}
	cfg.MetricsRegistry = h.reg
	h.asst, err = New(deps, cfg)
	require.NoError(t, err)
	return h
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))))
	return buf.Bytes()
}

func TestAnswer_EnglishNoTranslation(t *testing.T) {
	t.Parallel()
	h := newHarness(t, scripted, Config{}, nil)

	got, err := h.asst.Answer(context.Background(), Query{Text: stemBorerEN, Language: "en"})
	require.NoError(t, err)
	assert.NotEmpty(t, got.ResponseText)
	assert.Equal(t, englishAnswer, got.ResponseText)
	assert.Empty(t, got.Degraded)

	assert.Equal(t, 0, h.model.CountPrefix(translatePrefix))
	assert.Equal(t, 1, h.model.Calls())
	assert.Equal(t, 0, h.model.Images())
	assert.Equal(t, stemBorerEN, h.retriever.gotQ)
	assert.Equal(t, rag.DefaultTopK, h.retriever.gotK)

	prompt := h.model.Prompts()[0]
	assert.Contains(t, prompt, "Your final response MUST be in English.")
	assert.Contains(t, prompt, "Analysis of Uploaded Image: "+vision.NoImage)
	assert.Contains(t, prompt, "Relevant Knowledge (in English): Stem borer is controlled")
	assert.Contains(t, prompt, `Farmer's Question (translated to English): "`+stemBorerEN+`"`)
	assert.Contains(t, prompt, "Farmer's Profile: N/A")
}

func TestAnswer_HindiTranslatesTwice(t *testing.T) {
	t.Parallel()
	h := newHarness(t, scripted, Config{}, nil)

	got, err := h.asst.Answer(context.Background(), Query{Text: stemBorerHI, Language: "hi"})
	require.NoError(t, err)

	assert.Equal(t, 2, h.model.CountPrefix(translatePrefix))
	assert.Equal(t, hindiAnswer, got.ResponseText)
	assert.Equal(t, englishAnswer, got.EnglishText)
	assert.NotEqual(t, got.EnglishText, got.ResponseText)
	assert.Equal(t, stemBorerEN, h.retriever.gotQ, "retrieval runs on the English question")
}

func TestAnswer_SynthesizeInLanguage(t *testing.T) {
	t.Parallel()
	h := newHarness(t, scripted, Config{SynthesizeInLanguage: true}, nil)

	_, err := h.asst.Answer(context.Background(), Query{Text: stemBorerHI, Language: "hi"})
	require.NoError(t, err)
	assert.Equal(t, 1, h.model.CountPrefix(translatePrefix))
	assert.Equal(t, 1, h.model.CountPrefix(answerPrefix))
	for _, p := range h.model.Prompts() {
		if strings.HasPrefix(p, answerPrefix) {
			assert.Contains(t, p, "MUST be in Hindi")
		}
	}
}

func TestAnswer_WithImage(t *testing.T) {
	t.Parallel()

	for _, sequential := range []bool{false, true} {
		h := newHarness(t, scripted, Config{Sequential: sequential}, nil)
		_, err := h.asst.Answer(context.Background(), Query{Text: stemBorerEN, Image: pngBytes(t)})
		require.NoError(t, err)
		assert.Equal(t, 1, h.model.Images())
		assert.Equal(t, int32(1), h.retriever.calls.Load())
		assert.Equal(t, 1, h.model.CountPrefix(answerPrefix))
		for _, p := range h.model.Prompts() {
			if strings.HasPrefix(p, answerPrefix) {
				assert.Contains(t, p, "Analysis of Uploaded Image: Leaves show dead hearts")
			}
		}
	}
}

func TestAnswer_ProfileAndPredictionsInPrompt(t *testing.T) {
	t.Parallel()
	h := newHarness(t, scripted, Config{TopK: 5}, nil)

	preds := predict.Default(backend.Profile{"primary_crop": "Paddy"})
	_, err := h.asst.Answer(context.Background(), Query{
		Text:        stemBorerEN,
		Profile:     backend.Profile{"primary_crop": "Paddy", "village": "Kuttanad"},
		Predictions: &preds,
	})
	require.NoError(t, err)
	prompt := h.model.Prompts()[0]
	assert.Contains(t, prompt, "Farmer's Profile: {primary_crop: Paddy, village: Kuttanad}")
	assert.Contains(t, prompt, "Today's Predictions: {recommended_crop: Rice")
	assert.Equal(t, 5, h.retriever.gotK)
}

func TestAnswer_NoInput(t *testing.T) {
	t.Parallel()
	h := newHarness(t, scripted, Config{}, nil)

	_, err := h.asst.Answer(context.Background(), Query{Text: "  "})
	assert.ErrorIs(t, err, ErrNoInput)
	assert.Equal(t, 0, h.model.Calls())
}

// -----------------------------------------------------------------------------
// Degrade policy
// -----------------------------------------------------------------------------

func TestAnswer_DegradeContinuesWithSentinels(t *testing.T) {
	t.Parallel()

	respond := func(prompt string, images int) (string, error) {
		if images > 0 {
			return "", errors.New("vision quota")
		}
		return scripted(prompt, images)
	}
	h := newHarness(t, respond, Config{}, nil)
	h.retriever.err = errors.New("embedding service down")

	got, err := h.asst.Answer(context.Background(), Query{Text: stemBorerEN, Image: pngBytes(t)})
	require.NoError(t, err)
	assert.Equal(t, englishAnswer, got.ResponseText)
	assert.ElementsMatch(t, []string{StageAnalyze, StageRetrieve}, got.Degraded)

	prompt := h.model.Prompts()[len(h.model.Prompts())-1]
	assert.Contains(t, prompt, "Analysis of Uploaded Image: "+vision.Failed)
	assert.Contains(t, prompt, "Relevant Knowledge (in English): "+rag.RetrievalFailed)

	assert.InDelta(t, 1, testutil.ToFloat64(h.asst.metrics.degradedTotal.WithLabelValues(StageRetrieve)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(h.asst.metrics.degradedTotal.WithLabelValues(StageAnalyze)), 0)
}

func TestAnswer_DegradeTranslationFailure(t *testing.T) {
	t.Parallel()

	respond := func(prompt string, images int) (string, error) {
		if strings.HasPrefix(prompt, translatePrefix) {
			return "", errors.New("translation quota")
		}
		return scripted(prompt, images)
	}
	h := newHarness(t, respond, Config{}, nil)

	got, err := h.asst.Answer(context.Background(), Query{Text: stemBorerHI, Language: "hi"})
	require.NoError(t, err)
	assert.Equal(t, translate.Failed, got.ResponseText)
	assert.Equal(t, []string{StageTranslateIn, StageTranslateOut}, got.Degraded)
}

func TestAnswer_StrictAborts(t *testing.T) {
	t.Parallel()

	for _, sequential := range []bool{false, true} {
		h := newHarness(t, scripted, Config{Policy: PolicyStrict, Sequential: sequential}, nil)
		h.retriever.err = fmt.Errorf("%w: qdrant unreachable", rag.ErrRetrieval)

		_, err := h.asst.Answer(context.Background(), Query{Text: stemBorerEN})
		require.Error(t, err)
		assert.ErrorIs(t, err, rag.ErrRetrieval)
		assert.Equal(t, 0, h.model.CountPrefix(answerPrefix), "no synthesis after a strict failure")
	}
}

func TestAnswer_StrictCancelsSibling(t *testing.T) {
	t.Parallel()

	respond := func(prompt string, images int) (string, error) {
		if images > 0 {
			return "", errors.New("vision down")
		}
		return scripted(prompt, images)
	}
	h := newHarness(t, respond, Config{Policy: PolicyStrict}, nil)
	h.retriever.delay = 5 * time.Second

	start := time.Now()
	_, err := h.asst.Answer(context.Background(), Query{Text: stemBorerEN, Image: pngBytes(t)})
	assert.ErrorIs(t, err, vision.ErrAnalysis)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestAnswer_SynthesisFailureAlwaysAborts(t *testing.T) {
	t.Parallel()

	respond := func(prompt string, images int) (string, error) {
		if strings.HasPrefix(prompt, answerPrefix) {
			return "", errors.New("model overloaded")
		}
		return scripted(prompt, images)
	}
	h := newHarness(t, respond, Config{Policy: PolicyDegrade}, nil)

	_, err := h.asst.Answer(context.Background(), Query{Text: stemBorerEN})
	assert.ErrorIs(t, err, ErrSynthesis)
}

func TestParsePolicy(t *testing.T) {
	t.Parallel()

	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyDegrade, p)
	p, err = ParsePolicy(" STRICT ")
	require.NoError(t, err)
	assert.Equal(t, PolicyStrict, p)
	_, err = ParsePolicy("lenient")
	assert.Error(t, err)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	t.Parallel()
	_, err := New(Deps{}, Config{})
	assert.Error(t, err)
}

// -----------------------------------------------------------------------------
// Chat
// -----------------------------------------------------------------------------

type fakeProfiles struct {
	profile backend.Profile
	err     error
}

func (f *fakeProfiles) Profile(context.Context, string) (backend.Profile, error) {
	return f.profile, f.err
}

type fakeTranscriber struct {
	text string
	err  error
	lang string
}

func (f *fakeTranscriber) Transcribe(_ context.Context, _ []byte, lang string) (string, error) {
	f.lang = lang
	return f.text, f.err
}

type fakeWeather struct {
	err     error
	village string
}

func (f *fakeWeather) Current(_ context.Context, village string) (weather.Report, error) {
	f.village = village
	if f.err != nil {
		return weather.Report{}, f.err
	}
	return weather.Report{Temperature: 30, Weather: "Clear Sky", Humidity: 70}, nil
}

type fakePredictor struct {
	gotWeather *weather.Report
}

func (f *fakePredictor) Predict(_ context.Context, profile backend.Profile, report *weather.Report) (predict.Predictions, error) {
	f.gotWeather = report
	return predict.Default(profile), nil
}

func TestChat_VoiceQuestion(t *testing.T) {
	t.Parallel()

	tr := &fakeTranscriber{text: " " + stemBorerHI + " "}
	wx := &fakeWeather{}
	pr := &fakePredictor{}
	h := newHarness(t, scripted, Config{}, func(d *Deps) {
		d.Profiles = &fakeProfiles{profile: backend.Profile{"preferred_language": "hi", "village": "Varanasi"}}
		d.Transcriber = tr
		d.Weather = wx
		d.Predictor = pr
	})

	got, err := h.asst.Chat(context.Background(), ChatRequest{UserID: "u1", Audio: []byte("OggS")})
	require.NoError(t, err)
	assert.Equal(t, "hi", tr.lang)
	assert.Equal(t, stemBorerHI, got.TranscribedText)
	assert.Equal(t, hindiAnswer, got.ResponseText)
	assert.Equal(t, "Varanasi", wx.village)
	require.NotNil(t, pr.gotWeather)
	assert.Equal(t, "Clear Sky", pr.gotWeather.Weather)
}

func TestChat_TextInRequestedLanguage(t *testing.T) {
	t.Parallel()

	h := newHarness(t, scripted, Config{}, func(d *Deps) {
		d.Profiles = &fakeProfiles{profile: backend.Profile{"preferred_language": "ml"}}
	})

	got, err := h.asst.Chat(context.Background(), ChatRequest{UserID: "u1", Text: stemBorerEN, LanguageCode: "en"})
	require.NoError(t, err)
	assert.Equal(t, englishAnswer, got.ResponseText)
	assert.Equal(t, 0, h.model.CountPrefix(translatePrefix))
}

func TestChat_Rejections(t *testing.T) {
	t.Parallel()

	t.Run("profile not found", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, scripted, Config{}, func(d *Deps) {
			d.Profiles = &fakeProfiles{err: backend.ErrNotFound}
		})
		_, err := h.asst.Chat(context.Background(), ChatRequest{UserID: "ghost", Text: "hi"})
		assert.ErrorIs(t, err, backend.ErrNotFound)
	})

	t.Run("empty transcript", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, scripted, Config{}, func(d *Deps) {
			d.Profiles = &fakeProfiles{profile: backend.Profile{}}
			d.Transcriber = &fakeTranscriber{text: ""}
		})
		_, err := h.asst.Chat(context.Background(), ChatRequest{UserID: "u", Audio: []byte("OggS")})
		assert.ErrorIs(t, err, ErrNoInput)
	})

	t.Run("unsupported audio", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, scripted, Config{}, func(d *Deps) {
			d.Profiles = &fakeProfiles{profile: backend.Profile{}}
			d.Transcriber = &fakeTranscriber{err: speech.ErrUnsupportedAudio}
		})
		_, err := h.asst.Chat(context.Background(), ChatRequest{UserID: "u", Audio: []byte("ID3")})
		assert.ErrorIs(t, err, speech.ErrUnsupportedAudio)
	})

	t.Run("no text", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, scripted, Config{}, func(d *Deps) {
			d.Profiles = &fakeProfiles{profile: backend.Profile{}}
		})
		_, err := h.asst.Chat(context.Background(), ChatRequest{UserID: "u"})
		assert.ErrorIs(t, err, ErrNoInput)
		assert.Equal(t, 0, h.model.Calls())
	})
}

func TestChat_WeatherFailureDegrades(t *testing.T) {
	t.Parallel()

	pr := &fakePredictor{}
	h := newHarness(t, scripted, Config{}, func(d *Deps) {
		d.Profiles = &fakeProfiles{profile: backend.Profile{"village": "Nowhere"}}
		d.Weather = &fakeWeather{err: weather.ErrNotFound}
		d.Predictor = pr
	})
	got, err := h.asst.Chat(context.Background(), ChatRequest{UserID: "u", Text: stemBorerEN, LanguageCode: "en"})
	require.NoError(t, err)
	assert.Equal(t, []string{StageWeather}, got.Degraded)
	assert.Nil(t, pr.gotWeather)
}
