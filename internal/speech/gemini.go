package speech

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.0-flash"

// transcribePrompt asks for a verbatim transcript in the spoken language.
const transcribePrompt = "Transcribe this audio recording verbatim. The speaker's language is %s. " +
	"Respond with only the transcript in that language. If nothing is spoken, respond with an empty string."

// contentGenerator matches (*genai.Models).GenerateContent.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiConfig holds the settings for constructing a Gemini transcriber.
type GeminiConfig struct {
	// APIKey is the Google AI Studio key.
	APIKey string
	// Model is an audio-capable Gemini model.
	Model string
	// Region is the locale region (default IN).
	Region string
	// Timeout bounds each request (default DefaultTimeout).
	Timeout time.Duration
}

// Gemini transcribes by sending the original clip inline to a Gemini model.
type Gemini struct {
	gen     contentGenerator
	model   string
	region  string
	timeout time.Duration
}

// NewGemini constructs a Gemini transcriber with its own genai client.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("speech: gemini requires GOOGLE_API_KEY")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("speech: create gemini client: %w", err)
	}
	return newGeminiWithGenerator(client.Models, cfg), nil
}

func newGeminiWithGenerator(gen contentGenerator, cfg GeminiConfig) *Gemini {
	g := &Gemini{gen: gen, model: cfg.Model, region: cfg.Region, timeout: cfg.Timeout}
	if g.timeout <= 0 {
		g.timeout = DefaultTimeout
	}
	if g.model == "" {
		g.model = defaultGeminiModel
	}
	if g.region == "" {
		g.region = DefaultRegion
	}
	return g
}

// Transcribe implements Transcriber.
func (g *Gemini) Transcribe(ctx context.Context, audio []byte, languageCode string) (string, error) {
	clip, err := Prepare(audio)
	if err != nil {
		return "", err
	}
	parts := []*genai.Part{
		genai.NewPartFromText(fmt.Sprintf(transcribePrompt, Locale(languageCode, g.region))),
		genai.NewPartFromBytes(clip.Original, clip.MIME),
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	resp, err := g.gen.GenerateContent(ctx, g.model,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, nil)
	if err != nil {
		return "", fmt.Errorf("%w: gemini: %w", ErrTranscription, err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == `""` {
		text = ""
	}
	return text, nil
}

// Close is a no-op; the genai client holds no connection.
func (g *Gemini) Close() error { return nil }
