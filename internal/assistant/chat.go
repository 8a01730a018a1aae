package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/54b3r/krishisakhi-go/internal/logging"
	"github.com/54b3r/krishisakhi-go/internal/predict"
	"github.com/54b3r/krishisakhi-go/internal/weather"
)

// ChatRequest is one chat turn from a registered farmer.
type ChatRequest struct {
	// UserID identifies the farmer in the farm backend.
	UserID string
	// Text is the typed question, in LanguageCode.
	Text string
	// LanguageCode is the language of Text and of the answer. Empty uses
	// the profile's preferred language.
	LanguageCode string
	// Audio is a spoken question in the profile's preferred language. When
	// present it replaces Text.
	Audio []byte
	// Image is an optional crop photo.
	Image []byte
	// ImageMIME is the declared type of Image.
	ImageMIME string
}

// Chat answers a chat turn. The farmer's profile, current weather and
// dashboard predictions are folded into the prompt.
func (a *Assistant) Chat(ctx context.Context, req ChatRequest) (Answer, error) {
	if a.deps.Profiles == nil {
		return Answer{}, fmt.Errorf("assistant: chat requires a profile source")
	}
	profile, err := a.deps.Profiles.Profile(ctx, req.UserID)
	if err != nil {
		return Answer{}, fmt.Errorf("assistant: load profile: %w", err)
	}
	ctx = logging.WithLogger(ctx, logging.FromContext(ctx).With(slog.String("user_id", req.UserID)))

	profileLang := profile.PreferredLanguage()
	respLang := req.LanguageCode
	if respLang == "" {
		respLang = profileLang
	}

	var st requestState
	text, srcLang, transcript := req.Text, respLang, ""
	if len(req.Audio) > 0 {
		if a.deps.Transcriber == nil {
			return Answer{}, fmt.Errorf("assistant: voice input requires a transcriber")
		}
		start := time.Now()
		transcript, err = a.deps.Transcriber.Transcribe(ctx, req.Audio, profileLang)
		a.metrics.observe(StageTranscribe, start, err)
		if err != nil {
			return Answer{}, fmt.Errorf("assistant: %s: %w", StageTranscribe, err)
		}
		transcript = strings.TrimSpace(transcript)
		text, srcLang = transcript, profileLang
	}
	if strings.TrimSpace(text) == "" {
		return Answer{TranscribedText: transcript}, ErrNoInput
	}

	report, err := a.currentWeather(ctx, profile.Village())
	if err := a.absorb(ctx, &st, StageWeather, err); err != nil {
		return Answer{}, err
	}

	var predictions *predict.Predictions
	if a.deps.Predictor != nil {
		start := time.Now()
		p, err := a.deps.Predictor.Predict(ctx, profile, report)
		a.metrics.observe(StagePredict, start, err)
		if err := a.absorb(ctx, &st, StagePredict, err); err != nil {
			return Answer{}, err
		}
		predictions = &p
	}

	ans, err := a.answer(ctx, Query{
		Text:             text,
		Language:         srcLang,
		ResponseLanguage: respLang,
		Image:            req.Image,
		ImageMIME:        req.ImageMIME,
		Profile:          profile,
		Predictions:      predictions,
	}, &st)
	ans.TranscribedText = transcript
	return ans, err
}

// currentWeather returns nil without error when no provider is configured
// or the profile has no village.
func (a *Assistant) currentWeather(ctx context.Context, village string) (*weather.Report, error) {
	if a.deps.Weather == nil || village == "" {
		return nil, nil
	}
	start := time.Now()
	r, err := a.deps.Weather.Current(ctx, village)
	a.metrics.observe(StageWeather, start, err)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
