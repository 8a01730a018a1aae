// Package speech turns spoken queries and farm notes into text.
//
// Uploaded clips are sniffed (WAV, Ogg/Opus, FLAC, WebM/Opus) and handed to
// a recognizer with the farmer's language as a regional locale
// ("ml" becomes "ml-IN"). Two recognizers are available:
//
//	SPEECH_PROVIDER=google  Google Cloud Speech-to-Text (default)
//	SPEECH_PROVIDER=gemini  Gemini audio understanding
package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/54b3r/krishisakhi-go/internal/config"
)

var (
	// ErrEmptyAudio is returned for a zero-length clip.
	ErrEmptyAudio = errors.New("speech: audio is empty")
	// ErrUnsupportedAudio is returned when the container is not recognised.
	ErrUnsupportedAudio = errors.New("speech: unsupported audio format")
	// ErrTranscription is returned when the recognizer call fails.
	ErrTranscription = errors.New("speech: transcription failed")
)

// DefaultRegion is the locale region appended to language codes.
const DefaultRegion = "IN"

// DefaultTimeout bounds one recognition request.
const DefaultTimeout = 60 * time.Second

// Transcriber converts a clip to text. An empty transcript with a nil error
// means the recognizer heard nothing.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, languageCode string) (string, error)
}

// Service is a Transcriber that holds a connection until closed.
type Service interface {
	Transcriber
	io.Closer
}

// Locale returns the BCP-47 locale for a bare language code. Codes that
// already carry a region are returned unchanged.
func Locale(languageCode, region string) string {
	if languageCode == "" {
		languageCode = "en"
	}
	if strings.Contains(languageCode, "-") || region == "" {
		return languageCode
	}
	return languageCode + "-" + region
}

// NewFromEnv returns the recognizer named by SPEECH_PROVIDER.
func NewFromEnv(ctx context.Context) (Service, error) {
	region := config.Env("SPEECH_REGION", DefaultRegion)
	timeout := config.EnvDuration("SPEECH_TIMEOUT", DefaultTimeout)
	switch p := strings.ToLower(config.Env("SPEECH_PROVIDER", "google")); p {
	case "google":
		return NewGoogle(ctx, GoogleConfig{
			CredentialsFile: config.Env("GOOGLE_APPLICATION_CREDENTIALS", "keys.json"),
			Region:          region,
			Timeout:         timeout,
		})
	case "gemini":
		return NewGemini(ctx, GeminiConfig{
			APIKey:  config.Env("GOOGLE_API_KEY", ""),
			Model:   config.Env("GEMINI_MODEL", defaultGeminiModel),
			Region:  region,
			Timeout: timeout,
		})
	default:
		return nil, fmt.Errorf("speech: unknown SPEECH_PROVIDER %q (want google or gemini)", p)
	}
}
