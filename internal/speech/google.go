package speech

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	gspeech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"

	"github.com/54b3r/krishisakhi-go/internal/logging"
)

// recognizer is the subset of the Cloud Speech client used here.
type recognizer interface {
	Recognize(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error)
	Close() error
}

// cloudRecognizer adapts *gspeech.Client, whose Recognize takes call options.
type cloudRecognizer struct {
	c *gspeech.Client
}

func (r cloudRecognizer) Recognize(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
	return r.c.Recognize(ctx, req)
}

func (r cloudRecognizer) Close() error { return r.c.Close() }

// GoogleConfig holds the settings for constructing a Google transcriber.
type GoogleConfig struct {
	// CredentialsFile is a service-account JSON key. Empty uses ADC.
	CredentialsFile string
	// Region is the locale region (default IN).
	Region string
	// Timeout bounds each request (default DefaultTimeout).
	Timeout time.Duration
}

// Google transcribes with Cloud Speech-to-Text synchronous recognition.
type Google struct {
	rec     recognizer
	region  string
	timeout time.Duration
}

// NewGoogle dials Cloud Speech.
func NewGoogle(ctx context.Context, cfg GoogleConfig) (*Google, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	c, err := gspeech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("speech: create google client: %w", err)
	}
	g := newGoogleWithRecognizer(cloudRecognizer{c: c}, cfg.Region)
	if cfg.Timeout > 0 {
		g.timeout = cfg.Timeout
	}
	return g, nil
}

func newGoogleWithRecognizer(rec recognizer, region string) *Google {
	if region == "" {
		region = DefaultRegion
	}
	return &Google{rec: rec, region: region, timeout: DefaultTimeout}
}

// Transcribe implements Transcriber. Top alternatives of all results are
// joined with a space.
func (g *Google) Transcribe(ctx context.Context, audio []byte, languageCode string) (string, error) {
	clip, err := Prepare(audio)
	if err != nil {
		return "", err
	}
	rc := &speechpb.RecognitionConfig{
		Encoding:     pbEncoding(clip.Encoding),
		LanguageCode: Locale(languageCode, g.region),
	}
	if clip.SampleRate > 0 {
		rc.SampleRateHertz = int32(clip.SampleRate)
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	resp, err := g.rec.Recognize(callCtx, &speechpb.RecognizeRequest{
		Config: rc,
		Audio:  &speechpb.RecognitionAudio{AudioSource: &speechpb.RecognitionAudio_Content{Content: clip.Data}},
	})
	if err != nil {
		return "", fmt.Errorf("%w: google: %w", ErrTranscription, err)
	}

	var parts []string
	for _, r := range resp.GetResults() {
		if alts := r.GetAlternatives(); len(alts) > 0 {
			if t := strings.TrimSpace(alts[0].GetTranscript()); t != "" {
				parts = append(parts, t)
			}
		}
	}
	logging.FromContext(ctx).Debug("speech: transcribed",
		slog.String("provider", "google"),
		slog.String("encoding", clip.Encoding.String()),
		slog.String("locale", rc.LanguageCode),
		slog.Int("results", len(resp.GetResults())),
	)
	return strings.Join(parts, " "), nil
}

// Close releases the gRPC connection.
func (g *Google) Close() error { return g.rec.Close() }

func pbEncoding(e Encoding) speechpb.RecognitionConfig_AudioEncoding {
	switch e {
	case EncodingLinear16:
		return speechpb.RecognitionConfig_LINEAR16
	case EncodingOggOpus:
		return speechpb.RecognitionConfig_OGG_OPUS
	case EncodingFLAC:
		return speechpb.RecognitionConfig_FLAC
	case EncodingWebMOpus:
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED
	}
}
