// Package vision captions a farmer's crop photo with the multimodal model.
// The caption is always English; it feeds the answer prompt, never the
// farmer directly.
package vision

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"log/slog"
	"net/http"
	"strings"

	_ "golang.org/x/image/bmp"  // register decoder
	_ "golang.org/x/image/tiff" // register decoder
	_ "golang.org/x/image/webp" // register decoder

	"github.com/54b3r/krishisakhi-go/internal/logging"
)

// Prompt is the instruction sent with every image.
const Prompt = "Analyze this image from a farm. Describe crop health, visible pests, diseases, or soil conditions. Be factual, concise, and respond in English."

// Failed is returned in place of an analysis when the image cannot be read
// or the model call fails.
const Failed = "Could not analyze the uploaded image."

// NoImage is used in the answer prompt when the request carried no photo.
const NoImage = "No image provided."

// ErrAnalysis is wrapped by every error Analyze returns.
var ErrAnalysis = errors.New("vision: image analysis failed")

// MultimodalGenerator sends a prompt with an inline image. *llm.Client satisfies it.
type MultimodalGenerator interface {
	WithImage(ctx context.Context, prompt string, image []byte, mimeType string) (string, error)
}

// ImageAnalyzer describes an image for the answer prompt.
type ImageAnalyzer interface {
	// Analyze returns a short English description, or Failed together
	// with an error wrapping ErrAnalysis.
	Analyze(ctx context.Context, image []byte, mimeType string) (string, error)
}

// Analyzer is the model-backed ImageAnalyzer.
type Analyzer struct {
	gen MultimodalGenerator
}

// New returns an Analyzer.
func New(gen MultimodalGenerator) *Analyzer {
	return &Analyzer{gen: gen}
}

// Analyze implements ImageAnalyzer. The image is decoded before the call so
// a corrupt upload fails locally; the detected type is sent, not mimeType.
func (a *Analyzer) Analyze(ctx context.Context, img []byte, mimeType string) (string, error) {
	detected, err := Inspect(img)
	if err != nil {
		return Failed, fmt.Errorf("%w: %w", ErrAnalysis, err)
	}
	if mimeType != "" && mimeType != detected {
		logging.FromContext(ctx).Debug("vision: declared type differs from content",
			slog.String("declared", mimeType),
			slog.String("detected", detected),
		)
	}

	out, err := a.gen.WithImage(ctx, Prompt, img, detected)
	if err != nil {
		logging.FromContext(ctx).Warn("vision: model call failed", slog.Any("error", err))
		return Failed, fmt.Errorf("%w: %w", ErrAnalysis, err)
	}
	if out == "" {
		return Failed, fmt.Errorf("%w: model returned an empty description", ErrAnalysis)
	}
	return out, nil
}

// Inspect validates img and returns its MIME type as detected from the
// content. JPEG, PNG, GIF, WebP, BMP and TIFF are understood.
func Inspect(img []byte) (string, error) {
	if len(img) == 0 {
		return "", fmt.Errorf("vision: empty image")
	}
	sniffed := http.DetectContentType(img)
	if !strings.HasPrefix(sniffed, "image/") && !isTIFF(img) {
		return "", fmt.Errorf("vision: content is %s, not an image", sniffed)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(img))
	if err != nil {
		return "", fmt.Errorf("vision: decode image: %w", err)
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return "", fmt.Errorf("vision: image has zero size")
	}
	return "image/" + format, nil
}

// isTIFF reports a little- or big-endian TIFF signature, which
// http.DetectContentType does not sniff.
func isTIFF(b []byte) bool {
	return bytes.HasPrefix(b, []byte("II*\x00")) || bytes.HasPrefix(b, []byte("MM\x00*"))
}
