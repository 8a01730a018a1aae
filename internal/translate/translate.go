// Package translate normalises text between the farmer's language and the
// English the rest of the pipeline works in. Translation is a single
// generative call; identical source and target languages short-circuit
// without touching the model.
package translate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/54b3r/krishisakhi-go/internal/logging"
)

// Failed is returned in place of a translation when the model call fails.
const Failed = "Translation Error"

// English is the pivot language code.
const English = "en"

// ErrTranslation is wrapped by every error Translate returns.
var ErrTranslation = errors.New("translate: translation failed")

// Generator produces a text completion for a prompt. *llm.Client satisfies it.
type Generator interface {
	Text(ctx context.Context, prompt string) (string, error)
}

// Translator translates text between language codes. It is safe for
// concurrent use.
type Translator interface {
	// Translate returns text rendered in dest. On failure it returns
	// Failed together with an error wrapping ErrTranslation.
	Translate(ctx context.Context, text, src, dest string) (string, error)
}

// Normalizer is the model-backed Translator.
type Normalizer struct {
	gen       Generator
	languages Languages
}

// New returns a Normalizer that names languages in prompts via languages.
func New(gen Generator, languages Languages) *Normalizer {
	if languages == nil {
		languages = DefaultLanguages()
	}
	return &Normalizer{gen: gen, languages: languages}
}

// Translate implements Translator.
func (n *Normalizer) Translate(ctx context.Context, text, src, dest string) (string, error) {
	if src == dest {
		return text, nil
	}
	srcName, destName := n.languages.Name(src), n.languages.Name(dest)
	log := logging.FromContext(ctx).With(slog.String("src", src), slog.String("dest", dest))

	prompt := fmt.Sprintf("Translate the following text from %s to %s. Respond with only the translated text:\n\n%s",
		srcName, destName, text)
	out, err := n.gen.Text(ctx, prompt)
	if err != nil {
		log.Warn("translate: model call failed", slog.Any("error", err))
		return Failed, fmt.Errorf("%w: %s to %s: %w", ErrTranslation, src, dest, err)
	}
	log.Debug("translate: done", slog.Int("in_chars", len(text)), slog.Int("out_chars", len(out)))
	return out, nil
}
