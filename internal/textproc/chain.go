package textproc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/nickcecere/framegrep/internal/errdefs"
)

// Translator is the subset of translate.Translator the chain needs.
type Translator interface {
	Translate(ctx context.Context, text, src, dst string) (string, error)
}

// Prepared is a query ready for the text encoder.
type Prepared struct {
	Original   string
	Text       string
	Language   string
	Translated bool
	Pipeline   string
}

// Chain detects the query language, translates into the target language
// when they differ, then normalizes.
type Chain struct {
	detector   *Detector
	translator Translator
	normalizer Normalizer
	target     string
}

// NewChain creates a preparation chain.
func NewChain(detector *Detector, translator Translator, normalizer Normalizer, target string) *Chain {
	return &Chain{
		detector:   detector,
		translator: translator,
		normalizer: normalizer,
		target:     target,
	}
}

// Prepare turns raw query text into encoder input. lang overrides detection
// when non-empty. Translation failures are returned; the untranslated text is
// never encoded in their place.
func (c *Chain) Prepare(ctx context.Context, text, lang string) (Prepared, error) {
	if strings.TrimSpace(text) == "" {
		return Prepared{}, fmt.Errorf("%w: query text is empty", errdefs.ErrInvalidArgument)
	}

	p := Prepared{Original: text, Pipeline: c.normalizer.Version()}
	p.Language = strings.ToLower(strings.TrimSpace(lang))
	if p.Language == "" {
		p.Language = c.detector.Detect(text)
	}

	working := text
	if p.Language != c.target {
		out, err := c.translator.Translate(ctx, text, p.Language, c.target)
		if err != nil {
			if !errors.Is(err, errdefs.ErrTranslation) {
				err = fmt.Errorf("%w: %w", errdefs.ErrTranslation, err)
			}
			return Prepared{}, err
		}
		log.Debug("Translated query", "from", p.Language, "to", c.target, "text", out)
		working = out
		p.Translated = true
	}

	p.Text = c.normalizer.Normalize(working)
	if p.Text == "" {
		return Prepared{}, fmt.Errorf("%w: query %q has no searchable words", errdefs.ErrInvalidArgument, text)
	}
	return p, nil
}
