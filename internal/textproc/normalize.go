// Package textproc prepares free-text queries for the text encoder: language
// detection, translation into the corpus language and lexical normalization.
package textproc

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Normalizer applies a fixed, versioned sequence of lexical transforms.
// Normalize must be idempotent.
type Normalizer interface {
	Normalize(text string) string
	Version() string
}

const (
	// PipelineV1 folds case and width, spells numerals, strips punctuation,
	// drops stopwords and lemmatizes.
	PipelineV1 = "v1"
	// PipelineMinimal only folds case and collapses whitespace.
	PipelineMinimal = "minimal"
)

// NewNormalizer returns the pipeline registered under version.
func NewNormalizer(version string) (Normalizer, error) {
	switch version {
	case PipelineV1, "":
		return V1{}, nil
	case PipelineMinimal:
		return Minimal{}, nil
	default:
		return nil, fmt.Errorf("unknown normalization pipeline: %s", version)
	}
}

// V1 is the default pipeline. Stages run in this order:
//
//  1. NFKC and lower-casing
//  2. numerals to words
//  3. punctuation and symbols to spaces
//  4. whitespace tokenization
//  5. stopword removal
//  6. lemmatization
type V1 struct{}

func (V1) Version() string { return PipelineV1 }

func (V1) Normalize(text string) string {
	s := fold(text)
	s = spellNumerals(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return ' '
		}
		return r
	}, s)

	tokens := strings.Fields(s)
	out := tokens[:0]
	for _, tok := range tokens {
		base := lemma(tok)
		if stopwords[tok] || stopwords[base] {
			continue
		}
		out = append(out, base)
	}
	return strings.Join(out, " ")
}

// Minimal lower-cases and collapses whitespace.
type Minimal struct{}

func (Minimal) Version() string { return PipelineMinimal }

func (Minimal) Normalize(text string) string {
	return strings.Join(strings.Fields(fold(text)), " ")
}

// fold applies NFKC and lower-casing until neither changes the text. A
// compatibility decomposition can expose upper-case letters.
func fold(s string) string {
	lower := cases.Lower(language.Und)
	for i := 0; i < 4; i++ {
		next := norm.NFKC.String(lower.String(s))
		if next == s {
			break
		}
		s = next
	}
	return s
}
