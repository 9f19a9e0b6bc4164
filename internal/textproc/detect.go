package textproc

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Detector classifies query text as either the source language or the
// fallback language. Only Vietnamese is recognised as a source language.
type Detector struct {
	source   string
	fallback string
}

// NewDetector creates a detector. source must be "vi" unless it equals fallback.
func NewDetector(source, fallback string) (*Detector, error) {
	if source != "vi" && source != fallback {
		return nil, fmt.Errorf("language detection for %q is not supported", source)
	}
	return &Detector{source: source, fallback: fallback}, nil
}

// Combining marks that only Vietnamese uses in Latin script: hook above,
// horn, dot below and breve.
var distinctiveMarks = map[rune]bool{
	'\u0309': true,
	'\u031b': true,
	'\u0323': true,
	'\u0306': true,
}

// Tone and vowel marks Vietnamese shares with other Latin-script languages.
var sharedMarks = map[rune]bool{
	'\u0300': true, // grave
	'\u0301': true, // acute
	'\u0302': true, // circumflex
	'\u0303': true, // tilde
}

// Common Vietnamese words as typed without diacritics.
var unaccentedVietnamese = map[string]bool{
	"cua": true, "nguoi": true, "trong": true, "mot": true, "cac": true,
	"nhung": true, "khong": true, "duoc": true, "voi": true, "nay": true,
	"dang": true, "tren": true, "duoi": true, "ben": true, "canh": true,
	"xe": true, "dan": true, "ong": true, "ba": true, "chiec": true,
	"cai": true, "con": true, "mau": true, "va": true, "hai": true,
}

// Detect returns the source language when text looks Vietnamese, otherwise
// the fallback language.
func (d *Detector) Detect(text string) string {
	if d.source == d.fallback {
		return d.fallback
	}

	var vi, en int
	for _, word := range strings.FieldsFunc(strings.ToLower(text), isSeparator) {
		switch {
		case strings.ContainsRune(word, 'đ'):
			vi += 2
		default:
			score := markScore(word)
			switch {
			case score > 0:
				vi += score
			case unaccentedVietnamese[word]:
				vi++
			case stopwords[word]:
				en++
			}
		}
	}

	if vi > 0 && vi >= en {
		return d.source
	}
	return d.fallback
}

// markScore scores the diacritics of a single word.
func markScore(word string) int {
	score := 0
	for _, r := range norm.NFD.String(word) {
		if distinctiveMarks[r] {
			return 2
		}
		if sharedMarks[r] {
			score = 1
		}
	}
	return score
}

func isSeparator(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.Is(unicode.Mn, r)
}
