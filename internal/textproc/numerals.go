package textproc

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/divan/num2words"
)

// Digit runs, with optional thousands separators.
var numeralPattern = regexp.MustCompile(`\d{1,3}(?:,\d{3})+|\d+`)

// Numbers above this are spelled digit by digit.
const maxSpelledNumber = 999_999_999

var digitWords = [...]string{"zero", "one", "two", "three", "four", "five", "six", "seven", "eight", "nine"}

// spellNumerals replaces every digit run with its English words,
// padded with spaces so adjacent letters form separate tokens.
func spellNumerals(s string) string {
	return numeralPattern.ReplaceAllStringFunc(s, func(m string) string {
		digits := strings.ReplaceAll(m, ",", "")
		n, err := strconv.Atoi(digits)
		if err != nil || n > maxSpelledNumber {
			words := make([]string, 0, len(digits))
			for _, d := range digits {
				words = append(words, digitWords[d-'0'])
			}
			return " " + strings.Join(words, " ") + " "
		}
		return " " + num2words.Convert(n) + " "
	})
}
