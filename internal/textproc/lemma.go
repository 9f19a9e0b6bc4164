package textproc

import "strings"

// irregular maps inflected forms to their lemma. Every value is itself a
// fixed point of lemmaOnce.
var irregular = map[string]string{
	"men": "man", "women": "woman", "children": "child", "people": "person",
	"feet": "foot", "teeth": "tooth", "mice": "mouse", "geese": "goose",
	"oxen": "ox", "buses": "bus", "leaves": "leaf", "knives": "knife",
	"wives": "wife", "lives": "life", "shelves": "shelf", "wolves": "wolf",
	"halves": "half", "calves": "calf", "loaves": "loaf", "scarves": "scarf",
	"ran": "run", "sat": "sit", "wore": "wear", "worn": "wear", "held": "hold",
	"rode": "ride", "ridden": "ride", "drove": "drive", "driven": "drive",
	"flew": "fly", "flown": "fly", "ate": "eat", "eaten": "eat",
	"stood": "stand", "took": "take", "taken": "take", "fell": "fall",
	"fallen": "fall", "threw": "throw", "thrown": "throw", "caught": "catch",
	"went": "go", "gone": "go", "bought": "buy", "built": "build",
	"sang": "sing", "sung": "sing", "swam": "swim", "began": "begin",
	"told": "tell", "said": "say", "made": "make", "got": "get", "gave": "give",
	"given": "give", "came": "come", "kept": "keep", "met": "meet",
	"paid": "pay", "spoke": "speak", "spoken": "speak", "wrote": "write",
	"written": "write", "broke": "break", "broken": "break", "chose": "choose",
	"chosen": "choose", "grew": "grow", "grown": "grow", "hung": "hang",
	"led": "lead", "shot": "shoot", "shook": "shake", "slept": "sleep",
	"spent": "spend", "taught": "teach", "thought": "think", "won": "win",
	"lying": "lie", "dying": "die", "tying": "tie",
}

// protected words look inflected but are not.
var protected = toSet(
	"news", "series", "species", "pants", "jeans", "shorts", "scissors",
	"clothes", "glasses", "lens", "gas", "bus", "this", "yes", "always",
	"morning", "evening", "ceiling", "wedding", "clothing", "ring", "king",
	"thing", "something", "nothing", "everything", "anything", "spring",
	"string", "wing", "swing", "sibling", "pudding", "railing", "awning",
	"icing", "lightning", "building", "painting", "ping", "sing", "bring",
	"red", "bed", "shed", "sled", "need", "seed", "speed", "feed", "weed",
	"hundred", "sacred", "naked", "wicked",
)

// lemma reduces word to the fixed point of lemmaOnce. Every rule either
// shortens the word or leaves it unchanged, so the loop terminates.
func lemma(word string) string {
	for {
		next := lemmaOnce(word)
		if next == word {
			break
		}
		word = next
	}
	return word
}

// lemmaOnce applies the irregular table or the first matching suffix rule.
func lemmaOnce(word string) string {
	if base, ok := irregular[word]; ok {
		return base
	}
	if protected[word] || !isASCIILower(word) {
		return word
	}

	switch {
	case strings.HasSuffix(word, "ies") && len(word) > 4:
		return word[:len(word)-3] + "y"
	case strings.HasSuffix(word, "sses"),
		strings.HasSuffix(word, "shes"),
		strings.HasSuffix(word, "ches"),
		strings.HasSuffix(word, "xes"),
		strings.HasSuffix(word, "zzes"):
		return word[:len(word)-2]
	case strings.HasSuffix(word, "s") && len(word) >= 4 &&
		!strings.HasSuffix(word, "ss") && !strings.HasSuffix(word, "us") && !strings.HasSuffix(word, "is"):
		return word[:len(word)-1]
	case strings.HasSuffix(word, "ing"):
		return restoreStem(word, word[:len(word)-3])
	case strings.HasSuffix(word, "ed") && !strings.HasSuffix(word, "eed"):
		return restoreStem(word, word[:len(word)-2])
	}
	return word
}

// restoreStem undoes consonant doubling and restores a dropped final e.
// It returns word unchanged when stem is too short to be a verb.
func restoreStem(word, stem string) string {
	if len(stem) < 3 || !hasVowel(stem) {
		return word
	}
	n := len(stem)
	last := stem[n-1]
	if last == stem[n-2] && !isVowel(last) && last != 'l' && last != 's' && last != 'z' {
		return stem[:n-1]
	}
	if measure(stem) == 1 && endsCVC(stem) {
		return stem + "e"
	}
	return stem
}

func isVowel(c byte) bool {
	switch c {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	}
	return false
}

func hasVowel(s string) bool {
	for i := 0; i < len(s); i++ {
		if isVowel(s[i]) || (s[i] == 'y' && i > 0) {
			return true
		}
	}
	return false
}

// measure counts vowel-consonant sequences.
func measure(s string) int {
	m := 0
	prevVowel := false
	for i := 0; i < len(s); i++ {
		v := isVowel(s[i])
		if prevVowel && !v {
			m++
		}
		prevVowel = v
	}
	return m
}

// endsCVC reports a consonant-vowel-consonant ending where the final
// consonant is not w, x or y.
func endsCVC(s string) bool {
	n := len(s)
	if n < 3 {
		return false
	}
	c := s[n-1]
	return !isVowel(s[n-3]) && isVowel(s[n-2]) && !isVowel(c) && c != 'w' && c != 'x' && c != 'y'
}

func isASCIILower(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 'a' || s[i] > 'z' {
			return false
		}
	}
	return s != ""
}
