package textproc

// stopwords are English function words dropped before encoding. Number words
// and spatial prepositions (above, behind, under, ...) are kept: they change
// what a frame looks like.
var stopwords = toSet(
	"a", "an", "the",
	"i", "me", "my", "mine", "myself", "we", "us", "our", "ours", "ourselves",
	"you", "your", "yours", "yourself", "yourselves",
	"he", "him", "his", "himself", "she", "her", "hers", "herself",
	"it", "its", "itself", "they", "them", "their", "theirs", "themselves",
	"this", "that", "these", "those", "which", "who", "whom", "whose", "what",
	"be", "am", "is", "are", "was", "were", "been", "being",
	"have", "has", "had", "having", "do", "does", "did", "doing", "done",
	"will", "would", "shall", "should", "can", "could", "may", "might", "must",
	"and", "or", "but", "nor", "so", "yet", "if", "then", "than", "because",
	"as", "until", "while", "of", "at", "by", "for", "with", "about", "to",
	"from", "in", "into", "on", "onto", "upon", "per", "via",
	"there", "here", "when", "where", "why", "how",
	"all", "any", "both", "each", "few", "more", "most", "other", "some", "such",
	"no", "not", "only", "own", "same", "too", "very", "just", "also", "again",
	"once", "ever", "even", "still", "already", "quite", "rather",
	"s", "t", "d", "ll", "m", "o", "re", "ve", "y",
	"show", "find", "image", "picture", "photo", "frame", "scene",
)

func toSet(words ...string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}
