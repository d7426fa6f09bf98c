// Package segment splits raw document text into an ordered sequence of
// sentences. Boundary detection is rule-based: terminal punctuation followed
// by whitespace and a sentence opener, with guards for abbreviations, initials
// and decimal numbers.
package segment

import (
	"strings"
	"unicode"
)

// abbreviations that end with a period but do not terminate a sentence.
var abbreviations = map[string]struct{}{
	"mr": {}, "mrs": {}, "ms": {}, "dr": {}, "prof": {}, "sr": {}, "jr": {},
	"st": {}, "vs": {}, "etc": {}, "e.g": {}, "i.e": {}, "fig": {}, "al": {},
	"vol": {}, "inc": {}, "ltd": {}, "co": {}, "dept": {},
	"jan": {}, "feb": {}, "mar": {}, "apr": {}, "jun": {}, "jul": {},
	"aug": {}, "sep": {}, "sept": {}, "oct": {}, "nov": {}, "dec": {},
}

// Sentences splits text into trimmed, non-empty sentences in document order.
// Empty or whitespace-only input yields an empty slice. The function is pure,
// so the sequence can be re-walked at any time.
func Sentences(text string) []string {
	runes := []rune(text)
	var sentences []string
	start := 0

	flush := func(end int) {
		s := strings.TrimSpace(string(runes[start:end]))
		if s != "" {
			sentences = append(sentences, s)
		}
		start = end
	}

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '.' && r != '!' && r != '?' {
			continue
		}

		// Consume a run of terminal punctuation ("?!", "...").
		end := i + 1
		for end < len(runes) && (runes[end] == '.' || runes[end] == '!' || runes[end] == '?') {
			end++
		}
		// A closing quote or bracket belongs to the sentence it ends.
		for end < len(runes) && isCloser(runes[end]) {
			end++
		}

		if r == '.' && end == i+1 {
			// Decimal number: 3.14 stays together.
			if i > 0 && i+1 < len(runes) && unicode.IsDigit(runes[i-1]) && unicode.IsDigit(runes[i+1]) {
				continue
			}
			if isAbbreviation(runes, i) {
				continue
			}
		}

		// Only break when what follows looks like a new sentence.
		if end < len(runes) && !startsSentence(runes, end) {
			i = end - 1
			continue
		}

		flush(end)
		i = end - 1
	}
	flush(len(runes))

	return sentences
}

func isCloser(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '”', '’':
		return true
	}
	return false
}

// startsSentence reports whether the text at pos begins a new sentence:
// whitespace followed by an uppercase letter, digit, or opening quote.
func startsSentence(runes []rune, pos int) bool {
	if !unicode.IsSpace(runes[pos]) {
		return false
	}
	for pos < len(runes) && unicode.IsSpace(runes[pos]) {
		pos++
	}
	if pos == len(runes) {
		return true
	}
	r := runes[pos]
	return unicode.IsUpper(r) || unicode.IsDigit(r) ||
		r == '"' || r == '\'' || r == '(' || r == '“' || r == '‘'
}

// isAbbreviation reports whether the period at pos terminates a known
// abbreviation or a single-letter initial (as in "J. Smith").
func isAbbreviation(runes []rune, pos int) bool {
	w := pos - 1
	for w >= 0 && (unicode.IsLetter(runes[w]) || runes[w] == '.') {
		w--
	}
	word := strings.ToLower(strings.TrimSuffix(string(runes[w+1:pos]), "."))
	if word == "" {
		return false
	}
	if _, ok := abbreviations[word]; ok {
		return true
	}
	// Single-letter initials.
	return len([]rune(word)) == 1 && !strings.Contains(word, ".")
}
