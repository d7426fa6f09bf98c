package segment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentences_Basic(t *testing.T) {
	got := Sentences("Cats are mammals. Dogs are mammals too. Fish are not mammals.")
	assert.Equal(t, []string{
		"Cats are mammals.",
		"Dogs are mammals too.",
		"Fish are not mammals.",
	}, got)
}

func TestSentences_Empty(t *testing.T) {
	assert.Empty(t, Sentences(""))
	assert.Empty(t, Sentences("   \n\t  "))
}

func TestSentences_Abbreviations(t *testing.T) {
	got := Sentences("Dr. Smith lives in St. Louis. He works with Mr. J. Doe. They met in Oct. 1999.")
	assert.Equal(t, []string{
		"Dr. Smith lives in St. Louis.",
		"He works with Mr. J. Doe.",
		"They met in Oct. 1999.",
	}, got)
}

func TestSentences_Decimals(t *testing.T) {
	got := Sentences("Pi is roughly 3.14 in most uses. The error stays below 0.5 percent.")
	assert.Equal(t, []string{
		"Pi is roughly 3.14 in most uses.",
		"The error stays below 0.5 percent.",
	}, got)
}

func TestSentences_QuotedSpeech(t *testing.T) {
	got := Sentences(`She said "stop right there." Then she left. "Why?" he asked.`)
	assert.Equal(t, []string{
		`She said "stop right there."`,
		"Then she left.",
		`"Why?" he asked.`,
	}, got)
}

func TestSentences_NoTerminalPunctuation(t *testing.T) {
	got := Sentences("a final fragment with no period")
	assert.Equal(t, []string{"a final fragment with no period"}, got)
}

func TestSentences_MixedPunctuation(t *testing.T) {
	got := Sentences("Really?! Yes. Wait... Fine.")
	assert.Equal(t, []string{"Really?!", "Yes.", "Wait...", "Fine."}, got)
}

func TestSentences_NoCharacterLoss(t *testing.T) {
	in := "One sentence here. Another one there! A third, with 2.5 twists? Done."
	var joined string
	for i, s := range Sentences(in) {
		if i > 0 {
			joined += " "
		}
		joined += s
	}
	assert.Equal(t, in, joined)
}
