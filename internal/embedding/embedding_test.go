package embedding

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"document-qna/internal/config"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 10))
	assert.Equal(t, "abc", Truncate("abcdef", 3))
	assert.Equal(t, "abcdef", Truncate("abcdef", 0), "zero budget disables truncation")
}

func TestTruncate_KeepsValidUTF8(t *testing.T) {
	s := strings.Repeat("é", 100) // 2 bytes per rune
	got := Truncate(s, 101)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, 100, len(got))
}

func TestEncoderVersionFromConfig(t *testing.T) {
	cfg := config.LLMConfig{Provider: "ollama", Model: "all-minilm"}
	assert.Equal(t, "ollama/all-minilm", cfg.EncoderVersion())
}

func TestNewEncoder_UnknownProvider(t *testing.T) {
	_, err := NewEncoder(&config.LLMConfig{Provider: "bogus", Model: "m"})
	assert.Error(t, err)
}
