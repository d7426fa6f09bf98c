// Package embedding maps text to fixed-dimensionality vectors through a
// langchaingo embedder. One encoder instance is built per process from config,
// so ingestion and question encoding always share the same model version.
package embedding

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"document-qna/internal/config"
)

// Encoder is the embedding surface the pipeline and retrieval layers depend
// on. Implementations must be deterministic for a fixed Version: the same
// input yields vectors with stable nearest-neighbor ordering.
type Encoder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Version() string
	Dimensions() int
}

// LangchainEncoder wraps a langchaingo EmbedderImpl with input truncation and
// an encoder version pin.
type LangchainEncoder struct {
	impl     *embeddings.EmbedderImpl
	version  string
	dims     int
	maxChars int
}

// NewEncoder builds the encoder selected by config: an OpenAI-compatible
// endpoint (OpenRouter included) or a local ollama server.
func NewEncoder(cfg *config.LLMConfig) (*LangchainEncoder, error) {
	var (
		embedder *embeddings.EmbedderImpl
		err      error
	)
	switch cfg.Provider {
	case "openai":
		llm, lerr := openai.New(
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
			openai.WithModel(cfg.Model),
			openai.WithEmbeddingModel(cfg.Model),
		)
		if lerr != nil {
			return nil, fmt.Errorf("initializing openai embedder: %w", lerr)
		}
		embedder, err = embeddings.NewEmbedder(llm)
	case "ollama":
		llm, lerr := ollama.New(
			ollama.WithServerURL(cfg.BaseURL),
			ollama.WithModel(cfg.Model),
		)
		if lerr != nil {
			return nil, fmt.Errorf("initializing ollama embedder: %w", lerr)
		}
		embedder, err = embeddings.NewEmbedder(llm)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	log.Debug().
		Str("provider", cfg.Provider).
		Str("model", cfg.Model).
		Int("dimensions", cfg.Dimensions).
		Msg("embedding encoder ready")

	return &LangchainEncoder{
		impl:     embedder,
		version:  cfg.EncoderVersion(),
		dims:     cfg.Dimensions,
		maxChars: cfg.MaxInputChars,
	}, nil
}

// EmbedTexts embeds a batch of texts, one vector per input, in input order.
// Oversize inputs are truncated to the configured budget before encoding.
func (e *LangchainEncoder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	bounded := make([]string, len(texts))
	for i, t := range texts {
		bounded[i] = Truncate(t, e.maxChars)
	}
	vecs, err := e.impl.EmbedDocuments(ctx, bounded)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d inputs", len(vecs), len(texts))
	}
	return vecs, nil
}

func (e *LangchainEncoder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.impl.EmbedQuery(ctx, Truncate(text, e.maxChars))
}

func (e *LangchainEncoder) Version() string { return e.version }

func (e *LangchainEncoder) Dimensions() int { return e.dims }

// Truncate bounds s to at most max bytes without splitting a UTF-8 sequence.
// max <= 0 disables truncation.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
