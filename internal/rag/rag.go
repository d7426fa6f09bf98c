// Package rag coordinates question answering over ingested documents: encode
// the question, fetch the nearest chunks, assemble the context string, and
// optionally hand it to the inference model.
package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"document-qna/internal/config"
	"document-qna/internal/embedding"
	"document-qna/internal/llmservice"
	"document-qna/internal/models"
	"document-qna/internal/store"
)

// ErrEmptyContext is returned when the scope holds no chunks for a question.
// It is an explicit result, not a store failure: the caller decides whether to
// answer "no information found" or fall back to an unscoped answer.
var ErrEmptyContext = errors.New("no context available for question")

const systemPrompt = "You are a helpful assistant. Use the provided context to answer the query."

// Context is the assembled retrieval result for one question.
type Context struct {
	// Text is the chunk texts joined nearest-first with models.ContextSeparator.
	Text string
	// Matches is the raw ranked chunk list, kept for debugging.
	Matches []models.ChunkMatch
}

type RAG struct {
	store store.VectorStore
	enc   embedding.Encoder
	llm   *config.LLMConfig
	topK  int
}

// NewRAG wires the orchestrator. llm may be nil when only retrieval (not
// answer generation) is needed.
func NewRAG(st store.VectorStore, enc embedding.Encoder, llm *config.LLMConfig, topK int) *RAG {
	if topK <= 0 {
		topK = 10
	}
	return &RAG{store: st, enc: enc, llm: llm, topK: topK}
}

// RetrieveContext encodes the question, queries the top-k nearest chunks in
// the document scope, and joins their texts nearest-first. An empty documentID
// widens the scope to the whole corpus.
func (r *RAG) RetrieveContext(ctx context.Context, documentID, question string) (*Context, error) {
	matches, err := r.FindSimilar(ctx, documentID, question, r.topK)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, ErrEmptyContext
	}

	texts := make([]string, len(matches))
	for i, m := range matches {
		texts[i] = m.Content
	}
	return &Context{
		Text:    strings.Join(texts, models.ContextSeparator),
		Matches: matches,
	}, nil
}

// FindSimilar returns the k nearest chunks for a question without calling the
// inference model. Same ranking as RetrieveContext.
func (r *RAG) FindSimilar(ctx context.Context, documentID, question string, k int) ([]models.ChunkMatch, error) {
	if k <= 0 {
		k = r.topK
	}
	queryVec, err := r.enc.EmbedQuery(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("encoding question: %w", err)
	}
	matches, err := r.store.Search(ctx, documentID, queryVec, k, r.enc.Version())
	if err != nil {
		return nil, err
	}
	log.Debug().
		Str("document_id", documentID).
		Int("k", k).
		Int("matches", len(matches)).
		Msg("retrieval query")
	return matches, nil
}

// Answer retrieves context for the question and asks the inference model for
// the final response. Returns the answer together with the context used.
func (r *RAG) Answer(ctx context.Context, documentID, question string) (string, *Context, error) {
	retrieved, err := r.RetrieveContext(ctx, documentID, question)
	if err != nil {
		return "", nil, err
	}
	if r.llm == nil {
		return "", nil, errors.New("no inference model configured")
	}

	prompt := fmt.Sprintf("Context:\n%s\nQuery: %s", retrieved.Text, question)
	answer, err := llmservice.GenerateText(ctx, r.llm, systemPrompt, prompt)
	if err != nil {
		return "", nil, fmt.Errorf("generating answer: %w", err)
	}
	return answer, retrieved, nil
}
