// Package chunker groups sentences into fixed-size, non-overlapping chunks.
package chunker

import (
	"strings"

	"document-qna/internal/models"
)

const DefaultChunkSize = 2

// Build groups sentences into consecutive windows of size sentences each; the
// final window may hold fewer. Chunk text is the space-joined concatenation of
// its sentences and ordinals start at 0. No sentence is dropped or duplicated.
// Zero sentences produce zero chunks.
func Build(sentences []string, size int) []models.Chunk {
	if size <= 0 {
		size = DefaultChunkSize
	}

	var chunks []models.Chunk
	for i := 0; i < len(sentences); i += size {
		end := i + size
		if end > len(sentences) {
			end = len(sentences)
		}
		chunks = append(chunks, models.Chunk{
			Ordinal: len(chunks),
			Content: strings.Join(sentences[i:end], " "),
		})
	}
	return chunks
}
