package models

import "time"

// DocumentStatus tracks a document through the ingestion pipeline.
type DocumentStatus string

const (
	StatusReceived   DocumentStatus = "received"
	StatusSegmenting DocumentStatus = "segmenting"
	StatusChunking   DocumentStatus = "chunking"
	StatusEmbedding  DocumentStatus = "embedding"
	StatusStored     DocumentStatus = "stored"
	StatusFailed     DocumentStatus = "failed"
)

// Terminal reports whether the status is an end state of the pipeline.
func (s DocumentStatus) Terminal() bool {
	return s == StatusStored || s == StatusFailed
}

// Document is an uploaded file after text extraction. Content is immutable
// once the document is created; only Status and FailureCause change afterwards.
type Document struct {
	ID             string
	Name           string
	Content        string
	Status         DocumentStatus
	FailureCause   string
	EncoderVersion string
	CreatedAt      time.Time
}

// Chunk is a fixed-size group of consecutive sentences, the unit of retrieval.
// Ordinal is the 0-based position of the chunk within its document.
type Chunk struct {
	Ordinal int
	Content string
}

// ChunkEmbedding pairs a chunk with its embedding vector.
type ChunkEmbedding struct {
	Ordinal   int
	Content   string
	Embedding []float32
}

// ChunkMatch is one ranked result of a nearest-neighbor query.
type ChunkMatch struct {
	ChunkID  string
	Ordinal  int
	Content  string
	Distance float64
}

// ContextSeparator joins retrieved chunk texts into a single context string.
const ContextSeparator = "\n---\n"
