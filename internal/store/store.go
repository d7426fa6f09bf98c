// Package store defines the vector store contract shared by the pgvector and
// chromem backends.
package store

import (
	"context"
	"errors"

	"document-qna/internal/models"
)

var (
	// ErrDocumentNotFound is returned for operations against an unknown
	// document id.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrEncoderVersionMismatch is returned when stored vectors were produced
	// by a different encoder version than the one querying. Mixing versions in
	// one similarity space would silently degrade ranking, so it is fatal.
	ErrEncoderVersionMismatch = errors.New("stored vectors use a different encoder version")
)

// VectorStore persists documents and their embedded chunks and answers
// nearest-neighbor queries scoped to a document or the whole corpus.
//
// Search returns at most k matches, nearest first, with equal distances broken
// by ascending ordinal. An empty scope yields an empty result and a nil error.
// StoreChunks is all-or-nothing: a failed batch leaves no partial chunk set
// behind. Deleting a document cascades to its chunks.
type VectorStore interface {
	CreateDocument(ctx context.Context, doc *models.Document) error
	Document(ctx context.Context, id string) (*models.Document, error)
	DeleteDocument(ctx context.Context, id string) error
	SetStatus(ctx context.Context, id string, status models.DocumentStatus, cause string) error

	// StoreChunks persists a chunk batch for the document under the given
	// encoder version. With replace set, any existing chunks are removed in
	// the same transaction.
	StoreChunks(ctx context.Context, docID, encoderVersion string, chunks []models.ChunkEmbedding, replace bool) error
	ChunkCount(ctx context.Context, docID string) (int, error)

	// Search runs a k-nearest-neighbor query. An empty docID widens the scope
	// to the full corpus. encoderVersion must match the version the scope was
	// embedded with.
	Search(ctx context.Context, docID string, vector []float32, k int, encoderVersion string) ([]models.ChunkMatch, error)

	Close() error
}
