// Package chromemdb implements the vector store on chromem-go, an embedded
// vector database. It backs the local/single-process mode and the test suite.
// Chunk vectors live in a chromem collection keyed by document metadata; the
// document registry (status, encoder version, raw chunk vectors) is kept in
// memory under a lock, so it does not survive a restart even when the
// collection is persisted.
//
// chromem normalizes stored embeddings and ranks by cosine similarity only,
// so squared-Euclidean queries rank over the registry's raw vector copies
// instead of the collection.
package chromemdb

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"

	"document-qna/internal/models"
	"document-qna/internal/store"
)

const compress = false

type chunkEntry struct {
	id      string
	content string
	vector  []float32
}

// Store is a chromem-go backed VectorStore.
type Store struct {
	db         *chromem.DB
	collection *chromem.Collection
	metric     string // "l2" or "cosine"

	mu     sync.RWMutex
	docs   map[string]*models.Document
	chunks map[string]map[int]chunkEntry
}

var _ store.VectorStore = (*Store)(nil)

// New opens (or creates) the collection, persisted under dbPath unless
// inMemory is set. metric selects the Search distance ("l2" or "cosine").
func New(dbPath, collectionName string, inMemory bool, metric string) (*Store, error) {
	var (
		db  *chromem.DB
		err error
	)
	if inMemory {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(dbPath, compress)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	collection, err := db.GetOrCreateCollection(collectionName, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %w", err)
	}

	if metric != "cosine" {
		metric = "l2"
	}
	return &Store{
		db:         db,
		collection: collection,
		metric:     metric,
		docs:       make(map[string]*models.Document),
		chunks:     make(map[string]map[int]chunkEntry),
	}, nil
}

func (s *Store) CreateDocument(_ context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[doc.ID]; ok {
		return fmt.Errorf("document %s already exists", doc.ID)
	}
	d := *doc
	s.docs[doc.ID] = &d
	return nil
}

func (s *Store) Document(_ context.Context, id string) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, store.ErrDocumentNotFound
	}
	d := *doc
	return &d, nil
}

func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[id]; !ok {
		return store.ErrDocumentNotFound
	}
	if len(s.chunks[id]) > 0 {
		if err := s.collection.Delete(ctx, map[string]string{"document_id": id}, nil); err != nil {
			return fmt.Errorf("failed to delete chunks: %w", err)
		}
	}
	delete(s.docs, id)
	delete(s.chunks, id)
	return nil
}

func (s *Store) SetStatus(_ context.Context, id string, status models.DocumentStatus, cause string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return store.ErrDocumentNotFound
	}
	doc.Status = status
	doc.FailureCause = cause
	return nil
}

func (s *Store) StoreChunks(ctx context.Context, docID, encoderVersion string, chunks []models.ChunkEmbedding, replace bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[docID]
	if !ok {
		return store.ErrDocumentNotFound
	}

	if replace && len(s.chunks[docID]) > 0 {
		if err := s.collection.Delete(ctx, map[string]string{"document_id": docID}, nil); err != nil {
			return fmt.Errorf("failed to delete chunks: %w", err)
		}
		delete(s.chunks, docID)
	}

	if len(chunks) > 0 {
		docs := make([]chromem.Document, len(chunks))
		for i, c := range chunks {
			docs[i] = chromem.Document{
				ID:      fmt.Sprintf("%s-%d", docID, c.Ordinal),
				Content: c.Content,
				Metadata: map[string]string{
					"document_id":     docID,
					"ordinal":         strconv.Itoa(c.Ordinal),
					"encoder_version": encoderVersion,
				},
				Embedding: c.Embedding,
			}
		}
		if err := s.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
			return fmt.Errorf("failed to add documents: %w", err)
		}

		// Keyed by ordinal so a rewrite of the same chunk id overwrites the
		// registry entry the same way chromem overwrites the collection entry.
		entries := s.chunks[docID]
		if entries == nil {
			entries = make(map[int]chunkEntry, len(chunks))
			s.chunks[docID] = entries
		}
		for i, c := range chunks {
			entries[c.Ordinal] = chunkEntry{
				id:      docs[i].ID,
				content: c.Content,
				vector:  append([]float32(nil), c.Embedding...),
			}
		}
	}

	doc.EncoderVersion = encoderVersion
	return nil
}

func (s *Store) ChunkCount(_ context.Context, docID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.docs[docID]; !ok {
		return 0, store.ErrDocumentNotFound
	}
	return len(s.chunks[docID]), nil
}

func (s *Store) Search(ctx context.Context, docID string, vector []float32, k int, encoderVersion string) ([]models.ChunkMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var where map[string]string
	scope := 0
	if docID != "" {
		doc, ok := s.docs[docID]
		if !ok {
			return nil, store.ErrDocumentNotFound
		}
		if len(s.chunks[docID]) > 0 && doc.EncoderVersion != encoderVersion {
			return nil, store.ErrEncoderVersionMismatch
		}
		where = map[string]string{"document_id": docID}
		scope = len(s.chunks[docID])
	} else {
		for id, doc := range s.docs {
			if len(s.chunks[id]) == 0 {
				continue
			}
			if doc.EncoderVersion != encoderVersion {
				return nil, store.ErrEncoderVersionMismatch
			}
			scope += len(s.chunks[id])
		}
	}

	// chromem rejects queries asking for more results than the scope holds.
	if k > scope {
		k = scope
	}
	if k <= 0 {
		return nil, nil
	}

	if s.metric == "cosine" {
		return s.searchCosine(ctx, where, vector, k)
	}
	return s.searchL2(docID, vector, k), nil
}

func (s *Store) searchCosine(ctx context.Context, where map[string]string, vector []float32, k int) ([]models.ChunkMatch, error) {
	results, err := s.collection.QueryWithOptions(ctx, chromem.QueryOptions{
		QueryEmbedding: vector,
		NResults:       k,
		Where:          where,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}

	matches := make([]models.ChunkMatch, 0, len(results))
	for _, r := range results {
		ordinal, _ := strconv.Atoi(r.Metadata["ordinal"])
		matches = append(matches, models.ChunkMatch{
			ChunkID:  r.ID,
			Ordinal:  ordinal,
			Content:  r.Content,
			Distance: 1 - float64(r.Similarity),
		})
	}
	sortMatches(matches)
	return matches, nil
}

// searchL2 ranks by squared Euclidean distance over the raw vectors in the
// registry. Caller holds the read lock and has already clamped k to the scope.
func (s *Store) searchL2(docID string, vector []float32, k int) []models.ChunkMatch {
	var matches []models.ChunkMatch
	collect := func(id string) {
		for ordinal, e := range s.chunks[id] {
			matches = append(matches, models.ChunkMatch{
				ChunkID:  e.id,
				Ordinal:  ordinal,
				Content:  e.content,
				Distance: squaredL2(vector, e.vector),
			})
		}
	}
	if docID != "" {
		collect(docID)
	} else {
		for id := range s.chunks {
			collect(id)
		}
	}

	sortMatches(matches)
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

// Nearest first, equal distances broken by ordinal for reproducible order.
func sortMatches(matches []models.ChunkMatch) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].Ordinal < matches[j].Ordinal
	})
}

func squaredL2(a, b []float32) float64 {
	if len(b) < len(a) {
		a = a[:len(b)]
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}

func (s *Store) Close() error {
	return nil
}
