// Package ingest drives the document ingestion pipeline: segment the raw text
// into sentences, group them into chunks, embed the chunks, and persist the
// batch. Work runs on a bounded worker pool in the background; the document's
// status row is the authoritative record of pipeline progress.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"document-qna/internal/chunker"
	"document-qna/internal/embedding"
	"document-qna/internal/models"
	"document-qna/internal/segment"
	"document-qna/internal/store"
)

// ErrIngestionInFlight is returned when ingestion for the same document id is
// already queued or running. The caller should retry after it finishes.
var ErrIngestionInFlight = errors.New("ingestion already in flight for document")

// ErrQueueFull is returned when the ingestion queue has no room for another
// job. The caller should retry later.
var ErrQueueFull = errors.New("ingestion queue is full")

// ErrRunnerClosed is returned by Begin after Close.
var ErrRunnerClosed = errors.New("ingestion runner is closed")

type job struct {
	documentID string
	text       string
	reprocess  bool
}

// Options tunes the runner. Zero values fall back to defaults.
type Options struct {
	ChunkSize     int
	Workers       int
	QueueDepth    int
	EmbedBatch    int
	StoreAttempts int
	RetryBackoff  time.Duration
}

func (o *Options) applyDefaults() {
	if o.ChunkSize <= 0 {
		o.ChunkSize = chunker.DefaultChunkSize
	}
	if o.Workers <= 0 {
		o.Workers = 2
	}
	if o.QueueDepth <= 0 {
		o.QueueDepth = 64
	}
	if o.EmbedBatch <= 0 {
		o.EmbedBatch = 16
	}
	if o.StoreAttempts <= 0 {
		o.StoreAttempts = 3
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 500 * time.Millisecond
	}
}

// Runner owns the background ingestion workers.
type Runner struct {
	store store.VectorStore
	enc   embedding.Encoder
	opts  Options

	queue chan job
	wg    sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]struct{}
	closed   bool
}

func NewRunner(st store.VectorStore, enc embedding.Encoder, opts Options) *Runner {
	opts.applyDefaults()
	return &Runner{
		store:    st,
		enc:      enc,
		opts:     opts,
		queue:    make(chan job, opts.QueueDepth),
		inflight: make(map[string]struct{}),
	}
}

// Start launches the worker pool. Workers stop when ctx is canceled or Close
// is called.
func (r *Runner) Start(ctx context.Context) {
	for i := 0; i < r.opts.Workers; i++ {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case j, ok := <-r.queue:
					if !ok {
						return
					}
					r.process(ctx, j)
				}
			}
		}()
	}
}

// Close stops accepting work and waits for in-flight jobs to finish.
func (r *Runner) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	r.wg.Wait()
}

// Begin enqueues ingestion for a document and returns immediately. Ingestion
// for the same document id is serialized: a second Begin while the first is
// still queued or running fails with ErrIngestionInFlight. Begin never
// blocks: a full queue is reported as ErrQueueFull.
func (r *Runner) Begin(documentID, text string, reprocess bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRunnerClosed
	}
	if _, busy := r.inflight[documentID]; busy {
		return ErrIngestionInFlight
	}
	// The send happens under the lock so Close cannot close the queue
	// between the closed check and the send.
	select {
	case r.queue <- job{documentID: documentID, text: text, reprocess: reprocess}:
		r.inflight[documentID] = struct{}{}
		return nil
	default:
		return ErrQueueFull
	}
}

// Status reports the pipeline state for a document.
func (r *Runner) Status(ctx context.Context, documentID string) (models.DocumentStatus, string, error) {
	doc, err := r.store.Document(ctx, documentID)
	if err != nil {
		return "", "", err
	}
	return doc.Status, doc.FailureCause, nil
}

func (r *Runner) process(ctx context.Context, j job) {
	defer func() {
		r.mu.Lock()
		delete(r.inflight, j.documentID)
		r.mu.Unlock()
	}()

	logger := log.With().Str("document_id", j.documentID).Logger()

	// Re-running a stored document must not duplicate its chunks.
	replace := j.reprocess
	if !j.reprocess {
		doc, err := r.store.Document(ctx, j.documentID)
		if err != nil {
			logger.Error().Err(err).Msg("loading document")
			return
		}
		if doc.Status == models.StatusStored {
			logger.Info().Msg("document already stored, skipping ingestion")
			return
		}
		// A crash between the chunk write and the final status update leaves
		// chunks behind in a non-terminal document; rewrite instead of append.
		n, err := r.store.ChunkCount(ctx, j.documentID)
		if err != nil {
			logger.Error().Err(err).Msg("counting existing chunks")
			return
		}
		replace = n > 0
	}

	fail := func(cause string, err error) {
		logger.Error().Err(err).Str("cause", cause).Msg("ingestion failed")
		if serr := r.store.SetStatus(ctx, j.documentID, models.StatusFailed, cause); serr != nil {
			logger.Error().Err(serr).Msg("recording failure status")
		}
	}

	if err := r.store.SetStatus(ctx, j.documentID, models.StatusSegmenting, ""); err != nil {
		logger.Error().Err(err).Msg("setting status")
		return
	}
	sentences := segment.Sentences(j.text)

	if err := r.store.SetStatus(ctx, j.documentID, models.StatusChunking, ""); err != nil {
		logger.Error().Err(err).Msg("setting status")
		return
	}
	chunks := chunker.Build(sentences, r.opts.ChunkSize)

	// An empty document is a successfully completed, empty result.
	if len(chunks) == 0 {
		if err := r.storeWithRetry(ctx, j.documentID, nil, replace); err != nil {
			fail("storing empty chunk set: "+err.Error(), err)
			return
		}
		if err := r.store.SetStatus(ctx, j.documentID, models.StatusStored, ""); err != nil {
			logger.Error().Err(err).Msg("setting status")
		}
		logger.Info().Msg("ingestion complete, document has no sentences")
		return
	}

	if err := r.store.SetStatus(ctx, j.documentID, models.StatusEmbedding, ""); err != nil {
		logger.Error().Err(err).Msg("setting status")
		return
	}
	embedded, skipped := r.embedChunks(ctx, logger, chunks)
	if len(embedded) == 0 {
		fail("embedding failed for every chunk", nil)
		return
	}

	if err := r.storeWithRetry(ctx, j.documentID, embedded, replace); err != nil {
		fail("storing chunks: "+err.Error(), err)
		return
	}
	if err := r.store.SetStatus(ctx, j.documentID, models.StatusStored, ""); err != nil {
		logger.Error().Err(err).Msg("setting status")
		return
	}
	logger.Info().
		Int("chunks", len(embedded)).
		Int("skipped", skipped).
		Msg("ingestion complete")
}

// embedChunks encodes chunks in batches, preserving ordinal order. When a
// batch fails it falls back to per-chunk encoding; chunks the encoder rejects
// are skipped and logged, and ingestion continues with the rest.
func (r *Runner) embedChunks(ctx context.Context, logger zerolog.Logger, chunks []models.Chunk) ([]models.ChunkEmbedding, int) {
	var (
		embedded []models.ChunkEmbedding
		skipped  int
	)
	for start := 0; start < len(chunks); start += r.opts.EmbedBatch {
		end := start + r.opts.EmbedBatch
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
		}
		vecs, err := r.enc.EmbedTexts(ctx, texts)
		if err == nil {
			for i, c := range batch {
				embedded = append(embedded, models.ChunkEmbedding{
					Ordinal:   c.Ordinal,
					Content:   c.Content,
					Embedding: vecs[i],
				})
			}
			continue
		}

		logger.Warn().Err(err).Int("batch_start", start).Msg("batch embedding failed, retrying per chunk")
		for _, c := range batch {
			vec, cerr := r.enc.EmbedTexts(ctx, []string{c.Content})
			if cerr != nil || len(vec) == 0 {
				skipped++
				logger.Warn().Err(cerr).Int("ordinal", c.Ordinal).Msg("skipping chunk, encoder rejected input")
				continue
			}
			embedded = append(embedded, models.ChunkEmbedding{
				Ordinal:   c.Ordinal,
				Content:   c.Content,
				Embedding: vec[0],
			})
		}
	}
	return embedded, skipped
}

// storeWithRetry writes the chunk batch, retrying transient store failures
// with linear backoff up to the configured attempt count.
func (r *Runner) storeWithRetry(ctx context.Context, documentID string, chunks []models.ChunkEmbedding, replace bool) error {
	var err error
	for attempt := 1; attempt <= r.opts.StoreAttempts; attempt++ {
		err = r.store.StoreChunks(ctx, documentID, r.enc.Version(), chunks, replace)
		if err == nil {
			return nil
		}
		if errors.Is(err, store.ErrDocumentNotFound) {
			return err
		}
		if attempt < r.opts.StoreAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * r.opts.RetryBackoff):
			}
		}
	}
	return fmt.Errorf("store write failed after %d attempts: %w", r.opts.StoreAttempts, err)
}
