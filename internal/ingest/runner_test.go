package ingest

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"document-qna/internal/models"
	"document-qna/internal/store"
	"document-qna/internal/store/chromemdb"
)

// stubEncoder deterministically hashes text into a unit vector. Texts listed
// in reject fail to encode, batch calls containing one fail wholesale.
type stubEncoder struct {
	mu     sync.Mutex
	reject map[string]bool
	calls  int
}

func (e *stubEncoder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	vecs := make([][]float32, len(texts))
	for i, t := range texts {
		if e.reject[t] {
			return nil, fmt.Errorf("input rejected: %q", t)
		}
		vecs[i] = hashVector(t)
	}
	return vecs, nil
}

func (e *stubEncoder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *stubEncoder) Version() string { return "stub/v1" }
func (e *stubEncoder) Dimensions() int { return 3 }

func hashVector(text string) []float32 {
	h := fnv.New32a()
	h.Write([]byte(text))
	v := h.Sum32()
	return []float32{float32(v%97) + 1, float32(v%89) + 1, float32(v%83) + 1}
}

// flakyStore fails the first failures StoreChunks calls.
type flakyStore struct {
	store.VectorStore
	mu       sync.Mutex
	failures int
	attempts int
}

func (f *flakyStore) StoreChunks(ctx context.Context, docID, version string, chunks []models.ChunkEmbedding, replace bool) error {
	f.mu.Lock()
	f.attempts++
	fail := f.attempts <= f.failures
	f.mu.Unlock()
	if fail {
		return errors.New("store unavailable")
	}
	return f.VectorStore.StoreChunks(ctx, docID, version, chunks, replace)
}

// recordingStore remembers the replace flag of each StoreChunks call.
type recordingStore struct {
	store.VectorStore
	mu       sync.Mutex
	replaces []bool
}

func (r *recordingStore) StoreChunks(ctx context.Context, docID, version string, chunks []models.ChunkEmbedding, replace bool) error {
	r.mu.Lock()
	r.replaces = append(r.replaces, replace)
	r.mu.Unlock()
	return r.VectorStore.StoreChunks(ctx, docID, version, chunks, replace)
}

func newTestStore(t *testing.T) store.VectorStore {
	t.Helper()
	s, err := chromemdb.New("", "ingest_test", true, "l2")
	require.NoError(t, err)
	return s
}

func newRunner(st store.VectorStore) *Runner {
	return NewRunner(st, &stubEncoder{}, Options{
		ChunkSize:    2,
		Workers:      1,
		RetryBackoff: time.Millisecond,
	})
}

func createDoc(t *testing.T, st store.VectorStore, id, text string) {
	t.Helper()
	require.NoError(t, st.CreateDocument(context.Background(), &models.Document{
		ID:      id,
		Name:    id + ".txt",
		Content: text,
		Status:  models.StatusReceived,
	}))
}

func TestProcess_StoresChunksInOrder(t *testing.T) {
	st := newTestStore(t)
	r := newRunner(st)
	ctx := context.Background()

	text := "Cats are mammals. Dogs are mammals too. Fish are not mammals."
	createDoc(t, st, "doc-1", text)
	r.process(ctx, job{documentID: "doc-1", text: text})

	status, cause, err := r.Status(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusStored, status)
	assert.Empty(t, cause)

	n, err := st.ChunkCount(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestProcess_EmptyDocumentStoredWithZeroChunks(t *testing.T) {
	st := newTestStore(t)
	r := newRunner(st)
	ctx := context.Background()

	createDoc(t, st, "doc-1", "")
	r.process(ctx, job{documentID: "doc-1", text: ""})

	status, _, err := r.Status(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusStored, status)

	n, err := st.ChunkCount(ctx, "doc-1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestProcess_RerunDoesNotDuplicateChunks(t *testing.T) {
	st := newTestStore(t)
	r := newRunner(st)
	ctx := context.Background()

	text := "One sentence. Two sentences. Three sentences."
	createDoc(t, st, "doc-1", text)
	r.process(ctx, job{documentID: "doc-1", text: text})

	before, err := st.ChunkCount(ctx, "doc-1")
	require.NoError(t, err)

	r.process(ctx, job{documentID: "doc-1", text: text})

	after, err := st.ChunkCount(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestProcess_ReprocessReplacesChunks(t *testing.T) {
	st := newTestStore(t)
	r := newRunner(st)
	ctx := context.Background()

	createDoc(t, st, "doc-1", "Old text here. More old text.")
	r.process(ctx, job{documentID: "doc-1", text: "Old text here. More old text."})
	r.process(ctx, job{documentID: "doc-1", text: "New text. Only one chunk now.", reprocess: true})

	n, err := st.ChunkCount(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	status, _, err := r.Status(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusStored, status)
}

// A crash between the chunk write and the final status update leaves a
// non-terminal document with chunks behind; the re-run must rewrite them, not
// append a second copy.
func TestProcess_RerunAfterInterruptionReplacesChunks(t *testing.T) {
	inner := newTestStore(t)
	st := &recordingStore{VectorStore: inner}
	r := NewRunner(inner, &stubEncoder{}, Options{ChunkSize: 2, RetryBackoff: time.Millisecond})
	r.store = st
	ctx := context.Background()

	text := "One sentence. Two sentences. Three sentences."
	createDoc(t, inner, "doc-1", text)
	r.process(ctx, job{documentID: "doc-1", text: text})
	require.NoError(t, st.SetStatus(ctx, "doc-1", models.StatusEmbedding, ""))

	r.process(ctx, job{documentID: "doc-1", text: text})

	assert.Equal(t, []bool{false, true}, st.replaces)

	n, err := st.ChunkCount(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	status, _, err := r.Status(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusStored, status)
}

func TestProcess_SkipsChunksTheEncoderRejects(t *testing.T) {
	st := newTestStore(t)
	enc := &stubEncoder{reject: map[string]bool{"Bad chunk input. Bad again.": true}}
	r := NewRunner(st, enc, Options{ChunkSize: 2, RetryBackoff: time.Millisecond})
	ctx := context.Background()

	text := "Bad chunk input. Bad again. Good sentence. Another good one."
	createDoc(t, st, "doc-1", text)
	r.process(ctx, job{documentID: "doc-1", text: text})

	status, _, err := r.Status(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusStored, status)

	n, err := st.ChunkCount(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "rejected chunk is skipped, the rest are stored")
}

func TestProcess_AllChunksRejectedFailsDocument(t *testing.T) {
	st := newTestStore(t)
	enc := &stubEncoder{reject: map[string]bool{"Bad chunk input.": true}}
	r := NewRunner(st, enc, Options{ChunkSize: 2, RetryBackoff: time.Millisecond})
	ctx := context.Background()

	createDoc(t, st, "doc-1", "Bad chunk input.")
	r.process(ctx, job{documentID: "doc-1", text: "Bad chunk input."})

	status, cause, err := r.Status(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, status)
	assert.NotEmpty(t, cause)
}

func TestProcess_RetriesTransientStoreFailures(t *testing.T) {
	inner := newTestStore(t)
	st := &flakyStore{VectorStore: inner, failures: 2}
	r := NewRunner(inner, &stubEncoder{}, Options{})
	r.store = st
	ctx := context.Background()

	createDoc(t, inner, "doc-1", "A sentence. Another sentence.")
	r.opts.RetryBackoff = time.Millisecond
	r.process(ctx, job{documentID: "doc-1", text: "A sentence. Another sentence."})

	status, _, err := r.Status(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusStored, status)
	assert.Equal(t, 3, st.attempts)
}

func TestProcess_ExhaustedRetriesFailDocument(t *testing.T) {
	inner := newTestStore(t)
	st := &flakyStore{VectorStore: inner, failures: 100}
	r := NewRunner(inner, &stubEncoder{}, Options{StoreAttempts: 2, RetryBackoff: time.Millisecond})
	r.store = st
	ctx := context.Background()

	createDoc(t, inner, "doc-1", "A sentence. Another sentence.")
	r.process(ctx, job{documentID: "doc-1", text: "A sentence. Another sentence."})

	status, cause, err := r.Status(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, status)
	assert.Contains(t, cause, "storing chunks")
}

func TestBegin_RejectsConcurrentIngestionForSameDocument(t *testing.T) {
	st := newTestStore(t)
	r := newRunner(st)
	createDoc(t, st, "doc-1", "Some text.")

	// Workers not started yet, so the first job stays queued.
	require.NoError(t, r.Begin("doc-1", "Some text.", false))
	assert.ErrorIs(t, r.Begin("doc-1", "Some text.", false), ErrIngestionInFlight)

	// A different document is fine.
	createDoc(t, st, "doc-2", "Other text.")
	require.NoError(t, r.Begin("doc-2", "Other text.", false))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)

	require.Eventually(t, func() bool {
		s1, _, err1 := r.Status(context.Background(), "doc-1")
		s2, _, err2 := r.Status(context.Background(), "doc-2")
		return err1 == nil && err2 == nil && s1 == models.StatusStored && s2 == models.StatusStored
	}, 5*time.Second, 10*time.Millisecond)

	// Once the first run finished, the document can be re-ingested.
	require.Eventually(t, func() bool {
		return r.Begin("doc-1", "Some text.", false) == nil
	}, 5*time.Second, 10*time.Millisecond)
}

func TestBegin_AfterCloseIsRejected(t *testing.T) {
	st := newTestStore(t)
	r := newRunner(st)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	r.Close()

	createDoc(t, st, "doc-1", "Some text.")
	assert.ErrorIs(t, r.Begin("doc-1", "Some text.", false), ErrRunnerClosed)
}

func TestBegin_FullQueueIsRejected(t *testing.T) {
	st := newTestStore(t)
	r := NewRunner(st, &stubEncoder{}, Options{QueueDepth: 1, RetryBackoff: time.Millisecond})
	createDoc(t, st, "doc-1", "Some text.")
	createDoc(t, st, "doc-2", "Other text.")

	// Workers not started, so the first job fills the queue.
	require.NoError(t, r.Begin("doc-1", "Some text.", false))
	assert.ErrorIs(t, r.Begin("doc-2", "Other text.", false), ErrQueueFull)

	// The rejected document is not considered in flight.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	require.Eventually(t, func() bool {
		return r.Begin("doc-2", "Other text.", false) == nil
	}, 5*time.Second, 10*time.Millisecond)
}
