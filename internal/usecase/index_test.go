package usecase

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docbot/internal/adapter/chunker"
	"docbot/internal/adapter/embedding"
	"docbot/internal/adapter/store"
	"docbot/internal/domain"
	"docbot/internal/port"
)

var revenueParagraphs = []string{
	"Revenue grew 10% in Q1.",
	"Costs also rose due to hiring.",
	"Net margin improved slightly.",
}

type testEnv struct {
	store   *store.BoltStore
	vectors *store.BoltVectorStore
	emb     *embedding.HashingEmbedder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := store.NewBoltStore(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	emb := embedding.NewHashingEmbedder(1024)
	vs, err := store.NewBoltVectorStore(st, embedding.Fingerprint(emb), emb.Dimension())
	require.NoError(t, err)

	return &testEnv{store: st, vectors: vs, emb: emb}
}

func (e *testEnv) index(t *testing.T, embedder port.Embedder, opts IndexOptions) *IndexUseCase {
	t.Helper()
	idx, err := NewIndexUseCase(embedder, e.vectors, opts, nil, nil)
	require.NoError(t, err)
	return idx
}

func (e *testEnv) ingester(t *testing.T) *IngestUseCase {
	t.Helper()
	return NewIngestUseCase(chunkerForTests(), e.index(t, e.emb, IndexOptions{}))
}

func chunkerForTests() *chunker.ParagraphChunker {
	return chunker.NewParagraphChunker(20, 500, 0.1, 5)
}

// failingEmbedder delegates to a real embedder and fails every call after
// the first okCalls.
type failingEmbedder struct {
	*embedding.HashingEmbedder
	okCalls int

	mu    sync.Mutex
	calls int
}

func (f *failingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	if n > f.okCalls {
		return nil, errors.New("embedding service unavailable")
	}
	return f.HashingEmbedder.Embed(ctx, texts)
}

// blockingEmbedder signals entered and waits for release before embedding.
type blockingEmbedder struct {
	*embedding.HashingEmbedder
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return b.HashingEmbedder.Embed(ctx, texts)
}

func TestIngest_AssignsDocIDAndProvenance(t *testing.T) {
	env := newTestEnv(t)
	ing := env.ingester(t)

	res, err := ing.Ingest(context.Background(), IngestRequest{Filename: "report.txt", Paragraphs: revenueParagraphs})
	require.NoError(t, err)
	assert.NotEmpty(t, res.DocID)
	assert.Equal(t, "report.txt", res.Filename)
	assert.Equal(t, 3, res.Chunks)

	chunks, err := env.store.GetChunksByDoc(res.DocID)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	for i, c := range chunks {
		assert.Equal(t, res.DocID, c.DocID)
		assert.Equal(t, i, c.ParagraphIndex)
		assert.Equal(t, 1, c.Page)
		assert.Equal(t, revenueParagraphs[i], c.Content)
	}

	doc, err := env.store.GetDoc(res.DocID)
	require.NoError(t, err)
	assert.Equal(t, 3, doc.ChunkCount)
}

func TestIngest_TextIsSplitOnLines(t *testing.T) {
	env := newTestEnv(t)
	ing := env.ingester(t)

	text := "Title\r\nRevenue grew 10% in Q1 across all regions.\n\nshort\nCosts also rose due to hiring in sales."
	res, err := ing.Ingest(context.Background(), IngestRequest{DocID: "d1", Filename: "a.txt", Text: text})
	require.NoError(t, err)
	assert.Equal(t, "d1", res.DocID)
	assert.Equal(t, 2, res.Chunks)

	res, err = ing.Ingest(context.Background(), IngestRequest{DocID: "d2", Paragraphs: []string{}, Text: text})
	require.NoError(t, err, "an empty paragraph list falls back to the text")
	assert.Equal(t, 2, res.Chunks)
}

func TestIngest_NothingToIndex(t *testing.T) {
	env := newTestEnv(t)
	ing := env.ingester(t)

	_, err := ing.Ingest(context.Background(), IngestRequest{Filename: "empty.txt", Text: "too short\n\n"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Equal(t, 0, env.vectors.Count())
}

func TestIndex_AtomicOnEmbeddingFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	passages := make([]domain.Passage, 5)
	for i := range passages {
		passages[i] = domain.Passage{Content: fmt.Sprintf("paragraph number %d about quarterly results", i), ParagraphIndex: i, Page: 1}
	}

	flaky := &failingEmbedder{HashingEmbedder: env.emb, okCalls: 3}
	idx := env.index(t, flaky, IndexOptions{BatchSize: 1, Concurrency: 1})

	_, err := idx.Ingest(ctx, domain.Document{ID: "doc-x", Filename: "x.txt"}, passages)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrIngestFailure)
	assert.Equal(t, 4, flaky.calls)

	assert.Equal(t, 0, env.vectors.Count())
	_, err = env.store.GetDoc("doc-x")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	q, err := env.emb.Embed(ctx, []string{"quarterly results"})
	require.NoError(t, err)
	results, err := idx.Search(q[0], 10, "doc-x")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestIndex_FailedReingestKeepsPreviousVersion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	good := env.index(t, env.emb, IndexOptions{})
	_, err := good.Ingest(ctx, domain.Document{ID: "doc-1"}, []domain.Passage{
		{Content: "The original first paragraph.", ParagraphIndex: 0, Page: 1},
		{Content: "The original second paragraph.", ParagraphIndex: 1, Page: 1},
	})
	require.NoError(t, err)

	bad := env.index(t, &failingEmbedder{HashingEmbedder: env.emb, okCalls: 0}, IndexOptions{})
	_, err = bad.Ingest(ctx, domain.Document{ID: "doc-1"}, []domain.Passage{
		{Content: "A replacement paragraph.", ParagraphIndex: 0, Page: 1},
	})
	require.ErrorIs(t, err, domain.ErrIngestFailure)

	chunks, err := env.store.GetChunksByDoc("doc-1")
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "The original first paragraph.", chunks[0].Content)
	assert.Equal(t, 2, env.vectors.Count())
}

func TestIndex_ReingestReplaces(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	idx := env.index(t, env.emb, IndexOptions{})

	_, err := idx.Ingest(ctx, domain.Document{ID: "doc-1"}, []domain.Passage{
		{Content: "one", ParagraphIndex: 0, Page: 1},
		{Content: "two", ParagraphIndex: 1, Page: 1},
		{Content: "three", ParagraphIndex: 2, Page: 1},
	})
	require.NoError(t, err)

	doc, err := idx.Ingest(ctx, domain.Document{ID: "doc-1"}, []domain.Passage{
		{Content: "replacement", ParagraphIndex: 0, Page: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, doc.ChunkCount)
	assert.Equal(t, 1, idx.Count())
}

func TestIndex_ConcurrentIngestOfSameDocRejected(t *testing.T) {
	env := newTestEnv(t)
	blocking := &blockingEmbedder{
		HashingEmbedder: env.emb,
		entered:         make(chan struct{}),
		release:         make(chan struct{}),
	}
	idx := env.index(t, blocking, IndexOptions{})
	passages := []domain.Passage{{Content: "Revenue grew 10% in Q1.", ParagraphIndex: 0, Page: 1}}

	errc := make(chan error, 1)
	go func() {
		_, err := idx.Ingest(context.Background(), domain.Document{ID: "doc-1"}, passages)
		errc <- err
	}()

	select {
	case <-blocking.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first ingest never started embedding")
	}

	_, err := idx.Ingest(context.Background(), domain.Document{ID: "doc-1"}, passages)
	assert.ErrorIs(t, err, domain.ErrIngestInProgress)

	close(blocking.release)
	require.NoError(t, <-errc)

	// A different document is not blocked, and the slot is free again.
	_, err = idx.Ingest(context.Background(), domain.Document{ID: "doc-2"}, passages)
	require.NoError(t, err)
	_, err = idx.Ingest(context.Background(), domain.Document{ID: "doc-1"}, passages)
	require.NoError(t, err)
}

func TestIndex_OnCommitHook(t *testing.T) {
	env := newTestEnv(t)
	idx := env.index(t, env.emb, IndexOptions{})

	var committed []string
	idx.OnCommit(func(docID string) { committed = append(committed, docID) })

	_, err := idx.Ingest(context.Background(), domain.Document{ID: "doc-1"}, []domain.Passage{{Content: "text", Page: 1}})
	require.NoError(t, err)
	_, err = idx.Ingest(context.Background(), domain.Document{ID: ""}, []domain.Passage{{Content: "text", Page: 1}})
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	assert.Equal(t, []string{"doc-1"}, committed)
}

func TestNewIndexUseCase_RejectsOtherEmbedder(t *testing.T) {
	env := newTestEnv(t)
	_, err := NewIndexUseCase(embedding.NewHashingEmbedder(64), env.vectors, IndexOptions{}, nil, nil)
	assert.ErrorIs(t, err, domain.ErrEmbeddingMismatch)
}

func TestIndex_Remove(t *testing.T) {
	env := newTestEnv(t)
	idx := env.index(t, env.emb, IndexOptions{})

	var hooked []string
	idx.OnCommit(func(docID string) { hooked = append(hooked, docID) })

	_, err := idx.Ingest(context.Background(), domain.Document{ID: "doc-1"}, []domain.Passage{{Content: "text", Page: 1}})
	require.NoError(t, err)

	require.NoError(t, idx.Remove("doc-1"))
	assert.Equal(t, 0, idx.Count())
	assert.Equal(t, []string{"doc-1", "doc-1"}, hooked)
	_, err = env.store.GetDoc("doc-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.ErrorIs(t, idx.Remove("doc-1"), domain.ErrNotFound)
}
