package store

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docbot/internal/domain"
)

const testFingerprint = "test/model@3"

func setupStore(t *testing.T) (*BoltStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.db")
	st, err := NewBoltStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st, path
}

func makeChunks(t *testing.T, docID string, vecs ...[]float32) []domain.Chunk {
	t.Helper()
	var chunks []domain.Chunk
	for i, v := range vecs {
		p := domain.Passage{
			Content:        docID + " passage",
			ParagraphIndex: i,
			Page:           i/5 + 1,
		}
		c, err := domain.NewChunk(docID, i, p, v)
		require.NoError(t, err)
		chunks = append(chunks, c)
	}
	return chunks
}

func testDoc(id string) domain.Document {
	return domain.Document{ID: id, Filename: id + ".txt", IngestedAt: time.Now()}
}

func TestVectorStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")

	st, err := NewBoltStore(path)
	require.NoError(t, err)
	vs, err := NewBoltVectorStore(st, testFingerprint, 3)
	require.NoError(t, err)

	vecs := [][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}, {1, 1, 0}, {0, 1, 1}, {1, 0, 1}, {1, 1, 1}}
	chunks := makeChunks(t, "doc-a", vecs...)
	require.NoError(t, vs.Commit(testDoc("doc-a"), chunks))
	require.NoError(t, st.Close())

	st, err = NewBoltStore(path)
	require.NoError(t, err)
	defer st.Close()
	vs, err = NewBoltVectorStore(st, testFingerprint, 3)
	require.NoError(t, err)
	assert.Equal(t, 7, vs.Count())

	results, err := vs.Search([]float32{1, 1, 1}, 10, "")
	require.NoError(t, err)
	require.Len(t, results, 7)

	byID := map[string]domain.Chunk{}
	for _, c := range chunks {
		byID[c.ID] = c
	}
	for _, r := range results {
		orig := byID[r.Chunk.ID]
		assert.Equal(t, orig.Page, r.Chunk.Page)
		assert.Equal(t, orig.ParagraphIndex, r.Chunk.ParagraphIndex)
		assert.Equal(t, orig.Content, r.Chunk.Content)
		assert.Equal(t, orig.Embedding, r.Chunk.Embedding)

		got, err := domain.Cite(r.Chunk)
		require.NoError(t, err)
		want, err := domain.Cite(orig)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, 2, byID[domain.ChunkID("doc-a", 6)].Page)
}

func TestVectorStore_RoundTripFindsItself(t *testing.T) {
	st, _ := setupStore(t)
	vs, err := NewBoltVectorStore(st, testFingerprint, 3)
	require.NoError(t, err)

	chunks := makeChunks(t, "doc-a", []float32{0.9, 0.1, 0}, []float32{0.1, 0.9, 0}, []float32{0, 0.2, 0.8})
	require.NoError(t, vs.Commit(testDoc("doc-a"), chunks))

	for _, c := range chunks {
		results, err := vs.Search(c.Embedding, 1, "")
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, c.ID, results[0].Chunk.ID)
		assert.InDelta(t, 1.0, results[0].Score, 1e-6)
	}
}

func TestVectorStore_ScopeFilterBeforeTopK(t *testing.T) {
	st, _ := setupStore(t)
	vs, err := NewBoltVectorStore(st, testFingerprint, 3)
	require.NoError(t, err)

	require.NoError(t, vs.Commit(testDoc("doc-a"), makeChunks(t, "doc-a", []float32{1, 0, 0}, []float32{1, 0.1, 0})))
	require.NoError(t, vs.Commit(testDoc("doc-b"), makeChunks(t, "doc-b", []float32{0, 1, 0}, []float32{0, 0, 1})))

	// doc-a chunks are the closest overall; scoping to doc-b must still return doc-b chunks.
	results, err := vs.Search([]float32{1, 0, 0}, 2, "doc-b")
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, "doc-b", r.Chunk.DocID)
	}

	results, err = vs.Search([]float32{1, 0, 0}, 5, "doc-missing")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestVectorStore_TieBreak(t *testing.T) {
	st, _ := setupStore(t)
	vs, err := NewBoltVectorStore(st, testFingerprint, 3)
	require.NoError(t, err)

	same := []float32{0, 1, 0}
	require.NoError(t, vs.Commit(testDoc("doc-b"), makeChunks(t, "doc-b", same, same)))
	require.NoError(t, vs.Commit(testDoc("doc-a"), makeChunks(t, "doc-a", same)))

	results, err := vs.Search(same, 3, "")
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "doc-a", results[0].Chunk.DocID)
	assert.Equal(t, "doc-b", results[1].Chunk.DocID)
	assert.Equal(t, 0, results[1].Chunk.ParagraphIndex)
	assert.Equal(t, 1, results[2].Chunk.ParagraphIndex)
}

func TestVectorStore_ReplaceOnReingest(t *testing.T) {
	st, _ := setupStore(t)
	vs, err := NewBoltVectorStore(st, testFingerprint, 3)
	require.NoError(t, err)

	first := testDoc("doc-a")
	require.NoError(t, vs.Commit(first, makeChunks(t, "doc-a", []float32{1, 0, 0}, []float32{0, 1, 0}, []float32{0, 0, 1})))
	require.NoError(t, st.PutSynthesis("doc-a", first.IngestedAt, domain.Synthesis{Text: "old"}))

	require.NoError(t, vs.Commit(testDoc("doc-a"), makeChunks(t, "doc-a", []float32{1, 1, 0})))
	assert.Equal(t, 1, vs.Count())

	stored, err := st.GetChunksByDoc("doc-a")
	require.NoError(t, err)
	assert.Len(t, stored, 1)

	all, err := st.AllChunks()
	require.NoError(t, err)
	assert.Len(t, all["doc-a"], 1)

	doc, err := st.GetDoc("doc-a")
	require.NoError(t, err)
	assert.Equal(t, 1, doc.ChunkCount)

	_, err = st.GetSynthesis("doc-a")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestVectorStore_Validation(t *testing.T) {
	st, _ := setupStore(t)
	vs, err := NewBoltVectorStore(st, testFingerprint, 3)
	require.NoError(t, err)

	_, err = vs.Search([]float32{1, 0, 0}, 0, "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = vs.Search([]float32{1, 0}, 1, "")
	assert.Error(t, err)

	err = vs.Commit(testDoc("doc-a"), makeChunks(t, "doc-a", []float32{1, 0}))
	assert.Error(t, err)
	assert.Equal(t, 0, vs.Count())
	_, err = st.GetDoc("doc-a")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestVectorStore_EmbedderMismatch(t *testing.T) {
	st, _ := setupStore(t)
	_, err := NewBoltVectorStore(st, testFingerprint, 3)
	require.NoError(t, err)

	_, err = NewBoltVectorStore(st, "other/model@3", 3)
	assert.ErrorIs(t, err, domain.ErrEmbeddingMismatch)

	require.NoError(t, st.Clear())
	_, err = NewBoltVectorStore(st, "other/model@3", 3)
	assert.NoError(t, err)
}

func TestVectorStore_Remove(t *testing.T) {
	st, _ := setupStore(t)
	vs, err := NewBoltVectorStore(st, testFingerprint, 3)
	require.NoError(t, err)

	require.NoError(t, vs.Commit(testDoc("doc-a"), makeChunks(t, "doc-a", []float32{1, 0, 0})))
	require.NoError(t, vs.Remove("doc-a"))
	assert.Equal(t, 0, vs.Count())

	docs, err := st.ListDocs()
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestBoltStore_Synthesis(t *testing.T) {
	st, _ := setupStore(t)

	err := st.PutSynthesis("doc-x", time.Now(), domain.Synthesis{Text: "theme"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	doc := testDoc("doc-x")
	require.NoError(t, st.ReplaceDocument(doc, nil))
	syn := domain.Synthesis{
		Text:      "Theme 1: growth",
		Citations: []domain.Citation{{Page: 1, ParagraphIndex: 0, DocID: "doc-x"}},
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, st.PutSynthesis("doc-x", doc.IngestedAt, syn))

	got, err := st.GetSynthesis("doc-x")
	require.NoError(t, err)
	assert.Equal(t, syn.Text, got.Text)
	assert.Equal(t, syn.Citations, got.Citations)
	assert.True(t, syn.CreatedAt.Equal(got.CreatedAt))
}

func TestBoltStore_SynthesisOfReplacedDocumentRejected(t *testing.T) {
	st, _ := setupStore(t)

	old := testDoc("doc-x")
	require.NoError(t, st.ReplaceDocument(old, nil))

	replaced := testDoc("doc-x")
	replaced.IngestedAt = old.IngestedAt.Add(time.Second)
	require.NoError(t, st.ReplaceDocument(replaced, nil))

	err := st.PutSynthesis("doc-x", old.IngestedAt, domain.Synthesis{Text: "stale theme"})
	assert.ErrorIs(t, err, domain.ErrDocumentChanged)
	_, err = st.GetSynthesis("doc-x")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, st.PutSynthesis("doc-x", replaced.IngestedAt, domain.Synthesis{Text: "fresh theme"}))
}

func TestBoltStore_ListDocsOrdered(t *testing.T) {
	st, _ := setupStore(t)

	base := time.Now()
	require.NoError(t, st.ReplaceDocument(domain.Document{ID: "b", Filename: "b.txt", IngestedAt: base.Add(time.Second)}, nil))
	require.NoError(t, st.ReplaceDocument(domain.Document{ID: "a", Filename: "a.txt", IngestedAt: base}, nil))

	docs, err := st.ListDocs()
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "a", docs[0].ID)
	assert.Equal(t, "b.txt", docs[1].Filename)
}

func versionedChunks(t *testing.T, docID, version string, n int) []domain.Chunk {
	t.Helper()
	chunks := make([]domain.Chunk, 0, n)
	for i := 0; i < n; i++ {
		p := domain.Passage{Content: version, ParagraphIndex: i, Page: i/5 + 1}
		c, err := domain.NewChunk(docID, i, p, []float32{1, float32(i), 0.5})
		require.NoError(t, err)
		chunks = append(chunks, c)
	}
	return chunks
}

// checkVersion reports an error unless the doc-a results are all from one
// version and that version is complete.
func checkVersion(results []domain.RetrievalResult, sizes map[string]int) error {
	seen := map[string]int{}
	for _, r := range results {
		if r.Chunk.DocID == "doc-a" {
			seen[r.Chunk.Content]++
		}
	}
	if len(seen) != 1 {
		return fmt.Errorf("mixed or missing versions: %v", seen)
	}
	for version, n := range seen {
		if n != sizes[version] {
			return fmt.Errorf("partial %s: %d of %d chunks", version, n, sizes[version])
		}
	}
	return nil
}

func TestVectorStore_ConcurrentSearchSeesWholeVersions(t *testing.T) {
	st, _ := setupStore(t)
	vs, err := NewBoltVectorStore(st, testFingerprint, 3)
	require.NoError(t, err)

	versions := map[string][]domain.Chunk{
		"v1": versionedChunks(t, "doc-a", "v1", 4),
		"v2": versionedChunks(t, "doc-a", "v2", 7),
	}
	sizes := map[string]int{"v1": 4, "v2": 7}
	require.NoError(t, vs.Commit(testDoc("doc-a"), versions["v1"]))
	require.NoError(t, vs.Commit(testDoc("doc-b"), versionedChunks(t, "doc-b", "other", 2)))

	done := make(chan struct{})
	errs := make(chan error, 64)
	var wg sync.WaitGroup
	for _, scope := range []string{"doc-a", ""} {
		wg.Add(1)
		go func(scope string) {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				results, err := vs.Search([]float32{1, 1, 1}, 20, scope)
				if err == nil {
					err = checkVersion(results, sizes)
				}
				if err != nil {
					select {
					case errs <- fmt.Errorf("scope %q: %w", scope, err):
					default:
					}
					return
				}
			}
		}(scope)
	}

	for i := 0; i < 40; i++ {
		v := "v1"
		if i%2 == 0 {
			v = "v2"
		}
		require.NoError(t, vs.Commit(testDoc("doc-a"), versions[v]))
	}
	close(done)
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}

	stored, err := st.GetChunksByDoc("doc-a")
	require.NoError(t, err)
	assert.Len(t, stored, sizes["v1"])
}
