package store

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"docbot/internal/domain"
)

// BoltVectorStore keeps every chunk in memory for brute-force cosine search
// and persists them through a BoltStore. The in-memory snapshot of a
// document is only swapped after its bbolt transaction has committed.
type BoltVectorStore struct {
	store       *BoltStore
	dimension   int
	fingerprint string

	mu   sync.RWMutex
	docs map[string][]domain.Chunk
}

// NewBoltVectorStore opens the vector index on top of st. The embedder
// fingerprint is pinned on first use; opening the same store with another
// embedder fails with domain.ErrEmbeddingMismatch.
func NewBoltVectorStore(st *BoltStore, fingerprint string, dimension int) (*BoltVectorStore, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("invalid vector dimension %d", dimension)
	}
	if err := st.PinEmbedder(fingerprint); err != nil {
		return nil, err
	}

	vs := &BoltVectorStore{
		store:       st,
		dimension:   dimension,
		fingerprint: fingerprint,
	}

	if err := vs.load(); err != nil {
		return nil, fmt.Errorf("failed to load vectors: %w", err)
	}

	return vs, nil
}

func (s *BoltVectorStore) load() error {
	docs, err := s.store.AllChunks()
	if err != nil {
		return err
	}
	for docID, chunks := range docs {
		for _, c := range chunks {
			if len(c.Embedding) != s.dimension {
				return fmt.Errorf("%w: chunk %s of %s has dimension %d, expected %d",
					domain.ErrEmbeddingMismatch, c.ID, docID, len(c.Embedding), s.dimension)
			}
		}
	}

	s.mu.Lock()
	s.docs = docs
	s.mu.Unlock()
	return nil
}

func (s *BoltVectorStore) Commit(doc domain.Document, chunks []domain.Chunk) error {
	for _, c := range chunks {
		if len(c.Embedding) != s.dimension {
			return fmt.Errorf("vector dimension mismatch: expected %d, got %d", s.dimension, len(c.Embedding))
		}
	}

	if err := s.store.ReplaceDocument(doc, chunks); err != nil {
		return err
	}

	snapshot := make([]domain.Chunk, len(chunks))
	copy(snapshot, chunks)

	s.mu.Lock()
	s.docs[doc.ID] = snapshot
	s.mu.Unlock()
	return nil
}

func (s *BoltVectorStore) Has(docID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.docs[docID]
	return ok
}

func (s *BoltVectorStore) Remove(docID string) error {
	if err := s.store.DeleteDocument(docID); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.docs, docID)
	s.mu.Unlock()
	return nil
}

// Search ranks candidates by cosine similarity, highest first. Equal scores
// are ordered by document, paragraph and chunk position so results are
// deterministic.
func (s *BoltVectorStore) Search(query []float32, k int, docID string) ([]domain.RetrievalResult, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", domain.ErrInvalidInput, k)
	}
	if len(query) != s.dimension {
		return nil, fmt.Errorf("query dimension mismatch: expected %d, got %d", s.dimension, len(query))
	}

	s.mu.RLock()
	var results []domain.RetrievalResult
	if docID != "" {
		results = score(query, s.docs[docID], results)
	} else {
		for _, chunks := range s.docs {
			results = score(query, chunks, results)
		}
	}
	s.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Chunk.DocID != b.Chunk.DocID {
			return a.Chunk.DocID < b.Chunk.DocID
		}
		if a.Chunk.ParagraphIndex != b.Chunk.ParagraphIndex {
			return a.Chunk.ParagraphIndex < b.Chunk.ParagraphIndex
		}
		return a.Chunk.Seq < b.Chunk.Seq
	})

	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

func score(query []float32, chunks []domain.Chunk, out []domain.RetrievalResult) []domain.RetrievalResult {
	for _, c := range chunks {
		out = append(out, domain.RetrievalResult{
			Chunk: c,
			Score: cosineSimilarity(query, c.Embedding),
		})
	}
	return out
}

func (s *BoltVectorStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, chunks := range s.docs {
		n += len(chunks)
	}
	return n
}

func (s *BoltVectorStore) Dimension() int {
	return s.dimension
}

func (s *BoltVectorStore) Fingerprint() string {
	return s.fingerprint
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
