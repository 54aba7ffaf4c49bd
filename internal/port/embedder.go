package port

import (
	"context"

	"docbot/internal/domain"
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates embeddings for the given texts.
	// Returns a slice of vectors, one per input text.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding vector dimension.
	Dimension() int

	// ModelName returns the name of the embedding model.
	ModelName() string
}

// VectorStore persists embedded chunks and searches them.
type VectorStore interface {
	// Commit replaces every chunk of doc with chunks in a single transaction.
	// Searches observe either the old or the new chunk set, never a mix.
	Commit(doc domain.Document, chunks []domain.Chunk) error

	// Search returns the k chunks most similar to query. A non-empty docID
	// restricts candidates to that document before the top-k cut.
	Search(query []float32, k int, docID string) ([]domain.RetrievalResult, error)

	// Remove deletes a document and its chunks.
	Remove(docID string) error

	// Has reports whether docID has been committed.
	Has(docID string) bool

	// Count returns the number of searchable chunks.
	Count() int

	// Fingerprint identifies the embedding model the store was built with.
	Fingerprint() string
}
