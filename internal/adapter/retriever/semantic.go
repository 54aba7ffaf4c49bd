package retriever

import (
	"context"
	"fmt"

	"docbot/internal/adapter/embedding"
	"docbot/internal/domain"
	"docbot/internal/port"
)

// SemanticRetriever embeds the question and runs a cosine search over the
// vector store. The question must be embedded by the same model that built
// the index.
type SemanticRetriever struct {
	vectorStore port.VectorStore
	embedder    port.Embedder
}

func NewSemanticRetriever(vectorStore port.VectorStore, embedder port.Embedder) *SemanticRetriever {
	return &SemanticRetriever{
		vectorStore: vectorStore,
		embedder:    embedder,
	}
}

func (r *SemanticRetriever) Search(ctx context.Context, question, docID string, k int) ([]domain.RetrievalResult, error) {
	if fp := embedding.Fingerprint(r.embedder); fp != r.vectorStore.Fingerprint() {
		return nil, fmt.Errorf("%w: index built with %s, query embedder is %s",
			domain.ErrEmbeddingMismatch, r.vectorStore.Fingerprint(), fp)
	}

	embeddings, err := r.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("embedding returned empty result")
	}

	results, err := r.vectorStore.Search(embeddings[0], k, docID)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	return results, nil
}
