package port

import (
	"context"

	"docbot/internal/domain"
)

// Retriever defines the interface for searching indexed content.
type Retriever interface {
	// Search returns the top-k chunks for the question, optionally scoped
	// to one document.
	Search(ctx context.Context, question, docID string, k int) ([]domain.RetrievalResult, error)
}
