package usecase

import (
	"context"
	"fmt"
	"strings"

	"docbot/internal/domain"
	"docbot/internal/port"
)

// RetrieveUseCase handles search and retrieval operations.
type RetrieveUseCase struct {
	retriever port.Retriever
	topK      int
}

// NewRetrieveUseCase creates a new retrieve use case. topK is used when a
// request does not set k.
func NewRetrieveUseCase(retriever port.Retriever, topK int) *RetrieveUseCase {
	if topK <= 0 {
		topK = 5
	}
	return &RetrieveUseCase{
		retriever: retriever,
		topK:      topK,
	}
}

// Retrieve returns the chunks most relevant to question, best first. A
// docID scope with no indexed chunks yields an empty result, not an error.
func (u *RetrieveUseCase) Retrieve(ctx context.Context, question, docID string, k int) ([]domain.RetrievalResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("%w: question must not be empty", domain.ErrInvalidInput)
	}
	if k < 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", domain.ErrInvalidInput, k)
	}
	if k == 0 {
		k = u.topK
	}

	results, err := u.retriever.Search(ctx, question, strings.TrimSpace(docID), k)
	if err != nil {
		return nil, err
	}
	if results == nil {
		results = []domain.RetrievalResult{}
	}
	return results, nil
}
