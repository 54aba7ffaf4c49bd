package port

import (
	"time"

	"docbot/internal/domain"
)

type DocumentStore interface {
	GetDoc(id string) (domain.Document, error)

	ListDocs() ([]domain.Document, error)
}

// SynthesisStore keeps the latest synthesis per document.
type SynthesisStore interface {
	// PutSynthesis stores syn only while the document is still the version
	// ingested at version. Otherwise it returns domain.ErrDocumentChanged.
	PutSynthesis(docID string, version time.Time, syn domain.Synthesis) error

	// GetSynthesis returns domain.ErrNotFound if nothing has been stored.
	GetSynthesis(docID string) (domain.Synthesis, error)
}
