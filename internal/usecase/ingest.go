package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"docbot/internal/domain"
	"docbot/internal/port"
)

// IngestRequest is the ingestion boundary. Either Paragraphs (already split
// by the text extractor) or Text (split on line breaks) is used.
type IngestRequest struct {
	DocID      string   `json:"doc_id,omitempty"`
	Filename   string   `json:"filename"`
	Text       string   `json:"text,omitempty"`
	Paragraphs []string `json:"paragraphs,omitempty"`
}

type IngestResult struct {
	DocID    string `json:"doc_id"`
	Filename string `json:"filename"`
	Chunks   int    `json:"chunks"`
}

// IngestUseCase chunks a document and hands the passages to the index.
type IngestUseCase struct {
	chunker port.Chunker
	index   *IndexUseCase
	newID   func() string
}

func NewIngestUseCase(chunker port.Chunker, index *IndexUseCase) *IngestUseCase {
	return &IngestUseCase{
		chunker: chunker,
		index:   index,
		newID:   uuid.NewString,
	}
}

// Ingest assigns a document ID when none is given and indexes the document.
// Reusing an existing ID replaces that document's chunks.
func (u *IngestUseCase) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	docID := strings.TrimSpace(req.DocID)
	if docID == "" {
		docID = u.newID()
	}

	var passages []domain.Passage
	if len(req.Paragraphs) > 0 {
		passages = u.chunker.ChunkParagraphs(req.Paragraphs)
	} else {
		passages = u.chunker.Chunk(req.Text)
	}
	if len(passages) == 0 {
		return nil, fmt.Errorf("%w: %q has no paragraphs long enough to index", domain.ErrInvalidInput, req.Filename)
	}

	doc, err := u.index.Ingest(ctx, domain.Document{ID: docID, Filename: req.Filename}, passages)
	if err != nil {
		return nil, err
	}

	return &IngestResult{
		DocID:    doc.ID,
		Filename: doc.Filename,
		Chunks:   doc.ChunkCount,
	}, nil
}

// Remove deletes a previously ingested document.
func (u *IngestUseCase) Remove(docID string) error {
	return u.index.Remove(strings.TrimSpace(docID))
}
