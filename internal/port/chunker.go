package port

import "docbot/internal/domain"

// Chunker splits document text into provenance-tagged passages.
type Chunker interface {
	// Chunk splits raw text on line breaks.
	Chunk(text string) []domain.Passage

	// ChunkParagraphs chunks an already-split, ordered paragraph sequence.
	ChunkParagraphs(paragraphs []string) []domain.Passage
}
