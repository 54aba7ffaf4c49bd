package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Document is an ingested source. The full text stays with the caller that
// extracted it; the index only references the document by ID.
type Document struct {
	ID         string    `json:"doc_id"`
	Filename   string    `json:"filename"`
	ChunkCount int       `json:"chunks"`
	IngestedAt time.Time `json:"ingested_at"`
}

// Passage is a provenance-tagged retrieval unit produced by the chunker,
// before it has been embedded.
type Passage struct {
	Content        string
	ParagraphIndex int
	Page           int
}

// Chunk is an embedded passage as stored in the index.
type Chunk struct {
	ID             string
	DocID          string
	Seq            int
	Content        string
	Page           int
	ParagraphIndex int
	Embedding      []float32
}

// NewChunk builds a chunk from an embedded passage. Chunks without an
// embedding or with incomplete provenance are rejected so they can never
// reach the index.
func NewChunk(docID string, seq int, p Passage, embedding []float32) (Chunk, error) {
	if strings.TrimSpace(docID) == "" {
		return Chunk{}, fmt.Errorf("%w: chunk %d has no doc_id", ErrProvenanceGap, seq)
	}
	if strings.TrimSpace(p.Content) == "" {
		return Chunk{}, fmt.Errorf("%w: chunk %d of %s is empty", ErrInvalidInput, seq, docID)
	}
	if p.Page < 1 || p.ParagraphIndex < 0 {
		return Chunk{}, fmt.Errorf("%w: chunk %d of %s has page %d paragraph %d",
			ErrProvenanceGap, seq, docID, p.Page, p.ParagraphIndex)
	}
	if len(embedding) == 0 {
		return Chunk{}, fmt.Errorf("%w: chunk %d of %s has no embedding", ErrIngestFailure, seq, docID)
	}

	return Chunk{
		ID:             ChunkID(docID, seq),
		DocID:          docID,
		Seq:            seq,
		Content:        p.Content,
		Page:           p.Page,
		ParagraphIndex: p.ParagraphIndex,
		Embedding:      embedding,
	}, nil
}

// ChunkID derives a stable chunk identifier from the document and the
// chunk's position within it.
func ChunkID(docID string, seq int) string {
	data := fmt.Sprintf("%s:%d", docID, seq)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:8])
}

// RetrievalResult pairs a chunk with its cosine similarity to the query.
// Higher scores are more relevant.
type RetrievalResult struct {
	Chunk Chunk
	Score float64
}

// Synthesis is the thematic answer generated for one query.
type Synthesis struct {
	Question  string     `json:"question,omitempty"`
	Text      string     `json:"text"`
	Citations []Citation `json:"citations,omitempty"`
	Failed    bool       `json:"failed,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
