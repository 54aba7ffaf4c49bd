package domain

import (
	"fmt"
	"strings"
)

// Citation locates a passage inside its source document.
type Citation struct {
	Page           int    `json:"page"`
	ParagraphIndex int    `json:"paragraph"`
	DocID          string `json:"doc_id"`
}

// Cite derives the citation for a chunk. It never guesses: a chunk with
// missing provenance yields ErrProvenanceGap.
func Cite(c Chunk) (Citation, error) {
	if strings.TrimSpace(c.DocID) == "" {
		return Citation{}, fmt.Errorf("%w: chunk %s has no doc_id", ErrProvenanceGap, c.ID)
	}
	if c.Page < 1 {
		return Citation{}, fmt.Errorf("%w: chunk %s has page %d", ErrProvenanceGap, c.ID, c.Page)
	}
	if c.ParagraphIndex < 0 {
		return Citation{}, fmt.Errorf("%w: chunk %s has paragraph %d", ErrProvenanceGap, c.ID, c.ParagraphIndex)
	}
	return Citation{Page: c.Page, ParagraphIndex: c.ParagraphIndex, DocID: c.DocID}, nil
}

// String renders the citation the way it is shown to users and the model.
func (c Citation) String() string {
	return fmt.Sprintf("Page %d, Paragraph %d", c.Page, c.ParagraphIndex)
}
