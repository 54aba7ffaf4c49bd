package chunker

import (
	"strings"
	"unicode"

	"docbot/internal/domain"
)

// ParagraphChunker turns document text into passages, one per paragraph,
// splitting paragraphs that exceed maxChars into overlapping windows.
type ParagraphChunker struct {
	minChars          int
	maxChars          int
	overlap           int
	paragraphsPerPage int
}

func NewParagraphChunker(minChars, maxChars int, overlapFraction float64, paragraphsPerPage int) *ParagraphChunker {
	if maxChars <= 0 {
		maxChars = 500
	}
	if paragraphsPerPage <= 0 {
		paragraphsPerPage = 5
	}
	overlap := int(float64(maxChars) * overlapFraction)
	if overlap >= maxChars/2 {
		overlap = maxChars / 2
	}
	return &ParagraphChunker{
		minChars:          minChars,
		maxChars:          maxChars,
		overlap:           overlap,
		paragraphsPerPage: paragraphsPerPage,
	}
}

func (c *ParagraphChunker) Chunk(text string) []domain.Passage {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return c.ChunkParagraphs(strings.Split(text, "\n"))
}

func (c *ParagraphChunker) ChunkParagraphs(paragraphs []string) []domain.Passage {
	var passages []domain.Passage
	index := 0

	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if len([]rune(p)) < c.minChars || p == "" {
			continue
		}

		page := index/c.paragraphsPerPage + 1
		for _, part := range c.split(p) {
			passages = append(passages, domain.Passage{
				Content:        part,
				ParagraphIndex: index,
				Page:           page,
			})
		}
		index++
	}

	return passages
}

// split cuts text into windows of at most maxChars runes. Windows end on
// whitespace when one exists in the second half of the window, and each
// window after the first starts about overlap runes before the previous end.
func (c *ParagraphChunker) split(text string) []string {
	runes := []rune(text)
	if len(runes) <= c.maxChars {
		return []string{text}
	}

	var parts []string
	start := 0

	for start < len(runes) {
		end := start + c.maxChars
		if end >= len(runes) {
			end = len(runes)
		} else if cut := lastSpace(runes[start:end]); cut > c.maxChars/2 {
			end = start + cut
		}

		if part := strings.TrimSpace(string(runes[start:end])); part != "" {
			parts = append(parts, part)
		}
		if end == len(runes) {
			break
		}

		next := end - c.overlap
		if next <= start {
			next = end
		}
		if next < end {
			if i := firstSpace(runes[next:end]); i >= 0 {
				next += i + 1
			}
		}
		start = next
	}

	return parts
}

func lastSpace(runes []rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if unicode.IsSpace(runes[i]) {
			return i
		}
	}
	return -1
}

func firstSpace(runes []rune) int {
	for i, r := range runes {
		if unicode.IsSpace(r) {
			return i
		}
	}
	return -1
}
