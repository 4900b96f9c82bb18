package parser

import (
	"fmt"
	"strings"

	"pdf-rag/internal/models"

	"github.com/tmc/langchaingo/textsplitter"
)

const (
	defaultChunkSize    = 1000 // characters
	defaultChunkOverlap = 200  // characters
)

// paragraph, line, sentence, word, then a hard cut between characters
var separators = []string{"\n\n", "\n", ". ", " ", ""}

// Splitter cuts page text into overlapping chunks, preferring the coarsest boundary
// that keeps a chunk within the size limit.
type Splitter struct {
	splitter textsplitter.RecursiveCharacter
}

func NewSplitter(chunkSize, chunkOverlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize / 5
	}
	return &Splitter{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(chunkOverlap),
			textsplitter.WithSeparators(separators),
		),
	}
}

// SplitText returns the chunks of a single text, dropping blank ones.
func (s *Splitter) SplitText(content string) ([]string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, nil
	}
	parts, err := s.splitter.SplitText(content)
	if err != nil {
		return nil, err
	}
	chunks := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			chunks = append(chunks, p)
		}
	}
	return chunks, nil
}

// Split chunks every page. Chunks never span pages, so each keeps the source and page
// number of the page it came from.
func (s *Splitter) Split(pages []models.Page) ([]models.Chunk, error) {
	var chunks []models.Chunk
	for _, page := range pages {
		parts, err := s.SplitText(page.Content)
		if err != nil {
			return nil, fmt.Errorf("%w: %s page %d: %w", models.ErrParse, page.Source, page.PageNumber, err)
		}
		for i, part := range parts {
			chunks = append(chunks, models.Chunk{
				Content:    part,
				Source:     page.Source,
				PageNumber: page.PageNumber,
				ChunkID:    i + 1,
			})
		}
	}
	return chunks, nil
}
