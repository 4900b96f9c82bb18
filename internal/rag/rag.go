package rag

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"pdf-rag/internal/models"
	"pdf-rag/internal/parser"

	"github.com/rs/zerolog/log"
)

// VectorStore is the persisted chunk index shared by ingestion and question answering.
type VectorStore interface {
	Write(ctx context.Context, chunks []models.Chunk) error
	Retrieve(ctx context.Context, query string, k int) ([]models.Chunk, error)
	Count(ctx context.Context) (int, error)
}

// Generator turns a prompt into answer text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Ingestor loads documents, splits them into chunks and writes the chunks to the store.
type Ingestor struct {
	store    VectorStore
	splitter *parser.Splitter
}

func NewIngestor(store VectorStore, splitter *parser.Splitter) *Ingestor {
	return &Ingestor{store: store, splitter: splitter}
}

// Ingest indexes the PDF at path and returns the number of chunks written.
func (i *Ingestor) Ingest(ctx context.Context, path string) (int, error) {
	pages, err := parser.LoadPDF(path)
	if err != nil {
		return 0, err
	}
	return i.ingestPages(ctx, pages)
}

// IngestFile indexes any document format parser.Load understands.
func (i *Ingestor) IngestFile(ctx context.Context, path string) (int, error) {
	pages, err := parser.Load(path)
	if err != nil {
		return 0, err
	}
	return i.ingestPages(ctx, pages)
}

func (i *Ingestor) ingestPages(ctx context.Context, pages []models.Page) (int, error) {
	start := time.Now()
	chunks, err := i.splitter.Split(pages)
	if err != nil {
		return 0, err
	}
	if err := i.store.Write(ctx, chunks); err != nil {
		return 0, err
	}

	source := models.UnknownSource
	if len(pages) > 0 {
		source = pages[0].Source
	}
	log.Info().
		Str("source", source).
		Int("pages", len(pages)).
		Int("chunks", len(chunks)).
		Dur("took", time.Since(start)).
		Msg("Ingested document")
	return len(chunks), nil
}

// QA answers questions from the chunks in the store.
type QA struct {
	store        VectorStore
	gen          Generator
	previewWidth int
}

func NewQA(store VectorStore, gen Generator, previewWidth int) *QA {
	if previewWidth <= 0 {
		previewWidth = models.DefaultPreviewWidth
	}
	return &QA{store: store, gen: gen, previewWidth: previewWidth}
}

// Answer retrieves the k chunks closest to question and asks the generator to answer
// from them. When nothing is retrieved the fallback answer is returned and the generator
// is not called. Sources follow retrieval order, one per chunk.
func (q *QA) Answer(ctx context.Context, question string, k int) (models.ChatResponse, error) {
	if strings.TrimSpace(question) == "" {
		return models.ChatResponse{}, fmt.Errorf("%w: question must not be empty", models.ErrValidation)
	}
	if k <= 0 {
		return models.ChatResponse{}, fmt.Errorf("%w: k must be positive, got %d", models.ErrValidation, k)
	}

	chunks, err := q.store.Retrieve(ctx, question, k)
	if err != nil {
		return models.ChatResponse{}, fmt.Errorf("%w: retrieval failed: %w", models.ErrGeneration, err)
	}
	log.Debug().Int("k", k).Int("hits", len(chunks)).Msg("Retrieved context")

	if len(chunks) == 0 {
		return models.ChatResponse{Answer: models.FallbackAnswer, Sources: []models.Source{}}, nil
	}

	answer, err := q.gen.Generate(ctx, BuildPrompt(question, chunks))
	if err != nil {
		return models.ChatResponse{}, models.WithKind(models.ErrGeneration, err)
	}

	sources := make([]models.Source, 0, len(chunks))
	for _, c := range chunks {
		sources = append(sources, models.Source{
			Source:  c.Source,
			Page:    c.PageNumber,
			Preview: Preview(c.Content, q.previewWidth),
		})
	}
	return models.ChatResponse{Answer: answer, Sources: sources}, nil
}

// BuildPrompt numbers the excerpts from 1, tags each with its source and page, and
// places them between the system instruction and the question.
func BuildPrompt(question string, chunks []models.Chunk) string {
	excerpts := make([]string, 0, len(chunks))
	for i, c := range chunks {
		header := fmt.Sprintf(models.ExcerptHeaderTemplate, i+1, c.Source, c.PageNumber)
		excerpts = append(excerpts, header+"\n"+c.Content)
	}
	return fmt.Sprintf(models.QAPromptTemplate,
		models.SystemInstruction,
		strings.Join(excerpts, models.ContextSeparator),
		strings.TrimSpace(question),
	)
}

// Preview collapses runs of whitespace in text and, when the result is longer than
// width runes, keeps as many whole words as fit together with the placeholder. A first
// word that does not fit leaves only the placeholder.
func Preview(text string, width int) string {
	words := strings.Fields(text)
	collapsed := strings.Join(words, " ")
	if utf8.RuneCountInString(collapsed) <= width {
		return collapsed
	}

	room := width - utf8.RuneCountInString(models.PreviewPlaceholder)
	var b strings.Builder
	n := 0
	for i, w := range words {
		need := utf8.RuneCountInString(w)
		if i > 0 {
			need++
		}
		if n+need > room {
			break
		}
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(w)
		n += need
	}
	if n == 0 {
		return models.PreviewPlaceholder
	}
	return b.String() + models.PreviewPlaceholder
}
