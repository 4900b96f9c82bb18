package chromemdb

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"

	"pdf-rag/internal/helper"
	"pdf-rag/internal/models"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"
)

// metadata keys stored with every chunk
const (
	metaSource = "source"
	metaPage   = "page"
	metaChunk  = "chunk"
)

// Embedder computes the vectors stored in and queried against the collection.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// Store keeps chunks in a persistent chromem collection. Every added document is written
// to dir immediately, so a reopened Store sees all previous writes.
type Store struct {
	db            *chromem.DB
	collection    *chromem.Collection
	embedder      Embedder
	dir           string
	compress      bool
	encryptionKey string
}

// Open opens (or creates) the collection named collection under dir.
func Open(dir, collection string, compress bool, encryptionKey string, embedder Embedder) (*Store, error) {
	if err := helper.CreateFolder(dir); err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrStore, err)
	}
	db, err := chromem.NewPersistentDB(dir, compress)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %w", models.ErrStore, err)
	}

	s := &Store{
		db:            db,
		embedder:      embedder,
		dir:           dir,
		compress:      compress,
		encryptionKey: encryptionKey,
	}
	c, err := db.GetOrCreateCollection(collection, nil, s.embed)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create/get collection: %w", models.ErrStore, err)
	}
	s.collection = c

	log.Debug().Str("dir", dir).Str("collection", collection).Int("count", c.Count()).Msg("Opened vector store")
	return s, nil
}

// embed is the collection's embedding function. chromem compares vectors with a dot
// product, so they are normalized here.
func (s *Store) embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := s.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	return normalize(vec), nil
}

// Write embeds and stores chunks. Chunks are appended under fresh ids; writing the same
// content twice stores it twice.
func (s *Store) Write(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vecs, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return models.WithKind(models.ErrStore, err)
	}
	if len(vecs) != len(chunks) {
		return fmt.Errorf("%w: got %d embeddings for %d chunks", models.ErrStore, len(vecs), len(chunks))
	}

	docs := make([]chromem.Document, len(chunks))
	for i, c := range chunks {
		id, err := helper.GenerateUUID()
		if err != nil {
			return fmt.Errorf("%w: %w", models.ErrStore, err)
		}
		docs[i] = chromem.Document{
			ID:      id,
			Content: c.Content,
			Metadata: map[string]string{
				metaSource: c.Source,
				metaPage:   strconv.Itoa(c.PageNumber),
				metaChunk:  strconv.Itoa(c.ChunkID),
			},
			Embedding: normalize(vecs[i]),
		}
	}

	if err := s.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("%w: failed to add documents: %w", models.ErrStore, err)
	}
	log.Debug().Int("chunks", len(docs)).Int("count", s.collection.Count()).Msg("Stored chunks")
	return nil
}

// Retrieve returns up to k chunks ordered by decreasing similarity to query, ties broken
// by document id. Asking for more chunks than are stored returns all of them; an empty
// store returns none.
func (s *Store) Retrieve(ctx context.Context, query string, k int) ([]models.Chunk, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", models.ErrValidation, k)
	}
	count := s.collection.Count()
	if count == 0 {
		return nil, nil
	}

	queryVec, err := s.embed(ctx, query)
	if err != nil {
		return nil, models.WithKind(models.ErrStore, err)
	}

	// chromem scores every document concurrently and returns equal scores in
	// scheduling order, so rank the whole collection here.
	results, err := s.collection.QueryWithOptions(ctx, chromem.QueryOptions{
		QueryEmbedding: queryVec,
		NResults:       count,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query by similarity: %w", models.ErrStore, err)
	}
	sortResults(results)
	if len(results) > k {
		results = results[:k]
	}

	chunks := make([]models.Chunk, 0, len(results))
	for _, r := range results {
		log.Debug().Str("id", r.ID).Float32("similarity", r.Similarity).Msg("Retrieved chunk")
		chunks = append(chunks, fromMetadata(r.Content, r.Metadata))
	}
	return chunks, nil
}

func sortResults(results []chromem.Result) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].ID < results[j].ID
	})
}

// Count returns the number of stored chunks.
func (s *Store) Count(context.Context) (int, error) {
	return s.collection.Count(), nil
}

// Export writes the collection to a single file, encrypted when the store has a key.
// An empty path exports next to the database as <collection>.gob, with .gz and .enc
// appended for compressed and encrypted exports.
func (s *Store) Export(path string) (string, error) {
	if path == "" {
		path = filepath.Join(s.dir, s.collection.Name+".gob")
		if s.compress {
			path += ".gz"
		}
		if s.encryptionKey != "" {
			path += ".enc"
		}
	}
	log.Debug().Str("collection", s.collection.Name).Str("path", path).Bool("compress", s.compress).Msg("Exporting collection")

	if err := s.db.ExportToFile(path, s.compress, s.encryptionKey, s.collection.Name); err != nil {
		return "", fmt.Errorf("%w: failed to export database: %w", models.ErrStore, err)
	}
	return path, nil
}

// Close is a no-op; documents are persisted as they are added.
func (s *Store) Close() error {
	return nil
}

func fromMetadata(content string, meta map[string]string) models.Chunk {
	c := models.Chunk{
		Content:    content,
		Source:     models.UnknownSource,
		PageNumber: models.UnknownPage,
	}
	if src := meta[metaSource]; src != "" {
		c.Source = src
	}
	if page, err := strconv.Atoi(meta[metaPage]); err == nil {
		c.PageNumber = page
	}
	if id, err := strconv.Atoi(meta[metaChunk]); err == nil {
		c.ChunkID = id
	}
	return c
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		log.Warn().Int("dims", len(v)).Msg("Cannot normalize zero embedding")
		return v
	}
	norm := float32(math.Sqrt(sum))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}
