// Package embeddingtest provides a deterministic offline embedder for tests.
package embeddingtest

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"
)

// Dims is the length of every vector returned by BagOfWords.
const Dims = 256

// BagOfWords hashes the lowercased words of a text into a fixed number of buckets.
// Texts that share words end up close to each other.
type BagOfWords struct {
	mu      sync.Mutex
	Queries int
	Docs    int
}

func (b *BagOfWords) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	b.mu.Lock()
	b.Queries++
	b.mu.Unlock()
	return Vector(text), nil
}

func (b *BagOfWords) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	b.mu.Lock()
	b.Docs += len(texts)
	b.mu.Unlock()
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = Vector(t)
	}
	return out, nil
}

// Vector returns the embedding of text. The last bucket is a small constant so that no
// vector is zero.
func Vector(text string) []float32 {
	vec := make([]float32, Dims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		h.Write([]byte(w))
		vec[h.Sum32()%(Dims-1)]++
	}
	vec[Dims-1] = 0.1
	return vec
}
