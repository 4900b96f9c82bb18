package embedding

import (
	"context"
	"fmt"
	"strings"

	"pdf-rag/internal/config"
	"pdf-rag/internal/models"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"
)

// Provider turns text into vectors through the configured embedding model. Calls are
// throttled to the configured requests per second.
type Provider struct {
	embedder embeddings.Embedder
	limiter  *rate.Limiter
	model    string
}

// New creates a provider for cfg. Both OpenAI compatible endpoints and Ollama are supported.
func New(cfg config.LLMConfig) (*Provider, error) {
	log.Debug().Interface("config", map[string]string{
		"provider": cfg.Provider,
		"base_url": cfg.BaseURL,
		"model":    cfg.Model,
	}).Msg("Creating embedder")

	var client embeddings.EmbedderClient
	switch cfg.Provider {
	case config.ProviderOllama:
		llm, err := ollama.New(
			ollama.WithServerURL(cfg.BaseURL),
			ollama.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("error initializing ollama embedder: %w", err)
		}
		client = llm
	case config.ProviderOpenAI, "":
		llm, err := openai.New(
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
			openai.WithModel(cfg.Model),
			openai.WithEmbeddingModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("error initializing openai embedder: %w", err)
		}
		client = llm
	default:
		return nil, fmt.Errorf("%w: unknown embedding provider %q", models.ErrValidation, cfg.Provider)
	}

	embedder, err := embeddings.NewEmbedder(client)
	if err != nil {
		return nil, fmt.Errorf("error creating embedder: %w", err)
	}
	p := NewWithEmbedder(embedder, cfg.RequestsPerSecond)
	p.model = cfg.Model
	return p, nil
}

// NewWithEmbedder wraps an existing embedder. A non-positive rps disables throttling.
func NewWithEmbedder(e embeddings.Embedder, rps float64) *Provider {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &Provider{
		embedder: e,
		limiter:  rate.NewLimiter(limit, 1),
	}
}

// EmbedQuery returns the vector of a single text.
func (p *Provider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: embedding rate limit: %w", models.ErrStore, err)
	}
	vec, err := p.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding query: %w", models.ErrStore, err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: embedding model %s returned an empty vector", models.ErrStore, p.model)
	}
	return vec, nil
}

// EmbedDocuments returns one vector per text, in order.
func (p *Provider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: embedding rate limit: %w", models.ErrStore, err)
	}
	vecs, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding %d documents: %w", models.ErrStore, len(texts), err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: embedding model returned %d vectors for %d documents", models.ErrStore, len(vecs), len(texts))
	}
	log.Debug().Int("documents", len(texts)).Msg("Embedded documents")
	return vecs, nil
}
