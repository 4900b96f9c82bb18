package llmservice

import (
	"context"
	"fmt"
	"strings"

	"pdf-rag/internal/config"
	"pdf-rag/internal/models"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Client sends prompts to the chat model and returns its text.
type Client struct {
	llm         llms.Model
	temperature float64
	maxTokens   int
}

func New(cfg config.LLMConfig) (*Client, error) {
	log.Debug().Interface("config", map[string]string{
		"provider": cfg.Provider,
		"base_url": cfg.BaseURL,
		"model":    cfg.Model,
	}).Msg("Creating chat model")

	var model llms.Model
	switch cfg.Provider {
	case config.ProviderOllama:
		llm, err := ollama.New(
			ollama.WithServerURL(cfg.BaseURL),
			ollama.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("error initializing ollama: %w", err)
		}
		model = llm
	case config.ProviderOpenAI, "":
		llm, err := openai.New(
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
			openai.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("error initializing openai: %w", err)
		}
		model = llm
	default:
		return nil, fmt.Errorf("%w: unknown chat provider %q", models.ErrValidation, cfg.Provider)
	}
	return NewWithModel(model, cfg.Temperature, cfg.MaxTokens), nil
}

// NewWithModel wraps an existing model. A non-positive maxTokens leaves the limit to
// the provider.
func NewWithModel(model llms.Model, temperature float64, maxTokens int) *Client {
	return &Client{llm: model, temperature: temperature, maxTokens: maxTokens}
}

// Generate sends prompt as a single user message. A failed call, a response without
// choices and an empty answer are all reported as generation errors.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	msgContent := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}

	opts := []llms.CallOption{llms.WithTemperature(c.temperature)}
	if c.maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(c.maxTokens))
	}

	res, err := c.llm.GenerateContent(ctx, msgContent, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %w", models.ErrGeneration, err)
	}
	if res == nil || len(res.Choices) == 0 || res.Choices[0] == nil {
		return "", fmt.Errorf("%w: model returned no choices", models.ErrGeneration)
	}

	answer := strings.TrimSpace(res.Choices[0].Content)
	if answer == "" {
		log.Warn().Str("stop_reason", res.Choices[0].StopReason).Msg("Model returned an empty answer")
		return "", fmt.Errorf("%w: model returned an empty answer", models.ErrGeneration)
	}
	return answer, nil
}
