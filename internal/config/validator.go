package config

import (
	"fmt"
	"net/url"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate reports every problem with the configuration. A missing provider key is one of
// them: the service must not start without credentials.
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.EmbedLLM.validate("embed_llm")...)
	errors = append(errors, c.ChatLLM.validate("chat_llm")...)

	if c.ChatLLM.Temperature < 0 || c.ChatLLM.Temperature > 2 {
		errors = append(errors, ValidationError{
			Field:   "chat_llm.temperature",
			Message: "temperature must be between 0 and 2",
		})
	}
	if c.EmbedLLM.RequestsPerSecond < 0 {
		errors = append(errors, ValidationError{
			Field:   "embed_llm.requests_per_second",
			Message: "requests_per_second must not be negative",
		})
	}

	switch c.Storage.Backend {
	case BackendChromem:
		if c.Storage.VectorDir == "" {
			errors = append(errors, ValidationError{
				Field:   "storage.vector_dir",
				Message: "vector_dir is required for the chromem backend",
			})
		}
	case BackendPostgres:
		if c.Storage.DatabaseURL == "" {
			errors = append(errors, ValidationError{
				Field:   "storage.database_url",
				Message: "database_url is required for the postgres backend",
			})
		} else if _, err := url.Parse(c.Storage.DatabaseURL); err != nil {
			errors = append(errors, ValidationError{
				Field:   "storage.database_url",
				Message: "invalid database URL",
			})
		}
	default:
		errors = append(errors, ValidationError{
			Field:   "storage.backend",
			Message: fmt.Sprintf("unknown backend %q", c.Storage.Backend),
		})
	}
	if c.Storage.UploadsDir == "" {
		errors = append(errors, ValidationError{
			Field:   "storage.uploads_dir",
			Message: "uploads_dir is required",
		})
	}

	if c.RAG.ChunkSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "rag.chunk_size",
			Message: "chunk_size must be positive",
		})
	}
	if c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		errors = append(errors, ValidationError{
			Field:   "rag.chunk_overlap",
			Message: "chunk_overlap must be non-negative and less than chunk_size",
		})
	}
	if c.RAG.DefaultK < 1 || c.RAG.DefaultK > c.RAG.MaxK {
		errors = append(errors, ValidationError{
			Field:   "rag.default_k",
			Message: "default_k must be between 1 and max_k",
		})
	}
	if c.Server.MaxUploadMB < 1 {
		errors = append(errors, ValidationError{
			Field:   "server.max_upload_mb",
			Message: "max_upload_mb must be positive",
		})
	}

	return errors
}

func (l LLMConfig) validate(prefix string) []ValidationError {
	var errors []ValidationError
	switch l.Provider {
	case ProviderOpenAI:
		if l.Key == "" {
			errors = append(errors, ValidationError{
				Field:   prefix + ".key",
				Message: "API key is required (set RAG_API_KEY or GOOGLE_API_KEY)",
			})
		}
	case ProviderOllama:
	default:
		errors = append(errors, ValidationError{
			Field:   prefix + ".provider",
			Message: fmt.Sprintf("unknown provider %q", l.Provider),
		})
	}
	if u, err := url.Parse(l.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errors = append(errors, ValidationError{
			Field:   prefix + ".base_url",
			Message: "invalid base URL",
		})
	}
	if l.Model == "" {
		errors = append(errors, ValidationError{
			Field:   prefix + ".model",
			Message: "model is required",
		})
	}
	return errors
}
