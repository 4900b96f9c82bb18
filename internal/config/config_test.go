package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{"RAG_API_KEY", "GOOGLE_API_KEY", "OPENAI_API_KEY", "DATABASE_URL", "RAG_ADDR", "RAG_LOG_LEVEL"} {
		t.Setenv(k, "")
	}
}

func TestLoadConfig(t *testing.T) {
	clearEnv(t)
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configData := `
server:
  addr: ":9000"
  max_upload_mb: 10

storage:
  backend: "chromem"
  uploads_dir: "/tmp/uploads"
  vector_dir: "/tmp/vectors"
  collection: "test_collection"

rag:
  chunk_size: 500
  chunk_overlap: 100
  default_k: 3

embed_llm:
  provider: "ollama"
  base_url: "http://localhost:11434"
  model: "nomic-embed-text"

chat_llm:
  provider: "openai"
  base_url: "https://api.openai.com/v1"
  model: "gpt-4o-mini"
  key: "sk-test"
  temperature: 0.5

log:
  level: "debug"
  console: false
`
	err := os.WriteFile(configPath, []byte(configData), 0644)
	require.NoError(t, err)

	cfg, err := LoadConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, int64(10), cfg.Server.MaxUploadMB)
	assert.Equal(t, "/tmp/vectors", cfg.Storage.VectorDir)
	assert.Equal(t, "test_collection", cfg.Storage.Collection)
	assert.Equal(t, 500, cfg.RAG.ChunkSize)
	assert.Equal(t, 100, cfg.RAG.ChunkOverlap)
	assert.Equal(t, 3, cfg.RAG.DefaultK)
	assert.Equal(t, 50, cfg.RAG.MaxK)
	assert.Equal(t, ProviderOllama, cfg.EmbedLLM.Provider)
	assert.Equal(t, "nomic-embed-text", cfg.EmbedLLM.Model)
	assert.Equal(t, "sk-test", cfg.ChatLLM.Key)
	assert.Equal(t, 0.5, cfg.ChatLLM.Temperature)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.False(t, cfg.Log.Console)
	assert.Empty(t, cfg.Validate())
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.Server.Addr)
	assert.Equal(t, BackendChromem, cfg.Storage.Backend)
	assert.Equal(t, "data/uploads", cfg.Storage.UploadsDir)
	assert.Equal(t, "data/chroma_db", cfg.Storage.VectorDir)
	assert.Equal(t, "pdf_rag", cfg.Storage.Collection)
	assert.Equal(t, 1000, cfg.RAG.ChunkSize)
	assert.Equal(t, 200, cfg.RAG.ChunkOverlap)
	assert.Equal(t, 5, cfg.RAG.DefaultK)
	assert.Equal(t, 120, cfg.RAG.PreviewWidth)
	assert.Equal(t, ProviderOpenAI, cfg.ChatLLM.Provider)
	assert.Equal(t, 0.2, cfg.ChatLLM.Temperature)
	assert.True(t, cfg.Log.Console)
}

func TestLoadConfigExplicitZeros(t *testing.T) {
	clearEnv(t)
	t.Setenv("RAG_API_KEY", "sk-test")
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
rag:
  chunk_overlap: 0
chat_llm:
  temperature: 0
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.RAG.ChunkOverlap)
	assert.Equal(t, 0.0, cfg.ChatLLM.Temperature)
	assert.Equal(t, 1000, cfg.RAG.ChunkSize)
	assert.Empty(t, cfg.Validate())
}

func TestLoadConfigBadYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unterminated"), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestEnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("GOOGLE_API_KEY", "env-key")
	t.Setenv("DATABASE_URL", "postgres://env-db:5432/test")
	t.Setenv("RAG_ADDR", ":7777")

	cfg := &Config{}
	mergeWithEnv(cfg)

	assert.Equal(t, "env-key", cfg.ChatLLM.Key)
	assert.Equal(t, "env-key", cfg.EmbedLLM.Key)
	assert.Equal(t, "postgres://env-db:5432/test", cfg.Storage.DatabaseURL)
	assert.Equal(t, ":7777", cfg.Server.Addr)
}

func TestEnvironmentDoesNotOverrideFileKey(t *testing.T) {
	clearEnv(t)
	t.Setenv("RAG_API_KEY", "env-key")

	cfg := &Config{ChatLLM: LLMConfig{Key: "file-key"}}
	mergeWithEnv(cfg)

	assert.Equal(t, "file-key", cfg.ChatLLM.Key)
	assert.Equal(t, "env-key", cfg.EmbedLLM.Key)
}

func TestConfigValidation(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{
			ChatLLM:  LLMConfig{Key: "k"},
			EmbedLLM: LLMConfig{Key: "k"},
		}
		applyDefaults(cfg)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		fields []string
	}{
		{
			name:   "valid config",
			mutate: func(*Config) {},
		},
		{
			name: "missing credentials",
			mutate: func(c *Config) {
				c.ChatLLM.Key = ""
				c.EmbedLLM.Key = ""
			},
			fields: []string{"embed_llm.key", "chat_llm.key"},
		},
		{
			name: "ollama needs no key",
			mutate: func(c *Config) {
				c.EmbedLLM = LLMConfig{Provider: ProviderOllama, BaseURL: "http://localhost:11434", Model: "nomic-embed-text"}
			},
		},
		{
			name: "overlap not below size",
			mutate: func(c *Config) {
				c.RAG.ChunkOverlap = c.RAG.ChunkSize
			},
			fields: []string{"rag.chunk_overlap"},
		},
		{
			name: "postgres without url",
			mutate: func(c *Config) {
				c.Storage.Backend = BackendPostgres
			},
			fields: []string{"storage.database_url"},
		},
		{
			name: "unknown backend and provider",
			mutate: func(c *Config) {
				c.Storage.Backend = "redis"
				c.ChatLLM.Provider = "bard"
			},
			fields: []string{"chat_llm.provider", "storage.backend"},
		},
		{
			name: "bad base url and temperature",
			mutate: func(c *Config) {
				c.ChatLLM.BaseURL = "not-a-url"
				c.ChatLLM.Temperature = 3
			},
			fields: []string{"chat_llm.base_url", "chat_llm.temperature"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			errors := cfg.Validate()

			got := make([]string, 0, len(errors))
			for _, e := range errors {
				got = append(got, e.Field)
			}
			assert.ElementsMatch(t, tt.fields, got)
		})
	}
}
