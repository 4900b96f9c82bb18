package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"

	BackendChromem  = "chromem"
	BackendPostgres = "postgres"
)

type Config struct {
	Server   ServerConfig  `yaml:"server"`
	Storage  StorageConfig `yaml:"storage"`
	RAG      RAGConfig     `yaml:"rag"`
	EmbedLLM LLMConfig     `yaml:"embed_llm"`
	ChatLLM  LLMConfig     `yaml:"chat_llm"`
	Log      LogConfig     `yaml:"log"`
}

type ServerConfig struct {
	Addr        string `yaml:"addr"`
	MaxUploadMB int64  `yaml:"max_upload_mb"`
}

type StorageConfig struct {
	Backend       string `yaml:"backend"`
	UploadsDir    string `yaml:"uploads_dir"`
	VectorDir     string `yaml:"vector_dir"`
	Collection    string `yaml:"collection"`
	Compress      bool   `yaml:"compress"`
	EncryptionKey string `yaml:"encryption_key"`
	DatabaseURL   string `yaml:"database_url"`
	Table         string `yaml:"table"`
	Debug         bool   `yaml:"debug"`
}

type RAGConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
	DefaultK     int `yaml:"default_k"`
	MaxK         int `yaml:"max_k"`
	PreviewWidth int `yaml:"preview_width"`
}

type LLMConfig struct {
	Provider          string  `yaml:"provider"`
	BaseURL           string  `yaml:"base_url"`
	Model             string  `yaml:"model"`
	Key               string  `yaml:"key"`
	Temperature       float64 `yaml:"temperature"`
	MaxTokens         int     `yaml:"max_tokens"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

type LogConfig struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

// LoadConfig reads the yaml file at path. An empty path or a missing file yields the
// defaults. Values from the environment (and a .env file, if present) override the file.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	// zero is a valid value for these, so they are set before the file is read
	cfg := &Config{
		RAG:     RAGConfig{ChunkOverlap: defaultChunkOverlap},
		ChatLLM: LLMConfig{Temperature: defaultTemperature},
		Log:     LogConfig{Console: true},
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("error parsing config file: %w", err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	mergeWithEnv(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

func mergeWithEnv(cfg *Config) {
	key := firstEnv("RAG_API_KEY", "GOOGLE_API_KEY", "OPENAI_API_KEY")
	if key != "" {
		if cfg.ChatLLM.Key == "" {
			cfg.ChatLLM.Key = key
		}
		if cfg.EmbedLLM.Key == "" {
			cfg.EmbedLLM.Key = key
		}
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Storage.DatabaseURL = dbURL
	}
	if addr := os.Getenv("RAG_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}
	if lvl := os.Getenv("RAG_LOG_LEVEL"); lvl != "" {
		cfg.Log.Level = lvl
	}
}

func firstEnv(names ...string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}

const (
	// Gemini through its OpenAI compatible endpoint.
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"

	defaultChunkOverlap = 200
	defaultTemperature  = 0.2
)

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8000"
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = 50
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = BackendChromem
	}
	if cfg.Storage.UploadsDir == "" {
		cfg.Storage.UploadsDir = "data/uploads"
	}
	if cfg.Storage.VectorDir == "" {
		cfg.Storage.VectorDir = "data/chroma_db"
	}
	if cfg.Storage.Collection == "" {
		cfg.Storage.Collection = "pdf_rag"
	}
	if cfg.Storage.Table == "" {
		cfg.Storage.Table = "documents"
	}

	if cfg.RAG.ChunkSize == 0 {
		cfg.RAG.ChunkSize = 1000
	}
	if cfg.RAG.DefaultK == 0 {
		cfg.RAG.DefaultK = 5
	}
	if cfg.RAG.MaxK == 0 {
		cfg.RAG.MaxK = 50
	}
	if cfg.RAG.PreviewWidth == 0 {
		cfg.RAG.PreviewWidth = 120
	}

	applyLLMDefaults(&cfg.EmbedLLM, "text-embedding-004")
	applyLLMDefaults(&cfg.ChatLLM, "gemini-2.0-flash")
	if cfg.ChatLLM.MaxTokens == 0 {
		cfg.ChatLLM.MaxTokens = 1024
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

func applyLLMDefaults(llm *LLMConfig, model string) {
	if llm.Provider == "" {
		llm.Provider = ProviderOpenAI
	}
	if llm.BaseURL == "" {
		if llm.Provider == ProviderOllama {
			llm.BaseURL = "http://localhost:11434"
		} else {
			llm.BaseURL = defaultBaseURL
		}
	}
	if llm.Model == "" {
		llm.Model = model
	}
}
