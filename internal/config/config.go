package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrMissingCredential = errors.New("missing LLM API credential: set llm.key in the config file or OPENAI_API_KEY")

const (
	DefaultChunkSize      = 1000
	DefaultChunkOverlap   = 200
	DefaultTopK           = 4
	DefaultTemperature    = 0.7
	DefaultInferenceModel = "gpt-3.5-turbo"
	DefaultEmbeddingModel = "all-minilm"
	DefaultOllamaURL      = "http://localhost:11434"
	DefaultIndexPath      = "./vector_store"
	DefaultCollection     = "survey_documents"
	DefaultPort           = "8080"
	DefaultPhotoRoot      = "./photos"

	// overlapUnset marks a chunk_overlap absent from the file.
	overlapUnset = -1
)

type Config struct {
	LLM      LLMConfig      `yaml:"llm"`
	EmbedLLM LLMConfig      `yaml:"embed_llm"`
	RAG      RAGConfig      `yaml:"rag"`
	Index    IndexConfig    `yaml:"index"`
	Database DatabaseConfig `yaml:"database"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

// LLMConfig describes a model endpoint; it is used both for generation and for embeddings.
type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	BaseURL     string  `yaml:"base_url"`
	Key         string  `yaml:"key"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
}

type RAGConfig struct {
	ChunkSize     int    `yaml:"chunk_size"`
	ChunkOverlap  int    `yaml:"chunk_overlap"`
	TopK          int    `yaml:"top_k"`
	EncryptionKey string `yaml:"encryption_key"`
}

type IndexConfig struct {
	Backend    string `yaml:"backend"`
	Path       string `yaml:"path"`
	Collection string `yaml:"collection"`
	Compress   bool   `yaml:"compress"`
}

type DatabaseConfig struct {
	DSN      string `yaml:"dsn"`
	Password string `yaml:"password"`
	Debug    bool   `yaml:"debug"`
}

type ServerConfig struct {
	Port           string        `yaml:"port"`
	UploadLimitMB  int64         `yaml:"upload_limit_mb"`
	SessionTTL     time.Duration `yaml:"session_ttl"`
	StaticDir      string        `yaml:"static_dir"`
	PhotoRoot      string        `yaml:"photo_root"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// LoadConfig reads the YAML file at path (a missing file is not an error), applies
// environment overrides and defaults, and validates the result.
func LoadConfig(path string) (*Config, error) {
	cfg := Config{RAG: RAGConfig{ChunkOverlap: overlapUnset}}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.LLM.Key = getEnv("OPENAI_API_KEY", cfg.LLM.Key)
	cfg.LLM.BaseURL = getEnv("OPENAI_BASE_URL", cfg.LLM.BaseURL)
	cfg.LLM.Model = getEnv("LLM_MODEL", cfg.LLM.Model)
	cfg.LLM.Temperature = getEnvFloat("LLM_TEMPERATURE", cfg.LLM.Temperature)
	cfg.EmbedLLM.Model = getEnv("EMBEDDING_MODEL", cfg.EmbedLLM.Model)
	cfg.EmbedLLM.Provider = getEnv("EMBEDDING_PROVIDER", cfg.EmbedLLM.Provider)
	cfg.Index.Path = getEnv("INDEX_PATH", cfg.Index.Path)
	cfg.Index.Backend = getEnv("INDEX_BACKEND", cfg.Index.Backend)
	cfg.Database.DSN = getEnv("DATABASE_DSN", cfg.Database.DSN)
	cfg.Server.Port = getEnv("SERVER_PORT", cfg.Server.Port)
	cfg.Server.PhotoRoot = getEnv("PHOTO_ROOT", cfg.Server.PhotoRoot)
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
}

func applyDefaults(cfg *Config) {
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "openai"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = DefaultInferenceModel
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = DefaultTemperature
	}

	if cfg.EmbedLLM.Provider == "" {
		cfg.EmbedLLM.Provider = "ollama"
	}
	if cfg.EmbedLLM.Model == "" {
		cfg.EmbedLLM.Model = DefaultEmbeddingModel
	}
	if cfg.EmbedLLM.Provider == "ollama" && cfg.EmbedLLM.BaseURL == "" {
		cfg.EmbedLLM.BaseURL = DefaultOllamaURL
	}
	if cfg.EmbedLLM.Provider == "openai" && cfg.EmbedLLM.Key == "" {
		cfg.EmbedLLM.Key = cfg.LLM.Key
	}

	if cfg.RAG.ChunkSize <= 0 {
		cfg.RAG.ChunkSize = DefaultChunkSize
	}
	// an explicit 0 disables overlap; small chunk sizes get a proportional default
	if cfg.RAG.ChunkOverlap == overlapUnset {
		cfg.RAG.ChunkOverlap = min(DefaultChunkOverlap, cfg.RAG.ChunkSize/5)
	}
	if cfg.RAG.TopK <= 0 {
		cfg.RAG.TopK = DefaultTopK
	}

	if cfg.Index.Backend == "" {
		cfg.Index.Backend = "chromem"
	}
	if cfg.Index.Path == "" {
		cfg.Index.Path = DefaultIndexPath
	}
	if cfg.Index.Collection == "" {
		cfg.Index.Collection = DefaultCollection
	}

	if cfg.Server.Port == "" {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Server.UploadLimitMB <= 0 {
		cfg.Server.UploadLimitMB = 32
	}
	if cfg.Server.PhotoRoot == "" {
		cfg.Server.PhotoRoot = DefaultPhotoRoot
	}
	if cfg.Server.SessionTTL <= 0 {
		cfg.Server.SessionTTL = 2 * time.Hour
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// Validate checks the settings that must be correct before any client is created.
func (c *Config) Validate() error {
	if c.LLM.Provider == "openai" && c.LLM.Key == "" {
		return ErrMissingCredential
	}
	switch c.LLM.Provider {
	case "openai", "ollama":
	default:
		return fmt.Errorf("unsupported llm provider %q", c.LLM.Provider)
	}
	if c.EmbedLLM.Provider == "openai" && c.EmbedLLM.Key == "" {
		return ErrMissingCredential
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm temperature must be within [0, 2], got %v", c.LLM.Temperature)
	}
	if c.RAG.ChunkOverlap < 0 {
		return fmt.Errorf("rag chunk_overlap must not be negative, got %d", c.RAG.ChunkOverlap)
	}
	if c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		return fmt.Errorf("rag chunk_overlap (%d) must be smaller than chunk_size (%d)", c.RAG.ChunkOverlap, c.RAG.ChunkSize)
	}
	if k := len(c.RAG.EncryptionKey); k != 0 && k != 32 {
		return fmt.Errorf("rag encryption_key must be 32 bytes, got %d", k)
	}
	switch c.Index.Backend {
	case "chromem":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("index backend postgres requires database.dsn")
		}
	default:
		return fmt.Errorf("unsupported index backend %q", c.Index.Backend)
	}
	return nil
}

func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		value = defaultValue
	}

	return value
}

func getEnvFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		value = defaultValue
	}

	return value
}
