package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestLoadConfig_Success(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	path := writeConfig(t, `llm:
  key: sk-test
  model: gpt-4o-mini
  temperature: 0.2
embed_llm:
  provider: ollama
  model: nomic-embed-text
rag:
  chunk_size: 800
  chunk_overlap: 100
  top_k: 6
server:
  session_ttl: 45m
  photo_root: /srv/dig/photos
  allowed_origins:
    - https://survey.example.org
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() failed: %v", err)
	}

	if cfg.LLM.Model != "gpt-4o-mini" {
		t.Errorf("Expected llm model gpt-4o-mini, got %s", cfg.LLM.Model)
	}
	if cfg.LLM.Temperature != 0.2 {
		t.Errorf("Expected temperature 0.2, got %f", cfg.LLM.Temperature)
	}
	if cfg.EmbedLLM.BaseURL != DefaultOllamaURL {
		t.Errorf("Expected default ollama url, got %s", cfg.EmbedLLM.BaseURL)
	}
	if cfg.RAG.ChunkSize != 800 || cfg.RAG.ChunkOverlap != 100 || cfg.RAG.TopK != 6 {
		t.Errorf("Unexpected rag config: %+v", cfg.RAG)
	}
	if cfg.Server.SessionTTL != 45*time.Minute {
		t.Errorf("Expected session ttl 45m, got %s", cfg.Server.SessionTTL)
	}
	if cfg.Server.PhotoRoot != "/srv/dig/photos" {
		t.Errorf("Expected photo root /srv/dig/photos, got %s", cfg.Server.PhotoRoot)
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "https://survey.example.org" {
		t.Errorf("Unexpected allowed origins: %v", cfg.Server.AllowedOrigins)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig() failed: %v", err)
	}

	if cfg.LLM.Key != "sk-env" {
		t.Errorf("Expected key from environment, got %q", cfg.LLM.Key)
	}
	if cfg.LLM.Model != DefaultInferenceModel {
		t.Errorf("Expected model %s, got %s", DefaultInferenceModel, cfg.LLM.Model)
	}
	if cfg.LLM.Temperature != DefaultTemperature {
		t.Errorf("Expected temperature %v, got %v", DefaultTemperature, cfg.LLM.Temperature)
	}
	if cfg.EmbedLLM.Provider != "ollama" || cfg.EmbedLLM.Model != DefaultEmbeddingModel {
		t.Errorf("Unexpected embedding defaults: %+v", cfg.EmbedLLM)
	}
	if cfg.RAG.ChunkSize != DefaultChunkSize || cfg.RAG.ChunkOverlap != DefaultChunkOverlap {
		t.Errorf("Unexpected chunk defaults: %+v", cfg.RAG)
	}
	if cfg.RAG.TopK != DefaultTopK {
		t.Errorf("Expected top_k %d, got %d", DefaultTopK, cfg.RAG.TopK)
	}
	if cfg.Index.Backend != "chromem" || cfg.Index.Path != DefaultIndexPath {
		t.Errorf("Unexpected index defaults: %+v", cfg.Index)
	}
	if cfg.Server.PhotoRoot != DefaultPhotoRoot || len(cfg.Server.AllowedOrigins) != 0 {
		t.Errorf("Unexpected server defaults: %+v", cfg.Server)
	}
}

func TestLoadConfig_MissingCredential(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	path := writeConfig(t, "rag:\n  top_k: 3\n")

	_, err := LoadConfig(path)
	if !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("Expected ErrMissingCredential, got %v", err)
	}
}

func TestLoadConfig_OllamaNeedsNoCredential(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	path := writeConfig(t, "llm:\n  provider: ollama\n  model: llama3\n")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() failed: %v", err)
	}
	if cfg.LLM.Provider != "ollama" {
		t.Errorf("Expected provider ollama, got %s", cfg.LLM.Provider)
	}
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "llm: [unterminated\n")

	_, err := LoadConfig(path)
	if err == nil {
		t.Fatal("Expected error for invalid YAML")
	}
	if !strings.Contains(err.Error(), "failed to parse config file") {
		t.Errorf("Expected parse error, got: %v", err)
	}
}

func TestLoadConfig_ChunkOverlap(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")

	tests := []struct {
		name        string
		content     string
		wantSize    int
		wantOverlap int
	}{
		{"explicit zero overlap", "rag:\n  chunk_size: 500\n  chunk_overlap: 0\n", 500, 0},
		{"small size without overlap", "rag:\n  chunk_size: 150\n", 150, 30},
		{"large size without overlap", "rag:\n  chunk_size: 4000\n", 4000, DefaultChunkOverlap},
		{"overlap without size", "rag:\n  chunk_overlap: 50\n", DefaultChunkSize, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadConfig(writeConfig(t, tt.content))
			if err != nil {
				t.Fatalf("LoadConfig() failed: %v", err)
			}
			if cfg.RAG.ChunkSize != tt.wantSize || cfg.RAG.ChunkOverlap != tt.wantOverlap {
				t.Errorf("Expected size %d overlap %d, got size %d overlap %d",
					tt.wantSize, tt.wantOverlap, cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)
			}
		})
	}
}

func TestValidate_Rejects(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"overlap too large", "rag:\n  chunk_size: 100\n  chunk_overlap: 100\n", "chunk_overlap"},
		{"negative overlap", "rag:\n  chunk_overlap: -5\n", "must not be negative"},
		{"bad backend", "index:\n  backend: faiss\n", "unsupported index backend"},
		{"postgres without dsn", "index:\n  backend: postgres\n", "database.dsn"},
		{"short encryption key", "rag:\n  encryption_key: short\n", "encryption_key"},
		{"bad temperature", "llm:\n  temperature: 3.5\n", "temperature"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
