package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("INDUSTRYCHAT_CONFIG", filepath.Join(t.TempDir(), "missing.toml"))
	t.Setenv("INDUSTRYCHAT_LLM_API_KEY", "sk-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.LLM.ChatModel != "gpt-4o-mini" || cfg.LLM.EmbedModel != "text-embedding-3-small" {
		t.Errorf("models = %q/%q", cfg.LLM.ChatModel, cfg.LLM.EmbedModel)
	}
	if cfg.LLM.BaseURL != "https://api.openai.com/v1" {
		t.Errorf("base url = %q", cfg.LLM.BaseURL)
	}
	if cfg.Ingest.ChunkSize != 1000 || cfg.Ingest.ChunkOverlap != 150 {
		t.Errorf("chunking = %d/%d, want 1000/150", cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap)
	}
	if cfg.HTTPAddr() != "127.0.0.1:8080" {
		t.Errorf("addr = %q", cfg.HTTPAddr())
	}
}

func TestLoadMissingAPIKey(t *testing.T) {
	t.Setenv("INDUSTRYCHAT_CONFIG", filepath.Join(t.TempDir(), "missing.toml"))
	t.Setenv("INDUSTRYCHAT_LLM_API_KEY", "")

	if _, err := Load(); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("err = %v, want ErrMissingAPIKey", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[server]
port = 9090
token = "secret"

[llm]
api_key = "sk-from-file"
chat_model = "gpt-4o"

[ingest]
chunk_size = 500
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	t.Setenv("INDUSTRYCHAT_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 || cfg.Server.Token != "secret" {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.LLM.APIKey != "sk-from-file" || cfg.LLM.ChatModel != "gpt-4o" {
		t.Errorf("llm = %+v", cfg.LLM)
	}
	// Unset file keys keep their defaults.
	if cfg.LLM.EmbedModel != "text-embedding-3-small" {
		t.Errorf("embed model = %q", cfg.LLM.EmbedModel)
	}
	if cfg.Ingest.ChunkSize != 500 || cfg.Ingest.ChunkOverlap != 150 {
		t.Errorf("ingest = %+v", cfg.Ingest)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("[llm]\napi_key = \"sk-file\"\n"), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	t.Setenv("INDUSTRYCHAT_CONFIG", path)
	t.Setenv("INDUSTRYCHAT_LLM_API_KEY", "sk-env")
	t.Setenv("INDUSTRYCHAT_PORT", "7070")
	t.Setenv("INDUSTRYCHAT_CHUNK_OVERLAP", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.APIKey != "sk-env" {
		t.Errorf("api key = %q, want env value", cfg.LLM.APIKey)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("port = %d, want 7070", cfg.Server.Port)
	}
	// Unparseable ints keep the previous value.
	if cfg.Ingest.ChunkOverlap != 150 {
		t.Errorf("overlap = %d, want default", cfg.Ingest.ChunkOverlap)
	}
}
