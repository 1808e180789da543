package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

// ErrMissingAPIKey is returned when no LLM API key is configured.
var ErrMissingAPIKey = errors.New("llm api key not configured")

type Config struct {
	Server  ServerConfig  `toml:"server"`
	Log     LogConfig     `toml:"log"`
	Storage StorageConfig `toml:"storage"`
	LLM     LLMConfig     `toml:"llm"`
	Ingest  IngestConfig  `toml:"ingest"`
}

type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
	// Token, when set, requires Bearer auth on every API request.
	Token string `toml:"token"`
}

type LogConfig struct {
	Level string `toml:"level"` // debug, info, warn, error
}

type StorageConfig struct {
	DataDir string `toml:"data_dir"`
}

type LLMConfig struct {
	BaseURL    string `toml:"base_url"`
	APIKey     string `toml:"api_key"`
	ChatModel  string `toml:"chat_model"`
	EmbedModel string `toml:"embed_model"`
}

type IngestConfig struct {
	ChunkSize    int `toml:"chunk_size"`
	ChunkOverlap int `toml:"chunk_overlap"`
}

// Load builds configuration from defaults, then the TOML file (path from
// INDUSTRYCHAT_CONFIG, falling back to configs/config.toml), then
// INDUSTRYCHAT_* environment variables. Fails when no API key is present;
// everything else has a usable default.
func Load() (*Config, error) {
	cfg := defaultConfig()

	configPath := getEnv("INDUSTRYCHAT_CONFIG", "configs/config.toml")
	if _, err := os.Stat(configPath); err == nil {
		if _, err := toml.DecodeFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("decoding config file %s: %w", configPath, err)
		}
	}

	overrideByEnv(cfg)

	if cfg.LLM.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	return cfg, nil
}

// HTTPAddr returns the host:port the API server binds to.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		Log: LogConfig{
			Level: "info",
		},
		Storage: StorageConfig{
			DataDir: "data",
		},
		LLM: LLMConfig{
			BaseURL:    "https://api.openai.com/v1",
			ChatModel:  "gpt-4o-mini",
			EmbedModel: "text-embedding-3-small",
		},
		Ingest: IngestConfig{
			ChunkSize:    1000,
			ChunkOverlap: 150,
		},
	}
}

func overrideByEnv(cfg *Config) {
	cfg.Server.Host = getEnv("INDUSTRYCHAT_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvAsInt("INDUSTRYCHAT_PORT", cfg.Server.Port)
	cfg.Server.Token = getEnv("INDUSTRYCHAT_TOKEN", cfg.Server.Token)
	cfg.Log.Level = getEnv("INDUSTRYCHAT_LOG_LEVEL", cfg.Log.Level)
	cfg.Storage.DataDir = getEnv("INDUSTRYCHAT_DATA_DIR", cfg.Storage.DataDir)
	cfg.LLM.BaseURL = getEnv("INDUSTRYCHAT_LLM_BASE_URL", cfg.LLM.BaseURL)
	cfg.LLM.APIKey = getEnv("INDUSTRYCHAT_LLM_API_KEY", cfg.LLM.APIKey)
	cfg.LLM.ChatModel = getEnv("INDUSTRYCHAT_CHAT_MODEL", cfg.LLM.ChatModel)
	cfg.LLM.EmbedModel = getEnv("INDUSTRYCHAT_EMBED_MODEL", cfg.LLM.EmbedModel)
	cfg.Ingest.ChunkSize = getEnvAsInt("INDUSTRYCHAT_CHUNK_SIZE", cfg.Ingest.ChunkSize)
	cfg.Ingest.ChunkOverlap = getEnvAsInt("INDUSTRYCHAT_CHUNK_OVERLAP", cfg.Ingest.ChunkOverlap)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}
