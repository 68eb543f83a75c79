package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when a loaded config fails validation.
var ErrInvalidConfig = errors.New("invalid config")

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderGemini = "gemini"

	StoreChromem  = "chromem"
	StorePGVector = "pgvector"

	ChunkStrategySeparator = "separator"
	ChunkStrategyWindow    = "window"
)

type Config struct {
	Log         LogConfig         `yaml:"log"`
	Server      ServerConfig      `yaml:"server"`
	LLM         LLMConfig         `yaml:"llm"`
	EmbedLLM    LLMConfig         `yaml:"embed_llm"`
	RAG         RAGConfig         `yaml:"rag"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Database    DatabaseConfig    `yaml:"database"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

type ServerConfig struct {
	Addr                   string `yaml:"addr"`
	MaxUploadMB            int    `yaml:"max_upload_mb"`
	SessionTimeoutMinutes  int    `yaml:"session_timeout_minutes"`
	CleanupIntervalMinutes int    `yaml:"cleanup_interval_minutes"`
	MaxSessions            int    `yaml:"max_sessions"`
}

// LLMConfig describes one hosted model endpoint, used both for chat and embeddings.
type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	BaseURL     string  `yaml:"base_url"`
	Key         string  `yaml:"key"`
	KeyEnv      string  `yaml:"key_env"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	TimeoutSecs int     `yaml:"timeout_secs"`
}

type RAGConfig struct {
	ChunkStrategy      string   `yaml:"chunk_strategy"`
	Separators         []string `yaml:"separators"`
	ChunkSize          int      `yaml:"chunk_size"`
	ChunkOverlap       int      `yaml:"chunk_overlap"`
	TopK               int      `yaml:"top_k"`
	BatchSize          int      `yaml:"batch_size"`
	ContextualChunks   bool     `yaml:"contextual_chunks"`
	ContextWindowChars int      `yaml:"context_window_chars"`
	EncryptionKey      string   `yaml:"encryption_key"`
}

type VectorStoreConfig struct {
	Type     string `yaml:"type"`
	Path     string `yaml:"path"`
	Compress bool   `yaml:"compress"`
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	DSN      string `yaml:"dsn"`
	Password string `yaml:"password"`
	Debug    bool   `yaml:"debug"`
}

// LoadConfig reads the YAML file at path. A missing file yields the defaults.
// Keys absent from the file are filled in by applyDefaults, so switching a
// provider does not inherit the default provider's endpoint.
func LoadConfig(path string) (*Config, error) {
	// log.pretty defaults to true and a bool cannot be told apart from unset
	cfg := &Config{Log: Default().Log}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}
	applyDefaults(cfg)
	cfg.LLM.Key = resolveKey(cfg.LLM)
	cfg.EmbedLLM.Key = resolveKey(cfg.EmbedLLM)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Pretty: true},
		Server: ServerConfig{
			Addr:                   ":8080",
			MaxUploadMB:            20,
			SessionTimeoutMinutes:  30,
			CleanupIntervalMinutes: 5,
			MaxSessions:            100,
		},
		LLM: LLMConfig{
			Provider:    ProviderOpenAI,
			BaseURL:     "https://api.groq.com/openai/v1",
			KeyEnv:      "GROQ_API_KEY",
			Model:       "llama3-70b-8192",
			TimeoutSecs: 60,
		},
		EmbedLLM: LLMConfig{
			Provider:    ProviderOllama,
			BaseURL:     "http://localhost:11434",
			Model:       "all-minilm",
			TimeoutSecs: 60,
		},
		RAG: RAGConfig{
			ChunkStrategy:      ChunkStrategySeparator,
			Separators:         []string{"\n"},
			ChunkSize:          1000,
			ChunkOverlap:       200,
			TopK:               4,
			BatchSize:          32,
			ContextWindowChars: 20000,
		},
		VectorStore: VectorStoreConfig{Type: StoreChromem},
		Database:    DatabaseConfig{Driver: "pgdriver"},
	}
}

// fill zero values left by a partial YAML file
func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = def.Server.Addr
	}
	if cfg.Server.MaxUploadMB <= 0 {
		cfg.Server.MaxUploadMB = def.Server.MaxUploadMB
	}
	if cfg.Server.SessionTimeoutMinutes <= 0 {
		cfg.Server.SessionTimeoutMinutes = def.Server.SessionTimeoutMinutes
	}
	if cfg.Server.CleanupIntervalMinutes <= 0 {
		cfg.Server.CleanupIntervalMinutes = def.Server.CleanupIntervalMinutes
	}
	if cfg.Server.MaxSessions <= 0 {
		cfg.Server.MaxSessions = def.Server.MaxSessions
	}
	applyLLMDefaults(&cfg.LLM, def.LLM)
	applyLLMDefaults(&cfg.EmbedLLM, def.EmbedLLM)
	if cfg.RAG.ChunkStrategy == "" {
		cfg.RAG.ChunkStrategy = def.RAG.ChunkStrategy
	}
	if len(cfg.RAG.Separators) == 0 {
		cfg.RAG.Separators = def.RAG.Separators
	}
	if cfg.RAG.ChunkSize == 0 {
		cfg.RAG.ChunkSize = def.RAG.ChunkSize
		if cfg.RAG.ChunkOverlap == 0 {
			cfg.RAG.ChunkOverlap = def.RAG.ChunkOverlap
		}
	}
	if cfg.RAG.TopK <= 0 {
		cfg.RAG.TopK = def.RAG.TopK
	}
	if cfg.RAG.BatchSize <= 0 {
		cfg.RAG.BatchSize = def.RAG.BatchSize
	}
	if cfg.RAG.ContextWindowChars <= 0 {
		cfg.RAG.ContextWindowChars = def.RAG.ContextWindowChars
	}
	if cfg.VectorStore.Type == "" {
		cfg.VectorStore.Type = def.VectorStore.Type
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = def.Database.Driver
	}
}

func applyLLMDefaults(c *LLMConfig, def LLMConfig) {
	if c.Provider == "" {
		c.Provider = def.Provider
	}
	// base url and key env only carry over when the provider is unchanged
	if c.Provider == def.Provider {
		if c.BaseURL == "" {
			c.BaseURL = def.BaseURL
		}
		if c.KeyEnv == "" {
			c.KeyEnv = def.KeyEnv
		}
		if c.Model == "" {
			c.Model = def.Model
		}
	}
	if c.Provider == ProviderGemini && c.KeyEnv == "" {
		c.KeyEnv = "GOOGLE_API_KEY"
	}
	if c.TimeoutSecs <= 0 {
		c.TimeoutSecs = def.TimeoutSecs
	}
}

func resolveKey(c LLMConfig) string {
	if c.Key != "" {
		return c.Key
	}
	if c.KeyEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(c.KeyEnv))
}

// Validate checks the invariants the pipeline relies on.
func (c *Config) Validate() error {
	if c.RAG.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk_size must be positive", ErrInvalidConfig)
	}
	if c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap must be in [0, chunk_size)", ErrInvalidConfig)
	}
	switch c.RAG.ChunkStrategy {
	case ChunkStrategySeparator, ChunkStrategyWindow:
	default:
		return fmt.Errorf("%w: unknown chunk_strategy %q", ErrInvalidConfig, c.RAG.ChunkStrategy)
	}
	if n := len(c.RAG.EncryptionKey); n != 0 && n != 32 {
		return fmt.Errorf("%w: encryption_key must be 32 bytes", ErrInvalidConfig)
	}
	for _, p := range []string{c.LLM.Provider, c.EmbedLLM.Provider} {
		switch p {
		case ProviderOpenAI, ProviderOllama, ProviderGemini:
		default:
			return fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, p)
		}
	}
	switch c.VectorStore.Type {
	case StoreChromem:
	case StorePGVector:
		if c.Database.DSN == "" {
			return fmt.Errorf("%w: database.dsn is required for pgvector", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown vector_store type %q", ErrInvalidConfig, c.VectorStore.Type)
	}
	return nil
}
