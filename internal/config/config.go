package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Database     DatabaseConfig `yaml:"database"`
	Store        StoreConfig    `yaml:"store"`
	EmbedLLM     LLMConfig      `yaml:"embed_llm"`
	InferenceLLM LLMConfig      `yaml:"inference_llm"`
	RAG          RAGConfig      `yaml:"rag"`
	Server       ServerConfig   `yaml:"server"`
}

type DatabaseConfig struct {
	DSN      string `yaml:"dsn"`
	Password string `yaml:"password"`
	Debug    bool   `yaml:"debug"`
}

// StoreConfig selects the vector store backend: "postgres" (pgvector) or
// "chromem" (embedded, optionally persisted under Path).
type StoreConfig struct {
	Driver     string `yaml:"driver"`
	Path       string `yaml:"path"`
	Collection string `yaml:"collection"`
}

// LLMConfig configures either an embedding or an inference model endpoint.
// Provider is "openai" (any OpenAI-compatible endpoint, e.g. OpenRouter) or
// "ollama".
type LLMConfig struct {
	Provider      string `yaml:"provider"`
	BaseURL       string `yaml:"base_url"`
	Key           string `yaml:"key"`
	Model         string `yaml:"model"`
	Dimensions    int    `yaml:"dimensions"`
	MaxInputChars int    `yaml:"max_input_chars"`
}

// EncoderVersion pins the similarity space of a corpus. Chunks embedded under
// one version must never be compared with query vectors from another.
func (c LLMConfig) EncoderVersion() string {
	return c.Provider + "/" + c.Model
}

type RAGConfig struct {
	ChunkSize      int    `yaml:"chunk_size"`
	TopK           int    `yaml:"top_k"`
	Metric         string `yaml:"metric"`
	Workers        int    `yaml:"workers"`
	StoreAttempts  int    `yaml:"store_attempts"`
	RetryBackoffMS int    `yaml:"retry_backoff_ms"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LoadConfig reads the YAML config at path. A .env file, if present, is loaded
// first and ${VAR} references in the YAML are expanded from the environment.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "chromem"
	}
	if cfg.Store.Collection == "" {
		cfg.Store.Collection = "documents"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "./chromemdb"
	}
	if cfg.EmbedLLM.Provider == "" {
		cfg.EmbedLLM.Provider = "ollama"
	}
	if cfg.EmbedLLM.Dimensions == 0 {
		cfg.EmbedLLM.Dimensions = 384
	}
	if cfg.EmbedLLM.MaxInputChars == 0 {
		cfg.EmbedLLM.MaxInputChars = 8000
	}
	if cfg.InferenceLLM.Provider == "" {
		cfg.InferenceLLM.Provider = "openai"
	}
	if cfg.RAG.ChunkSize == 0 {
		cfg.RAG.ChunkSize = 2
	}
	if cfg.RAG.TopK == 0 {
		cfg.RAG.TopK = 10
	}
	if cfg.RAG.Metric == "" {
		cfg.RAG.Metric = "l2"
	}
	if cfg.RAG.Workers == 0 {
		cfg.RAG.Workers = 2
	}
	if cfg.RAG.StoreAttempts == 0 {
		cfg.RAG.StoreAttempts = 3
	}
	if cfg.RAG.RetryBackoffMS == 0 {
		cfg.RAG.RetryBackoffMS = 500
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
}

func validate(cfg *Config) error {
	switch cfg.Store.Driver {
	case "postgres", "chromem":
	default:
		return fmt.Errorf("unknown store driver: %q", cfg.Store.Driver)
	}
	switch cfg.RAG.Metric {
	case "l2", "cosine":
	default:
		return fmt.Errorf("unknown distance metric: %q", cfg.RAG.Metric)
	}
	if cfg.Store.Driver == "postgres" && cfg.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required for the postgres store")
	}
	if cfg.EmbedLLM.Model == "" {
		return fmt.Errorf("embed_llm.model is required")
	}
	return nil
}
