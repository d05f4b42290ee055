// Package config loads server and sync settings from the environment and an optional .env file.
package config

import (
	"fmt"
	"log"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/bull/knowledge-mcp/internal/resilience"
	"github.com/bull/knowledge-mcp/internal/storage"
)

type Config struct {
	QdrantURL             string        `envconfig:"QDRANT_URL" default:"http://localhost:6334"`
	QdrantAPIKey          string        `envconfig:"QDRANT_API_KEY"`
	QdrantCollection      string        `envconfig:"QDRANT_COLLECTION" default:"knowledge_chunks"`
	VectorDimension       int           `envconfig:"VECTOR_DIMENSION" default:"1536"`
	QdrantRetryMaxElapsed time.Duration `envconfig:"QDRANT_RETRY_MAX_ELAPSED" default:"5s"`
	DegradePolicy         string        `envconfig:"DEGRADE_POLICY" default:"global"`

	OpenAIAPIKey        string `envconfig:"OPENAI_API_KEY"`
	EmbeddingModel      string `envconfig:"EMBEDDING_MODEL" default:"text-embedding-3-small"`
	EmbeddingQueryModel string `envconfig:"EMBEDDING_QUERY_MODEL"`
	MetadataModel       string `envconfig:"METADATA_MODEL" default:"gpt-4o-mini"`

	GitHubToken string `envconfig:"GITHUB_TOKEN"`
	GitHubOwner string `envconfig:"GITHUB_OWNER" default:"cloudwego"`
	GitHubRepo  string `envconfig:"GITHUB_REPO" default:"cloudwego.github.io"`
	GitHubPath  string `envconfig:"GITHUB_PATH" default:"content/en/docs/eino"`

	// Tags applied to every indexed chunk
	DocumentDomains []string `envconfig:"DOCUMENT_DOMAINS"`

	Port       string `envconfig:"PORT" default:"8080"`
	ServerMode string `envconfig:"SERVER_MODE" default:"stdio"`
	LogLevel   string `envconfig:"LOG_LEVEL" default:"info"`
}

// Load reads .env when present, then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	if c.VectorDimension <= 0 {
		return fmt.Errorf("VECTOR_DIMENSION must be positive, got %d", c.VectorDimension)
	}
	if _, _, _, err := storage.ParseEndpoint(c.QdrantURL); err != nil {
		return fmt.Errorf("QDRANT_URL: %w", err)
	}
	if _, err := resilience.ParsePolicy(c.DegradePolicy); err != nil {
		return fmt.Errorf("DEGRADE_POLICY: %w", err)
	}
	switch c.ServerMode {
	case "stdio", "http":
	default:
		return fmt.Errorf("SERVER_MODE must be stdio or http, got %q", c.ServerMode)
	}
	return nil
}

// Policy returns the parsed degrade policy. Validate has already rejected bad values.
func (c *Config) Policy() resilience.Policy {
	p, _ := resilience.ParsePolicy(c.DegradePolicy)
	return p
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}

// QueryModel is the embedding model for search queries, the store model unless overridden.
func (c *Config) QueryModel() string {
	if c.EmbeddingQueryModel != "" {
		return c.EmbeddingQueryModel
	}
	return c.EmbeddingModel
}

func (c *Config) Qdrant(logger *slog.Logger) storage.QdrantConfig {
	return storage.QdrantConfig{
		URL:             c.QdrantURL,
		APIKey:          c.QdrantAPIKey,
		Collection:      c.QdrantCollection,
		Dimension:       c.VectorDimension,
		RetryMaxElapsed: c.QdrantRetryMaxElapsed,
		Logger:          logger,
	}
}

// SlogLevel maps LOG_LEVEL to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
