// Package appconfig loads server configuration with koanf layered over
// env vars and an optional TOML file, env taking precedence. The env
// var table is flat (one process, one set of top-level settings)
// rather than nested into subsystem sections.
package appconfig

import (
	"fmt"
	"os"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the complete process configuration, populated from
// environment variables with an optional TOML file underneath for
// local development.
type Config struct {
	DatabaseURL string `koanf:"database_url"`
	EmbeddingDim int   `koanf:"embedding_dim"`

	HTTPPort        int           `koanf:"http_port"`
	AdminAPIKey     string        `koanf:"admin_api_key"`
	WatchRoot       string        `koanf:"watch_root"`
	ChunkSize       int           `koanf:"chunk_size"`
	ChunkOverlap    int           `koanf:"chunk_overlap"`
	TiktokenEncoding string       `koanf:"tiktoken_encoding"`

	EmbeddingProvider string `koanf:"embedding_provider"`
	EmbeddingModel    string `koanf:"embedding_model"`
	EmbeddingBaseURL  string `koanf:"embedding_base_url"`

	BatchMin         int `koanf:"batch_min"`
	BatchMax         int `koanf:"batch_max"`
	BatchConcurrency int `koanf:"batch_concurrency"`

	LLMBaseURL string `koanf:"llm_base_url"`
	LLMModel   string `koanf:"llm_model"`
	LLMAPIKey  string `koanf:"llm_api_key"`

	NATSURL string `koanf:"nats_url"`

	RetrievalTopK        int     `koanf:"retrieval_top_k"`
	RetrievalMinScore    float64 `koanf:"retrieval_min_score"`
	SyncHeartbeatEvery   time.Duration `koanf:"sync_heartbeat_interval"`
	SyncStaleAfter       time.Duration `koanf:"sync_stale_after"`
	CleanupInterval      time.Duration `koanf:"cleanup_interval"`

	BaseTimeout     time.Duration `koanf:"base_timeout"`
	PerFileTimeout  time.Duration `koanf:"per_file_timeout"`
	MinTimeout      time.Duration `koanf:"min_timeout"`
	MaxTimeout      time.Duration `koanf:"max_timeout"`
	StuckMultiplier float64       `koanf:"stuck_multiplier"`

	LogLevel string `koanf:"log_level"`
	OTLPEndpoint string `koanf:"otlp_endpoint"`
}

// defaults seeds koanf with a struct default map before layering
// env/file on top.
func defaults() map[string]interface{} {
	return map[string]interface{}{
		"http_port":                8080,
		"embedding_dim":            384,
		"chunk_size":               512,
		"chunk_overlap":            50,
		"tiktoken_encoding":        "cl100k_base",
		"embedding_provider":       "fastembed",
		"embedding_model":          "BAAI/bge-small-en-v1.5",
		"batch_min":                4,
		"batch_max":                64,
		"batch_concurrency":        4,
		"nats_url":                 "nats://127.0.0.1:4222",
		"retrieval_top_k":          8,
		"retrieval_min_score":      0.0,
		"sync_heartbeat_interval":  "30s",
		"sync_stale_after":         "3m",
		"cleanup_interval":         "5m",
		"base_timeout":             "300s",
		"per_file_timeout":         "10s",
		"min_timeout":              "300s",
		"max_timeout":              "7200s",
		"stuck_multiplier":         2.0,
		"log_level":                "info",
	}
}

// Load reads defaults, then an optional TOML file at path (skipped if
// path is empty or the file is absent), then environment variables,
// each layer overriding the last (env > file > defaults).
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytesProvider(defaults()), nil); err != nil {
		return nil, fmt.Errorf("appconfig: load defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
				return nil, fmt.Errorf("appconfig: load file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("appconfig: load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("appconfig: unmarshal: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps an env var name directly to its koanf key: the env vars
// are already flat and lower_snake once lowercased, with no nested
// compound names to split.
func envKey(s string) string {
	return toLower(s)
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("appconfig: database_url is required")
	}
	if c.EmbeddingDim <= 0 {
		return fmt.Errorf("appconfig: embedding_dim must be positive")
	}
	if c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("appconfig: chunk_overlap must be less than chunk_size")
	}
	return nil
}

// rawbytesProvider lets a plain map seed koanf without writing a
// temporary file.
func rawbytesProvider(m map[string]interface{}) koanf.Provider {
	return defaultsProvider{values: m}
}

type defaultsProvider struct {
	values map[string]interface{}
}

func (d defaultsProvider) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("defaultsProvider does not support ReadBytes")
}

func (d defaultsProvider) Read() (map[string]interface{}, error) {
	return d.values, nil
}
