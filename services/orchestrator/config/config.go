// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads orchestrator configuration from a YAML file with
// environment variable overrides for secrets.
//
// Thread Safety:
//
//	Config values are read-only after Load returns.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxYAMLFileSize is the maximum allowed config file size (1MB).
// Prevents memory issues from accidentally pointing at a large file.
const MaxYAMLFileSize = 1024 * 1024

// Config is the root configuration for the orchestrator service.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	LLM        LLMConfig        `yaml:"llm"`
	Weaviate   WeaviateConfig   `yaml:"weaviate"`
	Redis      RedisConfig      `yaml:"redis"`
	Storage    StorageConfig    `yaml:"storage"`
	Influx     InfluxConfig     `yaml:"influx"`
	OTel       OTelConfig       `yaml:"otel"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Routing    RoutingConfig    `yaml:"routing"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Guardrails GuardrailsConfig `yaml:"guardrails"`
	Cache      CacheConfig      `yaml:"cache"`
}

type ServerConfig struct {
	// Port is the HTTP listen port. Default 12210.
	Port int `yaml:"port"`

	// GinMode is "debug", "release", or "test". Default "release".
	GinMode string `yaml:"gin_mode"`
}

type LLMConfig struct {
	// Backend is "openai" (any OpenAI-compatible server) or "ollama".
	Backend string `yaml:"backend"`

	// BaseURL of the model server, e.g. "http://localhost:11434".
	BaseURL string `yaml:"base_url"`

	// APIKeyEnv names the environment variable holding the API key.
	// Empty for servers that need none.
	APIKeyEnv string `yaml:"api_key_env"`

	// Model is the generator model name.
	Model string `yaml:"model"`

	// ClassifierModel is a smaller model for the intent classifier.
	// Defaults to Model.
	ClassifierModel string `yaml:"classifier_model"`

	// JudgeModel evaluates answers. Defaults to Model.
	JudgeModel string `yaml:"judge_model"`
}

type WeaviateConfig struct {
	// URL of the Weaviate instance, e.g. "http://localhost:8080".
	URL string `yaml:"url"`

	// ClassName is the indexed chunk class. Default "DocumentChunk".
	ClassName string `yaml:"class_name"`

	// Alpha balances keyword vs vector scoring in hybrid search [0,1].
	Alpha float32 `yaml:"alpha"`
}

type RedisConfig struct {
	// Addr like "localhost:6379". Empty selects the in-memory store
	// (single-node deployments and tests).
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type StorageConfig struct {
	// ConversationPath is the Badger directory for conversation history.
	// Empty selects an in-memory store.
	ConversationPath string `yaml:"conversation_path"`

	// RetentionMaxAge deletes conversations idle longer than this.
	// Zero disables the retention sweeper.
	RetentionMaxAge time.Duration `yaml:"retention_max_age"`

	// SweepInterval is how often the retention sweeper runs.
	// Default 1h when retention is enabled.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type InfluxConfig struct {
	// URL of the InfluxDB instance. Empty disables analytics.
	URL      string `yaml:"url"`
	TokenEnv string `yaml:"token_env"`
	Org      string `yaml:"org"`
	Bucket   string `yaml:"bucket"`
}

type OTelConfig struct {
	// Endpoint is the OTLP gRPC collector address. Empty disables the
	// exporter (spans become no-ops).
	Endpoint string `yaml:"endpoint"`
}

type ClassifierConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`
	CacheMaxSize  int           `yaml:"cache_max_size"`
	MaxConcurrent int           `yaml:"max_concurrent"`
	HistoryTurns  int           `yaml:"history_turns"`
}

type RoutingConfig struct {
	// LowConfidenceThreshold triggers retrieval widening below it.
	LowConfidenceThreshold float64 `yaml:"low_confidence_threshold"`
}

type RetrievalConfig struct {
	ParaphraseCount int           `yaml:"paraphrase_count"`
	SearchTimeout   time.Duration `yaml:"search_timeout"`
}

type GuardrailsConfig struct {
	MinConfidence      float64       `yaml:"min_confidence"`
	RetryMinConfidence float64       `yaml:"retry_min_confidence"`
	RetryDocCeiling    int           `yaml:"retry_doc_ceiling"`
	RetryCooldown      time.Duration `yaml:"retry_cooldown"`
	StrictBlocking     bool          `yaml:"strict_blocking"`
	GenerateTimeout    time.Duration `yaml:"generate_timeout"`
	FirstChunkTimeout  time.Duration `yaml:"first_chunk_timeout"`
	ChunkTimeout       time.Duration `yaml:"chunk_timeout"`
	HistoryTurns       int           `yaml:"history_turns"`
	MaxContextChars    int           `yaml:"max_context_chars"`
}

type CacheConfig struct {
	// ResponseTTL bounds how long answers are served from cache.
	ResponseTTL time.Duration `yaml:"response_ttl"`
}

// Load reads and validates the configuration file. A missing path returns
// pure defaults so the service can start with zero configuration.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		if info.Size() > MaxYAMLFileSize {
			return nil, fmt.Errorf("config file exceeds %d bytes", MaxYAMLFileSize)
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the zero-configuration setup: local Ollama, in-memory
// cache and conversation stores, no analytics, no trace export.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: 12210, GinMode: "release"},
		LLM: LLMConfig{
			Backend: "ollama",
			BaseURL: "http://localhost:11434",
			Model:   "llama3.1:8b",
		},
		Weaviate: WeaviateConfig{ClassName: "DocumentChunk", Alpha: 0.5},
		Classifier: ClassifierConfig{
			Timeout:       10 * time.Second,
			CacheTTL:      15 * time.Minute,
			CacheMaxSize:  2048,
			MaxConcurrent: 8,
			HistoryTurns:  3,
		},
		Routing:   RoutingConfig{LowConfidenceThreshold: 0.7},
		Retrieval: RetrievalConfig{ParaphraseCount: 2, SearchTimeout: 10 * time.Second},
		Guardrails: GuardrailsConfig{
			MinConfidence:      0.4,
			RetryMinConfidence: 0.2,
			RetryDocCeiling:    30,
			RetryCooldown:      2 * time.Second,
			GenerateTimeout:    120 * time.Second,
			FirstChunkTimeout:  30 * time.Second,
			ChunkTimeout:       20 * time.Second,
			HistoryTurns:       6,
			MaxContextChars:    24000,
		},
		Cache: CacheConfig{ResponseTTL: time.Hour},
	}
}

// applyDefaults fills fields a partial YAML file left zero.
func (c *Config) applyDefaults() {
	d := Default()
	if c.Server.Port == 0 {
		c.Server.Port = d.Server.Port
	}
	if c.Server.GinMode == "" {
		c.Server.GinMode = d.Server.GinMode
	}
	if c.LLM.Backend == "" {
		c.LLM.Backend = d.LLM.Backend
	}
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = d.LLM.BaseURL
	}
	if c.LLM.Model == "" {
		c.LLM.Model = d.LLM.Model
	}
	if c.LLM.ClassifierModel == "" {
		c.LLM.ClassifierModel = c.LLM.Model
	}
	if c.LLM.JudgeModel == "" {
		c.LLM.JudgeModel = c.LLM.Model
	}
	if c.Weaviate.ClassName == "" {
		c.Weaviate.ClassName = d.Weaviate.ClassName
	}
	if c.Weaviate.Alpha == 0 {
		c.Weaviate.Alpha = d.Weaviate.Alpha
	}
	if c.Classifier.Timeout == 0 {
		c.Classifier = d.Classifier
	}
	if c.Routing.LowConfidenceThreshold == 0 {
		c.Routing = d.Routing
	}
	if c.Retrieval.ParaphraseCount == 0 {
		c.Retrieval = d.Retrieval
	}
	if c.Guardrails.GenerateTimeout == 0 {
		strict := c.Guardrails.StrictBlocking
		c.Guardrails = d.Guardrails
		c.Guardrails.StrictBlocking = strict
	}
	if c.Cache.ResponseTTL == 0 {
		c.Cache.ResponseTTL = d.Cache.ResponseTTL
	}
	if c.Storage.RetentionMaxAge > 0 && c.Storage.SweepInterval == 0 {
		c.Storage.SweepInterval = time.Hour
	}
}

// APIKey resolves the LLM API key from the configured environment
// variable. Keys never live in the YAML file.
func (c *Config) APIKey() string {
	if c.LLM.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.LLM.APIKeyEnv)
}

// InfluxToken resolves the analytics token from the environment.
func (c *Config) InfluxToken() string {
	if c.Influx.TokenEnv == "" {
		return ""
	}
	return os.Getenv(c.Influx.TokenEnv)
}

// Validate checks cross-field invariants not covered by component
// constructors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.LLM.Backend {
	case "openai", "ollama":
	default:
		return fmt.Errorf("llm.backend %q must be openai or ollama", c.LLM.Backend)
	}
	switch c.Server.GinMode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("server.gin_mode %q must be debug, release, or test", c.Server.GinMode)
	}
	if c.Weaviate.Alpha < 0 || c.Weaviate.Alpha > 1 {
		return fmt.Errorf("weaviate.alpha %v must be in [0,1]", c.Weaviate.Alpha)
	}
	if c.Influx.URL != "" && (c.Influx.Org == "" || c.Influx.Bucket == "") {
		return fmt.Errorf("influx.org and influx.bucket are required when influx.url is set")
	}
	return nil
}
