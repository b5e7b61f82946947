// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 12210, cfg.Server.Port)
	assert.Equal(t, "ollama", cfg.LLM.Backend)
	assert.Equal(t, "DocumentChunk", cfg.Weaviate.ClassName)
	assert.Equal(t, time.Hour, cfg.Cache.ResponseTTL)
	// Classifier and judge fall back to the generator model.
	assert.Equal(t, cfg.LLM.Model, cfg.LLM.ClassifierModel)
	assert.Equal(t, cfg.LLM.Model, cfg.LLM.JudgeModel)
}

func TestLoad_MissingFileIsAnError(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
server:
  port: 9000
llm:
  backend: openai
  base_url: https://api.example.com/v1
  api_key_env: EXAMPLE_API_KEY
  model: gpt-4o-mini
  judge_model: gpt-4o
weaviate:
  url: http://weaviate:8080
guardrails:
  strict_blocking: true
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "openai", cfg.LLM.Backend)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.ClassifierModel) // falls back to model
	assert.Equal(t, "gpt-4o", cfg.LLM.JudgeModel)
	assert.True(t, cfg.Guardrails.StrictBlocking)
	// Unset sections keep defaults.
	assert.Equal(t, 120*time.Second, cfg.Guardrails.GenerateTimeout)
	assert.InDelta(t, 0.5, cfg.Weaviate.Alpha, 0.001)
	assert.Equal(t, "release", cfg.Server.GinMode)
}

func TestLoad_RetentionEnablesSweepInterval(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
storage:
  conversation_path: /var/lib/kodiak/conversations
  retention_max_age: 720h
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 720*time.Hour, cfg.Storage.RetentionMaxAge)
	assert.Equal(t, time.Hour, cfg.Storage.SweepInterval)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		wantOK bool
	}{
		{"defaults pass", func(c *Config) {}, true},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, false},
		{"bad backend", func(c *Config) { c.LLM.Backend = "vllm" }, false},
		{"bad gin mode", func(c *Config) { c.Server.GinMode = "verbose" }, false},
		{"alpha out of range", func(c *Config) { c.Weaviate.Alpha = 1.5 }, false},
		{"influx without org", func(c *Config) { c.Influx.URL = "http://influx:8086" }, false},
		{
			"influx with org and bucket",
			func(c *Config) {
				c.Influx.URL = "http://influx:8086"
				c.Influx.Org = "kodiak"
				c.Influx.Bucket = "rag"
			},
			true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantOK {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestAPIKey_ResolvesFromEnvironment(t *testing.T) {
	cfg := Default()
	assert.Empty(t, cfg.APIKey())

	cfg.LLM.APIKeyEnv = "KODIAK_TEST_API_KEY"
	t.Setenv("KODIAK_TEST_API_KEY", "sk-test")
	assert.Equal(t, "sk-test", cfg.APIKey())
}

func TestLoad_RejectsOversizedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	big := make([]byte, MaxYAMLFileSize+1)
	for i := range big {
		big[i] = '#'
	}
	require.NoError(t, os.WriteFile(path, big, 0600))

	_, err := Load(path)
	assert.ErrorContains(t, err, "exceeds")
}
