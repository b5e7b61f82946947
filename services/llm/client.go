// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm provides clients for generative model backends.
//
// Two backends are supported: any OpenAI-compatible chat completion server
// (including local vLLM/llama.cpp gateways) and a native Ollama client.
// All pipeline components depend only on the LLMClient interface so the
// backend is a deployment decision, not a code change.
package llm

import "context"

// GenerationParams tunes a single model invocation. Nil pointer fields fall
// back to backend defaults.
type GenerationParams struct {
	Temperature *float32 `json:"temperature,omitempty"`
	TopP        *float32 `json:"top_p,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Stop        []string `json:"stop,omitempty"`

	// JSONMode requests a JSON-only response where the backend supports it.
	// Callers must still parse defensively; smaller models ignore the hint.
	JSONMode bool `json:"json_mode,omitempty"`
}

// Message is a single chat turn sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StreamCallback receives incremental text chunks during streaming
// generation. Returning a non-nil error aborts the stream.
type StreamCallback func(chunk string) error

// LLMClient defines the standard interface for any model backend.
//
// Thread Safety: Implementations must be safe for concurrent use.
type LLMClient interface {
	// Generate produces a completion for a single prompt.
	//
	// The context deadline is the only timeout; implementations must respect
	// cancellation so the orchestrator's manual abort stops in-flight calls.
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)

	// Chat produces a completion for a multi-turn conversation.
	Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error)

	// ChatStream streams a conversation response chunk by chunk. The callback
	// is invoked in arrival order on the calling goroutine.
	ChatStream(ctx context.Context, messages []Message, params GenerationParams, callback StreamCallback) error
}

// Float32Ptr returns a pointer to v. Convenience for GenerationParams.
func Float32Ptr(v float32) *float32 { return &v }

// IntPtr returns a pointer to v. Convenience for GenerationParams.
func IntPtr(v int) *int { return &v }
