// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package pipeline is the guardrail orchestrator: the state machine that
// takes a question from cache check through retrieval, generation,
// judging, blocking, bounded retry, persistence, and caching.
package pipeline

import (
	"errors"
	"time"
)

// FallbackMessage replaces answers the hallucination guardrail blocks.
// The wording is fixed; clients key UI treatment off the blocked flag,
// not this text.
const FallbackMessage = "I could not produce an answer that is reliably supported by the available documents. " +
	"Please rephrase the question or narrow it down, and I will try again."

// Config tunes the guardrail state machine.
//
// Thread Safety: This type should not be modified after passing to New.
type Config struct {
	// MinConfidence is the judge confidence below which a retry is
	// considered.
	MinConfidence float64

	// RetryMinConfidence is the floor below which retrying is pointless:
	// the answer is so bad that more documents will not rescue it.
	RetryMinConfidence float64

	// RetryDocCeiling disables retry when retrieval already returned at
	// least this many documents.
	RetryDocCeiling int

	// RetryCooldown is the delay applied before the retry generation call.
	RetryCooldown time.Duration

	// StrictBlocking blocks on any hallucination verdict. When false
	// (lenient, the default), blocking requires the answer to also be
	// ungrounded.
	StrictBlocking bool

	// GenerateTimeout bounds one blocking generator invocation, and the
	// whole stream in streaming mode.
	GenerateTimeout time.Duration

	// FirstChunkTimeout bounds the wait for the first streamed chunk.
	FirstChunkTimeout time.Duration

	// ChunkTimeout bounds the gap between consecutive streamed chunks.
	ChunkTimeout time.Duration

	// HistoryTurns is how many trailing conversation turns feed the
	// generator prompt.
	HistoryTurns int

	// MaxContextChars bounds the assembled context block.
	MaxContextChars int
}

// Validate checks configuration invariants.
func (c Config) Validate() error {
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return errors.New("min confidence must be in [0,1]")
	}
	if c.RetryMinConfidence < 0 || c.RetryMinConfidence > c.MinConfidence {
		return errors.New("retry min confidence must be in [0, min confidence]")
	}
	if c.RetryDocCeiling <= 0 {
		return errors.New("retry doc ceiling must be > 0")
	}
	if c.GenerateTimeout <= 0 || c.FirstChunkTimeout <= 0 || c.ChunkTimeout <= 0 {
		return errors.New("all generation timeouts must be > 0")
	}
	if c.HistoryTurns < 0 {
		return errors.New("history turns must be >= 0")
	}
	if c.MaxContextChars <= 0 {
		return errors.New("max context chars must be > 0")
	}
	return nil
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MinConfidence:      0.4,
		RetryMinConfidence: 0.2,
		RetryDocCeiling:    30,
		RetryCooldown:      2 * time.Second,
		StrictBlocking:     false,
		GenerateTimeout:    120 * time.Second,
		FirstChunkTimeout:  30 * time.Second,
		ChunkTimeout:       20 * time.Second,
		HistoryTurns:       6,
		MaxContextChars:    24000,
	}
}
