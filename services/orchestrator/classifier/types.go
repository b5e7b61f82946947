// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package classifier provides tiered intent classification for user queries.
//
// Classification runs the cheapest tier first and short-circuits:
//
//  1. Pattern tier: regex tables for unmistakable shapes (greetings,
//     comparisons, procedural openers). Zero cost, no model call.
//  2. Keyword tier: weighted phrase scoring per intent.
//  3. Model tier: a classification-capable model behind a local LRU and a
//     distributed TTL cache.
//
// The classifier never fails a request: malformed model output, cache
// outages, and timeouts all degrade to a low-confidence factual default.
package classifier

import (
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/kodiak/pkg/extensions"
	"github.com/AleutianAI/kodiak/services/orchestrator/datatypes"
)

// Characteristics are the static per-intent traits consumed by the router.
type Characteristics struct {
	// RequiresRetrieval is false for conversational intents that are
	// answered without touching the index.
	RequiresRetrieval bool

	// Depth is the expected answer depth: "shallow", "moderate", "detailed".
	Depth string

	// Count is the nominal number of supporting chunks an answer needs.
	Count int

	// NeedsContext indicates prior conversation turns matter.
	NeedsContext bool

	// ResponseStyle hints the generator's tone and structure.
	ResponseStyle string
}

// characteristicsTable is the fixed trait set per intent.
var characteristicsTable = map[datatypes.Intent]Characteristics{
	datatypes.IntentFactual:       {RequiresRetrieval: true, Depth: "moderate", Count: 5, NeedsContext: false, ResponseStyle: "direct"},
	datatypes.IntentComparison:    {RequiresRetrieval: true, Depth: "detailed", Count: 8, NeedsContext: false, ResponseStyle: "structured"},
	datatypes.IntentExplanation:   {RequiresRetrieval: true, Depth: "detailed", Count: 8, NeedsContext: false, ResponseStyle: "explanatory"},
	datatypes.IntentAggregation:   {RequiresRetrieval: true, Depth: "detailed", Count: 12, NeedsContext: false, ResponseStyle: "structured"},
	datatypes.IntentProcedural:    {RequiresRetrieval: true, Depth: "detailed", Count: 6, NeedsContext: false, ResponseStyle: "step_by_step"},
	datatypes.IntentClarification: {RequiresRetrieval: true, Depth: "shallow", Count: 3, NeedsContext: true, ResponseStyle: "conversational"},
	datatypes.IntentChitchat:      {RequiresRetrieval: false, Depth: "shallow", Count: 0, NeedsContext: false, ResponseStyle: "conversational"},
	datatypes.IntentOutOfScope:    {RequiresRetrieval: false, Depth: "shallow", Count: 0, NeedsContext: false, ResponseStyle: "conversational"},
	datatypes.IntentOpinion:       {RequiresRetrieval: true, Depth: "moderate", Count: 5, NeedsContext: false, ResponseStyle: "balanced"},
	datatypes.IntentTemporal:      {RequiresRetrieval: true, Depth: "moderate", Count: 6, NeedsContext: false, ResponseStyle: "direct"},
}

// CharacteristicsFor returns the static traits for an intent. Unknown
// intents fall back to the factual profile.
func CharacteristicsFor(intent datatypes.Intent) Characteristics {
	if c, ok := characteristicsTable[intent]; ok {
		return c
	}
	return characteristicsTable[datatypes.IntentFactual]
}

// Config tunes the model tier.
//
// Thread Safety: This type should not be modified after passing to New.
type Config struct {
	// Temperature for classification calls. 0 for determinism.
	Temperature float32

	// MaxTokens limits the classification response length.
	MaxTokens int

	// Timeout bounds each model call.
	Timeout time.Duration

	// CacheTTL is how long classification results stay cached.
	// 0 disables both the local and the distributed cache.
	CacheTTL time.Duration

	// CacheMaxSize bounds the local LRU.
	CacheMaxSize int

	// MaxConcurrent bounds in-flight model calls. 0 means unlimited.
	MaxConcurrent int

	// HistoryTurns is how many trailing turns feed the context digest.
	HistoryTurns int

	// Extension, when set, is consulted before any built-in tier. A nil
	// or unknown-intent verdict falls through to the tiers.
	Extension extensions.ClassifierExtension
}

// Validate checks configuration invariants.
func (c Config) Validate() error {
	if c.Temperature < 0 || c.Temperature > 1 {
		return fmt.Errorf("temperature must be in [0,1], got %f", c.Temperature)
	}
	if c.MaxTokens <= 0 {
		return errors.New("max tokens must be > 0")
	}
	if c.Timeout <= 0 {
		return errors.New("timeout must be > 0")
	}
	if c.CacheTTL > 0 && c.CacheMaxSize <= 0 {
		return errors.New("cache max size must be > 0 when caching is enabled")
	}
	if c.HistoryTurns < 0 {
		return errors.New("history turns must be >= 0")
	}
	return nil
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Temperature:   0,
		MaxTokens:     256,
		Timeout:       10 * time.Second,
		CacheTTL:      15 * time.Minute,
		CacheMaxSize:  2048,
		MaxConcurrent: 8,
		HistoryTurns:  3,
	}
}
