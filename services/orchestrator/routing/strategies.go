// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package routing maps classified intents to retrieval strategies and
// response shaping, and tracks routing decisions for the admin surface.
package routing

import (
	"github.com/AleutianAI/kodiak/services/orchestrator/datatypes"
)

// namedStrategy pairs a strategy with its stable name and the response
// prompt fragment the generator prepends for that intent.
type namedStrategy struct {
	name     string
	strategy datatypes.StrategyConfig
	prompt   string
}

// === Strategy table ===
//
// One static entry per intent. TopK values assume ~500-token chunks; the
// router widens them for low-confidence classifications but never past
// maxWidenedTopK.
var strategyTable = map[datatypes.Intent]namedStrategy{
	datatypes.IntentFactual: {
		name: "precision_focused",
		strategy: datatypes.StrategyConfig{
			TopK: 8, UseReranking: true, RerankTopK: 5, RetrievalMode: "hybrid",
		},
		prompt: "Answer directly and concisely. Cite the specific source for each claim.",
	},
	datatypes.IntentComparison: {
		name: "multi_angle",
		strategy: datatypes.StrategyConfig{
			TopK: 16, UseQueryExpansion: true, UseReranking: true, RerankTopK: 8,
			UseCompression: true, RetrievalMode: "hybrid",
		},
		prompt: "Compare the subjects side by side. Cover each subject's strengths and weaknesses before concluding.",
	},
	datatypes.IntentExplanation: {
		name: "deep_context",
		strategy: datatypes.StrategyConfig{
			TopK: 20, UseQueryExpansion: true, UseHyDE: true, UseReranking: true,
			RerankTopK: 10, UseCompression: true, RetrievalMode: "hybrid",
		},
		prompt: "Explain the underlying mechanism step by step, building from fundamentals the sources establish.",
	},
	datatypes.IntentAggregation: {
		name: "broad_sweep",
		strategy: datatypes.StrategyConfig{
			TopK: 24, UseQueryExpansion: true, UseReranking: true, RerankTopK: 12,
			UseCompression: true, RetrievalMode: "hybrid",
		},
		prompt: "Aggregate across all provided sources. State explicitly when the sources may not cover everything.",
	},
	datatypes.IntentProcedural: {
		name: "sequential",
		strategy: datatypes.StrategyConfig{
			TopK: 12, UseHyDE: true, UseReranking: true, RerankTopK: 6, RetrievalMode: "hybrid",
		},
		prompt: "Answer as a numbered sequence of steps. Preserve the order the sources describe.",
	},
	datatypes.IntentClarification: {
		name: "context_light",
		strategy: datatypes.StrategyConfig{
			TopK: 5, RetrievalMode: "hybrid",
		},
		prompt: "Resolve the follow-up against the conversation so far. Keep the answer short.",
	},
	datatypes.IntentChitchat: {
		name:     "no_retrieval",
		strategy: datatypes.StrategyConfig{TopK: 0},
		prompt:   "Respond briefly and warmly, then steer back to what you can help with.",
	},
	datatypes.IntentOutOfScope: {
		name:     "no_retrieval",
		strategy: datatypes.StrategyConfig{TopK: 0},
		prompt:   "Politely state this is outside the document collection's scope and say what you can help with.",
	},
	datatypes.IntentOpinion: {
		name: "balanced_views",
		strategy: datatypes.StrategyConfig{
			TopK: 10, UseQueryExpansion: true, UseReranking: true, RerankTopK: 6, RetrievalMode: "hybrid",
		},
		prompt: "Present the perspectives the sources support. Make clear the answer reflects the sources, not a personal view.",
	},
	datatypes.IntentTemporal: {
		name: "recency_weighted",
		strategy: datatypes.StrategyConfig{
			TopK: 10, UseReranking: true, RerankTopK: 6, RetrievalMode: "hybrid",
		},
		prompt: "Anchor every statement to its date. Prefer the most recent sources when they conflict.",
	},
}

// strategyFor returns the table entry for an intent, falling back to the
// factual entry for anything unrecognized.
func strategyFor(intent datatypes.Intent) namedStrategy {
	if s, ok := strategyTable[intent]; ok {
		return s
	}
	return strategyTable[datatypes.IntentFactual]
}
