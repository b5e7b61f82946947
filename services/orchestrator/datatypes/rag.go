// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes defines the data model shared by the orchestrator
// components: classification results, routing decisions, retrieved documents,
// judge evaluations, cache entries, and the streaming event vocabulary.
//
// Types in this package are plain values. They carry no behavior beyond
// validation and normalization helpers, so every pipeline component can
// exchange them without import cycles.
package datatypes

import (
	"strings"
	"time"
)

// =============================================================================
// Intents
// =============================================================================

// Intent is the classified purpose of a user query.
type Intent string

// The intent set is fixed and exhaustive. Classification output outside this
// set is coerced to IntentFactual by the classifier.
const (
	IntentFactual       Intent = "factual"
	IntentComparison    Intent = "comparison"
	IntentExplanation   Intent = "explanation"
	IntentAggregation   Intent = "aggregation"
	IntentProcedural    Intent = "procedural"
	IntentClarification Intent = "clarification"
	IntentChitchat      Intent = "chitchat"
	IntentOutOfScope    Intent = "out_of_scope"
	IntentOpinion       Intent = "opinion"
	IntentTemporal      Intent = "temporal"
)

// AllIntents returns the complete intent set in declaration order.
func AllIntents() []Intent {
	return []Intent{
		IntentFactual, IntentComparison, IntentExplanation, IntentAggregation,
		IntentProcedural, IntentClarification, IntentChitchat, IntentOutOfScope,
		IntentOpinion, IntentTemporal,
	}
}

// Valid reports whether the intent is a member of the fixed intent set.
func (i Intent) Valid() bool {
	switch i {
	case IntentFactual, IntentComparison, IntentExplanation, IntentAggregation,
		IntentProcedural, IntentClarification, IntentChitchat, IntentOutOfScope,
		IntentOpinion, IntentTemporal:
		return true
	}
	return false
}

// ParseIntent converts a raw string into an Intent.
//
// Outputs:
//
//	Intent - The parsed intent, or IntentFactual if unknown.
//	bool - True if the raw string named a known intent.
func ParseIntent(raw string) (Intent, bool) {
	intent := Intent(strings.ToLower(strings.TrimSpace(raw)))
	if intent.Valid() {
		return intent, true
	}
	return IntentFactual, false
}

// =============================================================================
// Classification
// =============================================================================

// ClassificationResult is the output of the tiered intent classifier.
//
// Thread Safety: This type is immutable after creation and safe for
// concurrent read.
type ClassificationResult struct {
	// Intent is the classified intent. Always a member of the fixed set.
	Intent Intent `json:"intent"`

	// Confidence is in [0,1]. Pattern-tier matches report 0.85-0.95.
	Confidence float64 `json:"confidence"`

	// Reasoning explains the classification decision.
	Reasoning string `json:"reasoning,omitempty"`

	// Entities are noteworthy terms extracted from the query.
	Entities []string `json:"entities,omitempty"`

	// IsFollowUp indicates the query depends on prior conversation turns.
	IsFollowUp bool `json:"is_follow_up"`

	// QuickMatch indicates the pattern or keyword tier answered without a
	// model call.
	QuickMatch bool `json:"quick_match"`

	// Cached indicates this result came from the classification cache.
	Cached bool `json:"-"`

	// Duration is how long classification took.
	Duration time.Duration `json:"-"`
}

// =============================================================================
// Routing
// =============================================================================

// StrategyConfig is a tuned retrieval profile for one intent.
type StrategyConfig struct {
	// TopK is the per-variant similarity search depth. 0 skips retrieval.
	TopK int `json:"top_k"`

	// UseQueryExpansion enables paraphrase variant generation.
	UseQueryExpansion bool `json:"use_query_expansion"`

	// UseHyDE enables the hypothetical-answer pseudo-document variant.
	UseHyDE bool `json:"use_hyde"`

	// UseReranking enables the lexical reranking pass.
	UseReranking bool `json:"use_reranking"`

	// RerankTopK is how many documents survive reranking.
	RerankTopK int `json:"rerank_top_k"`

	// UseCompression enables model-backed per-chunk compression.
	UseCompression bool `json:"use_compression"`

	// RetrievalMode selects the index search mode ("full", "focused", "none").
	RetrievalMode string `json:"retrieval_mode"`
}

// RoutingDecision maps a classified query to a concrete retrieval strategy.
//
// Decisions are ephemeral, derived per-request from the static strategy
// table, and never persisted.
type RoutingDecision struct {
	Intent     Intent  `json:"intent"`
	Confidence float64 `json:"confidence"`

	// StrategyName identifies the selected profile (usually the intent name).
	StrategyName string `json:"strategy_name"`

	// Strategy is the effective configuration after confidence adjustments.
	Strategy StrategyConfig `json:"strategy"`

	// SkipRetrieval short-circuits the retrieval stages entirely.
	SkipRetrieval bool `json:"skip_retrieval"`

	// ResponseStyle hints the generator ("conversational", "structured", ...).
	ResponseStyle string `json:"response_style"`

	// ResponsePrompt is the intent-specific response instruction appended to
	// the generation prompt.
	ResponsePrompt string `json:"-"`

	// Reasoning records why this decision was made, including degraded-path
	// error text when routing fell back to the default decision.
	Reasoning string `json:"reasoning,omitempty"`

	// DecidedAt is when the decision was made. Used by the stats window.
	DecidedAt time.Time `json:"decided_at"`
}

// =============================================================================
// Documents
// =============================================================================

// DocumentMetadata describes a retrieved chunk's provenance.
type DocumentMetadata struct {
	Title        string  `json:"title,omitempty"`
	URL          string  `json:"url,omitempty"`
	HeadingPath  string  `json:"heading_path,omitempty"`
	Page         int     `json:"page,omitempty"`
	DocumentType string  `json:"document_type,omitempty"`
	Score        float64 `json:"score,omitempty"`

	// Fingerprint, when present, overrides the content-prefix fingerprint
	// used for deduplication.
	Fingerprint string `json:"fingerprint,omitempty"`

	// SanitizationFlags records which pattern families fired during
	// sanitization. Empty for clean documents.
	SanitizationFlags []string `json:"sanitization_flags,omitempty"`
}

// Document is a read-only snapshot of an indexed chunk borrowed for the
// duration of one request. Components never mutate a Document in place;
// sanitization and compression return annotated copies.
type Document struct {
	Text string `json:"text"`

	// CompressedText is the model-extracted minimal span, set only when the
	// compression stage ran. Text always retains the original content so
	// source display is never degraded.
	CompressedText string `json:"compressed_text,omitempty"`

	Metadata DocumentMetadata `json:"metadata"`
}

// PromptText returns the text that should be placed in the generation
// prompt: the compressed span when available, the full text otherwise.
func (d Document) PromptText() string {
	if d.CompressedText != "" {
		return d.CompressedText
	}
	return d.Text
}

// SourceInfo is the citation-facing projection of a Document.
type SourceInfo struct {
	Title   string  `json:"title,omitempty"`
	URL     string  `json:"url,omitempty"`
	Section string  `json:"section,omitempty"`
	Page    int     `json:"page,omitempty"`
	Score   float64 `json:"score,omitempty"`
}

// SourceFromDocument projects a Document into its citation form.
func SourceFromDocument(d Document) SourceInfo {
	return SourceInfo{
		Title:   d.Metadata.Title,
		URL:     d.Metadata.URL,
		Section: d.Metadata.HeadingPath,
		Page:    d.Metadata.Page,
		Score:   d.Metadata.Score,
	}
}

// RetrievalMetrics summarizes one multi-query retrieval pass. Attached to
// the final result for observability; not persisted independently.
type RetrievalMetrics struct {
	VariantCount   int     `json:"variant_count"`
	RawCount       int     `json:"raw_count"`
	DedupedCount   int     `json:"deduped_count"`
	DedupRate      float64 `json:"dedup_rate"`
	AvgChunkLength float64 `json:"avg_chunk_length"`
	UniquePages    int     `json:"unique_pages"`
}

// RetrievalResult bundles the documents, the expanded query variants that
// produced them, and the pass metrics.
type RetrievalResult struct {
	Documents []Document       `json:"documents"`
	Queries   []string         `json:"queries"`
	Metrics   RetrievalMetrics `json:"metrics"`
}

// =============================================================================
// Judge
// =============================================================================

// JudgeEvaluation is the structured verdict of the quality judge.
//
// Invariant: this type is never partially populated. Any judge failure
// (timeout, malformed output) is normalized to the safe default produced by
// UngroundedEvaluation.
type JudgeEvaluation struct {
	IsGrounded         bool     `json:"is_grounded"`
	IsRelevant         bool     `json:"is_relevant"`
	IsComplete         bool     `json:"is_complete"`
	Confidence         float64  `json:"confidence"`
	HasHallucinations  bool     `json:"has_hallucinations"`
	Issues             []string `json:"issues,omitempty"`
	Reasoning          string   `json:"reasoning,omitempty"`
	CitedSourceNumbers []int    `json:"cited_source_numbers,omitempty"`
}

// UngroundedEvaluation returns the fail-safe verdict used whenever the judge
// response cannot be parsed. The answer is treated as hallucinated so the
// blocking policy errs on the side of caution.
func UngroundedEvaluation(issue string) JudgeEvaluation {
	return JudgeEvaluation{
		IsGrounded:        false,
		IsRelevant:        false,
		IsComplete:        false,
		Confidence:        0,
		HasHallucinations: true,
		Issues:            []string{issue},
		Reasoning:         "evaluation unavailable: " + issue,
	}
}

// =============================================================================
// Conversation
// =============================================================================

// Message is a single conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	// CreatedAt is stamped by the conversation store when zero.
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// =============================================================================
// Cache
// =============================================================================

// CacheEntry is the cached form of a completed, non-blocked answer.
type CacheEntry struct {
	Answer          string         `json:"answer"`
	FormattedAnswer string         `json:"formatted_answer,omitempty"`
	Sources         []SourceInfo   `json:"sources,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CachedAt        time.Time      `json:"cached_at"`
}
