// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package classifier

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/kodiak/services/llm"
	"github.com/AleutianAI/kodiak/services/orchestrator/cache"
	"github.com/AleutianAI/kodiak/services/orchestrator/datatypes"
)

var tracer = otel.Tracer("kodiak.orchestrator.classifier")

const classificationSystemPrompt = `You are an intent classifier for a document question-answering system.
Classify the user's query into exactly one intent:
factual, comparison, explanation, aggregation, procedural, clarification, chitchat, out_of_scope, opinion, temporal.

Respond with only a JSON object:
{"intent": "...", "confidence": 0.0-1.0, "reasoning": "one sentence", "entities": ["notable entities"], "is_follow_up": true|false}`

// IntentClassifier runs the tiered classification pipeline.
//
// # Description
//
// Tiers run cheapest-first and short-circuit: patterns, keywords, then a
// model call guarded by a local LRU, a distributed TTL cache, and a
// singleflight group so concurrent identical queries share one call.
//
// # Thread Safety
//
// Safe for concurrent use.
type IntentClassifier struct {
	model    llm.LLMClient
	store    cache.Store // nil disables the distributed tier
	local    *localCache
	config   Config
	inflight singleflight.Group
	sem      chan struct{} // nil means unlimited
	stats    Stats
}

// New creates an IntentClassifier.
//
// Inputs:
//
//	model - Classification model client. Nil disables the model tier;
//	        unresolved queries then fall through to the safe default.
//	store - Distributed cache for cross-replica result sharing. May be nil.
//	config - Tier tuning; see DefaultConfig.
func New(model llm.LLMClient, store cache.Store, config Config) (*IntentClassifier, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid classifier config: %w", err)
	}
	c := &IntentClassifier{
		model:  model,
		store:  store,
		config: config,
	}
	if config.CacheTTL > 0 {
		c.local = newLocalCache(config.CacheMaxSize, config.CacheTTL)
	}
	if config.MaxConcurrent > 0 {
		c.sem = make(chan struct{}, config.MaxConcurrent)
	}
	return c, nil
}

// Classify determines the intent of a query.
//
// # Description
//
// Never returns an error and never panics on malformed model output: every
// failure mode degrades to a low-confidence factual default so the request
// can still proceed down the retrieval path.
//
// Inputs:
//
//	ctx - Request context; bounds the model tier.
//	query - The user's question.
//	history - Prior conversation turns, oldest first. May be empty.
func (c *IntentClassifier) Classify(ctx context.Context, query string, history []datatypes.Message) *datatypes.ClassificationResult {
	ctx, span := tracer.Start(ctx, "IntentClassifier.Classify")
	defer span.End()
	start := time.Now()

	result := c.classify(ctx, query, history)
	result.Duration = time.Since(start)

	span.SetAttributes(
		attribute.String("classify.intent", string(result.Intent)),
		attribute.Float64("classify.confidence", result.Confidence),
		attribute.Bool("classify.quick_match", result.QuickMatch),
		attribute.Bool("classify.cached", result.Cached),
	)
	classificationsTotal.WithLabelValues(string(result.Intent), tierLabel(result)).Inc()
	classificationLatency.Observe(result.Duration.Seconds())
	return result
}

func (c *IntentClassifier) classify(ctx context.Context, query string, history []datatypes.Message) *datatypes.ClassificationResult {
	query = strings.TrimSpace(query)
	if query == "" {
		c.stats.fallbacks.Add(1)
		return defaultClassification("empty query")
	}

	if c.config.Extension != nil {
		if result := c.classifyWithExtension(ctx, query); result != nil {
			c.stats.extensionHits.Add(1)
			return result
		}
	}

	if result := matchPatterns(query, len(history) > 0); result != nil {
		c.stats.patternHits.Add(1)
		return result
	}
	if result := matchKeywords(query); result != nil {
		c.stats.keywordHits.Add(1)
		return result
	}

	if c.model == nil {
		c.stats.fallbacks.Add(1)
		return defaultClassification("no classification model configured")
	}
	return c.classifyWithModel(ctx, query, history)
}

// classifyWithExtension asks the injected extension for a verdict. Any
// failure mode (error, no opinion, unknown intent name) returns nil so
// the built-in tiers run; the extension can never fail a request.
func (c *IntentClassifier) classifyWithExtension(ctx context.Context, query string) *datatypes.ClassificationResult {
	override, err := c.config.Extension.ClassifyIntent(ctx, query)
	if err != nil {
		slog.Warn("classifier extension failed, falling through to built-in tiers", "error", err)
		return nil
	}
	if override == nil {
		return nil
	}
	intent, ok := datatypes.ParseIntent(override.Intent)
	if !ok {
		slog.Warn("classifier extension returned unknown intent", "intent", override.Intent)
		return nil
	}
	confidence := override.Confidence
	if confidence <= 0 || confidence > 1 {
		confidence = 0.9
	}
	return &datatypes.ClassificationResult{
		Intent:     intent,
		Confidence: confidence,
		Reasoning:  override.Reasoning,
		QuickMatch: true,
	}
}

func (c *IntentClassifier) classifyWithModel(ctx context.Context, query string, history []datatypes.Message) *datatypes.ClassificationResult {
	digest := c.contextDigest(query, history)

	if c.local != nil {
		if result := c.local.get(digest); result != nil {
			c.stats.localCacheHits.Add(1)
			result.Cached = true
			return result
		}
	}
	if result := c.storeGet(ctx, digest); result != nil {
		c.stats.storeCacheHits.Add(1)
		if c.local != nil {
			c.local.put(digest, *result)
		}
		result.Cached = true
		return result
	}

	// Singleflight collapses a thundering herd of identical queries into
	// one model call; every waiter gets its own copy of the result.
	v, err, _ := c.inflight.Do(digest, func() (any, error) {
		return c.callModel(ctx, query, history, digest), nil
	})
	if err != nil {
		c.stats.fallbacks.Add(1)
		return defaultClassification("classification model unavailable")
	}
	result := v.(datatypes.ClassificationResult)
	return &result
}

// callModel performs the actual model call. The returned value is always
// usable; failures are folded into the safe default here so singleflight
// waiters never observe an error.
func (c *IntentClassifier) callModel(ctx context.Context, query string, history []datatypes.Message, digest string) datatypes.ClassificationResult {
	ctx, span := tracer.Start(ctx, "IntentClassifier.callModel")
	defer span.End()

	if c.sem != nil {
		select {
		case c.sem <- struct{}{}:
			defer func() { <-c.sem }()
		case <-ctx.Done():
			c.stats.fallbacks.Add(1)
			return *defaultClassification("classification cancelled while queued")
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	c.stats.modelCalls.Add(1)
	raw, err := c.model.Chat(ctx, c.buildMessages(query, history), llm.GenerationParams{
		Temperature: llm.Float32Ptr(c.config.Temperature),
		MaxTokens:   llm.IntPtr(c.config.MaxTokens),
		JSONMode:    true,
	})
	if err != nil {
		c.stats.fallbacks.Add(1)
		slog.Warn("classification model call failed", "error", err)
		return *defaultClassification("classification model call failed")
	}

	result, err := parseModelResponse(raw)
	if err != nil {
		c.stats.fallbacks.Add(1)
		slog.Warn("unparseable classification response", "error", err)
		return *defaultClassification("unparseable model response")
	}

	c.cachePut(ctx, digest, *result)
	return *result
}

func (c *IntentClassifier) buildMessages(query string, history []datatypes.Message) []llm.Message {
	messages := []llm.Message{{Role: "system", Content: classificationSystemPrompt}}
	for _, turn := range tailTurns(history, c.config.HistoryTurns) {
		messages = append(messages, llm.Message{Role: turn.Role, Content: turn.Content})
	}
	messages = append(messages, llm.Message{Role: "user", Content: query})
	return messages
}

// contextDigest keys the caches on the normalized query plus the trailing
// conversation turns, because the same words can carry a different intent
// mid-conversation.
func (c *IntentClassifier) contextDigest(query string, history []datatypes.Message) string {
	h := sha256.New()
	h.Write([]byte(cache.NormalizeQuestion(query)))
	for _, turn := range tailTurns(history, c.config.HistoryTurns) {
		h.Write([]byte{0})
		h.Write([]byte(turn.Role))
		h.Write([]byte{0})
		h.Write([]byte(turn.Content))
	}
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

func (c *IntentClassifier) storeGet(ctx context.Context, digest string) *datatypes.ClassificationResult {
	if c.store == nil || c.config.CacheTTL <= 0 {
		return nil
	}
	raw, err := c.store.Get(ctx, cache.IntentKey(digest))
	if err != nil {
		return nil
	}
	var result datatypes.ClassificationResult
	if err := json.Unmarshal(raw, &result); err != nil || !result.Intent.Valid() {
		return nil
	}
	return &result
}

func (c *IntentClassifier) cachePut(ctx context.Context, digest string, result datatypes.ClassificationResult) {
	if c.config.CacheTTL <= 0 {
		return
	}
	if c.local != nil {
		c.local.put(digest, result)
	}
	if c.store == nil {
		return
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := c.store.SetWithTTL(ctx, cache.IntentKey(digest), raw, c.config.CacheTTL); err != nil {
		slog.Warn("classification cache write failed", "error", err)
	}
}

// Stats returns a snapshot of tier counters since startup.
func (c *IntentClassifier) Stats() StatsSnapshot { return c.stats.snapshot() }

func tailTurns(history []datatypes.Message, n int) []datatypes.Message {
	if n <= 0 || len(history) == 0 {
		return nil
	}
	if len(history) > n {
		return history[len(history)-n:]
	}
	return history
}

// defaultClassification is the safe fallback: factual intent at low
// confidence, which routes to the broadest retrieval strategy.
func defaultClassification(reason string) *datatypes.ClassificationResult {
	return &datatypes.ClassificationResult{
		Intent:     datatypes.IntentFactual,
		Confidence: 0.3,
		Reasoning:  reason,
	}
}
