// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package classifier

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/kodiak/pkg/extensions"
	"github.com/AleutianAI/kodiak/services/llm"
	"github.com/AleutianAI/kodiak/services/orchestrator/datatypes"
)

// stubExtension is a ClassifierExtension with a fixed verdict.
type stubExtension struct {
	override *extensions.IntentOverride
	err      error
	calls    atomic.Int64
}

func (s *stubExtension) ClassifyIntent(_ context.Context, _ string) (*extensions.IntentOverride, error) {
	s.calls.Add(1)
	return s.override, s.err
}

// stubModel is an LLMClient returning a fixed response and counting calls.
type stubModel struct {
	response string
	err      error
	calls    atomic.Int64
}

func (s *stubModel) Generate(_ context.Context, _ string, _ llm.GenerationParams) (string, error) {
	s.calls.Add(1)
	return s.response, s.err
}

func (s *stubModel) Chat(_ context.Context, _ []llm.Message, _ llm.GenerationParams) (string, error) {
	s.calls.Add(1)
	return s.response, s.err
}

func (s *stubModel) ChatStream(_ context.Context, _ []llm.Message, _ llm.GenerationParams, cb llm.StreamCallback) error {
	s.calls.Add(1)
	if s.err != nil {
		return s.err
	}
	return cb(s.response)
}

func newTestClassifier(t *testing.T, model llm.LLMClient) *IntentClassifier {
	t.Helper()
	c, err := New(model, nil, DefaultConfig())
	require.NoError(t, err)
	return c
}

func TestClassify_ExtensionRunsBeforeBuiltInTiers(t *testing.T) {
	model := &stubModel{}
	ext := &stubExtension{override: &extensions.IntentOverride{
		Intent:     "procedural",
		Confidence: 0.88,
		Reasoning:  "matched a deployment runbook rule",
	}}
	cfg := DefaultConfig()
	cfg.Extension = ext
	c, err := New(model, nil, cfg)
	require.NoError(t, err)

	// "Hello" would otherwise hit the chitchat pattern tier.
	result := c.Classify(context.Background(), "Hello", nil)

	assert.Equal(t, datatypes.IntentProcedural, result.Intent)
	assert.InDelta(t, 0.88, result.Confidence, 0.001)
	assert.True(t, result.QuickMatch)
	assert.Equal(t, int64(1), ext.calls.Load())
	assert.Equal(t, int64(0), model.calls.Load())
	assert.Equal(t, int64(1), c.Stats().ExtensionHits)
}

func TestClassify_ExtensionFailuresFallThrough(t *testing.T) {
	tests := []struct {
		name string
		ext  *stubExtension
	}{
		{name: "error", ext: &stubExtension{err: errors.New("sidecar down")}},
		{name: "no opinion", ext: &stubExtension{}},
		{name: "unknown intent", ext: &stubExtension{override: &extensions.IntentOverride{Intent: "banter", Confidence: 0.9}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Extension = tt.ext
			c, err := New(&stubModel{}, nil, cfg)
			require.NoError(t, err)

			result := c.Classify(context.Background(), "Hello", nil)

			assert.Equal(t, datatypes.IntentChitchat, result.Intent, "built-in pattern tier should resolve")
			assert.Equal(t, int64(1), tt.ext.calls.Load())
			assert.Equal(t, int64(0), c.Stats().ExtensionHits)
		})
	}
}

func TestClassify_ExtensionConfidenceClamped(t *testing.T) {
	ext := &stubExtension{override: &extensions.IntentOverride{Intent: "factual", Confidence: 4.2}}
	cfg := DefaultConfig()
	cfg.Extension = ext
	c, err := New(&stubModel{}, nil, cfg)
	require.NoError(t, err)

	result := c.Classify(context.Background(), "what is the retention window", nil)

	assert.Equal(t, datatypes.IntentFactual, result.Intent)
	assert.InDelta(t, 0.9, result.Confidence, 0.001)
}

func TestClassify_GreetingSkipsModel(t *testing.T) {
	model := &stubModel{response: `{"intent":"factual","confidence":0.9}`}
	c := newTestClassifier(t, model)

	result := c.Classify(context.Background(), "Hello", nil)

	assert.Equal(t, datatypes.IntentChitchat, result.Intent)
	assert.GreaterOrEqual(t, result.Confidence, 0.9)
	assert.True(t, result.QuickMatch)
	assert.Equal(t, int64(0), model.calls.Load(), "greeting must not reach the model")
}

func TestClassify_ComparisonPattern(t *testing.T) {
	model := &stubModel{}
	c := newTestClassifier(t, model)

	result := c.Classify(context.Background(), "Python vs Rust for backend services", nil)

	assert.Equal(t, datatypes.IntentComparison, result.Intent)
	assert.True(t, result.QuickMatch)
	assert.InDelta(t, 0.90, result.Confidence, 0.06)
	assert.Equal(t, int64(0), model.calls.Load())
}

func TestClassify_ShortAffirmationIsContextSensitive(t *testing.T) {
	c := newTestClassifier(t, &stubModel{})

	history := []datatypes.Message{
		{Role: "user", Content: "How do I rotate the signing key?"},
		{Role: "assistant", Content: "Do you mean the JWT signing key?"},
	}
	withHistory := c.Classify(context.Background(), "yes", history)
	assert.Equal(t, datatypes.IntentClarification, withHistory.Intent)
	assert.True(t, withHistory.IsFollowUp)

	bare := c.Classify(context.Background(), "yes", nil)
	assert.Equal(t, datatypes.IntentChitchat, bare.Intent)
}

func TestClassify_KeywordTier(t *testing.T) {
	model := &stubModel{}
	c := newTestClassifier(t, model)

	// "do you recommend" alone scores 2.0, clearing the 1.5 threshold.
	result := c.Classify(context.Background(), "do you recommend the managed offering here", nil)

	assert.Equal(t, datatypes.IntentOpinion, result.Intent)
	assert.True(t, result.QuickMatch)
	assert.GreaterOrEqual(t, result.Confidence, 0.65)
	assert.LessOrEqual(t, result.Confidence, 0.85)
	assert.Equal(t, int64(0), model.calls.Load())
}

func TestClassify_ModelTier(t *testing.T) {
	model := &stubModel{response: `{"intent":"opinion","confidence":0.82,"reasoning":"asks for judgement","entities":["Kubernetes"],"is_follow_up":false}`}
	c := newTestClassifier(t, model)

	result := c.Classify(context.Background(), "is the operator pattern worth adopting for our batch jobs", nil)

	assert.Equal(t, datatypes.IntentOpinion, result.Intent)
	assert.InDelta(t, 0.82, result.Confidence, 0.001)
	assert.Equal(t, []string{"Kubernetes"}, result.Entities)
	assert.False(t, result.QuickMatch)
	assert.Equal(t, int64(1), model.calls.Load())
}

func TestClassify_ModelTierCachesResults(t *testing.T) {
	model := &stubModel{response: `{"intent":"explanation","confidence":0.8}`}
	c := newTestClassifier(t, model)
	ctx := context.Background()

	query := "the scheduler keeps preempting the ingest workers, what gives"
	first := c.Classify(ctx, query, nil)
	second := c.Classify(ctx, query, nil)

	assert.Equal(t, first.Intent, second.Intent)
	assert.False(t, first.Cached)
	assert.True(t, second.Cached)
	assert.Equal(t, int64(1), model.calls.Load(), "second call must hit the cache")
}

func TestClassify_UnknownIntentCoercedToFactual(t *testing.T) {
	model := &stubModel{response: `{"intent":"banter","confidence":0.9,"reasoning":"chatty"}`}
	c := newTestClassifier(t, model)

	result := c.Classify(context.Background(), "quarterly retention deltas against the prior cohort", nil)

	assert.Equal(t, datatypes.IntentFactual, result.Intent)
	assert.InDelta(t, 0.9*0.8, result.Confidence, 0.001, "confidence is discounted for unknown intents")
}

func TestClassify_MalformedModelOutputDegrades(t *testing.T) {
	tests := []struct {
		name     string
		response string
		err      error
	}{
		{name: "prose", response: "I think this is probably a factual question."},
		{name: "empty", response: ""},
		{name: "model error", err: errors.New("connection refused")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClassifier(t, &stubModel{response: tt.response, err: tt.err})

			result := c.Classify(context.Background(), "ambiguous query with no pattern or keyword signal", nil)

			require.NotNil(t, result)
			assert.Equal(t, datatypes.IntentFactual, result.Intent)
			assert.InDelta(t, 0.3, result.Confidence, 0.001)
		})
	}
}

func TestClassify_EmptyQueryDefaults(t *testing.T) {
	c := newTestClassifier(t, &stubModel{})

	result := c.Classify(context.Background(), "   ", nil)

	assert.Equal(t, datatypes.IntentFactual, result.Intent)
	assert.InDelta(t, 0.3, result.Confidence, 0.001)
}

func TestClassify_NilModelDegrades(t *testing.T) {
	c, err := New(nil, nil, DefaultConfig())
	require.NoError(t, err)

	result := c.Classify(context.Background(), "something the cheap tiers cannot place", nil)

	assert.Equal(t, datatypes.IntentFactual, result.Intent)
	assert.InDelta(t, 0.3, result.Confidence, 0.001)
}

func TestParseModelResponse_ExtractsEmbeddedJSON(t *testing.T) {
	raw := "Sure! Here is the classification:\n```json\n{\"intent\":\"procedural\",\"confidence\":0.77}\n```"
	result, err := parseModelResponse(raw)
	require.NoError(t, err)
	assert.Equal(t, datatypes.IntentProcedural, result.Intent)
	assert.InDelta(t, 0.77, result.Confidence, 0.001)
}

func TestParseModelResponse_ClampsConfidence(t *testing.T) {
	result, err := parseModelResponse(`{"intent":"factual","confidence":3.5}`)
	require.NoError(t, err)
	assert.Equal(t, 1.0, result.Confidence)
}

func TestLocalCache_EvictsLeastRecentlyUsed(t *testing.T) {
	lru := newLocalCache(2, time.Minute)
	lru.put("a", datatypes.ClassificationResult{Intent: datatypes.IntentFactual})
	lru.put("b", datatypes.ClassificationResult{Intent: datatypes.IntentOpinion})

	require.NotNil(t, lru.get("a")) // refresh a; b is now oldest
	lru.put("c", datatypes.ClassificationResult{Intent: datatypes.IntentTemporal})

	assert.Nil(t, lru.get("b"))
	assert.NotNil(t, lru.get("a"))
	assert.NotNil(t, lru.get("c"))
	assert.Equal(t, 2, lru.len())
}

func TestCharacteristicsFor_ConversationalIntentsSkipRetrieval(t *testing.T) {
	for _, intent := range []datatypes.Intent{datatypes.IntentChitchat, datatypes.IntentOutOfScope} {
		c := CharacteristicsFor(intent)
		assert.False(t, c.RequiresRetrieval, fmt.Sprintf("%s should not retrieve", intent))
	}
	assert.True(t, CharacteristicsFor(datatypes.IntentFactual).RequiresRetrieval)
	assert.True(t, CharacteristicsFor("made_up").RequiresRetrieval, "unknown intents use the factual profile")
}
