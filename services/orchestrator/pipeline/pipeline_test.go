// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/kodiak/services/llm"
	"github.com/AleutianAI/kodiak/services/orchestrator/cache"
	"github.com/AleutianAI/kodiak/services/orchestrator/classifier"
	"github.com/AleutianAI/kodiak/services/orchestrator/conversation"
	"github.com/AleutianAI/kodiak/services/orchestrator/datatypes"
	"github.com/AleutianAI/kodiak/services/orchestrator/judge"
	"github.com/AleutianAI/kodiak/services/orchestrator/retrieval"
	"github.com/AleutianAI/kodiak/services/orchestrator/routing"
)

// =============================================================================
// Stubs
// =============================================================================

// scriptedModel returns queued Chat responses in order; the last response
// repeats once the queue drains. ChatStream replays streamChunks.
type scriptedModel struct {
	mu           sync.Mutex
	chatQueue    []string
	chatErr      error
	chatCalls    int
	streamChunks []string
	streamCalls  int
	// streamHang blocks the stream (after sending streamChunks) until the
	// context is done, simulating a stalled model.
	streamHang bool
}

func (m *scriptedModel) Generate(ctx context.Context, _ string, params llm.GenerationParams) (string, error) {
	return m.Chat(ctx, nil, params)
}

func (m *scriptedModel) Chat(_ context.Context, _ []llm.Message, _ llm.GenerationParams) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chatCalls++
	if m.chatErr != nil {
		return "", m.chatErr
	}
	if len(m.chatQueue) == 0 {
		return "", errors.New("chat queue empty")
	}
	resp := m.chatQueue[0]
	if len(m.chatQueue) > 1 {
		m.chatQueue = m.chatQueue[1:]
	}
	return resp, nil
}

func (m *scriptedModel) ChatStream(ctx context.Context, _ []llm.Message, _ llm.GenerationParams, cb llm.StreamCallback) error {
	m.mu.Lock()
	chunks := m.streamChunks
	hang := m.streamHang
	m.streamCalls++
	m.mu.Unlock()

	for _, chunk := range chunks {
		if err := cb(chunk); err != nil {
			return err
		}
	}
	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (m *scriptedModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chatCalls
}

// stubSearcher returns the same documents for every variant.
type stubSearcher struct {
	mu    sync.Mutex
	docs  []datatypes.Document
	calls int
}

func (s *stubSearcher) SimilaritySearch(_ context.Context, _ string, k int, _ *retrieval.RetrievalFilter) ([]datatypes.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if k > len(s.docs) {
		k = len(s.docs)
	}
	return append([]datatypes.Document(nil), s.docs[:k]...), nil
}

func (s *stubSearcher) searchCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// spyStore counts writes so tests can assert the cache-skip invariant.
type spyStore struct {
	*cache.MemoryStore
	mu   sync.Mutex
	sets int
}

func newSpyStore() *spyStore {
	return &spyStore{MemoryStore: cache.NewMemoryStore()}
}

func (s *spyStore) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	s.sets++
	s.mu.Unlock()
	return s.MemoryStore.SetWithTTL(ctx, key, value, ttl)
}

func (s *spyStore) setCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sets
}

// collector implements Emitter, recording every event it receives.
type collector struct {
	mu     sync.Mutex
	events []datatypes.StreamEvent
}

func (c *collector) Emit(event datatypes.StreamEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *collector) types() []datatypes.StreamEventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]datatypes.StreamEventType, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.Type)
	}
	return out
}

func (c *collector) answerText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var b strings.Builder
	for _, e := range c.events {
		if e.Type == datatypes.EventChunk {
			b.WriteString(e.Content)
		}
	}
	return b.String()
}

// =============================================================================
// Harness
// =============================================================================

func evalJSON(grounded, hallucinating bool, confidence float64) string {
	return fmt.Sprintf(`{"is_grounded": %t, "is_relevant": true, "is_complete": true,
		"confidence": %g, "has_hallucinations": %t, "issues": [], "reasoning": "scripted"}`,
		grounded, confidence, hallucinating)
}

type testEnv struct {
	pipeline  *Pipeline
	generator *scriptedModel
	judge     *scriptedModel
	searcher  *stubSearcher
	responses *spyStore
	convs     *conversation.Store
}

func testDocs(n int) []datatypes.Document {
	docs := make([]datatypes.Document, 0, n)
	for i := 0; i < n; i++ {
		docs = append(docs, datatypes.Document{
			Text: fmt.Sprintf("Fact %d: the quarterly report covers revenue line %d in detail.", i, i),
			Metadata: datatypes.DocumentMetadata{
				Title: fmt.Sprintf("report-%d.pdf", i),
				Page:  i + 1,
				Score: 0.9,
			},
		})
	}
	return docs
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()

	generator := &scriptedModel{chatQueue: []string{"The report covers revenue in detail [1]."}}
	judgeModel := &scriptedModel{chatQueue: []string{evalJSON(true, false, 0.9)}}
	searcher := &stubSearcher{docs: testDocs(4)}
	responses := newSpyStore()

	cls, err := classifier.New(&scriptedModel{}, nil, classifier.DefaultConfig())
	require.NoError(t, err)
	retriever, err := retrieval.NewMultiQueryRetriever(searcher, &scriptedModel{}, 2, time.Second)
	require.NoError(t, err)
	j, err := judge.NewJudge(judgeModel, time.Second)
	require.NoError(t, err)
	convs, err := conversation.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = convs.Close() })

	config := DefaultConfig()
	config.RetryCooldown = time.Millisecond
	config.GenerateTimeout = 2 * time.Second
	config.FirstChunkTimeout = time.Second
	config.ChunkTimeout = time.Second
	if mutate != nil {
		mutate(&config)
	}

	p, err := New(Deps{
		Classifier:    cls,
		Router:        routing.NewRouter(0.7),
		Retriever:     retriever,
		Judge:         j,
		Generator:     generator,
		Responses:     cache.NewResponseCache(responses, time.Minute),
		Conversations: convs,
	}, config)
	require.NoError(t, err)

	return &testEnv{
		pipeline:  p,
		generator: generator,
		judge:     judgeModel,
		searcher:  searcher,
		responses: responses,
		convs:     convs,
	}
}

func factualRequest() *datatypes.ChatRAGRequest {
	return &datatypes.ChatRAGRequest{
		Message:     "What does the quarterly report say about revenue?",
		WorkspaceId: "ws-test",
		ForceIntent: "factual",
	}
}

// =============================================================================
// Blocking mode
// =============================================================================

func TestRun_HappyPathAnswersAndCaches(t *testing.T) {
	env := newTestEnv(t, nil)
	req := factualRequest()

	resp, err := env.pipeline.Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "The report covers revenue in detail [1].", resp.Answer)
	assert.Equal(t, datatypes.IntentFactual, resp.Intent)
	assert.False(t, resp.Blocked)
	assert.False(t, resp.Cached)
	assert.NotEmpty(t, resp.Sources)
	require.NotNil(t, resp.Evaluation)
	assert.True(t, resp.Evaluation.IsGrounded)

	// Cached for next time.
	assert.Equal(t, 1, env.responses.setCount())

	// Both turns persisted atomically.
	history, err := env.convs.History(context.Background(), "ws-test", resp.ConversationId, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "user", history[0].Role)
	assert.Equal(t, "assistant", history[1].Role)
	assert.Equal(t, resp.Answer, history[1].Content)
}

func TestRun_CacheHitSkipsEverything(t *testing.T) {
	env := newTestEnv(t, nil)
	req := factualRequest()
	req.ConversationId = "conv_fixed"

	first, err := env.pipeline.Run(context.Background(), req)
	require.NoError(t, err)
	generatorCalls := env.generator.calls()
	searchCalls := env.searcher.searchCalls()

	second, err := env.pipeline.Run(context.Background(), factualRequestWithConversation("conv_fixed"))
	require.NoError(t, err)

	assert.True(t, second.Cached)
	assert.Equal(t, first.Answer, second.Answer)
	assert.Equal(t, generatorCalls, env.generator.calls(), "generator must not run on a cache hit")
	assert.Equal(t, searchCalls, env.searcher.searchCalls(), "retrieval must not run on a cache hit")
}

func factualRequestWithConversation(conversationId string) *datatypes.ChatRAGRequest {
	req := factualRequest()
	req.ConversationId = conversationId
	return req
}

func TestRun_BlockedAnswerIsNeverCached(t *testing.T) {
	env := newTestEnv(t, nil)
	// Hallucinating, ungrounded, and below the retry floor: block without
	// retrying.
	env.judge.chatQueue = []string{evalJSON(false, true, 0.1)}

	resp, err := env.pipeline.Run(context.Background(), factualRequest())
	require.NoError(t, err)

	assert.True(t, resp.Blocked)
	assert.Equal(t, FallbackMessage, resp.Answer)
	assert.Equal(t, 0, env.responses.setCount(), "blocked answers must never reach the cache")

	// The fallback, not the hallucinated text, is what gets persisted.
	history, err := env.convs.History(context.Background(), "ws-test", resp.ConversationId, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, FallbackMessage, history[1].Content)
}

func TestRun_RetryIsBoundedToOne(t *testing.T) {
	env := newTestEnv(t, nil)
	env.generator.chatQueue = []string{"first weak answer", "second better answer [1]"}
	// First verdict triggers a retry; the second would too if retries were
	// unbounded.
	env.judge.chatQueue = []string{
		evalJSON(false, false, 0.3),
		evalJSON(true, false, 0.8),
	}

	resp, err := env.pipeline.Run(context.Background(), factualRequest())
	require.NoError(t, err)

	assert.Equal(t, 2, env.generator.calls(), "exactly one retry generation")
	assert.Equal(t, 2, env.judge.calls(), "exactly one retry evaluation")
	assert.Equal(t, "second better answer [1]", resp.Answer)
	assert.False(t, resp.Blocked)
	assert.Equal(t, true, resp.Metadata["retried"])
}

func TestRun_RetryKeptOnlyWhenImproved(t *testing.T) {
	env := newTestEnv(t, nil)
	env.generator.chatQueue = []string{"original answer", "worse retry answer"}
	env.judge.chatQueue = []string{
		evalJSON(false, false, 0.3),
		evalJSON(false, true, 0.2), // worse and hallucinating
	}

	resp, err := env.pipeline.Run(context.Background(), factualRequest())
	require.NoError(t, err)

	assert.Equal(t, "original answer", resp.Answer)
	require.NotNil(t, resp.Evaluation)
	assert.InDelta(t, 0.3, resp.Evaluation.Confidence, 1e-9)
	assert.Equal(t, true, resp.Metadata["retried"])
}

func TestRun_RetrySkippedBelowConfidenceFloor(t *testing.T) {
	env := newTestEnv(t, nil)
	env.judge.chatQueue = []string{evalJSON(false, false, 0.05)}

	_, err := env.pipeline.Run(context.Background(), factualRequest())
	require.NoError(t, err)

	assert.Equal(t, 1, env.generator.calls(), "retry is pointless below the floor")
	assert.Equal(t, 1, env.judge.calls())
}

func TestRun_BlockingPolicy(t *testing.T) {
	tests := []struct {
		name     string
		strict   bool
		grounded bool
		blocked  bool
	}{
		{"lenient passes grounded hallucination", false, true, false},
		{"strict blocks grounded hallucination", true, true, true},
		{"lenient blocks ungrounded hallucination", false, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, func(c *Config) {
				c.StrictBlocking = tt.strict
				// Below the retry floor so the policy is isolated.
				c.MinConfidence = 0.4
				c.RetryMinConfidence = 0.4
			})
			env.judge.chatQueue = []string{evalJSON(tt.grounded, true, 0.3)}

			resp, err := env.pipeline.Run(context.Background(), factualRequest())
			require.NoError(t, err)
			assert.Equal(t, tt.blocked, resp.Blocked)
			if tt.blocked {
				assert.Equal(t, FallbackMessage, resp.Answer)
			}
		})
	}
}

func TestRun_ConversationalSkipsRetrievalAndJudge(t *testing.T) {
	env := newTestEnv(t, nil)
	env.generator.chatQueue = []string{"Hello! How can I help with your documents?"}
	req := factualRequest()
	req.ForceIntent = "chitchat"

	resp, err := env.pipeline.Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "Hello! How can I help with your documents?", resp.Answer)
	assert.Equal(t, 0, env.searcher.searchCalls())
	assert.Equal(t, 0, env.judge.calls())
	assert.Nil(t, resp.Evaluation)
	assert.Empty(t, resp.Sources)
}

func TestRun_FilterValidationErrorSurfaces(t *testing.T) {
	env := newTestEnv(t, nil)
	req := factualRequest()
	req.Filters = map[string]any{"page": 0}

	_, err := env.pipeline.Run(context.Background(), req)
	require.Error(t, err)

	var verr *datatypes.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, 0, env.generator.calls(), "generation must not run with invalid filters")
}

func TestRun_ForcedIntentBypassesClassification(t *testing.T) {
	env := newTestEnv(t, nil)
	req := factualRequest()
	req.ForceIntent = "comparison"
	env.generator.chatQueue = []string{"Comparison answer [1]."}

	resp, err := env.pipeline.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, datatypes.IntentComparison, resp.Intent)
	assert.InDelta(t, 1.0, resp.Confidence, 1e-9)
}

// =============================================================================
// Streaming mode
// =============================================================================

func TestRunStream_EventSequence(t *testing.T) {
	env := newTestEnv(t, nil)
	env.generator.streamChunks = []string{"The report ", "covers revenue ", "in detail [1]."}
	sink := &collector{}

	err := env.pipeline.RunStream(context.Background(), factualRequest(), sink)
	require.NoError(t, err)

	for _, event := range sink.events {
		assert.NoError(t, event.Validate(), "every emitted event must be valid")
	}

	types := sink.types()
	require.NotEmpty(t, types)
	assert.Equal(t, datatypes.EventStatus, types[0])
	assert.Equal(t, datatypes.EventDone, types[len(types)-1])
	assert.Equal(t, "The report covers revenue in detail [1].", sink.answerText())

	// Sources arrive before the first chunk; saved before done.
	order := map[datatypes.StreamEventType]int{}
	for i, typ := range types {
		if _, seen := order[typ]; !seen {
			order[typ] = i
		}
	}
	assert.Less(t, order[datatypes.EventSources], order[datatypes.EventChunk])
	assert.Less(t, order[datatypes.EventChunk], order[datatypes.EventMetadata])
	assert.Less(t, order[datatypes.EventMetadata], order[datatypes.EventSaved])
	assert.Less(t, order[datatypes.EventSaved], order[datatypes.EventDone])
}

func TestRunStream_BlockedReportedInMetadataNotCached(t *testing.T) {
	env := newTestEnv(t, nil)
	env.generator.streamChunks = []string{"made up nonsense"}
	env.judge.chatQueue = []string{evalJSON(false, true, 0.1)}
	sink := &collector{}

	req := factualRequest()
	err := env.pipeline.RunStream(context.Background(), req, sink)
	require.NoError(t, err)

	var metadata map[string]any
	for _, event := range sink.events {
		if event.Type == datatypes.EventMetadata {
			metadata = event.Metadata
		}
	}
	require.NotNil(t, metadata)
	assert.Equal(t, true, metadata["blocked"])
	assert.Equal(t, FallbackMessage, metadata["fallback"])
	assert.Equal(t, 0, env.responses.setCount(), "blocked stream results must never be cached")

	// Persistence stores the fallback, not the streamed hallucination.
	history, err := env.convs.History(context.Background(), "ws-test", req.ConversationId, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, FallbackMessage, history[1].Content)
}

func TestRunStream_CacheHitReplays(t *testing.T) {
	env := newTestEnv(t, nil)
	req := factualRequest()
	req.ConversationId = "conv_replay"

	_, err := env.pipeline.Run(context.Background(), req)
	require.NoError(t, err)
	generatorCalls := env.generator.calls()

	sink := &collector{}
	err = env.pipeline.RunStream(context.Background(), factualRequestWithConversation("conv_replay"), sink)
	require.NoError(t, err)

	assert.Equal(t, generatorCalls, env.generator.calls())
	assert.Equal(t, "The report covers revenue in detail [1].", sink.answerText())
	assert.Equal(t, datatypes.EventDone, sink.types()[len(sink.types())-1])
}

func TestRunStream_ConversationalPath(t *testing.T) {
	env := newTestEnv(t, nil)
	env.generator.streamChunks = []string{"Hi ", "there!"}
	req := factualRequest()
	req.ForceIntent = "chitchat"
	sink := &collector{}

	err := env.pipeline.RunStream(context.Background(), req, sink)
	require.NoError(t, err)

	assert.Equal(t, "Hi there!", sink.answerText())
	assert.Equal(t, 0, env.searcher.searchCalls())
	for _, event := range sink.events {
		assert.NotEqual(t, datatypes.EventSources, event.Type, "no sources on the conversational path")
	}
}

// =============================================================================
// Generation timeouts
// =============================================================================

func TestGenerateStreaming_PartialGetsTimeoutSuffix(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.FirstChunkTimeout = 50 * time.Millisecond
		c.ChunkTimeout = 50 * time.Millisecond
		c.GenerateTimeout = time.Second
	})
	env.generator.streamChunks = []string{"partial answer"}
	env.generator.streamHang = true

	answer, err := env.pipeline.generateStreaming(context.Background(),
		[]llm.Message{{Role: "user", Content: "q"}},
		func(string) error { return nil })

	require.NoError(t, err)
	assert.Equal(t, "partial answer"+timeoutSuffix, answer)
}

func TestGenerateStreaming_ClientCancelSkipsTimeoutSuffix(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.FirstChunkTimeout = time.Second
		c.ChunkTimeout = time.Second
		c.GenerateTimeout = 5 * time.Second
	})
	env.generator.streamChunks = []string{"partial answer"}
	env.generator.streamHang = true

	ctx, cancel := context.WithCancel(context.Background())
	answer, err := env.pipeline.generateStreaming(ctx,
		[]llm.Message{{Role: "user", Content: "q"}},
		func(string) error {
			// Hang up as soon as the first chunk arrives.
			cancel()
			return nil
		})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "partial answer", answer, "caller cancellation must not add the interruption suffix")
}

func TestGenerateStreaming_NoTextTimeoutIsError(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.FirstChunkTimeout = 50 * time.Millisecond
		c.ChunkTimeout = 50 * time.Millisecond
		c.GenerateTimeout = time.Second
	})
	env.generator.streamHang = true

	_, err := env.pipeline.generateStreaming(context.Background(),
		[]llm.Message{{Role: "user", Content: "q"}},
		func(string) error { return nil })

	var timeoutErr *datatypes.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, "generate", timeoutErr.Stage)
}

// =============================================================================
// Emission boundary
// =============================================================================

func TestEmit_InvalidEventIsDroppedNotSent(t *testing.T) {
	sink := &collector{}

	// A status event with no message fails validation.
	err := emitStatus(sink, "")
	require.NoError(t, err, "dropping is not an error")
	assert.Empty(t, sink.events)

	// An unknown type never reaches the sink either.
	err = emit(sink, datatypes.NewStreamEvent(datatypes.StreamEventType("bogus"), nil))
	require.NoError(t, err)
	assert.Empty(t, sink.events)
}
