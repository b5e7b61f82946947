// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/kodiak/services/llm"
	"github.com/AleutianAI/kodiak/services/orchestrator/datatypes"
)

// stubSearcher returns canned hits per query, optionally after a delay so
// tests can force out-of-order completion.
type stubSearcher struct {
	hits   map[string][]datatypes.Document
	delays map[string]time.Duration
	err    error
}

func (s *stubSearcher) SimilaritySearch(ctx context.Context, query string, k int, _ *RetrievalFilter) ([]datatypes.Document, error) {
	if d, ok := s.delays[query]; ok {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	hits := s.hits[query]
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// stubExpander returns fixed paraphrase / HyDE text.
type stubExpander struct {
	response string
	err      error
}

func (s *stubExpander) Generate(_ context.Context, _ string, _ llm.GenerationParams) (string, error) {
	return s.response, s.err
}
func (s *stubExpander) Chat(_ context.Context, _ []llm.Message, _ llm.GenerationParams) (string, error) {
	return s.response, s.err
}
func (s *stubExpander) ChatStream(_ context.Context, _ []llm.Message, _ llm.GenerationParams, cb llm.StreamCallback) error {
	if s.err != nil {
		return s.err
	}
	return cb(s.response)
}

func doc(text string, page int) datatypes.Document {
	return datatypes.Document{Text: text, Metadata: datatypes.DocumentMetadata{Page: page}}
}

func testFilter(t *testing.T) *RetrievalFilter {
	t.Helper()
	f, err := BuildFilter(nil, "ws1")
	require.NoError(t, err)
	return f
}

func TestDedupDocuments_FirstOccurrenceWins(t *testing.T) {
	shared := strings.Repeat("x", 150)
	docs := []datatypes.Document{
		{Text: shared + " first", Metadata: datatypes.DocumentMetadata{Title: "first"}},
		{Text: shared + " second", Metadata: datatypes.DocumentMetadata{Title: "second"}},
		{Text: "unique chunk", Metadata: datatypes.DocumentMetadata{Title: "third"}},
	}

	deduped := DedupDocuments(docs)

	// The two chunks share their first 100 characters, so they collapse
	// to one and the earlier occurrence is kept.
	require.Len(t, deduped, 2)
	assert.Equal(t, "first", deduped[0].Metadata.Title)
	assert.Equal(t, "third", deduped[1].Metadata.Title)
}

func TestDedupDocuments_Idempotent(t *testing.T) {
	docs := []datatypes.Document{
		doc("alpha chunk content", 1),
		doc("alpha chunk content", 1),
		doc("beta chunk content", 2),
	}
	once := DedupDocuments(docs)
	twice := DedupDocuments(once)
	assert.Equal(t, once, twice)
}

func TestDedupDocuments_ExplicitFingerprintPreferred(t *testing.T) {
	docs := []datatypes.Document{
		{Text: "completely different text A", Metadata: datatypes.DocumentMetadata{Fingerprint: "fp1"}},
		{Text: "completely different text B", Metadata: datatypes.DocumentMetadata{Fingerprint: "fp1"}},
	}
	assert.Len(t, DedupDocuments(docs), 1)
}

func TestRetrieve_MergesInVariantOrder(t *testing.T) {
	// The paraphrase search finishes first, but the original query's hits
	// must still come first in the merged result.
	searcher := &stubSearcher{
		hits: map[string][]datatypes.Document{
			"original query": {doc("from original", 1)},
			"rewritten once": {doc("from paraphrase", 2)},
		},
		delays: map[string]time.Duration{"original query": 20 * time.Millisecond},
	}
	r, err := NewMultiQueryRetriever(searcher, &stubExpander{response: "rewritten once"}, 1, time.Second)
	require.NoError(t, err)

	result, err := r.Retrieve(context.Background(), "original query", testFilter(t), datatypes.StrategyConfig{
		TopK: 5, UseQueryExpansion: true,
	})
	require.NoError(t, err)

	require.Len(t, result.Documents, 2)
	assert.Equal(t, "from original", result.Documents[0].Text)
	assert.Equal(t, "from paraphrase", result.Documents[1].Text)
	assert.Equal(t, []string{"original query", "rewritten once"}, result.Queries)
}

func TestRetrieve_ExpansionFailureDegrades(t *testing.T) {
	searcher := &stubSearcher{
		hits: map[string][]datatypes.Document{"q": {doc("hit", 1)}},
	}
	r, err := NewMultiQueryRetriever(searcher, &stubExpander{err: errors.New("model down")}, 2, time.Second)
	require.NoError(t, err)

	result, err := r.Retrieve(context.Background(), "q", testFilter(t), datatypes.StrategyConfig{
		TopK: 5, UseQueryExpansion: true, UseHyDE: true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"q"}, result.Queries, "falls back to the original query alone")
	assert.Len(t, result.Documents, 1)
}

func TestRetrieve_AllVariantsFailingIsAnError(t *testing.T) {
	r, err := NewMultiQueryRetriever(&stubSearcher{err: errors.New("index down")}, nil, 0, time.Second)
	require.NoError(t, err)

	_, err = r.Retrieve(context.Background(), "q", testFilter(t), datatypes.StrategyConfig{TopK: 5})
	assert.Error(t, err)
}

func TestRetrieve_Metrics(t *testing.T) {
	dup := doc("duplicated chunk body", 4)
	searcher := &stubSearcher{
		hits: map[string][]datatypes.Document{
			"q":    {dup, doc("other chunk", 7)},
			"hyde": {dup},
		},
	}
	r, err := NewMultiQueryRetriever(searcher, &stubExpander{response: "hyde"}, 1, time.Second)
	require.NoError(t, err)

	result, err := r.Retrieve(context.Background(), "q", testFilter(t), datatypes.StrategyConfig{
		TopK: 5, UseHyDE: true,
	})
	require.NoError(t, err)

	m := result.Metrics
	assert.Equal(t, 2, m.VariantCount)
	assert.Equal(t, 3, m.RawCount)
	assert.Equal(t, 2, m.DedupedCount)
	assert.InDelta(t, 100.0/3.0, m.DedupRate, 0.01)
	assert.Equal(t, 2, m.UniquePages)
	assert.Greater(t, m.AvgChunkLength, 0.0)
}

func TestComputeMetrics_FractionalAverageChunkLength(t *testing.T) {
	deduped := []datatypes.Document{doc("abc", 0), doc("puma", 0)}

	m := computeMetrics(1, 2, deduped)
	assert.InDelta(t, 3.5, m.AvgChunkLength, 1e-9)
}

func TestRetrieve_ZeroTopKSkipsSearch(t *testing.T) {
	r, err := NewMultiQueryRetriever(&stubSearcher{err: errors.New("must not be called")}, nil, 0, time.Second)
	require.NoError(t, err)

	result, err := r.Retrieve(context.Background(), "hi", testFilter(t), datatypes.StrategyConfig{TopK: 0})
	require.NoError(t, err)
	assert.Empty(t, result.Documents)
}

func TestRetrieveMore_MergesBehindExisting(t *testing.T) {
	searcher := &stubSearcher{
		hits: map[string][]datatypes.Document{
			"q": {doc("existing chunk", 1), doc("new chunk", 2)},
		},
	}
	r, err := NewMultiQueryRetriever(searcher, nil, 0, time.Second)
	require.NoError(t, err)

	existing := &datatypes.RetrievalResult{
		Documents: []datatypes.Document{doc("existing chunk", 1)},
		Queries:   []string{"q"},
	}
	widened, err := r.RetrieveMore(context.Background(), existing, testFilter(t), 10)
	require.NoError(t, err)

	require.Len(t, widened.Documents, 2)
	assert.Equal(t, "existing chunk", widened.Documents[0].Text, "established ordering preserved")
	assert.Equal(t, "new chunk", widened.Documents[1].Text)
}

func TestRerank_OrdersByOverlapAndBounds(t *testing.T) {
	docs := []datatypes.Document{
		doc("completely unrelated text about llamas", 1),
		doc("token rotation policy for expired refresh tokens", 2),
		doc("refresh token rotation explained step by step", 3),
	}

	top := Rerank(context.Background(), docs, "how does refresh token rotation work", 2)

	require.Len(t, top, 2)
	assert.NotEqual(t, "completely unrelated text about llamas", top[0].Text)
	assert.NotEqual(t, "completely unrelated text about llamas", top[1].Text)

	// Ties keep input order.
	tied := []datatypes.Document{doc("same words here", 1), doc("same words here too", 2)}
	ranked := Rerank(context.Background(), tied, "zzz unmatched", 2)
	assert.Equal(t, 1, ranked[0].Metadata.Page)
}

func TestCompressor_NilModelIsNoOp(t *testing.T) {
	c := NewCompressor(nil)
	docs := []datatypes.Document{doc(strings.Repeat("long text ", 100), 1)}
	out := c.Compress(context.Background(), docs, "q")
	assert.Equal(t, docs, out)
}

func TestCompressor_KeepsOriginalText(t *testing.T) {
	long := strings.Repeat("padding sentence about many things. ", 30)
	c := NewCompressor(&stubExpander{response: "the one relevant sentence."})

	out := c.Compress(context.Background(), []datatypes.Document{doc(long, 1)}, "q")

	require.Len(t, out, 1)
	assert.Equal(t, long, out[0].Text, "original text untouched")
	assert.Equal(t, "the one relevant sentence.", out[0].CompressedText)
}

func TestCompressor_NoneMeansUncompressed(t *testing.T) {
	long := strings.Repeat("irrelevant filler text for the test body. ", 30)
	c := NewCompressor(&stubExpander{response: "NONE"})

	out := c.Compress(context.Background(), []datatypes.Document{doc(long, 1)}, "q")
	assert.Empty(t, out[0].CompressedText)
}
