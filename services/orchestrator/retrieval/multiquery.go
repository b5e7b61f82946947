// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/kodiak/services/llm"
	"github.com/AleutianAI/kodiak/services/orchestrator/datatypes"
)

// fingerprintLength is how many leading characters identify a chunk for
// deduplication.
const fingerprintLength = 100

const paraphrasePrompt = `Rewrite the following search query %d different ways, preserving its meaning.
Return one rewrite per line with no numbering or commentary.

Query: %s`

const hydePrompt = `Write a short, factual paragraph that would plausibly answer the following question.
Write only the paragraph, no preamble.

Question: %s`

// MultiQueryRetriever expands a query into variants, fans out searches,
// and merges the results.
//
// # Description
//
// Variants are the original query, optional model-generated paraphrases,
// and an optional hypothetical-answer pseudo-document. Searches run
// concurrently but results merge in variant order, so first-occurrence
// dedup stays deterministic regardless of completion order. Variant
// expansion failures degrade to searching the original query alone.
//
// # Thread Safety
//
// Safe for concurrent use.
type MultiQueryRetriever struct {
	searcher        VectorSearcher
	expander        llm.LLMClient // nil disables paraphrase and HyDE variants
	paraphraseCount int
	searchTimeout   time.Duration
}

// NewMultiQueryRetriever creates a retriever.
//
// Inputs:
//
//	searcher - Index seam. Required.
//	expander - Model for paraphrase/HyDE generation. May be nil.
//	paraphraseCount - Paraphrase variants per query. <= 0 selects 2.
//	searchTimeout - Per-variant search budget. <= 0 selects 10s.
func NewMultiQueryRetriever(searcher VectorSearcher, expander llm.LLMClient, paraphraseCount int, searchTimeout time.Duration) (*MultiQueryRetriever, error) {
	if searcher == nil {
		return nil, fmt.Errorf("vector searcher is required")
	}
	if paraphraseCount <= 0 {
		paraphraseCount = 2
	}
	if searchTimeout <= 0 {
		searchTimeout = 10 * time.Second
	}
	return &MultiQueryRetriever{
		searcher:        searcher,
		expander:        expander,
		paraphraseCount: paraphraseCount,
		searchTimeout:   searchTimeout,
	}, nil
}

// Retrieve runs the multi-variant retrieval pipeline.
//
// Inputs:
//
//	query - The user's question.
//	filter - Tenant-scoped index filter from BuildFilter.
//	strategy - Per-intent knobs from the router.
func (r *MultiQueryRetriever) Retrieve(ctx context.Context, query string, filter *RetrievalFilter, strategy datatypes.StrategyConfig) (*datatypes.RetrievalResult, error) {
	ctx, span := tracer.Start(ctx, "MultiQueryRetriever.Retrieve")
	defer span.End()

	if strategy.TopK <= 0 {
		return &datatypes.RetrievalResult{Queries: []string{query}}, nil
	}

	variants := r.expandQuery(ctx, query, strategy)
	span.SetAttributes(attribute.Int("retrieve.variants", len(variants)))

	perVariant, err := r.fanOut(ctx, variants, strategy.TopK, filter)
	if err != nil {
		return nil, err
	}

	var raw []datatypes.Document
	for _, hits := range perVariant {
		raw = append(raw, hits...)
	}
	deduped := DedupDocuments(raw)

	result := &datatypes.RetrievalResult{
		Documents: deduped,
		Queries:   variants,
		Metrics:   computeMetrics(len(variants), len(raw), deduped),
	}
	span.SetAttributes(
		attribute.Int("retrieve.raw", len(raw)),
		attribute.Int("retrieve.deduped", len(deduped)),
	)
	return result, nil
}

// RetrieveMore widens an existing result for the retry path: the first two
// variants re-run at a larger k, and the new hits merge behind the
// existing set so established ordering is preserved.
func (r *MultiQueryRetriever) RetrieveMore(ctx context.Context, existing *datatypes.RetrievalResult, filter *RetrievalFilter, largerK int) (*datatypes.RetrievalResult, error) {
	ctx, span := tracer.Start(ctx, "MultiQueryRetriever.RetrieveMore")
	defer span.End()

	variants := existing.Queries
	if len(variants) > 2 {
		variants = variants[:2]
	}
	if len(variants) == 0 {
		return existing, nil
	}

	perVariant, err := r.fanOut(ctx, variants, largerK, filter)
	if err != nil {
		return nil, err
	}

	merged := make([]datatypes.Document, len(existing.Documents), len(existing.Documents)+largerK)
	copy(merged, existing.Documents)
	rawCount := len(merged)
	for _, hits := range perVariant {
		rawCount += len(hits)
		merged = append(merged, hits...)
	}
	deduped := DedupDocuments(merged)

	result := &datatypes.RetrievalResult{
		Documents: deduped,
		Queries:   existing.Queries,
		Metrics:   computeMetrics(len(existing.Queries), rawCount, deduped),
	}
	span.SetAttributes(attribute.Int("retrieve.merged", len(deduped)))
	return result, nil
}

// expandQuery builds the ordered variant list. The original query is
// always first; expansion failures are logged and skipped.
func (r *MultiQueryRetriever) expandQuery(ctx context.Context, query string, strategy datatypes.StrategyConfig) []string {
	variants := []string{query}
	if r.expander == nil {
		return variants
	}

	if strategy.UseQueryExpansion {
		paraphrases, err := r.generateParaphrases(ctx, query)
		if err != nil {
			slog.Warn("query expansion failed, continuing with original query", "error", err)
		} else {
			variants = append(variants, paraphrases...)
		}
	}
	if strategy.UseHyDE {
		pseudo, err := r.generateHyDE(ctx, query)
		if err != nil {
			slog.Warn("HyDE generation failed, continuing without it", "error", err)
		} else if pseudo != "" {
			variants = append(variants, pseudo)
		}
	}
	return variants
}

func (r *MultiQueryRetriever) generateParaphrases(ctx context.Context, query string) ([]string, error) {
	raw, err := r.expander.Generate(ctx, fmt.Sprintf(paraphrasePrompt, r.paraphraseCount, query), llm.GenerationParams{
		Temperature: llm.Float32Ptr(0.7),
		MaxTokens:   llm.IntPtr(256),
	})
	if err != nil {
		return nil, err
	}

	var out []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "-*0123456789. "))
		if line != "" && !strings.EqualFold(line, query) {
			out = append(out, line)
		}
		if len(out) == r.paraphraseCount {
			break
		}
	}
	return out, nil
}

func (r *MultiQueryRetriever) generateHyDE(ctx context.Context, query string) (string, error) {
	raw, err := r.expander.Generate(ctx, fmt.Sprintf(hydePrompt, query), llm.GenerationParams{
		Temperature: llm.Float32Ptr(0.5),
		MaxTokens:   llm.IntPtr(320),
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(raw), nil
}

// fanOut searches every variant concurrently. Results come back indexed
// by variant position so the merge order matches the variant list, not
// completion order. A variant failure only fails the whole retrieval when
// no variant succeeded.
func (r *MultiQueryRetriever) fanOut(ctx context.Context, variants []string, k int, filter *RetrievalFilter) ([][]datatypes.Document, error) {
	perVariant := make([][]datatypes.Document, len(variants))
	errs := make([]error, len(variants))

	g, gctx := errgroup.WithContext(ctx)
	for i, variant := range variants {
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(gctx, r.searchTimeout)
			defer cancel()
			hits, err := r.searcher.SimilaritySearch(sctx, variant, k, filter)
			if err != nil {
				errs[i] = err
				slog.Warn("variant search failed", "variant", i, "error", err)
				return nil
			}
			perVariant[i] = hits
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
		}
	}
	if failed == len(variants) {
		return nil, fmt.Errorf("all %d variant searches failed: %w", len(variants), errs[0])
	}
	return perVariant, nil
}

// DedupDocuments removes near-duplicate chunks, keeping the first
// occurrence in input order. Identity is the explicit fingerprint when
// present, else the chunk's first 100 characters. Idempotent.
func DedupDocuments(docs []datatypes.Document) []datatypes.Document {
	seen := make(map[string]bool, len(docs))
	out := make([]datatypes.Document, 0, len(docs))
	for _, doc := range docs {
		fp := fingerprintOf(doc)
		if seen[fp] {
			continue
		}
		seen[fp] = true
		out = append(out, doc)
	}
	return out
}

func fingerprintOf(doc datatypes.Document) string {
	if doc.Metadata.Fingerprint != "" {
		return doc.Metadata.Fingerprint
	}
	runes := []rune(doc.Text)
	if len(runes) > fingerprintLength {
		runes = runes[:fingerprintLength]
	}
	return string(runes)
}

func computeMetrics(variantCount, rawCount int, deduped []datatypes.Document) datatypes.RetrievalMetrics {
	metrics := datatypes.RetrievalMetrics{
		VariantCount: variantCount,
		RawCount:     rawCount,
		DedupedCount: len(deduped),
	}
	if rawCount > 0 {
		metrics.DedupRate = 100 * float64(rawCount-len(deduped)) / float64(rawCount)
	}

	pages := make(map[int]bool)
	totalLength := 0
	for _, doc := range deduped {
		totalLength += len(doc.Text)
		if doc.Metadata.Page > 0 {
			pages[doc.Metadata.Page] = true
		}
	}
	if len(deduped) > 0 {
		metrics.AvgChunkLength = float64(totalLength) / float64(len(deduped))
	}
	metrics.UniquePages = len(pages)
	return metrics
}
