// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/kodiak/services/orchestrator/datatypes"
)

// Rerank scores each chunk by lexical overlap with the query and returns
// the top N.
//
// # Description
//
// The score blends term overlap with the index's own similarity score so
// chunks with no lexical overlap but strong vector similarity are not
// discarded outright. Ties preserve input position, which keeps reranking
// deterministic for equal-scoring chunks.
func Rerank(ctx context.Context, docs []datatypes.Document, query string, topN int) []datatypes.Document {
	_, span := tracer.Start(ctx, "Rerank")
	defer span.End()
	span.SetAttributes(attribute.Int("rerank.in", len(docs)), attribute.Int("rerank.top_n", topN))

	if topN <= 0 || len(docs) == 0 {
		return nil
	}

	queryTerms := termSet(query)
	type scored struct {
		doc   datatypes.Document
		score float64
		pos   int
	}
	ranked := make([]scored, len(docs))
	for i, doc := range docs {
		ranked[i] = scored{
			doc:   doc,
			score: 0.7*overlapScore(queryTerms, doc.Text) + 0.3*doc.Metadata.Score,
			pos:   i,
		}
	}

	sort.SliceStable(ranked, func(a, b int) bool {
		if ranked[a].score != ranked[b].score {
			return ranked[a].score > ranked[b].score
		}
		return ranked[a].pos < ranked[b].pos
	})

	if topN > len(ranked) {
		topN = len(ranked)
	}
	out := make([]datatypes.Document, topN)
	for i := 0; i < topN; i++ {
		out[i] = ranked[i].doc
		out[i].Metadata.Score = ranked[i].score
	}
	return out
}

// overlapScore is the fraction of query terms present in the text.
func overlapScore(queryTerms map[string]bool, text string) float64 {
	if len(queryTerms) == 0 {
		return 0
	}
	textTerms := termSet(text)
	matched := 0
	for term := range queryTerms {
		if textTerms[term] {
			matched++
		}
	}
	return float64(matched) / float64(len(queryTerms))
}

// stopwords excluded from overlap scoring; they match everything.
var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true, "was": true,
	"be": true, "of": true, "in": true, "on": true, "to": true, "for": true,
	"and": true, "or": true, "it": true, "this": true, "that": true,
	"what": true, "how": true, "do": true, "does": true, "i": true,
}

func termSet(s string) map[string]bool {
	terms := make(map[string]bool)
	for _, field := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}) {
		if len(field) > 1 && !stopwords[field] {
			terms[field] = true
		}
	}
	return terms
}
