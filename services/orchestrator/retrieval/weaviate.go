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
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/kodiak/services/orchestrator/datatypes"
)

var tracer = otel.Tracer("kodiak.orchestrator.retrieval")

// VectorSearcher is the retrieval seam over the document index.
//
// Implementations must honor the filter's tenant boundary; the retriever
// never widens a search past it.
type VectorSearcher interface {
	SimilaritySearch(ctx context.Context, query string, k int, filter *RetrievalFilter) ([]datatypes.Document, error)
}

// defaultChunkClass is the Weaviate class holding document chunks.
const defaultChunkClass = "DocumentChunk"

// WeaviateSearcher implements VectorSearcher over a Weaviate instance
// using hybrid (BM25 + vector) search.
//
// Thread Safety: This type is safe for concurrent use.
type WeaviateSearcher struct {
	client    *weaviate.Client
	className string
	alpha     float32 // hybrid balance: 0 = pure keyword, 1 = pure vector
}

// NewWeaviateSearcher creates a searcher over the given client.
//
// Inputs:
//
//	className - Chunk class name. Empty selects "DocumentChunk".
//	alpha - Hybrid alpha in [0,1]. 0.5 is a reasonable default.
func NewWeaviateSearcher(client *weaviate.Client, className string, alpha float32) (*WeaviateSearcher, error) {
	if client == nil {
		return nil, fmt.Errorf("weaviate client is required")
	}
	if className == "" {
		className = defaultChunkClass
	}
	if alpha < 0 || alpha > 1 {
		return nil, fmt.Errorf("hybrid alpha must be in [0,1], got %f", alpha)
	}
	return &WeaviateSearcher{client: client, className: className, alpha: alpha}, nil
}

// chunkQueryResponse mirrors the GraphQL response shape for chunk search.
// The Get payload is keyed by class name, so it stays a map to support
// non-default class names.
type chunkQueryResponse struct {
	Get map[string][]chunkResult `json:"Get"`
}

type chunkResult struct {
	Text         string `json:"text"`
	Title        string `json:"title"`
	URL          string `json:"url"`
	HeadingPath  string `json:"headingPath"`
	Page         int    `json:"page"`
	DocumentType string `json:"documentType"`
	Additional   struct {
		// Hybrid search reports score as a decimal string.
		Score string `json:"score"`
	} `json:"_additional"`
}

// SimilaritySearch implements VectorSearcher.
func (s *WeaviateSearcher) SimilaritySearch(ctx context.Context, query string, k int, filter *RetrievalFilter) ([]datatypes.Document, error) {
	ctx, span := tracer.Start(ctx, "WeaviateSearcher.SimilaritySearch")
	defer span.End()
	span.SetAttributes(attribute.Int("search.k", k))

	if filter == nil {
		return nil, fmt.Errorf("refusing to search without a tenant-scoped filter")
	}
	if k <= 0 {
		return nil, nil
	}

	hybrid := s.client.GraphQL().HybridArgumentBuilder().
		WithQuery(query).
		WithAlpha(s.alpha)

	fields := []graphql.Field{
		{Name: "text"},
		{Name: "title"},
		{Name: "url"},
		{Name: "headingPath"},
		{Name: "page"},
		{Name: "documentType"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "score"},
		}},
	}

	result, err := s.client.GraphQL().Get().
		WithClassName(s.className).
		WithFields(fields...).
		WithWhere(filter.Where()).
		WithHybrid(hybrid).
		WithLimit(k).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate search failed: %w", err)
	}

	parsed, err := parseGraphQLResponse[chunkQueryResponse](result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse search results: %w", err)
	}

	chunks := parsed.Get[s.className]
	docs := make([]datatypes.Document, 0, len(chunks))
	for _, chunk := range chunks {
		score, perr := strconv.ParseFloat(chunk.Additional.Score, 64)
		if perr != nil {
			score = 0
		}
		docs = append(docs, datatypes.Document{
			Text: chunk.Text,
			Metadata: datatypes.DocumentMetadata{
				Title:        chunk.Title,
				URL:          chunk.URL,
				HeadingPath:  chunk.HeadingPath,
				Page:         chunk.Page,
				DocumentType: chunk.DocumentType,
				Score:        score,
			},
		})
	}

	span.SetAttributes(attribute.Int("search.hits", len(docs)))
	slog.Debug("similarity search completed", "k", k, "hits", len(docs))
	return docs, nil
}

// parseGraphQLResponse converts Weaviate's dynamic response payload into a
// typed struct via a marshal round trip.
func parseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("GraphQL error: %s", resp.Errors[0].Message)
	}

	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response data: %w", err)
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}
	return &out, nil
}

var _ VectorSearcher = (*WeaviateSearcher)(nil)
