// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/kodiak/services/llm"
	"github.com/AleutianAI/kodiak/services/orchestrator/datatypes"
)

const compressPrompt = `Extract only the sentences from the passage that help answer the question.
Copy them verbatim. If nothing in the passage is relevant, respond with NONE.

Question: %s

Passage:
%s`

// minCompressLength is the chunk size below which compression is skipped;
// extracting from an already-small chunk costs a model call for nothing.
const minCompressLength = 400

// Compressor extracts the minimal relevant span per chunk to control
// prompt budget.
//
// # Description
//
// The extraction lands in Document.CompressedText; the original text is
// never overwritten, so source display stays intact. Any model failure
// leaves the chunk uncompressed. Compress never fails the request.
type Compressor struct {
	model llm.LLMClient
}

// NewCompressor creates a Compressor. A nil model makes Compress a no-op.
func NewCompressor(model llm.LLMClient) *Compressor {
	return &Compressor{model: model}
}

// Compress annotates each document with its extracted relevant span.
func (c *Compressor) Compress(ctx context.Context, docs []datatypes.Document, question string) []datatypes.Document {
	ctx, span := tracer.Start(ctx, "Compressor.Compress")
	defer span.End()
	span.SetAttributes(attribute.Int("compress.docs", len(docs)))

	if c.model == nil {
		return docs
	}

	out := make([]datatypes.Document, len(docs))
	copy(out, docs)
	compressed := 0
	for i := range out {
		if len(out[i].Text) < minCompressLength {
			continue
		}
		extracted, err := c.model.Generate(ctx, fmt.Sprintf(compressPrompt, question, out[i].Text), llm.GenerationParams{
			Temperature: llm.Float32Ptr(0),
			MaxTokens:   llm.IntPtr(512),
		})
		if err != nil {
			slog.Warn("compression failed for chunk, keeping full text", "error", err)
			continue
		}
		extracted = strings.TrimSpace(extracted)
		if extracted == "" || strings.EqualFold(extracted, "NONE") || len(extracted) >= len(out[i].Text) {
			continue
		}
		out[i].CompressedText = extracted
		compressed++
	}

	span.SetAttributes(attribute.Int("compress.compressed", compressed))
	return out
}
