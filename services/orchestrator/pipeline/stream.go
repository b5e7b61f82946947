// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/kodiak/services/orchestrator/datatypes"
	"github.com/AleutianAI/kodiak/services/orchestrator/observability"
	"github.com/AleutianAI/kodiak/services/orchestrator/retrieval"
)

// Stage status messages shown to the client while the pipeline works.
const (
	statusClassifying = "Understanding your question"
	statusSearching   = "Searching your documents"
	statusGenerating  = "Generating an answer"
	statusEvaluating  = "Checking the answer against sources"
	statusCached      = "Serving a cached answer"
)

// RunStream executes one request in streaming mode.
//
// # Description
//
// The event sequence on the happy path is:
//
//	status* → sources → chunk* → status → metadata → saved → done
//
// Streaming mode never retries: by the time the judge runs, the chunks
// have already reached the client, so a regenerated answer would duplicate
// text. A blocked verdict is reported in the metadata event and the safe
// fallback replaces the answer in persistence and the cache is skipped.
//
// Outputs:
//
//	error - Non-nil when the stream could not be completed; an error event
//	        has already been emitted unless the client is gone.
func (p *Pipeline) RunStream(ctx context.Context, req *datatypes.ChatRAGRequest, sink Emitter) error {
	ctx, span := tracer.Start(ctx, "Pipeline.RunStream")
	defer span.End()
	start := time.Now()

	req.EnsureDefaults()
	conversationId := req.EnsureConversationId()

	// --- CacheCheck: replay the cached answer as a short stream ---
	if entry := p.responses.Get(ctx, req.WorkspaceId, conversationId, req.Message); entry != nil {
		p.recordCacheLookup(true)
		return p.replayCached(req, conversationId, entry, sink, start)
	}
	p.recordCacheLookup(false)

	// --- Classify & Route ---
	if err := emitStatus(sink, statusClassifying); err != nil {
		return p.clientGone(err)
	}
	classification := p.classify(ctx, req)
	decision := p.router.Route(ctx, classification)
	span.SetAttributes(
		attribute.String("pipeline.intent", string(decision.Intent)),
		attribute.String("pipeline.strategy", decision.StrategyName),
	)

	if decision.SkipRetrieval {
		return p.streamConversational(ctx, req, conversationId, decision, sink, start)
	}

	// --- Retrieve → Rerank → Compress → AssembleContext ---
	if err := emitStatus(sink, statusSearching); err != nil {
		return p.clientGone(err)
	}
	filter, err := retrieval.BuildFilter(req.Filters, req.WorkspaceId)
	if err != nil {
		p.recordRequest(decision.Intent, observability.OutcomeError)
		_ = emitError(sink, err.Error())
		return err
	}
	prep, err := p.prepareContext(ctx, req.Message, filter, decision.Strategy)
	if err != nil {
		p.recordRequest(decision.Intent, observability.OutcomeError)
		_ = emitError(sink, "document retrieval failed")
		return err
	}
	if err := emitSources(sink, prep.sources); err != nil {
		return p.clientGone(err)
	}

	// --- Generate (streamed) ---
	if err := emitStatus(sink, statusGenerating); err != nil {
		return p.clientGone(err)
	}
	answer, err := p.streamAnswer(ctx, req, decision, prep, sink, start)
	if err != nil {
		if isClientGone(ctx, err) {
			return p.clientGone(err)
		}
		p.recordRequest(decision.Intent, observability.OutcomeError)
		var timeoutErr *datatypes.TimeoutError
		if errors.As(err, &timeoutErr) {
			_ = emitError(sink, "the model did not respond in time")
		} else {
			_ = emitError(sink, "answer generation failed")
		}
		return err
	}

	// --- Evaluate → {Accept | Block} ---
	if err := emitStatus(sink, statusEvaluating); err != nil {
		return p.clientGone(err)
	}
	eval := p.evaluate(ctx, req.Message, answer, prep)
	blocked := p.shouldBlock(eval)
	if blocked {
		p.recordBlock()
		answer = FallbackMessage
	}

	metadata := map[string]any{
		"intent":            string(decision.Intent),
		"confidence":        decision.Confidence,
		"strategy":          decision.StrategyName,
		"evaluation":        eval,
		"retrieval_metrics": prep.result.Metrics,
		"blocked":           blocked,
		"duration_ms":       time.Since(start).Milliseconds(),
	}
	if blocked {
		metadata["fallback"] = FallbackMessage
	}
	if err := emitMetadata(sink, metadata); err != nil {
		return p.clientGone(err)
	}

	// --- Persist → CacheStore ---
	p.persist(ctx, req, conversationId, answer)
	if err := emitSaved(sink, conversationId); err != nil {
		return p.clientGone(err)
	}

	resp := p.buildResponse(req, conversationId, answer, decision, prep, eval, blocked, false, start)
	if !blocked {
		p.storeInCache(ctx, req, conversationId, resp)
	}
	outcome := observability.OutcomeAnswered
	if blocked {
		outcome = observability.OutcomeBlocked
	}
	p.finish(req, resp, decision, "", outcome, start)
	return emitDone(sink, conversationId)
}

// streamAnswer runs streaming generation, forwarding each chunk and
// recording time-to-first-chunk.
func (p *Pipeline) streamAnswer(ctx context.Context, req *datatypes.ChatRAGRequest, decision *datatypes.RoutingDecision, prep *preparedContext, sink Emitter, start time.Time) (string, error) {
	genStart := time.Now()
	messages := buildMessages(decision, prep.contextBlock, req.Message, req.History, p.config.HistoryTurns)

	var firstChunk sync.Once
	answer, err := p.generateStreaming(ctx, messages, func(chunk string) error {
		firstChunk.Do(func() {
			if p.metrics != nil {
				p.metrics.RecordTimeToFirstChunk(time.Since(start).Seconds())
			}
		})
		return emitChunk(sink, chunk)
	})
	p.recordStage("generate", time.Since(genStart))
	return answer, err
}

// streamConversational handles no-retrieval intents in streaming mode.
// No sources, no judge; the answer is persisted but never cached.
func (p *Pipeline) streamConversational(ctx context.Context, req *datatypes.ChatRAGRequest, conversationId string, decision *datatypes.RoutingDecision, sink Emitter, start time.Time) error {
	messages := buildMessages(decision, "", req.Message, req.History, p.config.HistoryTurns)
	genStart := time.Now()
	answer, err := p.generateStreaming(ctx, messages, func(chunk string) error {
		return emitChunk(sink, chunk)
	})
	p.recordStage("generate", time.Since(genStart))
	if err != nil {
		if isClientGone(ctx, err) {
			return p.clientGone(err)
		}
		p.recordRequest(decision.Intent, observability.OutcomeError)
		_ = emitError(sink, "answer generation failed")
		return err
	}

	p.persist(ctx, req, conversationId, answer)
	metadata := map[string]any{
		"intent":      string(decision.Intent),
		"confidence":  decision.Confidence,
		"strategy":    decision.StrategyName,
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if err := emitMetadata(sink, metadata); err != nil {
		return p.clientGone(err)
	}
	if err := emitSaved(sink, conversationId); err != nil {
		return p.clientGone(err)
	}

	resp := datatypes.NewChatRAGResponse(answer, conversationId, nil)
	resp.Intent = decision.Intent
	resp.Confidence = decision.Confidence
	p.finish(req, resp, decision, "", observability.OutcomeAnswered, start)
	return emitDone(sink, conversationId)
}

// replayCached streams a cache hit back as the standard event sequence.
func (p *Pipeline) replayCached(req *datatypes.ChatRAGRequest, conversationId string, entry *datatypes.CacheEntry, sink Emitter, start time.Time) error {
	if err := emitStatus(sink, statusCached); err != nil {
		return p.clientGone(err)
	}
	if err := emitSources(sink, entry.Sources); err != nil {
		return p.clientGone(err)
	}
	if err := emitChunk(sink, entry.Answer); err != nil {
		return p.clientGone(err)
	}

	metadata := map[string]any{"cached": true}
	for k, v := range entry.Metadata {
		metadata[k] = v
	}
	if err := emitMetadata(sink, metadata); err != nil {
		return p.clientGone(err)
	}

	resp := responseFromCacheEntry(entry, conversationId)
	p.finish(req, resp, nil, "", observability.OutcomeCached, start)
	return emitDone(sink, conversationId)
}

// clientGone records a mid-stream disconnect. There is no one left to
// send an error event to.
func (p *Pipeline) clientGone(err error) error {
	if p.metrics != nil {
		p.metrics.RecordClientDisconnect()
	}
	return err
}

// isClientGone distinguishes "the client hung up" from generator errors.
// Emit errors from the transport surface as plain errors while the parent
// context records the cancellation.
func isClientGone(ctx context.Context, err error) bool {
	return errors.Is(ctx.Err(), context.Canceled) || errors.Is(err, context.Canceled)
}
