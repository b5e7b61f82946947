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
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/kodiak/pkg/extensions"
	"github.com/AleutianAI/kodiak/services/llm"
	"github.com/AleutianAI/kodiak/services/orchestrator/analytics"
	"github.com/AleutianAI/kodiak/services/orchestrator/cache"
	"github.com/AleutianAI/kodiak/services/orchestrator/classifier"
	"github.com/AleutianAI/kodiak/services/orchestrator/conversation"
	"github.com/AleutianAI/kodiak/services/orchestrator/datatypes"
	"github.com/AleutianAI/kodiak/services/orchestrator/judge"
	"github.com/AleutianAI/kodiak/services/orchestrator/observability"
	"github.com/AleutianAI/kodiak/services/orchestrator/retrieval"
	"github.com/AleutianAI/kodiak/services/orchestrator/routing"
	"github.com/AleutianAI/kodiak/services/orchestrator/safety"
)

var tracer = otel.Tracer("kodiak.orchestrator.pipeline")

// Deps collects the pipeline's collaborators.
type Deps struct {
	Classifier    *classifier.IntentClassifier // required
	Router        *routing.Router              // required
	Retriever     *retrieval.MultiQueryRetriever
	Compressor    *retrieval.Compressor
	Judge         *judge.Judge
	Generator     llm.LLMClient
	Responses     *cache.ResponseCache
	Conversations *conversation.Store // nil disables persistence
	Analytics     analytics.Sink      // nil selects NopSink
	Metrics       *observability.PipelineMetrics

	// ContextFilter is an optional extra sanitization pass over retrieved
	// chunks (PII redaction, tenant content policy).
	ContextFilter extensions.ContextFilter
}

// Pipeline is the guardrail orchestrator.
//
// # Description
//
// One Run walks the state machine:
//
//	CacheCheck → Retrieve → Rerank → Compress → AssembleContext →
//	Generate → Evaluate → {Accept | HallucinationBlock | Retry(≤1)} →
//	Persist → CacheStore → Done
//
// Retry is strictly bounded to one iteration, blocked results are never
// cached, and every external call is timeout-guarded.
//
// # Thread Safety
//
// Safe for concurrent use; all mutable state is per-request.
type Pipeline struct {
	classifier    *classifier.IntentClassifier
	router        *routing.Router
	retriever     *retrieval.MultiQueryRetriever
	compressor    *retrieval.Compressor
	judge         *judge.Judge
	generator     llm.LLMClient
	responses     *cache.ResponseCache
	conversations *conversation.Store
	analytics     analytics.Sink
	metrics       *observability.PipelineMetrics
	contextFilter extensions.ContextFilter
	config        Config

	// retryLimiter paces retries across all requests so a burst of bad
	// answers does not double the generator load.
	retryLimiter *rate.Limiter
}

// New creates a Pipeline.
func New(deps Deps, config Config) (*Pipeline, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}
	switch {
	case deps.Classifier == nil:
		return nil, errors.New("classifier is required")
	case deps.Router == nil:
		return nil, errors.New("router is required")
	case deps.Retriever == nil:
		return nil, errors.New("retriever is required")
	case deps.Judge == nil:
		return nil, errors.New("judge is required")
	case deps.Generator == nil:
		return nil, errors.New("generator is required")
	case deps.Responses == nil:
		return nil, errors.New("response cache is required")
	}
	if deps.Analytics == nil {
		deps.Analytics = analytics.NopSink{}
	}
	if deps.Compressor == nil {
		deps.Compressor = retrieval.NewCompressor(nil)
	}

	cooldown := config.RetryCooldown
	if cooldown <= 0 {
		cooldown = time.Second
	}
	return &Pipeline{
		classifier:    deps.Classifier,
		router:        deps.Router,
		retriever:     deps.Retriever,
		compressor:    deps.Compressor,
		judge:         deps.Judge,
		generator:     deps.Generator,
		responses:     deps.Responses,
		conversations: deps.Conversations,
		analytics:     deps.Analytics,
		metrics:       deps.Metrics,
		contextFilter: deps.ContextFilter,
		config:        config,
		retryLimiter:  rate.NewLimiter(rate.Every(cooldown), 1),
	}, nil
}

// preparedContext is the output of the retrieval half of the pipeline.
type preparedContext struct {
	result       *datatypes.RetrievalResult
	contextBlock string
	sources      []datatypes.SourceInfo
}

// Run executes one blocking request through the full state machine.
//
// Outputs:
//
//	*datatypes.ChatRAGResponse - Always fully populated on nil error.
//	error - ValidationError for bad filters, TimeoutError when generation
//	        produced nothing before its budget, otherwise internal.
func (p *Pipeline) Run(ctx context.Context, req *datatypes.ChatRAGRequest) (*datatypes.ChatRAGResponse, error) {
	ctx, span := tracer.Start(ctx, "Pipeline.Run")
	defer span.End()
	start := time.Now()

	req.EnsureDefaults()
	conversationId := req.EnsureConversationId()

	// --- CacheCheck ---
	if entry := p.responses.Get(ctx, req.WorkspaceId, conversationId, req.Message); entry != nil {
		p.recordCacheLookup(true)
		resp := responseFromCacheEntry(entry, conversationId)
		p.finish(req, resp, nil, "", observability.OutcomeCached, start)
		return resp, nil
	}
	p.recordCacheLookup(false)

	// --- Classify & Route ---
	classification := p.classify(ctx, req)
	decision := p.router.Route(ctx, classification)
	span.SetAttributes(
		attribute.String("pipeline.intent", string(decision.Intent)),
		attribute.String("pipeline.strategy", decision.StrategyName),
	)

	if decision.SkipRetrieval {
		return p.runConversational(ctx, req, conversationId, decision, start)
	}

	// --- Retrieve → Rerank → Compress → AssembleContext ---
	filter, err := retrieval.BuildFilter(req.Filters, req.WorkspaceId)
	if err != nil {
		p.recordRequest(decision.Intent, observability.OutcomeError)
		return nil, err
	}
	prep, err := p.prepareContext(ctx, req.Message, filter, decision.Strategy)
	if err != nil {
		p.recordRequest(decision.Intent, observability.OutcomeError)
		return nil, err
	}

	// --- Generate ---
	genStart := time.Now()
	messages := buildMessages(decision, prep.contextBlock, req.Message, req.History, p.config.HistoryTurns)
	answer, err := p.generateBlocking(ctx, messages)
	p.recordStage("generate", time.Since(genStart))
	if err != nil {
		p.recordRequest(decision.Intent, observability.OutcomeError)
		return nil, err
	}

	// --- Evaluate → {Accept | Retry | Block} ---
	eval := p.evaluate(ctx, req.Message, answer, prep)
	answer, eval, prep, retried := p.maybeRetry(ctx, req.Message, decision, filter, prep, answer, eval)

	blocked := p.shouldBlock(eval)
	if blocked {
		p.recordBlock()
		answer = FallbackMessage
	}

	// --- Persist → CacheStore ---
	p.persist(ctx, req, conversationId, answer)
	resp := p.buildResponse(req, conversationId, answer, decision, prep, eval, blocked, retried, start)
	if !blocked {
		p.storeInCache(ctx, req, conversationId, resp)
	}

	outcome := observability.OutcomeAnswered
	if blocked {
		outcome = observability.OutcomeBlocked
	}
	p.finish(req, resp, decision, "", outcome, start)
	return resp, nil
}

// classify resolves the intent, honoring ForceIntent for internal tooling.
func (p *Pipeline) classify(ctx context.Context, req *datatypes.ChatRAGRequest) *datatypes.ClassificationResult {
	if req.ForceIntent != "" {
		if intent, ok := datatypes.ParseIntent(req.ForceIntent); ok {
			return &datatypes.ClassificationResult{
				Intent:     intent,
				Confidence: 1.0,
				Reasoning:  "intent forced by caller",
			}
		}
		slog.Warn("ignoring unknown forced intent", "forceIntent", req.ForceIntent)
	}
	stageStart := time.Now()
	classification := p.classifier.Classify(ctx, req.Message, req.History)
	p.recordStage("classify", time.Since(stageStart))
	return classification
}

// prepareContext runs retrieve, rerank, compress, sanitize, and assembly.
func (p *Pipeline) prepareContext(ctx context.Context, question string, filter *retrieval.RetrievalFilter, strategy datatypes.StrategyConfig) (*preparedContext, error) {
	stageStart := time.Now()
	result, err := p.retriever.Retrieve(ctx, question, filter, strategy)
	p.recordStage("retrieve", time.Since(stageStart))
	if err != nil {
		return nil, fmt.Errorf("retrieval failed: %w", err)
	}
	return p.refineContext(ctx, question, result, strategy), nil
}

// refineContext is the post-retrieval half: rerank, compress, sanitize,
// assemble. Shared by the first pass and the retry pass.
func (p *Pipeline) refineContext(ctx context.Context, question string, result *datatypes.RetrievalResult, strategy datatypes.StrategyConfig) *preparedContext {
	docs := result.Documents
	if strategy.UseReranking && strategy.RerankTopK > 0 {
		stageStart := time.Now()
		docs = retrieval.Rerank(ctx, docs, question, strategy.RerankTopK)
		p.recordStage("rerank", time.Since(stageStart))
	}
	if strategy.UseCompression {
		stageStart := time.Now()
		docs = p.compressor.Compress(ctx, docs, question)
		p.recordStage("compress", time.Since(stageStart))
	}
	docs = safety.SanitizeAllWith(ctx, p.contextFilter, docs)

	contextBlock, sources := assembleContext(docs, p.config.MaxContextChars)
	return &preparedContext{result: result, contextBlock: contextBlock, sources: sources}
}

func (p *Pipeline) evaluate(ctx context.Context, question, answer string, prep *preparedContext) datatypes.JudgeEvaluation {
	stageStart := time.Now()
	eval := p.judge.Evaluate(ctx, question, answer, prep.sources, prep.contextBlock)
	p.recordStage("evaluate", time.Since(stageStart))
	p.recordJudgeVerdict(eval.IsGrounded)
	return eval
}

// maybeRetry runs the single bounded retry iteration when the first
// answer was judged low-quality but salvageable.
//
// # Description
//
// Preconditions: the retry predicate fires, confidence is above the
// pointless-retry floor, and the document count is under the hard cap. A
// cooldown and a global limiter pace the extra generator load. The retry
// answer replaces the original only when its confidence improves and it
// carries no hallucination verdict.
func (p *Pipeline) maybeRetry(ctx context.Context, question string, decision *datatypes.RoutingDecision, filter *retrieval.RetrievalFilter, prep *preparedContext, answer string, eval datatypes.JudgeEvaluation) (string, datatypes.JudgeEvaluation, *preparedContext, bool) {
	if !judge.ShouldRetry(eval, p.config.MinConfidence) {
		return answer, eval, prep, false
	}
	if eval.Confidence < p.config.RetryMinConfidence {
		slog.Info("skipping retry, confidence below usable floor", "confidence", eval.Confidence)
		return answer, eval, prep, false
	}
	if len(prep.result.Documents) >= p.config.RetryDocCeiling {
		slog.Info("skipping retry, document ceiling reached", "documents", len(prep.result.Documents))
		return answer, eval, prep, false
	}

	ctx, span := tracer.Start(ctx, "Pipeline.retry")
	defer span.End()

	// Cooldown before the retry call.
	select {
	case <-time.After(p.config.RetryCooldown):
	case <-ctx.Done():
		return answer, eval, prep, false
	}
	if err := p.retryLimiter.Wait(ctx); err != nil {
		return answer, eval, prep, false
	}

	largerK := decision.Strategy.TopK * 2
	if largerK > p.config.RetryDocCeiling {
		largerK = p.config.RetryDocCeiling
	}
	widened, err := p.retriever.RetrieveMore(ctx, prep.result, filter, largerK)
	if err != nil {
		slog.Warn("retry retrieval failed, keeping original answer", "error", err)
		return answer, eval, prep, true
	}
	retryPrep := p.refineContext(ctx, question, widened, decision.Strategy)

	messages := buildMessages(decision, retryPrep.contextBlock, question, nil, 0)
	retryAnswer, err := p.generateBlocking(ctx, messages)
	if err != nil {
		slog.Warn("retry generation failed, keeping original answer", "error", err)
		return answer, eval, prep, true
	}
	retryEval := p.evaluate(ctx, question, retryAnswer, retryPrep)

	kept := retryEval.Confidence > eval.Confidence && !retryEval.HasHallucinations
	p.recordRetry(kept)
	span.SetAttributes(attribute.Bool("retry.kept", kept))
	if !kept {
		return answer, eval, prep, true
	}
	return retryAnswer, retryEval, retryPrep, true
}

// shouldBlock applies the hallucination blocking policy: strict mode
// blocks on any hallucination verdict, lenient mode only when the answer
// is also ungrounded.
func (p *Pipeline) shouldBlock(eval datatypes.JudgeEvaluation) bool {
	if p.config.StrictBlocking {
		return eval.HasHallucinations
	}
	return eval.HasHallucinations && !eval.IsGrounded
}

// runConversational handles intents that skip retrieval entirely. There
// are no sources, so the judge has nothing to ground against and is
// skipped; conversational answers are persisted but not cached.
func (p *Pipeline) runConversational(ctx context.Context, req *datatypes.ChatRAGRequest, conversationId string, decision *datatypes.RoutingDecision, start time.Time) (*datatypes.ChatRAGResponse, error) {
	messages := buildMessages(decision, "", req.Message, req.History, p.config.HistoryTurns)
	answer, err := p.generateBlocking(ctx, messages)
	if err != nil {
		p.recordRequest(decision.Intent, observability.OutcomeError)
		return nil, err
	}

	p.persist(ctx, req, conversationId, answer)
	resp := datatypes.NewChatRAGResponse(answer, conversationId, nil)
	resp.Id = req.Id
	resp.Intent = decision.Intent
	resp.Confidence = decision.Confidence
	resp.Metadata = map[string]any{
		"strategy":    decision.StrategyName,
		"duration_ms": time.Since(start).Milliseconds(),
	}
	p.finish(req, resp, decision, "", observability.OutcomeAnswered, start)
	return resp, nil
}

// persist saves the exchange atomically; persistence failures are logged
// but never fail a request that already has an answer.
func (p *Pipeline) persist(ctx context.Context, req *datatypes.ChatRAGRequest, conversationId, answer string) {
	if p.conversations == nil {
		return
	}
	stageStart := time.Now()
	err := p.conversations.AppendExchange(ctx, req.WorkspaceId, conversationId,
		datatypes.Message{Role: "user", Content: req.Message},
		datatypes.Message{Role: "assistant", Content: answer})
	p.recordStage("persist", time.Since(stageStart))
	if err != nil {
		slog.Error("failed to persist conversation exchange", "conversationId", conversationId, "error", err)
	}
}

func (p *Pipeline) storeInCache(ctx context.Context, req *datatypes.ChatRAGRequest, conversationId string, resp *datatypes.ChatRAGResponse) {
	p.responses.Put(ctx, req.WorkspaceId, conversationId, req.Message, datatypes.CacheEntry{
		Answer:   resp.Answer,
		Sources:  resp.Sources,
		Metadata: resp.Metadata,
	})
}

func (p *Pipeline) buildResponse(req *datatypes.ChatRAGRequest, conversationId, answer string, decision *datatypes.RoutingDecision, prep *preparedContext, eval datatypes.JudgeEvaluation, blocked, retried bool, start time.Time) *datatypes.ChatRAGResponse {
	resp := datatypes.NewChatRAGResponse(answer, conversationId, prep.sources)
	resp.Id = req.Id
	resp.Intent = decision.Intent
	resp.Confidence = decision.Confidence
	resp.Blocked = blocked
	resp.Evaluation = &eval
	metrics := prep.result.Metrics
	resp.Metrics = &metrics
	resp.Metadata = map[string]any{
		"strategy":    decision.StrategyName,
		"retried":     retried,
		"duration_ms": time.Since(start).Milliseconds(),
	}
	return resp
}

func responseFromCacheEntry(entry *datatypes.CacheEntry, conversationId string) *datatypes.ChatRAGResponse {
	resp := datatypes.NewChatRAGResponse(entry.Answer, conversationId, entry.Sources)
	resp.Cached = true
	resp.Metadata = entry.Metadata
	return resp
}

// finish records terminal metrics and the analytics event.
func (p *Pipeline) finish(req *datatypes.ChatRAGRequest, resp *datatypes.ChatRAGResponse, decision *datatypes.RoutingDecision, _ string, outcome observability.Outcome, start time.Time) {
	intent := string(resp.Intent)
	strategy := ""
	confidence := resp.Confidence
	if decision != nil {
		intent = string(decision.Intent)
		strategy = decision.StrategyName
	}
	p.recordRequestLabel(intent, outcome)
	retried := false
	if resp.Metadata != nil {
		if r, ok := resp.Metadata["retried"].(bool); ok {
			retried = r
		}
	}
	p.analytics.Record(analytics.Event{
		WorkspaceId: req.WorkspaceId,
		Intent:      datatypes.Intent(intent),
		Strategy:    strategy,
		CacheHit:    outcome == observability.OutcomeCached,
		Blocked:     outcome == observability.OutcomeBlocked,
		Retried:     retried,
		Confidence:  confidence,
		Duration:    time.Since(start),
	})
}

// === nil-safe metric helpers ===

func (p *Pipeline) recordStage(stage string, d time.Duration) {
	if p.metrics != nil {
		p.metrics.RecordStage(stage, d.Seconds())
	}
}

func (p *Pipeline) recordCacheLookup(hit bool) {
	if p.metrics != nil {
		p.metrics.RecordCacheLookup(hit)
	}
}

func (p *Pipeline) recordRequest(intent datatypes.Intent, outcome observability.Outcome) {
	p.recordRequestLabel(string(intent), outcome)
}

func (p *Pipeline) recordRequestLabel(intent string, outcome observability.Outcome) {
	if p.metrics != nil {
		if intent == "" {
			intent = "unknown"
		}
		p.metrics.RecordRequest(intent, outcome)
	}
}

func (p *Pipeline) recordRetry(kept bool) {
	if p.metrics != nil {
		p.metrics.RecordRetry(kept)
	}
}

func (p *Pipeline) recordBlock() {
	if p.metrics != nil {
		p.metrics.RecordBlock(p.config.StrictBlocking)
	}
}

func (p *Pipeline) recordJudgeVerdict(grounded bool) {
	if p.metrics != nil {
		p.metrics.RecordJudgeVerdict(grounded)
	}
}

func newTimeoutError(stage, partial string, err error) *datatypes.TimeoutError {
	return &datatypes.TimeoutError{Stage: stage, Partial: partial, Err: err}
}
