// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package judge evaluates generated answers for grounding, relevance,
// completeness, and citation correctness using a judge-capable model.
//
// The judge is the safety backstop of the answer path, so its failure
// mode is conservative: any unparseable or missing judge response becomes
// a fully-populated evaluation that reads "ungrounded, hallucinating,
// zero confidence". The pipeline then blocks or retries; it never ships
// an answer because the judge broke.
package judge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/kodiak/services/llm"
	"github.com/AleutianAI/kodiak/services/orchestrator/datatypes"
)

var tracer = otel.Tracer("kodiak.orchestrator.judge")

const evaluationPrompt = `You are a strict quality judge for a document question-answering system.
Evaluate the answer against the provided sources only. Assess:
1. grounding: is every claim in the answer supported by the sources?
2. relevance: does the answer address the question?
3. completeness: does the answer cover what the sources allow?
4. citations: which source numbers does the answer actually cite?

Respond with only a JSON object:
{"is_grounded": bool, "is_relevant": bool, "is_complete": bool, "confidence": 0.0-1.0, "has_hallucinations": bool, "issues": ["..."], "reasoning": "one or two sentences", "cited_source_numbers": [1, 2]}

Question:
%s

Answer:
%s

Sources:
%s

Retrieved context:
%s`

// Judge evaluates answers with a judge-capable model. The model may be a
// distinct, cheaper instance than the answer generator.
//
// Thread Safety: This type is safe for concurrent use.
type Judge struct {
	model   llm.LLMClient
	timeout time.Duration
}

// NewJudge creates a Judge.
//
// Inputs:
//
//	model - Judge model client. Required.
//	timeout - Per-evaluation budget. <= 0 selects 30s.
func NewJudge(model llm.LLMClient, timeout time.Duration) (*Judge, error) {
	if model == nil {
		return nil, fmt.Errorf("judge model is required")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Judge{model: model, timeout: timeout}, nil
}

// Evaluate judges one answer.
//
// # Description
//
// Never returns an error: every failure mode (model unreachable, timeout,
// unparseable output) is folded into the safe-default evaluation with
// hasHallucinations=true and confidence=0, so the caller always receives
// a fully-populated JudgeEvaluation.
//
// Inputs:
//
//	question - The user's question.
//	answer - The generated answer under evaluation.
//	sources - Source display info, numbered in prompt order.
//	contextText - The sanitized context block the generator saw.
func (j *Judge) Evaluate(ctx context.Context, question, answer string, sources []datatypes.SourceInfo, contextText string) datatypes.JudgeEvaluation {
	ctx, span := tracer.Start(ctx, "Judge.Evaluate")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	prompt := fmt.Sprintf(evaluationPrompt, question, answer, formatSources(sources), contextText)
	raw, err := j.model.Generate(ctx, prompt, llm.GenerationParams{
		Temperature: llm.Float32Ptr(0),
		MaxTokens:   llm.IntPtr(512),
		JSONMode:    true,
	})
	if err != nil {
		slog.Warn("judge model call failed, using safe default", "error", err)
		span.SetAttributes(attribute.Bool("judge.degraded", true))
		return datatypes.UngroundedEvaluation("judge model call failed")
	}

	eval, err := parseEvaluation(raw)
	if err != nil {
		slog.Warn("unparseable judge response, using safe default", "error", err)
		span.SetAttributes(attribute.Bool("judge.degraded", true))
		return datatypes.UngroundedEvaluation("parse failed")
	}

	span.SetAttributes(
		attribute.Bool("judge.grounded", eval.IsGrounded),
		attribute.Bool("judge.hallucinations", eval.HasHallucinations),
		attribute.Float64("judge.confidence", eval.Confidence),
	)
	return eval
}

// ShouldRetry is the pure retry predicate: true when the evaluation is
// below the confidence floor, flagged for hallucinations, or ungrounded.
func ShouldRetry(eval datatypes.JudgeEvaluation, minConfidence float64) bool {
	return eval.Confidence < minConfidence || eval.HasHallucinations || !eval.IsGrounded
}

func formatSources(sources []datatypes.SourceInfo) string {
	if len(sources) == 0 {
		return "(no sources)"
	}
	var b strings.Builder
	for i, src := range sources {
		fmt.Fprintf(&b, "[%d] %s", i+1, src.Title)
		if src.Page > 0 {
			fmt.Fprintf(&b, " (page %d)", src.Page)
		}
		b.WriteString("\n")
	}
	return b.String()
}
