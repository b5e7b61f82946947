// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package judge

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/kodiak/services/orchestrator/datatypes"
)

// batchConcurrency bounds parallel judge calls in a batch run.
const batchConcurrency = 4

// EvaluateBatch judges a set of offline samples, used by the admin
// evaluation surface to benchmark answer quality against a golden set.
//
// # Description
//
// Samples are evaluated concurrently but results keep input order. A
// failing sample degrades to the safe-default evaluation like the online
// path does, so the batch never aborts partway. The summary aggregates
// the grounded/relevant/complete rates, hallucination rate, and mean
// confidence across all samples.
func (j *Judge) EvaluateBatch(ctx context.Context, samples []datatypes.EvaluationSample) datatypes.BatchEvaluationResult {
	ctx, span := tracer.Start(ctx, "Judge.EvaluateBatch")
	defer span.End()
	span.SetAttributes(attribute.Int("judge.batch_size", len(samples)))

	results := make([]datatypes.JudgeEvaluation, len(samples))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)
	for i, sample := range samples {
		g.Go(func() error {
			results[i] = j.Evaluate(gctx, sample.Question, sample.Answer, nil,
				strings.Join(sample.Contexts, "\n\n"))
			return nil
		})
	}
	_ = g.Wait()

	return datatypes.BatchEvaluationResult{
		Results: results,
		Summary: summarize(results),
	}
}

func summarize(results []datatypes.JudgeEvaluation) map[string]float64 {
	summary := map[string]float64{
		"samples":            float64(len(results)),
		"grounded_rate":      0,
		"relevant_rate":      0,
		"complete_rate":      0,
		"hallucination_rate": 0,
		"avg_confidence":     0,
	}
	if len(results) == 0 {
		return summary
	}

	var grounded, relevant, complete, hallucinated, confidence float64
	for _, r := range results {
		if r.IsGrounded {
			grounded++
		}
		if r.IsRelevant {
			relevant++
		}
		if r.IsComplete {
			complete++
		}
		if r.HasHallucinations {
			hallucinated++
		}
		confidence += r.Confidence
	}
	n := float64(len(results))
	summary["grounded_rate"] = grounded / n
	summary["relevant_rate"] = relevant / n
	summary["complete_rate"] = complete / n
	summary["hallucination_rate"] = hallucinated / n
	summary["avg_confidence"] = confidence / n
	return summary
}
