// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/kodiak/services/orchestrator/classifier"
	"github.com/AleutianAI/kodiak/services/orchestrator/datatypes"
)

var tracer = otel.Tracer("kodiak.orchestrator.routing")

const (
	// lowConfidenceThreshold is the confidence below which the router
	// widens retrieval instead of trusting the classified intent.
	defaultLowConfidenceThreshold = 0.7

	// widenStep and maxWidenedTopK bound low-confidence widening.
	widenStep      = 5
	maxWidenedTopK = 25
)

// Router turns a classification into a concrete routing decision.
//
// # Description
//
// Routing is a pure table lookup plus confidence adjustment; it performs
// no I/O and never fails. A missing or nil classification routes as
// low-confidence factual, because a broken classifier must not take down
// the request path.
//
// # Thread Safety
//
// Safe for concurrent use.
type Router struct {
	lowConfidenceThreshold float64
	stats                  *Stats
}

// NewRouter creates a Router.
//
// Inputs:
//
//	lowConfidenceThreshold - Confidence below which retrieval widens.
//	                         <= 0 selects the default of 0.7.
func NewRouter(lowConfidenceThreshold float64) *Router {
	if lowConfidenceThreshold <= 0 {
		lowConfidenceThreshold = defaultLowConfidenceThreshold
	}
	return &Router{
		lowConfidenceThreshold: lowConfidenceThreshold,
		stats:                  newStats(),
	}
}

// Route maps a classification to a routing decision.
func (r *Router) Route(ctx context.Context, classification *datatypes.ClassificationResult) *datatypes.RoutingDecision {
	_, span := tracer.Start(ctx, "Router.Route")
	defer span.End()

	if classification == nil {
		classification = &datatypes.ClassificationResult{
			Intent:     datatypes.IntentFactual,
			Confidence: 0.3,
			Reasoning:  "no classification available",
		}
	}

	entry := strategyFor(classification.Intent)
	traits := classifier.CharacteristicsFor(classification.Intent)
	strategy := entry.strategy // copy; the table stays immutable

	reasoning := fmt.Sprintf("intent %s -> strategy %s", classification.Intent, entry.name)
	widened := false
	if traits.RequiresRetrieval && classification.Confidence < r.lowConfidenceThreshold {
		strategy = widen(strategy)
		widened = true
		reasoning = fmt.Sprintf("%s (confidence %.2f below %.2f, widened retrieval)",
			reasoning, classification.Confidence, r.lowConfidenceThreshold)
	}

	decision := &datatypes.RoutingDecision{
		Intent:         classification.Intent,
		Confidence:     classification.Confidence,
		StrategyName:   entry.name,
		Strategy:       strategy,
		SkipRetrieval:  !traits.RequiresRetrieval,
		ResponseStyle:  traits.ResponseStyle,
		ResponsePrompt: entry.prompt,
		Reasoning:      reasoning,
		DecidedAt:      time.Now().UTC(),
	}

	r.stats.record(decision, widened)
	span.SetAttributes(
		attribute.String("route.intent", string(decision.Intent)),
		attribute.String("route.strategy", decision.StrategyName),
		attribute.Bool("route.widened", widened),
		attribute.Bool("route.skip_retrieval", decision.SkipRetrieval),
	)
	routingDecisionsTotal.WithLabelValues(string(decision.Intent), decision.StrategyName, boolLabel(widened)).Inc()
	return decision
}

// Stats exposes the accumulated routing statistics.
func (r *Router) Stats() *Stats { return r.stats }

// widen broadens a strategy for a low-confidence classification: more
// candidates, reranking forced on so the extra breadth gets re-scored.
func widen(s datatypes.StrategyConfig) datatypes.StrategyConfig {
	s.TopK += widenStep
	if s.TopK > maxWidenedTopK {
		s.TopK = maxWidenedTopK
	}
	if !s.UseReranking {
		s.UseReranking = true
		s.RerankTopK = s.TopK / 2
	}
	return s
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
