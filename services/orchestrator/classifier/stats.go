// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package classifier

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/kodiak/services/orchestrator/datatypes"
)

var (
	classificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kodiak",
		Subsystem: "classifier",
		Name:      "classifications_total",
		Help:      "Intent classifications by intent and resolving tier.",
	}, []string{"intent", "tier"})

	classificationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "kodiak",
		Subsystem: "classifier",
		Name:      "classification_duration_seconds",
		Help:      "End-to-end classification latency including cache lookups.",
		Buckets:   []float64{.0001, .001, .01, .05, .1, .25, .5, 1, 2.5, 5},
	})
)

// tierLabel names the tier that resolved a classification, for metrics.
func tierLabel(r *datatypes.ClassificationResult) string {
	switch {
	case r.Cached:
		return "cache"
	case r.QuickMatch:
		return "quick"
	default:
		return "model"
	}
}

// Stats tracks per-tier hit counters.
//
// Thread Safety: This type is safe for concurrent use.
type Stats struct {
	extensionHits  atomic.Int64
	patternHits    atomic.Int64
	keywordHits    atomic.Int64
	localCacheHits atomic.Int64
	storeCacheHits atomic.Int64
	modelCalls     atomic.Int64
	fallbacks      atomic.Int64
}

// StatsSnapshot is a point-in-time copy of the tier counters.
type StatsSnapshot struct {
	ExtensionHits  int64 `json:"extensionHits"`
	PatternHits    int64 `json:"patternHits"`
	KeywordHits    int64 `json:"keywordHits"`
	LocalCacheHits int64 `json:"localCacheHits"`
	StoreCacheHits int64 `json:"storeCacheHits"`
	ModelCalls     int64 `json:"modelCalls"`
	Fallbacks      int64 `json:"fallbacks"`
}

func (s *Stats) snapshot() StatsSnapshot {
	return StatsSnapshot{
		ExtensionHits:  s.extensionHits.Load(),
		PatternHits:    s.patternHits.Load(),
		KeywordHits:    s.keywordHits.Load(),
		LocalCacheHits: s.localCacheHits.Load(),
		StoreCacheHits: s.storeCacheHits.Load(),
		ModelCalls:     s.modelCalls.Load(),
		Fallbacks:      s.fallbacks.Load(),
	}
}
