// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routing

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/kodiak/services/orchestrator/datatypes"
)

// recentWindowSize bounds the in-memory decision history served by the
// admin stats endpoint.
const recentWindowSize = 100

var routingDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "kodiak",
	Subsystem: "routing",
	Name:      "decisions_total",
	Help:      "Routing decisions by intent, strategy, and whether retrieval was widened.",
}, []string{"intent", "strategy", "widened"})

// RecentDecision is one entry in the bounded decision window.
type RecentDecision struct {
	Intent     datatypes.Intent `json:"intent"`
	Strategy   string           `json:"strategy"`
	Confidence float64          `json:"confidence"`
	Widened    bool             `json:"widened"`
	DecidedAt  time.Time        `json:"decidedAt"`
}

// StatsSnapshot is a point-in-time view of routing activity.
type StatsSnapshot struct {
	Total         int64                      `json:"total"`
	ByIntent      map[datatypes.Intent]int64 `json:"byIntent"`
	ByStrategy    map[string]int64           `json:"byStrategy"`
	Widened       int64                      `json:"widened"`
	AvgConfidence float64                    `json:"avgConfidence"`
	Recent        []RecentDecision           `json:"recent"`
	Since         time.Time                  `json:"since"`
}

// Stats accumulates routing counters and a bounded window of recent
// decisions.
//
// Thread Safety: This type is safe for concurrent use.
type Stats struct {
	mu            sync.Mutex
	total         int64
	byIntent      map[datatypes.Intent]int64
	byStrategy    map[string]int64
	widened       int64
	confidenceSum float64
	recent        []RecentDecision // ring, oldest first once full
	since         time.Time
}

func newStats() *Stats {
	return &Stats{
		byIntent:   make(map[datatypes.Intent]int64),
		byStrategy: make(map[string]int64),
		since:      time.Now().UTC(),
	}
}

func (s *Stats) record(d *datatypes.RoutingDecision, widened bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total++
	s.byIntent[d.Intent]++
	s.byStrategy[d.StrategyName]++
	s.confidenceSum += d.Confidence
	if widened {
		s.widened++
	}

	s.recent = append(s.recent, RecentDecision{
		Intent:     d.Intent,
		Strategy:   d.StrategyName,
		Confidence: d.Confidence,
		Widened:    widened,
		DecidedAt:  d.DecidedAt,
	})
	if len(s.recent) > recentWindowSize {
		s.recent = s.recent[len(s.recent)-recentWindowSize:]
	}
}

// Snapshot returns a copy of the current statistics.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := StatsSnapshot{
		Total:      s.total,
		ByIntent:   make(map[datatypes.Intent]int64, len(s.byIntent)),
		ByStrategy: make(map[string]int64, len(s.byStrategy)),
		Widened:    s.widened,
		Recent:     make([]RecentDecision, len(s.recent)),
		Since:      s.since,
	}
	for k, v := range s.byIntent {
		snap.ByIntent[k] = v
	}
	for k, v := range s.byStrategy {
		snap.ByStrategy[k] = v
	}
	copy(snap.Recent, s.recent)
	if s.total > 0 {
		snap.AvgConfidence = s.confidenceSum / float64(s.total)
	}
	return snap
}

// Reset clears all counters and the recent window.
func (s *Stats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total = 0
	s.byIntent = make(map[datatypes.Intent]int64)
	s.byStrategy = make(map[string]int64)
	s.widened = 0
	s.confidenceSum = 0
	s.recent = nil
	s.since = time.Now().UTC()
}
