// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and instrumentation for the
// answer pipeline.
//
// # Description
//
// This package implements Prometheus metrics for monitoring the RAG
// pipeline end to end. Metrics include:
//   - Request counters (by intent and terminal outcome)
//   - Per-stage latency histograms
//   - Cache hit/miss counters
//   - Retry, hallucination-block, and judge verdict counters
//   - Streaming health (time to first chunk, dropped events, disconnects)
//
// Per-package metrics (classifier tiers, routing decisions, sanitizer
// matches) live with their packages; everything spanning the whole
// request lives here.
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint. Use with Prometheus +
// Grafana for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const metricsNamespace = "kodiak"

// Subsystem for pipeline metrics
const pipelineSubsystem = "pipeline"

// PipelineMetrics holds all Prometheus metrics for the answer pipeline.
//
// # Description
//
// Provides counters and histograms for monitoring pipeline outcomes and
// latency. Initialize once at startup via InitMetrics().
//
// # Thread Safety
//
// All operations are thread-safe.
type PipelineMetrics struct {
	// RequestsTotal counts pipeline runs by intent and terminal outcome.
	// Labels: intent, outcome (answered, cached, blocked, error)
	RequestsTotal *prometheus.CounterVec

	// StageDurationSeconds measures per-stage latency.
	// Labels: stage (retrieve, rerank, compress, generate, evaluate, persist)
	StageDurationSeconds *prometheus.HistogramVec

	// CacheLookupsTotal counts response cache lookups.
	// Labels: result (hit, miss)
	CacheLookupsTotal *prometheus.CounterVec

	// RetriesTotal counts retry attempts.
	// Labels: kept (true when the retry replaced the original answer)
	RetriesTotal *prometheus.CounterVec

	// BlocksTotal counts hallucination blocks.
	// Labels: mode (strict, lenient)
	BlocksTotal *prometheus.CounterVec

	// JudgeVerdictsTotal counts judge evaluations.
	// Labels: grounded (true, false)
	JudgeVerdictsTotal *prometheus.CounterVec

	// TimeToFirstChunkSeconds measures streaming latency to first chunk.
	TimeToFirstChunkSeconds prometheus.Histogram

	// DroppedStreamEventsTotal counts events rejected at the emission
	// boundary by payload validation.
	// Labels: type (status, chunk, sources, metadata, saved, done, error)
	DroppedStreamEventsTotal *prometheus.CounterVec

	// ClientDisconnectsTotal counts client disconnections mid-stream.
	ClientDisconnectsTotal prometheus.Counter
}

// DefaultMetrics is the singleton instance of PipelineMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *PipelineMetrics

var initOnce sync.Once

// InitMetrics initializes the default metrics instance.
//
// # Description
//
// Creates and registers all Prometheus metrics on first call. Later
// calls return the already-registered instance, so repeated service
// construction (tests, embedding) is safe.
func InitMetrics() *PipelineMetrics {
	initOnce.Do(registerMetrics)
	return DefaultMetrics
}

func registerMetrics() {
	DefaultMetrics = &PipelineMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "requests_total",
				Help:      "Pipeline runs by intent and terminal outcome",
			},
			[]string{"intent", "outcome"},
		),

		StageDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "stage_duration_seconds",
				Help:      "Per-stage latency of the answer pipeline",
				Buckets:   []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"stage"},
		),

		CacheLookupsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "cache_lookups_total",
				Help:      "Response cache lookups by result",
			},
			[]string{"result"},
		),

		RetriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "retries_total",
				Help:      "Answer retries by whether the retry replaced the original",
			},
			[]string{"kept"},
		),

		BlocksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "hallucination_blocks_total",
				Help:      "Answers replaced by the safe fallback, by blocking mode",
			},
			[]string{"mode"},
		),

		JudgeVerdictsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "judge_verdicts_total",
				Help:      "Judge evaluations by grounding verdict",
			},
			[]string{"grounded"},
		),

		TimeToFirstChunkSeconds: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "time_to_first_chunk_seconds",
				Help:      "Time from request to first streamed chunk in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
		),

		DroppedStreamEventsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "dropped_stream_events_total",
				Help:      "Stream events dropped by payload validation, by event type",
			},
			[]string{"type"},
		),

		ClientDisconnectsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "client_disconnects_total",
				Help:      "Client disconnections during streaming",
			},
		),
	}
}

// =============================================================================
// Helper Methods
// =============================================================================

// Outcome is a terminal pipeline outcome for metrics labeling.
type Outcome string

const (
	OutcomeAnswered Outcome = "answered"
	OutcomeCached   Outcome = "cached"
	OutcomeBlocked  Outcome = "blocked"
	OutcomeError    Outcome = "error"
)

// RecordRequest records a completed pipeline run.
func (m *PipelineMetrics) RecordRequest(intent string, outcome Outcome) {
	m.RequestsTotal.WithLabelValues(intent, string(outcome)).Inc()
}

// RecordStage records one stage's duration in seconds.
func (m *PipelineMetrics) RecordStage(stage string, seconds float64) {
	m.StageDurationSeconds.WithLabelValues(stage).Observe(seconds)
}

// RecordCacheLookup records a response cache hit or miss.
func (m *PipelineMetrics) RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookupsTotal.WithLabelValues(result).Inc()
}

// RecordRetry records a retry attempt and whether it replaced the
// original answer.
func (m *PipelineMetrics) RecordRetry(kept bool) {
	m.RetriesTotal.WithLabelValues(boolLabel(kept)).Inc()
}

// RecordBlock records a hallucination block under the given policy mode.
func (m *PipelineMetrics) RecordBlock(strict bool) {
	mode := "lenient"
	if strict {
		mode = "strict"
	}
	m.BlocksTotal.WithLabelValues(mode).Inc()
}

// RecordJudgeVerdict records a judge evaluation outcome.
func (m *PipelineMetrics) RecordJudgeVerdict(grounded bool) {
	m.JudgeVerdictsTotal.WithLabelValues(boolLabel(grounded)).Inc()
}

// RecordTimeToFirstChunk records streaming latency to the first chunk.
func (m *PipelineMetrics) RecordTimeToFirstChunk(seconds float64) {
	m.TimeToFirstChunkSeconds.Observe(seconds)
}

// RecordClientDisconnect records a client that went away mid-stream.
func (m *PipelineMetrics) RecordClientDisconnect() {
	m.ClientDisconnectsTotal.Inc()
}

// RecordDroppedEvent records a stream event rejected by validation.
func (m *PipelineMetrics) RecordDroppedEvent(eventType string) {
	m.DroppedStreamEventsTotal.WithLabelValues(eventType).Inc()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
