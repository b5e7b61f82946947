// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package analytics emits pipeline events to InfluxDB for offline
// analysis of answer quality and cache behavior.
//
// Events are fire-and-forget: analytics must never slow down or fail the
// request path, so writes go through the non-blocking API and errors are
// only logged.
package analytics

import (
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/AleutianAI/kodiak/services/orchestrator/datatypes"
)

// Event is one pipeline outcome record.
type Event struct {
	WorkspaceId string
	Intent      datatypes.Intent
	Strategy    string
	CacheHit    bool
	Blocked     bool
	Retried     bool
	Confidence  float64
	Duration    time.Duration
}

// Sink receives pipeline events.
type Sink interface {
	Record(event Event)
	Close()
}

// InfluxSink writes events to an InfluxDB bucket.
//
// Thread Safety: This type is safe for concurrent use.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
}

// NewInfluxSink connects a sink to InfluxDB. The non-blocking write API
// batches points internally; Close flushes what remains.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	client := influxdb2.NewClient(url, token)
	writeAPI := client.WriteAPI(org, bucket)

	// Drain the async error channel so write failures surface in logs
	// instead of piling up silently.
	go func() {
		for err := range writeAPI.Errors() {
			slog.Warn("analytics write failed", "error", err)
		}
	}()

	return &InfluxSink{client: client, writeAPI: writeAPI}
}

// Record implements Sink.
func (s *InfluxSink) Record(event Event) {
	p := influxdb2.NewPoint(
		"rag_pipeline",
		map[string]string{
			"workspace": event.WorkspaceId,
			"intent":    string(event.Intent),
			"strategy":  event.Strategy,
		},
		map[string]any{
			"cache_hit":   event.CacheHit,
			"blocked":     event.Blocked,
			"retried":     event.Retried,
			"confidence":  event.Confidence,
			"duration_ms": event.Duration.Milliseconds(),
		},
		time.Now(),
	)
	s.writeAPI.WritePoint(p)
}

// Close flushes buffered points and releases the client.
func (s *InfluxSink) Close() {
	s.writeAPI.Flush()
	s.client.Close()
}

// NopSink discards all events, for deployments without InfluxDB.
type NopSink struct{}

func (NopSink) Record(Event) {}
func (NopSink) Close()       {}

var (
	_ Sink = (*InfluxSink)(nil)
	_ Sink = NopSink{}
)
