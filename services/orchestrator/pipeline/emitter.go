// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"log/slog"

	"github.com/AleutianAI/kodiak/services/orchestrator/datatypes"
	"github.com/AleutianAI/kodiak/services/orchestrator/observability"
)

// Emitter receives validated stream events. The transport (SSE handler)
// implements it; Emit returning an error means the client is gone and
// the pipeline should stop streaming.
type Emitter interface {
	Emit(event datatypes.StreamEvent) error
}

// emit validates an event at the emission boundary. Invalid events are
// dropped with a warning and never reach the client; a dropped event is a
// bug in the pipeline, not a client error.
func emit(sink Emitter, event datatypes.StreamEvent) error {
	if err := event.Validate(); err != nil {
		slog.Warn("dropping invalid stream event", "type", event.Type, "error", err)
		if observability.DefaultMetrics != nil {
			observability.DefaultMetrics.RecordDroppedEvent(string(event.Type))
		}
		return nil
	}
	return sink.Emit(event)
}

func emitStatus(sink Emitter, message string) error {
	return emit(sink, datatypes.NewStreamEvent(datatypes.EventStatus, func(e *datatypes.StreamEvent) {
		e.Message = message
	}))
}

func emitChunk(sink Emitter, content string) error {
	return emit(sink, datatypes.NewStreamEvent(datatypes.EventChunk, func(e *datatypes.StreamEvent) {
		e.Content = content
	}))
}

func emitSources(sink Emitter, sources []datatypes.SourceInfo) error {
	if sources == nil {
		sources = []datatypes.SourceInfo{}
	}
	return emit(sink, datatypes.NewStreamEvent(datatypes.EventSources, func(e *datatypes.StreamEvent) {
		e.Sources = sources
	}))
}

func emitMetadata(sink Emitter, metadata map[string]any) error {
	return emit(sink, datatypes.NewStreamEvent(datatypes.EventMetadata, func(e *datatypes.StreamEvent) {
		e.Metadata = metadata
	}))
}

func emitSaved(sink Emitter, conversationId string) error {
	return emit(sink, datatypes.NewStreamEvent(datatypes.EventSaved, func(e *datatypes.StreamEvent) {
		e.ConversationId = conversationId
	}))
}

func emitDone(sink Emitter, conversationId string) error {
	return emit(sink, datatypes.NewStreamEvent(datatypes.EventDone, func(e *datatypes.StreamEvent) {
		e.ConversationId = conversationId
	}))
}

func emitError(sink Emitter, message string) error {
	return emit(sink, datatypes.NewStreamEvent(datatypes.EventError, func(e *datatypes.StreamEvent) {
		e.Error = message
	}))
}
