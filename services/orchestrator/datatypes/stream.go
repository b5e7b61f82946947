// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StreamEventType enumerates the fixed streaming event vocabulary.
type StreamEventType string

const (
	EventStatus   StreamEventType = "status"
	EventChunk    StreamEventType = "chunk"
	EventSources  StreamEventType = "sources"
	EventMetadata StreamEventType = "metadata"
	EventSaved    StreamEventType = "saved"
	EventDone     StreamEventType = "done"
	EventError    StreamEventType = "error"
)

// Valid reports whether the event type is part of the vocabulary.
func (t StreamEventType) Valid() bool {
	switch t {
	case EventStatus, EventChunk, EventSources, EventMetadata,
		EventSaved, EventDone, EventError:
		return true
	}
	return false
}

// StreamEvent is one SSE event on the chat stream.
//
// # Description
//
// Events carry exactly one payload field depending on Type. Validate is
// called at the emission boundary; events that fail validation are dropped
// with a warning and never forwarded to the client.
//
// # Thread Safety
//
// Values are written by a single emitter goroutine; safe to copy.
type StreamEvent struct {
	// Id is a UUID assigned by the writer for ordering and deduplication.
	Id string `json:"id,omitempty"`

	Type StreamEventType `json:"type"`

	// CreatedAt is a Unix millisecond timestamp assigned by the writer.
	CreatedAt int64 `json:"timestamp"`

	// Message is set for status events.
	Message string `json:"message,omitempty"`

	// Content is set for chunk events.
	Content string `json:"content,omitempty"`

	// Sources is set for sources events.
	Sources []SourceInfo `json:"sources,omitempty"`

	// Metadata is set for metadata events (intent, retrieval metrics, ...).
	Metadata map[string]any `json:"metadata,omitempty"`

	// ConversationId is set for saved and done events.
	ConversationId string `json:"conversation_id,omitempty"`

	// Error is set for error events. Sanitized, no internal details.
	Error string `json:"error,omitempty"`
}

// NewStreamEvent builds an event with a fresh id and timestamp, applying
// the optional mutator to set the payload field for the type.
func NewStreamEvent(t StreamEventType, mutate func(*StreamEvent)) StreamEvent {
	e := StreamEvent{
		Id:        uuid.New().String(),
		Type:      t,
		CreatedAt: time.Now().UnixMilli(),
	}
	if mutate != nil {
		mutate(&e)
	}
	return e
}

// Validate checks that the event type is known and the payload matches it.
//
// Outputs:
//
//	error - Non-nil when the event must not be emitted.
func (e *StreamEvent) Validate() error {
	if !e.Type.Valid() {
		return fmt.Errorf("unknown stream event type %q", e.Type)
	}
	switch e.Type {
	case EventStatus:
		if e.Message == "" {
			return fmt.Errorf("status event requires a message")
		}
	case EventChunk:
		if e.Content == "" {
			return fmt.Errorf("chunk event requires content")
		}
	case EventSources:
		if e.Sources == nil {
			return fmt.Errorf("sources event requires a sources list")
		}
	case EventMetadata:
		if len(e.Metadata) == 0 {
			return fmt.Errorf("metadata event requires a metadata map")
		}
	case EventSaved, EventDone:
		if e.ConversationId == "" {
			return fmt.Errorf("%s event requires a conversation id", e.Type)
		}
	case EventError:
		if e.Error == "" {
			return fmt.Errorf("error event requires an error message")
		}
	}
	return nil
}
