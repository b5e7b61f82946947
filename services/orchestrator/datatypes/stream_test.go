// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"testing"
)

func TestStreamEvent_Validate(t *testing.T) {
	tests := []struct {
		name    string
		event   StreamEvent
		wantErr bool
	}{
		{
			name:    "valid status",
			event:   StreamEvent{Type: EventStatus, Message: "Searching documents..."},
			wantErr: false,
		},
		{
			name:    "status without message",
			event:   StreamEvent{Type: EventStatus},
			wantErr: true,
		},
		{
			name:    "valid chunk",
			event:   StreamEvent{Type: EventChunk, Content: "Hello"},
			wantErr: false,
		},
		{
			name:    "chunk without content",
			event:   StreamEvent{Type: EventChunk},
			wantErr: true,
		},
		{
			name:    "valid sources with empty slice",
			event:   StreamEvent{Type: EventSources, Sources: []SourceInfo{}},
			wantErr: false,
		},
		{
			name:    "sources with nil list",
			event:   StreamEvent{Type: EventSources},
			wantErr: true,
		},
		{
			name:    "valid metadata",
			event:   StreamEvent{Type: EventMetadata, Metadata: map[string]any{"intent": "factual"}},
			wantErr: false,
		},
		{
			name:    "empty metadata",
			event:   StreamEvent{Type: EventMetadata, Metadata: map[string]any{}},
			wantErr: true,
		},
		{
			name:    "valid done",
			event:   StreamEvent{Type: EventDone, ConversationId: "conv_1"},
			wantErr: false,
		},
		{
			name:    "saved without conversation id",
			event:   StreamEvent{Type: EventSaved},
			wantErr: true,
		},
		{
			name:    "valid error",
			event:   StreamEvent{Type: EventError, Error: "service unavailable"},
			wantErr: false,
		},
		{
			name:    "unknown type",
			event:   StreamEvent{Type: StreamEventType("token"), Content: "x"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseIntent(t *testing.T) {
	tests := []struct {
		raw        string
		wantIntent Intent
		wantKnown  bool
	}{
		{"factual", IntentFactual, true},
		{"COMPARISON", IntentComparison, true},
		{"  temporal ", IntentTemporal, true},
		{"banana", IntentFactual, false},
		{"", IntentFactual, false},
	}

	for _, tt := range tests {
		intent, known := ParseIntent(tt.raw)
		if intent != tt.wantIntent || known != tt.wantKnown {
			t.Errorf("ParseIntent(%q) = (%v, %v), want (%v, %v)",
				tt.raw, intent, known, tt.wantIntent, tt.wantKnown)
		}
	}
}

func TestUngroundedEvaluation_FullyPopulated(t *testing.T) {
	eval := UngroundedEvaluation("parse failed")

	if eval.IsGrounded || eval.IsRelevant || eval.IsComplete {
		t.Error("safe default must not claim any quality dimension")
	}
	if !eval.HasHallucinations {
		t.Error("safe default must flag hallucinations")
	}
	if eval.Confidence != 0 {
		t.Errorf("safe default confidence = %f, want 0", eval.Confidence)
	}
	if len(eval.Issues) == 0 {
		t.Error("safe default must record the issue")
	}
}
