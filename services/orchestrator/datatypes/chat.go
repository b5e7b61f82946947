// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"time"

	"github.com/google/uuid"
)

// ChatRAGRequest is the inbound payload for a grounded chat turn.
//
// WorkspaceId is the tenant boundary. It is taken from the authenticated
// request context by the handler, never trusted from document filters.
type ChatRAGRequest struct {
	// Id is populated by EnsureDefaults when empty.
	Id string `json:"id,omitempty"`

	// Message is the user's question.
	Message string `json:"message" binding:"required,min=1,max=8000"`

	// WorkspaceId scopes retrieval and caching to one tenant. Optional in
	// the body; the identity provider claim or X-Workspace-Id header may
	// supply it instead.
	WorkspaceId string `json:"workspace_id" binding:"omitempty,min=1,max=64"`

	// ConversationId continues an existing conversation when set.
	ConversationId string `json:"conversation_id,omitempty" binding:"omitempty,max=64"`

	// History is the prior turns supplied by the client. Bounded by the
	// handler; the pipeline only reads the most recent turns.
	History []Message `json:"history,omitempty" binding:"omitempty,max=50"`

	// Filters are optional metadata predicates validated by the filter
	// builder (page, section, date range, author, ...).
	Filters map[string]any `json:"filters,omitempty"`

	// ForceIntent bypasses classification when set to a valid intent name.
	// Used by internal tooling and tests.
	ForceIntent string `json:"force_intent,omitempty" binding:"omitempty,intent"`

	// CreatedAt is populated by EnsureDefaults when zero.
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// EnsureDefaults populates Id and CreatedAt if unset.
func (r *ChatRAGRequest) EnsureDefaults() {
	if r.Id == "" {
		r.Id = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
}

// EnsureConversationId returns the conversation id, generating one for new
// conversations.
func (r *ChatRAGRequest) EnsureConversationId() string {
	if r.ConversationId == "" {
		r.ConversationId = "conv_" + uuid.New().String()
	}
	return r.ConversationId
}

// ChatRAGResponse is the blocking-mode answer payload.
type ChatRAGResponse struct {
	Id             string         `json:"id"`
	Answer         string         `json:"answer"`
	ConversationId string         `json:"conversation_id"`
	Sources        []SourceInfo   `json:"sources,omitempty"`
	Intent         Intent         `json:"intent,omitempty"`
	Confidence     float64        `json:"confidence,omitempty"`

	// Blocked is true when the hallucination guardrail replaced the answer
	// with the safe fallback message. Blocked responses are never cached.
	Blocked bool `json:"blocked,omitempty"`

	// Cached is true when the answer was served from the response cache.
	Cached bool `json:"cached,omitempty"`

	Evaluation *JudgeEvaluation  `json:"evaluation,omitempty"`
	Metrics    *RetrievalMetrics `json:"retrieval_metrics,omitempty"`
	Metadata   map[string]any    `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// NewChatRAGResponse builds a response with a fresh id and timestamp.
func NewChatRAGResponse(answer, conversationId string, sources []SourceInfo) *ChatRAGResponse {
	return &ChatRAGResponse{
		Id:             uuid.New().String(),
		Answer:         answer,
		ConversationId: conversationId,
		Sources:        sources,
		CreatedAt:      time.Now().UTC(),
	}
}

// EvaluationSample is one question/answer/context triple for the batch
// evaluation admin surface.
type EvaluationSample struct {
	Question string   `json:"question" binding:"required"`
	Answer   string   `json:"answer" binding:"required"`
	Contexts []string `json:"contexts" binding:"required,min=1"`
}

// BatchEvaluationRequest runs the judge over up to 50 samples.
type BatchEvaluationRequest struct {
	Samples []EvaluationSample `json:"samples" binding:"required,min=1,max=50"`
}

// BatchEvaluationResult aggregates per-sample verdicts.
type BatchEvaluationResult struct {
	Results []JudgeEvaluation  `json:"results"`
	Summary map[string]float64 `json:"summary"`
}
