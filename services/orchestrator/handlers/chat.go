// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the HTTP surface of the orchestrator:
// grounded chat (blocking and streaming), conversation history, and the
// admin endpoints for cache, routing stats, and batch evaluation.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/kodiak/services/orchestrator/datatypes"
	"github.com/AleutianAI/kodiak/services/orchestrator/middleware"
	"github.com/AleutianAI/kodiak/services/orchestrator/pipeline"
)

// HandleChatRAG serves POST /v1/chat/rag: one blocking grounded answer.
//
// # Description
//
// Binds and validates the request, resolves the tenant workspace, and
// runs the full answer pipeline. Validation failures return 400 with
// every collected problem; generation timeouts return 504; everything
// else internal returns a sanitized 500.
func HandleChatRAG(p *pipeline.Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.ChatRAGRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
			return
		}
		req.WorkspaceId = middleware.ResolveWorkspace(c, req.WorkspaceId)
		if req.WorkspaceId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "workspace_id is required"})
			return
		}

		resp, err := p.Run(c.Request.Context(), &req)
		if err != nil {
			writeChatError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// HandleChatRAGStream serves POST /v1/chat/rag/stream: the SSE variant.
//
// # Description
//
// Events follow the fixed vocabulary (status, sources, chunk, metadata,
// saved, done, error). Errors after the stream opens are reported as an
// error event, not an HTTP status; by then the 200 header is long gone.
func HandleChatRAGStream(p *pipeline.Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.ChatRAGRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
			return
		}
		req.WorkspaceId = middleware.ResolveWorkspace(c, req.WorkspaceId)
		if req.WorkspaceId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "workspace_id is required"})
			return
		}

		SetSSEHeaders(c.Writer)
		writer, err := NewSSEWriter(c.Writer)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
			return
		}

		if err := p.RunStream(c.Request.Context(), &req, writer); err != nil {
			// The pipeline already emitted an error event where possible.
			slog.Warn("stream ended with error",
				"workspaceId", req.WorkspaceId,
				"conversationId", req.ConversationId,
				"error", err)
		}
	}
}

// writeChatError maps pipeline errors to HTTP statuses without leaking
// internals.
func writeChatError(c *gin.Context, err error) {
	switch {
	case datatypes.IsValidationError(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case datatypes.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case datatypes.IsTimeout(err):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "the model did not respond in time"})
	default:
		slog.Error("chat request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
