// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/kodiak/services/orchestrator/conversation"
	"github.com/AleutianAI/kodiak/services/orchestrator/datatypes"
	"github.com/AleutianAI/kodiak/services/orchestrator/middleware"
)

const defaultHistoryLimit = 50

// HandleConversationHistory serves GET /v1/conversations/:conversationId/history.
//
// Query parameters:
//
//	workspace_id - Tenant scope (may also come from auth or header).
//	limit - Most-recent turns to return, default 50, max 200.
func HandleConversationHistory(store *conversation.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		workspaceId := middleware.ResolveWorkspace(c, c.Query("workspace_id"))
		if workspaceId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "workspace_id is required"})
			return
		}
		conversationId := c.Param("conversationId")

		limit := defaultHistoryLimit
		if raw := c.Query("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 1 || parsed > 200 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer in [1,200]"})
				return
			}
			limit = parsed
		}

		history, err := store.History(c.Request.Context(), workspaceId, conversationId, limit)
		if err != nil {
			if datatypes.IsNotFound(err) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"conversation_id": conversationId,
			"workspace_id":    workspaceId,
			"messages":        history,
		})
	}
}

// HandleDeleteConversation serves DELETE /v1/conversations/:conversationId.
// Deleting a missing conversation succeeds; the operation is idempotent.
func HandleDeleteConversation(store *conversation.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		workspaceId := middleware.ResolveWorkspace(c, c.Query("workspace_id"))
		if workspaceId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "workspace_id is required"})
			return
		}
		conversationId := c.Param("conversationId")

		if err := store.Delete(c.Request.Context(), workspaceId, conversationId); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete conversation"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": conversationId})
	}
}
