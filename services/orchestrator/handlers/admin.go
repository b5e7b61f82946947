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
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/kodiak/services/orchestrator/cache"
	"github.com/AleutianAI/kodiak/services/orchestrator/classifier"
	"github.com/AleutianAI/kodiak/services/orchestrator/datatypes"
	"github.com/AleutianAI/kodiak/services/orchestrator/judge"
	"github.com/AleutianAI/kodiak/services/orchestrator/routing"
)

// HandleInvalidateCache serves DELETE /v1/admin/cache.
//
// # Description
//
// With ?workspace_id=X only that tenant's cached responses are dropped;
// without it the whole response cache is flushed. Used after reindexing
// or permission changes, when cached answers may cite stale documents.
func HandleInvalidateCache(responses *cache.ResponseCache) gin.HandlerFunc {
	return func(c *gin.Context) {
		var (
			deleted int
			err     error
		)
		workspaceId := c.Query("workspace_id")
		if workspaceId != "" {
			deleted, err = responses.InvalidateWorkspace(c.Request.Context(), workspaceId)
		} else {
			deleted, err = responses.InvalidateAll(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "cache store unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"deleted":      deleted,
			"workspace_id": workspaceId,
		})
	}
}

// HandleRoutingStats serves GET /v1/admin/routing/stats: the rolling
// decision window plus aggregate counters.
func HandleRoutingStats(router *routing.Router) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, router.Stats().Snapshot())
	}
}

// HandleResetRoutingStats serves POST /v1/admin/routing/stats/reset.
func HandleResetRoutingStats(router *routing.Router) gin.HandlerFunc {
	return func(c *gin.Context) {
		router.Stats().Reset()
		c.JSON(http.StatusOK, gin.H{"reset": true})
	}
}

// HandleClassifierStats serves GET /v1/admin/classifier/stats: per-tier
// hit counters showing how often the model tier is actually reached.
func HandleClassifierStats(cls *classifier.IntentClassifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, cls.Stats())
	}
}

// HandleBatchEvaluate serves POST /v1/admin/evaluate/batch.
//
// # Description
//
// Runs the quality judge over up to 50 question/answer/context samples
// and returns per-sample verdicts plus aggregate rates. Offline tool for
// measuring groundedness across a test set; it does not touch the
// serving path.
func HandleBatchEvaluate(j *judge.Judge) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.BatchEvaluationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
			return
		}
		result := j.EvaluateBatch(c.Request.Context(), req.Samples)
		c.JSON(http.StatusOK, result)
	}
}

// HandleEvaluate serves POST /v1/admin/evaluate: judge a single
// question/answer/context sample. The one-off companion to the batch
// surface, for spot-checking an answer without building a sample set.
func HandleEvaluate(j *judge.Judge) gin.HandlerFunc {
	return func(c *gin.Context) {
		var sample datatypes.EvaluationSample
		if err := c.ShouldBindJSON(&sample); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
			return
		}
		eval := j.Evaluate(c.Request.Context(), sample.Question, sample.Answer, nil,
			strings.Join(sample.Contexts, "\n\n"))
		c.JSON(http.StatusOK, eval)
	}
}

// HandleEvaluationMetrics serves GET /v1/admin/evaluate/metrics: the
// dimensions the judge scores and the summary rates batch evaluation
// reports over them.
func HandleEvaluationMetrics() gin.HandlerFunc {
	dimensions := []gin.H{
		{"name": "is_grounded", "type": "bool", "summary": "grounded_rate"},
		{"name": "is_relevant", "type": "bool", "summary": "relevant_rate"},
		{"name": "is_complete", "type": "bool", "summary": "complete_rate"},
		{"name": "has_hallucinations", "type": "bool", "summary": "hallucination_rate"},
		{"name": "confidence", "type": "float", "summary": "avg_confidence"},
	}
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"dimensions": dimensions})
	}
}

// HandleHealth serves GET /health.
func HandleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
