// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/kodiak/pkg/extensions"
	"github.com/AleutianAI/kodiak/services/orchestrator/cache"
	"github.com/AleutianAI/kodiak/services/orchestrator/classifier"
	"github.com/AleutianAI/kodiak/services/orchestrator/conversation"
	"github.com/AleutianAI/kodiak/services/orchestrator/handlers"
	"github.com/AleutianAI/kodiak/services/orchestrator/judge"
	"github.com/AleutianAI/kodiak/services/orchestrator/middleware"
	"github.com/AleutianAI/kodiak/services/orchestrator/pipeline"
	"github.com/AleutianAI/kodiak/services/orchestrator/routing"
)

// Deps carries everything the HTTP surface needs.
type Deps struct {
	Pipeline      *pipeline.Pipeline
	Classifier    *classifier.IntentClassifier
	Router        *routing.Router
	Judge         *judge.Judge
	Responses     *cache.ResponseCache
	Conversations *conversation.Store
	AuthProvider  extensions.AuthProvider

	// Auditor, when set, receives a record of every authenticated request.
	Auditor extensions.RequestAuditor
}

// SetupRoutes registers the orchestrator's HTTP surface on the engine.
func SetupRoutes(router *gin.Engine, deps Deps) {
	router.Use(otelgin.Middleware("kodiak-orchestrator"))

	router.GET("/health", handlers.HandleHealth())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authProvider := deps.AuthProvider
	if authProvider == nil {
		authProvider = &extensions.NopAuthProvider{}
	}

	// API version 1 group
	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(authProvider))
	if deps.Auditor != nil {
		v1.Use(middleware.AuditMiddleware(deps.Auditor))
	}
	{
		v1.POST("/chat/rag", handlers.HandleChatRAG(deps.Pipeline))
		v1.POST("/chat/rag/stream", handlers.HandleChatRAGStream(deps.Pipeline))

		conversations := v1.Group("/conversations")
		{
			conversations.GET("/:conversationId/history", handlers.HandleConversationHistory(deps.Conversations))
			conversations.DELETE("/:conversationId", handlers.HandleDeleteConversation(deps.Conversations))
		}

		admin := v1.Group("/admin")
		admin.Use(middleware.RequireAdmin())
		{
			admin.DELETE("/cache", handlers.HandleInvalidateCache(deps.Responses))
			admin.GET("/routing/stats", handlers.HandleRoutingStats(deps.Router))
			admin.POST("/routing/stats/reset", handlers.HandleResetRoutingStats(deps.Router))
			admin.GET("/classifier/stats", handlers.HandleClassifierStats(deps.Classifier))
			admin.POST("/evaluate", handlers.HandleEvaluate(deps.Judge))
			admin.POST("/evaluate/batch", handlers.HandleBatchEvaluate(deps.Judge))
			admin.GET("/evaluate/metrics", handlers.HandleEvaluationMetrics())
		}
	}
}
