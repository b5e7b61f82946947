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
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/kodiak/pkg/extensions"
	"github.com/AleutianAI/kodiak/services/llm"
	"github.com/AleutianAI/kodiak/services/orchestrator/cache"
	"github.com/AleutianAI/kodiak/services/orchestrator/classifier"
	"github.com/AleutianAI/kodiak/services/orchestrator/conversation"
	"github.com/AleutianAI/kodiak/services/orchestrator/datatypes"
	"github.com/AleutianAI/kodiak/services/orchestrator/judge"
	"github.com/AleutianAI/kodiak/services/orchestrator/pipeline"
	"github.com/AleutianAI/kodiak/services/orchestrator/retrieval"
	"github.com/AleutianAI/kodiak/services/orchestrator/routing"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type staticModel struct{}

func (staticModel) Generate(context.Context, string, llm.GenerationParams) (string, error) {
	return "", errors.New("not used")
}

func (staticModel) Chat(context.Context, []llm.Message, llm.GenerationParams) (string, error) {
	return "ok", nil
}

func (staticModel) ChatStream(_ context.Context, _ []llm.Message, _ llm.GenerationParams, cb llm.StreamCallback) error {
	return cb("ok")
}

type noSearcher struct{}

func (noSearcher) SimilaritySearch(context.Context, string, int, *retrieval.RetrievalFilter) ([]datatypes.Document, error) {
	return nil, nil
}

// viewerAuthProvider authenticates every request without the admin role.
type viewerAuthProvider struct{}

func (viewerAuthProvider) Validate(context.Context, string) (*extensions.AuthInfo, error) {
	return &extensions.AuthInfo{UserID: "viewer", Roles: []string{"viewer"}}, nil
}

func newEngine(t *testing.T, provider extensions.AuthProvider) *gin.Engine {
	t.Helper()

	model := staticModel{}
	cls, err := classifier.New(model, nil, classifier.DefaultConfig())
	require.NoError(t, err)
	retriever, err := retrieval.NewMultiQueryRetriever(noSearcher{}, model, 2, time.Second)
	require.NoError(t, err)
	j, err := judge.NewJudge(model, time.Second)
	require.NoError(t, err)
	convs, err := conversation.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = convs.Close() })
	responses := cache.NewResponseCache(cache.NewMemoryStore(), time.Minute)
	queryRouter := routing.NewRouter(0.7)

	p, err := pipeline.New(pipeline.Deps{
		Classifier:    cls,
		Router:        queryRouter,
		Retriever:     retriever,
		Judge:         j,
		Generator:     model,
		Responses:     responses,
		Conversations: convs,
	}, pipeline.DefaultConfig())
	require.NoError(t, err)

	engine := gin.New()
	SetupRoutes(engine, Deps{
		Pipeline:      p,
		Classifier:    cls,
		Router:        queryRouter,
		Judge:         j,
		Responses:     responses,
		Conversations: convs,
		AuthProvider:  provider,
	})
	return engine
}

func TestSetupRoutes_RegistersSurface(t *testing.T) {
	engine := newEngine(t, nil)

	paths := map[string]bool{}
	for _, route := range engine.Routes() {
		paths[route.Method+" "+route.Path] = true
	}

	for _, want := range []string{
		"GET /health",
		"GET /metrics",
		"POST /v1/chat/rag",
		"POST /v1/chat/rag/stream",
		"GET /v1/conversations/:conversationId/history",
		"DELETE /v1/conversations/:conversationId",
		"DELETE /v1/admin/cache",
		"GET /v1/admin/routing/stats",
		"POST /v1/admin/routing/stats/reset",
		"GET /v1/admin/classifier/stats",
		"POST /v1/admin/evaluate",
		"POST /v1/admin/evaluate/batch",
		"GET /v1/admin/evaluate/metrics",
	} {
		assert.True(t, paths[want], "missing route %s", want)
	}
}

func TestSetupRoutes_HealthAndMetrics(t *testing.T) {
	engine := newEngine(t, nil)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSetupRoutes_NopProviderGrantsAdmin(t *testing.T) {
	engine := newEngine(t, nil)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/admin/routing/stats", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSetupRoutes_AdminRequiresRole(t *testing.T) {
	engine := newEngine(t, viewerAuthProvider{})

	// The viewer can chat...
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/conversations/c1/history?workspace_id=ws1", nil)
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code) // authenticated, conversation missing

	// ...but not touch the admin surface.
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/v1/admin/cache", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
}
