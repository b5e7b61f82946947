// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the orchestrator service.
//
// # Authentication Flow
//
// The auth middleware extracts a bearer token from the Authorization header,
// validates it using the configured AuthProvider, and stores the resulting
// AuthInfo in the Gin context for downstream handlers.
//
// # Workspace Resolution
//
// The workspace is the tenant boundary for retrieval, caching, and
// conversation storage. Handlers resolve it via ResolveWorkspace, which
// prefers the identity provider's claim over anything the client sends.
// A request body workspace id is only honored when the identity provider
// did not pin one.
//
// # Open Source Behavior
//
// When using NopAuthProvider (default), all requests are authenticated
// as "local-user" with admin privileges and the workspace comes from the
// X-Workspace-Id header or request body.
package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/kodiak/pkg/extensions"
)

// authInfoKey is the context key for storing AuthInfo.
const authInfoKey = "kodiak_auth_info"

// workspaceMetadataKey is the identity provider claim carrying the
// tenant binding.
const workspaceMetadataKey = "workspace_id"

// WorkspaceHeader is the client-supplied tenant header, honored only when
// the identity provider did not pin a workspace.
const WorkspaceHeader = "X-Workspace-Id"

// SetAuthInfo stores the authenticated user info in the Gin context.
func SetAuthInfo(c *gin.Context, info *extensions.AuthInfo) {
	c.Set(authInfoKey, info)
}

// GetAuthInfo retrieves the authenticated user info from the Gin context.
//
// Outputs:
//
//	*extensions.AuthInfo - User info, or nil if not authenticated.
func GetAuthInfo(c *gin.Context) *extensions.AuthInfo {
	if info, exists := c.Get(authInfoKey); exists {
		if authInfo, ok := info.(*extensions.AuthInfo); ok {
			return authInfo
		}
	}
	return nil
}

// ResolveWorkspace determines the tenant for this request.
//
// # Description
//
// Resolution order:
//  1. The identity provider's workspace_id claim. Enterprise deployments
//     pin users to workspaces here; clients cannot override it.
//  2. The X-Workspace-Id header.
//  3. The fallback (usually the request body's workspace_id).
//
// Outputs:
//
//	string - The resolved workspace id; empty when nothing named one.
func ResolveWorkspace(c *gin.Context, fallback string) string {
	if info := GetAuthInfo(c); info != nil {
		if ws, ok := info.Metadata.GetString(workspaceMetadataKey); ok && ws != "" {
			return ws
		}
	}
	if ws := strings.TrimSpace(c.GetHeader(WorkspaceHeader)); ws != "" {
		return ws
	}
	return fallback
}

// AuthMiddleware creates a Gin middleware that authenticates requests.
//
// # Description
//
// Extracts the bearer token from the Authorization header, validates it
// using the provided AuthProvider, and stores the resulting AuthInfo in
// the context. With NopAuthProvider every request authenticates as
// local-user, so a bare deployment needs no identity infrastructure.
//
// # Thread Safety
//
// Thread-safe. The returned middleware can be used concurrently.
func AuthMiddleware(provider extensions.AuthProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)

		authInfo, err := provider.Validate(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, extensions.ErrUnauthorized) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "unauthorized",
				})
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authentication failed",
			})
			return
		}

		SetAuthInfo(c, authInfo)
		c.Next()
	}
}

// RequireAdmin guards the admin surface (cache invalidation, batch
// evaluation, stats reset).
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		info := GetAuthInfo(c)
		if info == nil || !info.HasRole("admin") {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "admin role required",
			})
			return
		}
		c.Next()
	}
}

// AuditMiddleware reports each completed request to the injected auditor.
//
// # Description
//
// Runs after the handler chain and builds a RequestRecord from the
// authenticated identity, the resolved workspace, and the response
// status. Must be registered after AuthMiddleware so the identity is
// available. The auditor contract requires AuditRequest not to block;
// the middleware calls it inline on the request path.
func AuditMiddleware(auditor extensions.RequestAuditor) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		record := extensions.RequestRecord{
			Method:      c.Request.Method,
			Path:        c.FullPath(),
			Status:      c.Writer.Status(),
			Duration:    time.Since(start),
			At:          start,
			WorkspaceID: ResolveWorkspace(c, ""),
		}
		if record.Path == "" {
			record.Path = c.Request.URL.Path
		}
		if info := GetAuthInfo(c); info != nil {
			record.UserID = info.UserID
		}
		auditor.AuditRequest(c.Request.Context(), record)
	}
}

// extractBearerToken extracts the token from the Authorization header.
// Returns empty string if the header is missing or malformed. The
// "Bearer" prefix is case-insensitive per RFC 7235.
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
