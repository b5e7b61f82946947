// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/kodiak/services/orchestrator/datatypes"
)

var responseCacheTracer = otel.Tracer("kodiak.orchestrator.cache")

// ResponseCache is the tenant+conversation scoped cache of final answers.
//
// # Description
//
// Entries are created only on successful, non-blocked pipeline completion
// and expire via TTL. Store failures are logged and swallowed: an
// unreachable backing store turns the cache into a no-op, it never fails
// the request path.
//
// # Thread Safety
//
// Safe for concurrent use; all state lives in the backing Store.
type ResponseCache struct {
	store Store
	ttl   time.Duration
}

// NewResponseCache creates a ResponseCache over the given store.
func NewResponseCache(store Store, ttl time.Duration) *ResponseCache {
	return &ResponseCache{store: store, ttl: ttl}
}

// Get returns the cached entry for the question, or nil on miss or store
// failure.
func (c *ResponseCache) Get(ctx context.Context, workspaceId, conversationId, question string) *datatypes.CacheEntry {
	ctx, span := responseCacheTracer.Start(ctx, "ResponseCache.Get")
	defer span.End()

	key := ResponseKey(workspaceId, conversationId, question)
	raw, err := c.store.Get(ctx, key)
	if errors.Is(err, ErrCacheMiss) {
		span.SetAttributes(attribute.Bool("cache.hit", false))
		return nil
	}
	if err != nil {
		span.SetAttributes(attribute.Bool("cache.degraded", true))
		slog.Warn("response cache read failed, degrading to no-cache", "error", err)
		return nil
	}

	var entry datatypes.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		// A corrupt entry is treated as a miss and evicted best-effort.
		slog.Warn("discarding corrupt cache entry", "key", key, "error", err)
		_ = c.store.Delete(ctx, key)
		return nil
	}

	span.SetAttributes(attribute.Bool("cache.hit", true))
	return &entry
}

// Put stores a completed answer. Callers must not pass blocked results;
// the pipeline enforces that invariant before calling.
func (c *ResponseCache) Put(ctx context.Context, workspaceId, conversationId, question string, entry datatypes.CacheEntry) {
	ctx, span := responseCacheTracer.Start(ctx, "ResponseCache.Put")
	defer span.End()

	if entry.CachedAt.IsZero() {
		entry.CachedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		slog.Error("failed to marshal cache entry", "error", err)
		return
	}

	key := ResponseKey(workspaceId, conversationId, question)
	if err := c.store.SetWithTTL(ctx, key, raw, c.ttl); err != nil {
		span.SetAttributes(attribute.Bool("cache.degraded", true))
		slog.Warn("response cache write failed, degrading to no-cache", "error", err)
	}
}

// InvalidateWorkspace deletes every cached response for one workspace.
//
// Outputs:
//
//	int - Number of entries deleted.
//	error - Non-nil only when the prefix scan itself failed.
func (c *ResponseCache) InvalidateWorkspace(ctx context.Context, workspaceId string) (int, error) {
	return c.invalidatePrefix(ctx, WorkspacePrefix(workspaceId))
}

// InvalidateAll deletes every cached response across all workspaces.
func (c *ResponseCache) InvalidateAll(ctx context.Context) (int, error) {
	return c.invalidatePrefix(ctx, GlobalPrefix())
}

func (c *ResponseCache) invalidatePrefix(ctx context.Context, prefix string) (int, error) {
	ctx, span := responseCacheTracer.Start(ctx, "ResponseCache.invalidatePrefix")
	defer span.End()
	span.SetAttributes(attribute.String("cache.prefix", prefix))

	keys, err := c.store.KeysByPrefix(ctx, prefix)
	if err != nil {
		return 0, &datatypes.BackingStoreUnavailableError{Store: "cache", Err: err}
	}
	deleted := 0
	for _, key := range keys {
		if err := c.store.Delete(ctx, key); err != nil {
			slog.Warn("failed to delete cache key", "key", key, "error", err)
			continue
		}
		deleted++
	}
	span.SetAttributes(attribute.Int("cache.deleted", deleted))
	return deleted, nil
}
