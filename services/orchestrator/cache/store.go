// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package cache provides the response cache and the shared key/value store
// abstraction used by the classifier and the routing statistics.
//
// The Store interface is deliberately small: TTL'd byte values plus atomic
// counters. The production implementation is Redis; an in-memory
// implementation backs tests and single-node deployments. Every consumer
// treats store failures as a degradation signal, never as a request error.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss is returned by Get when the key does not exist or expired.
var ErrCacheMiss = errors.New("cache miss")

// Store is the distributed key/value contract consumed by the response
// cache, the classification cache, and the stats counters.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value for key, or ErrCacheMiss.
	Get(ctx context.Context, key string) ([]byte, error)

	// SetWithTTL stores value under key with the given expiry. A zero ttl
	// stores without expiry.
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// KeysByPrefix returns all keys beginning with prefix.
	KeysByPrefix(ctx context.Context, prefix string) ([]string, error)

	// IncrBy atomically adds delta to the counter at key and returns the
	// new value. Missing counters start at zero.
	IncrBy(ctx context.Context, key string, delta int64) (int64, error)
}
