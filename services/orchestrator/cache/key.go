// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cache

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
)

// Key prefixes. Workspace-scoped response keys share the "rag:ws:" prefix so
// per-tenant and global invalidation reduce to prefix scans.
const (
	responseKeyPrefix = "rag:ws:"
	intentKeyPrefix   = "intent:"
	statsKeyPrefix    = "stats:"
)

// NormalizeQuestion canonicalizes a question for cache keying: trim,
// lowercase, collapse runs of internal whitespace. Case and whitespace
// variants of the same question therefore share a cache entry.
func NormalizeQuestion(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

// questionDigest returns the base64url SHA-256 of the normalized question.
func questionDigest(question string) string {
	sum := sha256.Sum256([]byte(NormalizeQuestion(question)))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// ResponseKey builds the response cache key:
//
//	rag:ws:{workspace}[:conv:{conversation}]:{base64(hash(normalized question))}
func ResponseKey(workspaceId, conversationId, question string) string {
	var b strings.Builder
	b.WriteString(responseKeyPrefix)
	b.WriteString(workspaceId)
	if conversationId != "" {
		b.WriteString(":conv:")
		b.WriteString(conversationId)
	}
	b.WriteString(":")
	b.WriteString(questionDigest(question))
	return b.String()
}

// WorkspacePrefix returns the key prefix covering every response cached for
// one workspace.
func WorkspacePrefix(workspaceId string) string {
	return fmt.Sprintf("%s%s:", responseKeyPrefix, workspaceId)
}

// GlobalPrefix returns the key prefix covering every cached response.
func GlobalPrefix() string { return responseKeyPrefix }

// IntentKey builds the classification cache key from the digest of the
// normalized query plus conversation context.
func IntentKey(digest string) string { return intentKeyPrefix + digest }

// StatsKey builds a counter key for the given stats counter name.
func StatsKey(name string) string { return statsKeyPrefix + name }
