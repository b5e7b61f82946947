// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/kodiak/services/orchestrator/datatypes"
)

func TestBuildFilter_TenantIsMandatory(t *testing.T) {
	_, err := BuildFilter(map[string]any{"page": 3}, "")
	require.Error(t, err)
	assert.True(t, datatypes.IsValidationError(err))

	// Clients cannot smuggle a tenant id through the filter map either.
	_, err = BuildFilter(map[string]any{"workspaceId": "other-tenant"}, "ws1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workspace id cannot be set via filters")
}

func TestBuildFilter_TenantIdCharset(t *testing.T) {
	for _, bad := range []string{
		`ws"} or {1=1`,
		"ws 1",
		"ws/../other",
		strings.Repeat("a", 65),
	} {
		_, err := BuildFilter(nil, bad)
		require.Error(t, err, "workspace id %q should be rejected", bad)
		assert.True(t, datatypes.IsValidationError(err))
	}

	for _, good := range []string{"ws1", "Tenant_42", "acme-corp", strings.Repeat("a", 64)} {
		f, err := BuildFilter(nil, good)
		require.NoError(t, err, "workspace id %q should be accepted", good)
		assert.Equal(t, good, f.WorkspaceId())
	}
}

func TestBuildFilter_PageBounds(t *testing.T) {
	_, err := BuildFilter(map[string]any{"page": 99999}, "ws1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Page must be between 1 and 10000")

	for _, bad := range []any{0, -1, 2.5, "7"} {
		_, err := BuildFilter(map[string]any{"page": bad}, "ws1")
		assert.Error(t, err, "page %v should be rejected", bad)
	}

	f, err := BuildFilter(map[string]any{"page": float64(42)}, "ws1")
	require.NoError(t, err, "JSON numbers arrive as float64")
	assert.NotNil(t, f)
}

func TestBuildFilter_PageRangeSpan(t *testing.T) {
	_, err := BuildFilter(map[string]any{
		"pageRange": map[string]any{"start": 1, "end": 500},
	}, "ws1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "span must not exceed 100")

	f, err := BuildFilter(map[string]any{
		"pageRange": map[string]any{"start": float64(10), "end": float64(60)},
	}, "ws1")
	require.NoError(t, err)
	assert.NotNil(t, f)
}

func TestBuildFilter_DateRangeSpan(t *testing.T) {
	_, err := BuildFilter(map[string]any{
		"dateRange": map[string]any{"start": "2015-01-01", "end": "2024-01-01"},
	}, "ws1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must not exceed 5 years")

	f, err := BuildFilter(map[string]any{
		"dateRange": map[string]any{"start": "2023-01-01", "end": "2024-06-01"},
	}, "ws1")
	require.NoError(t, err)
	assert.NotNil(t, f)

	_, err = BuildFilter(map[string]any{
		"dateRange": map[string]any{"start": "2024-01-01", "end": "2023-01-01"},
	}, "ws1")
	assert.Error(t, err, "inverted range rejected")
}

func TestBuildFilter_StringCharset(t *testing.T) {
	// GraphQL metacharacters are denied by default.
	_, err := BuildFilter(map[string]any{"section": `intro"} or {1=1`}, "ws1")
	require.Error(t, err)

	f, err := BuildFilter(map[string]any{"section": "Getting Started/Install"}, "ws1")
	require.NoError(t, err)
	assert.NotNil(t, f)
}

func TestBuildFilter_ClassificationLadderExpands(t *testing.T) {
	f, err := BuildFilter(map[string]any{"classificationLevel": "confidential"}, "ws1")
	require.NoError(t, err)
	assert.Equal(t, []string{"public", "internal", "confidential"}, f.classificationLevels)

	_, err = BuildFilter(map[string]any{"classificationLevel": "top_secret"}, "ws1")
	assert.Error(t, err)
}

func TestBuildFilter_CollectsAllProblems(t *testing.T) {
	_, err := BuildFilter(map[string]any{
		"page":         99999,
		"documentType": "floppy",
		"bogus":        true,
	}, "ws1")
	require.Error(t, err)

	var verr *datatypes.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Problems, 3, "every problem reported in one pass")
}

func TestBuildFilter_WhereAlwaysContainsTenant(t *testing.T) {
	f, err := BuildFilter(map[string]any{
		"page": float64(3),
		"tags": []any{"auth", "oauth2"},
	}, "ws1")
	require.NoError(t, err)

	where := f.Where()
	require.NotNil(t, where)
	rendered := where.String()
	assert.Contains(t, rendered, "workspaceId")
	assert.Contains(t, rendered, "ws1")

	// The tenant predicate is present even with no optional filters.
	bare, err := BuildFilter(nil, "ws2")
	require.NoError(t, err)
	assert.Contains(t, bare.Where().String(), "ws2")
}
