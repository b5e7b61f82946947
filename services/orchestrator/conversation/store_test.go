// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package conversation

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/kodiak/services/orchestrator/datatypes"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAppendExchangeAndHistory(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	err := s.AppendExchange(ctx, "ws1", "conv1",
		datatypes.Message{Role: "user", Content: "What is OAuth?"},
		datatypes.Message{Role: "assistant", Content: "An authorization framework."})
	require.NoError(t, err)

	history, err := s.History(ctx, "ws1", "conv1", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "user", history[0].Role)
	assert.Equal(t, "assistant", history[1].Role)
	assert.False(t, history[0].CreatedAt.IsZero(), "timestamps stamped on save")
}

func TestHistory_MissingConversation(t *testing.T) {
	s := newStore(t)

	_, err := s.History(context.Background(), "ws1", "nope", 0)
	assert.True(t, datatypes.IsNotFound(err))
}

func TestHistory_LimitReturnsMostRecent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.AppendExchange(ctx, "ws1", "conv1",
			datatypes.Message{Role: "user", Content: fmt.Sprintf("q%d", i)},
			datatypes.Message{Role: "assistant", Content: fmt.Sprintf("a%d", i)}))
	}

	history, err := s.History(ctx, "ws1", "conv1", 4)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, "q3", history[0].Content, "limit keeps the most recent turns")
	assert.Equal(t, "a4", history[3].Content)
}

func TestHistory_TenantsAreIsolated(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendExchange(ctx, "ws1", "conv1",
		datatypes.Message{Role: "user", Content: "secret"},
		datatypes.Message{Role: "assistant", Content: "reply"}))

	_, err := s.History(ctx, "ws2", "conv1", 0)
	assert.True(t, datatypes.IsNotFound(err), "same conversation id in another workspace is a different conversation")
}

func TestDelete_IsIdempotent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendExchange(ctx, "ws1", "conv1",
		datatypes.Message{Role: "user", Content: "q"},
		datatypes.Message{Role: "assistant", Content: "a"}))
	require.NoError(t, s.Delete(ctx, "ws1", "conv1"))
	require.NoError(t, s.Delete(ctx, "ws1", "conv1"))

	_, err := s.History(ctx, "ws1", "conv1", 0)
	assert.True(t, datatypes.IsNotFound(err))
}
