// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package conversation persists chat history in embedded BadgerDB.
//
// BadgerDB gives local low-latency storage (~100µs reads) without an
// external dependency; a single value per conversation keeps the
// two-turn append naturally atomic.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/kodiak/services/orchestrator/datatypes"
)

var tracer = otel.Tracer("kodiak.orchestrator.conversation")

// maxStoredTurns bounds a conversation's stored history. Older turns are
// dropped oldest-first; the retrieval context never needs more than this.
const maxStoredTurns = 200

// Store persists conversation history.
//
// Thread Safety: This type is safe for concurrent use.
type Store struct {
	db *badger.DB
}

// Open creates a Store backed by a persistent BadgerDB at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("path is required for persistent conversation store")
	}
	if err := os.MkdirAll(path, 0750); err != nil {
		return nil, fmt.Errorf("create conversation store directory %s: %w", path, err)
	}
	opts := badger.DefaultOptions(path).
		WithSyncWrites(true).
		WithNumVersionsToKeep(1).
		WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open conversation store: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory creates a Store for tests; data is lost on Close.
func OpenInMemory() (*Store, error) {
	db, err := badger.Open(badger.DefaultOptions("").
		WithInMemory(true).
		WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open in-memory conversation store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func conversationKey(workspaceId, conversationId string) []byte {
	return []byte("conv:" + workspaceId + ":" + conversationId)
}

// AppendExchange atomically appends one user turn and its assistant reply.
//
// # Description
//
// Both turns land in a single transaction: a crash mid-save leaves the
// conversation without the exchange, never with a dangling user turn.
// Timestamps are stamped here if the caller left them zero.
func (s *Store) AppendExchange(ctx context.Context, workspaceId, conversationId string, userTurn, assistantTurn datatypes.Message) error {
	_, span := tracer.Start(ctx, "ConversationStore.AppendExchange")
	defer span.End()
	span.SetAttributes(attribute.String("conversation.id", conversationId))

	if workspaceId == "" || conversationId == "" {
		return errors.New("workspace and conversation ids are required")
	}
	now := time.Now().UTC()
	if userTurn.CreatedAt.IsZero() {
		userTurn.CreatedAt = now
	}
	if assistantTurn.CreatedAt.IsZero() {
		assistantTurn.CreatedAt = now
	}

	key := conversationKey(workspaceId, conversationId)
	err := s.db.Update(func(txn *badger.Txn) error {
		history, err := readHistory(txn, key)
		if err != nil {
			return err
		}
		history = append(history, userTurn, assistantTurn)
		if len(history) > maxStoredTurns {
			history = history[len(history)-maxStoredTurns:]
		}
		raw, err := json.Marshal(history)
		if err != nil {
			return fmt.Errorf("marshal conversation history: %w", err)
		}
		return txn.Set(key, raw)
	})
	if err != nil {
		return fmt.Errorf("append exchange to %s: %w", conversationId, err)
	}
	slog.Debug("conversation exchange persisted", "conversationId", conversationId)
	return nil
}

// History returns up to limit most recent turns, oldest first.
//
// Outputs:
//
//	[]datatypes.Message - The turns. Empty limit (<= 0) returns all.
//	error - NotFoundError when the conversation does not exist.
func (s *Store) History(ctx context.Context, workspaceId, conversationId string, limit int) ([]datatypes.Message, error) {
	_, span := tracer.Start(ctx, "ConversationStore.History")
	defer span.End()

	key := conversationKey(workspaceId, conversationId)
	var history []datatypes.Message
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		history, err = readHistory(txn, key)
		return err
	})
	if err != nil {
		return nil, err
	}
	if history == nil {
		return nil, &datatypes.NotFoundError{Resource: "conversation", Id: conversationId}
	}
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history, nil
}

// Delete removes a conversation. Deleting a missing conversation is a
// no-op.
func (s *Store) Delete(ctx context.Context, workspaceId, conversationId string) error {
	_, span := tracer.Start(ctx, "ConversationStore.Delete")
	defer span.End()

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(conversationKey(workspaceId, conversationId))
	})
}

// readHistory returns nil (not an empty slice) when the key is absent, so
// callers can distinguish "new conversation" from "empty history".
func readHistory(txn *badger.Txn, key []byte) ([]datatypes.Message, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read conversation: %w", err)
	}

	var history []datatypes.Message
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &history)
	})
	if err != nil {
		return nil, fmt.Errorf("decode conversation history: %w", err)
	}
	return history, nil
}
