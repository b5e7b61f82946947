// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/kodiak/services/orchestrator/datatypes"
)

// Clock abstracts time for sweeper tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// SweeperConfig tunes the retention sweeper.
type SweeperConfig struct {
	// Interval between sweep cycles.
	Interval time.Duration

	// MaxAge is how long an idle conversation is kept. A conversation's
	// age is measured from its most recent turn.
	MaxAge time.Duration

	// BatchSize caps deletions per cycle so a sweep over a large backlog
	// does not monopolize the database.
	BatchSize int
}

// DefaultSweeperConfig returns production defaults: sweep hourly, keep
// idle conversations for 30 days, delete at most 500 per cycle.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Interval:  time.Hour,
		MaxAge:    30 * 24 * time.Hour,
		BatchSize: 500,
	}
}

// Sweeper deletes conversations whose last activity is older than the
// retention window.
//
// Thread Safety: This type is safe for concurrent use. Run should be
// called at most once.
type Sweeper struct {
	store  *Store
	config SweeperConfig
	clock  Clock
}

// NewSweeper creates a retention sweeper over the store. A nil clock
// selects the system clock.
func NewSweeper(store *Store, config SweeperConfig, clock Clock) (*Sweeper, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if config.Interval <= 0 || config.MaxAge <= 0 || config.BatchSize <= 0 {
		return nil, errors.New("interval, max age, and batch size must be > 0")
	}
	if clock == nil {
		clock = realClock{}
	}
	return &Sweeper{store: store, config: config, clock: clock}, nil
}

// Run executes sweep cycles until the context is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	slog.Info("conversation retention sweeper started",
		"interval", s.config.Interval, "maxAge", s.config.MaxAge)
	for {
		select {
		case <-ctx.Done():
			slog.Info("conversation retention sweeper stopped")
			return
		case <-ticker.C:
			deleted, err := s.SweepOnce(ctx)
			if err != nil {
				slog.Error("retention sweep failed", "error", err)
				continue
			}
			if deleted > 0 {
				slog.Info("retention sweep completed", "deleted", deleted)
			}
		}
	}
}

// SweepOnce runs a single sweep cycle and returns how many conversations
// it deleted. Deletion stops at BatchSize; the remainder is picked up by
// the next cycle.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	cutoff := s.clock.Now().Add(-s.config.MaxAge)
	return s.store.DeleteIdleBefore(ctx, cutoff, s.config.BatchSize)
}

// DeleteIdleBefore removes up to limit conversations whose newest turn
// predates cutoff. Returns the number deleted.
//
// # Description
//
// Expiry candidates are collected under a read transaction first, then
// deleted individually. A conversation that receives a turn between the
// two phases is simply deleted with that turn; the window is one sweep
// cycle and retention is an idle-time bound, not a hard guarantee.
func (s *Store) DeleteIdleBefore(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	_, span := tracer.Start(ctx, "ConversationStore.DeleteIdleBefore")
	defer span.End()

	prefix := []byte("conv:")
	var expired [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid() && len(expired) < limit; it.Next() {
			item := it.Item()
			var history []datatypes.Message
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &history)
			})
			if err != nil || len(history) == 0 {
				continue
			}
			if history[len(history)-1].CreatedAt.Before(cutoff) {
				expired = append(expired, item.KeyCopy(nil))
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan for expired conversations: %w", err)
	}

	deleted := 0
	for _, key := range expired {
		if ctx.Err() != nil {
			return deleted, ctx.Err()
		}
		err := s.db.Update(func(txn *badger.Txn) error {
			return txn.Delete(key)
		})
		if err != nil {
			return deleted, fmt.Errorf("delete expired conversation: %w", err)
		}
		deleted++
	}
	return deleted, nil
}
