// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wasmstream Contributors

package store

import (
	"context"
	"sync"

	"github.com/wasmstream/core/internal/core"
)

// MemoryStore is an in-process MessageStore for tests and for embedding a
// runtime that doesn't need cross-restart durability. It reproduces the
// Postgres store's ordering and concurrency guarantees (global critical
// section around sequence assignment, per-stream length counters) without
// a database.
type MemoryStore struct {
	mu       sync.Mutex
	streams  map[string][]core.Event
	allOrder []core.Event
	nextID   uint64
	notify   chan core.Event
}

// NewMemoryStore creates an empty in-memory message store. notifyBuffer sets
// the size of the live-notification channel; 0 uses a sensible default.
func NewMemoryStore(notifyBuffer int) *MemoryStore {
	if notifyBuffer <= 0 {
		notifyBuffer = 256
	}
	return &MemoryStore{
		streams: make(map[string][]core.Event),
		nextID:  1,
		notify:  make(chan core.Event, notifyBuffer),
	}
}

// Append implements MessageStore.
func (s *MemoryStore) Append(_ context.Context, streamName string, expectedSequence uint64, proposed []core.ProposedEvent) ([]core.Event, error) {
	if len(proposed) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := uint64(len(s.streams[streamName]))
	if current != expectedSequence {
		return nil, core.Conflict(streamName, current)
	}

	persisted := make([]core.Event, 0, len(proposed))
	for i, p := range proposed {
		ev := core.Event{
			GlobalID:       s.nextID,
			StreamSequence: expectedSequence + uint64(i),
			StreamName:     streamName,
			EventType:      p.EventType,
			Data:           p.Data,
			Metadata:       p.Metadata,
			TimeMillis:     core.NowMillis(),
			ID:             p.ID,
		}
		if ev.ID == "" {
			ev.ID = core.NewEventID()
		}
		s.nextID++
		persisted = append(persisted, ev)
	}

	// All-or-nothing: only commit once every event in the batch is built.
	s.streams[streamName] = append(s.streams[streamName], persisted...)
	s.allOrder = append(s.allOrder, persisted...)

	for _, ev := range persisted {
		select {
		case s.notify <- ev:
		default:
			// Live-mode backpressure: the hub falls back to store reads; we
			// never block the writer on a slow subscriber (spec §4.5).
		}
	}

	return persisted, nil
}

// ReadStream implements MessageStore.
func (s *MemoryStore) ReadStream(_ context.Context, streamName string, fromSequence uint64, limit int) ([]core.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := s.streams[streamName]
	if fromSequence >= uint64(len(events)) {
		return nil, nil
	}
	end := min(uint64(len(events)), fromSequence+uint64(limit))
	out := make([]core.Event, end-fromSequence)
	copy(out, events[fromSequence:end])
	return out, nil
}

// ReadCategory implements MessageStore.
func (s *MemoryStore) ReadCategory(ctx context.Context, category string, fromGlobalID uint64, limit int) ([]core.Event, error) {
	prefix := core.CategoryPrefix(category)
	return s.readFiltered(fromGlobalID, limit, func(e core.Event) bool {
		return len(e.StreamName) >= len(prefix) && e.StreamName[:len(prefix)] == prefix
	})
}

// ReadAll implements MessageStore.
func (s *MemoryStore) ReadAll(_ context.Context, fromGlobalID uint64, limit int) ([]core.Event, error) {
	return s.readFiltered(fromGlobalID, limit, func(core.Event) bool { return true })
}

func (s *MemoryStore) readFiltered(fromGlobalID uint64, limit int, keep func(core.Event) bool) ([]core.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []core.Event
	for _, e := range s.allOrder {
		if e.GlobalID < fromGlobalID {
			continue
		}
		if !keep(e) {
			continue
		}
		out = append(out, e)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// StreamLength implements MessageStore.
func (s *MemoryStore) StreamLength(_ context.Context, streamName string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint64(len(s.streams[streamName])), nil
}

// Notifications implements MessageStore.
func (s *MemoryStore) Notifications() <-chan core.Event { return s.notify }

// Close implements MessageStore.
func (s *MemoryStore) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	close(s.notify)
	return nil
}
