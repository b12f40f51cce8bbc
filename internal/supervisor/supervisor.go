// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wasmstream Contributors

// Package supervisor implements the Supervisor/Router (C4): the
// LRU-bounded set of live actors, birth serialization for cold
// entities, and eviction-with-drain. Grounded on the teacher's
// container/list LRU (internal/access/policy/attribute/cache.go's
// attributeCache) generalized from a read-through attribute cache to
// an owning registry of live actor.Actor instances.
package supervisor

import (
	"container/list"
	"context"
	"fmt"
	"sync"

	"github.com/wasmstream/core/internal/actor"
	"github.com/wasmstream/core/internal/core"
)

// ModuleProvider resolves the wasm bytecode to instantiate for a
// category, e.g. internal/registry's filesystem-backed module store.
type ModuleProvider interface {
	ModuleBytes(ctx context.Context, category string) ([]byte, error)
}

// ActorFactory builds a live actor for (category, id). Exists as a seam
// so tests can swap in actors backed by wasmtest.FakeHost without the
// Supervisor importing internal/wasm directly.
type ActorFactory func(ctx context.Context, category, id string, wasmBytes []byte) (*actor.Actor, error)

type entry struct {
	key      string
	category string
	id       string
	actor    *actor.Actor
	draining bool
	// closed once the draining actor has finished its drain; commands
	// that raced the eviction wait on this before re-routing.
	drained chan struct{}
}

// Supervisor maintains at most one live actor per (category, id),
// bounded by an LRU of size capacity, per spec.md §4.4.
type Supervisor struct {
	mu       sync.Mutex
	capacity int
	lru      *list.List
	index    map[string]*list.Element

	// inflight serializes birth: concurrent commands for the same cold
	// entity block on the same *birth rather than racing two spawns.
	inflight map[string]*birth

	modules ModuleProvider
	factory ActorFactory

	closed bool
}

type birth struct {
	done  chan struct{}
	entry *entry
	err   error
}

// New creates a Supervisor bounding capacity live actors, spawning new
// actors via factory with wasm bytes resolved from modules.
func New(capacity int, modules ModuleProvider, factory ActorFactory) *Supervisor {
	if capacity <= 0 {
		capacity = 1
	}
	return &Supervisor{
		capacity: capacity,
		lru:      list.New(),
		index:    make(map[string]*list.Element),
		inflight: make(map[string]*birth),
		modules:  modules,
		factory:  factory,
	}
}

func key(category, id string) string { return category + "/" + id }

// Route delivers cmd to the live actor for (category, id), spawning one
// on a cold miss. It never loses a command: if the resolved entry is
// mid-eviction, Route waits for the drain to finish and re-resolves
// against the successor actor, per spec.md §4.4.
func (s *Supervisor) Route(ctx context.Context, category, id string, cmd core.Command) ([]core.Event, error) {
	for {
		ent, waitDrain, err := s.resolve(ctx, category, id)
		if err != nil {
			return nil, err
		}
		if waitDrain != nil {
			select {
			case <-waitDrain:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return ent.actor.Execute(ctx, cmd)
	}
}

// resolve returns the live entry for (category, id), spawning it if
// cold. If the existing entry is draining, it returns a channel the
// caller must wait on before re-resolving.
func (s *Supervisor) resolve(ctx context.Context, category, id string) (*entry, <-chan struct{}, error) {
	k := key(category, id)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, nil, core.Internal("route", fmt.Errorf("supervisor is shut down"))
	}
	if el, ok := s.index[k]; ok {
		ent := el.Value.(*entry)
		if ent.draining {
			drained := ent.drained
			s.mu.Unlock()
			return nil, drained, nil
		}
		s.lru.MoveToFront(el)
		s.mu.Unlock()
		return ent, nil, nil
	}

	if b, ok := s.inflight[k]; ok {
		s.mu.Unlock()
		<-b.done
		if b.err != nil {
			return nil, nil, b.err
		}
		return b.entry, nil, nil
	}

	b := &birth{done: make(chan struct{})}
	s.inflight[k] = b
	s.mu.Unlock()

	ent, err := s.spawn(ctx, category, id)

	s.mu.Lock()
	delete(s.inflight, k)
	if err != nil {
		b.err = err
		s.mu.Unlock()
		close(b.done)
		return nil, nil, err
	}
	el := s.lru.PushFront(ent)
	s.index[k] = el
	s.evictLocked()
	b.entry = ent
	s.mu.Unlock()
	close(b.done)

	return ent, nil, nil
}

func (s *Supervisor) spawn(ctx context.Context, category, id string) (*entry, error) {
	wasmBytes, err := s.modules.ModuleBytes(ctx, category)
	if err != nil {
		return nil, err
	}
	a, err := s.factory(ctx, category, id, wasmBytes)
	if err != nil {
		return nil, err
	}
	return &entry{
		key:      key(category, id),
		category: category,
		id:       id,
		actor:    a,
		drained:  make(chan struct{}),
	}, nil
}

// evictLocked drains the LRU tail until the set is back within
// capacity. Must be called with s.mu held.
func (s *Supervisor) evictLocked() {
	for s.lru.Len() > s.capacity {
		back := s.lru.Back()
		if back == nil {
			return
		}
		ent := back.Value.(*entry)
		ent.draining = true
		s.lru.Remove(back)
		delete(s.index, ent.key)

		go func(e *entry) {
			_ = e.actor.Close(context.Background())
			close(e.drained)
		}(ent)
	}
}

// Shutdown drains every live actor and prevents further routing.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	entries := make([]*entry, 0, s.lru.Len())
	for el := s.lru.Front(); el != nil; el = el.Next() {
		entries = append(entries, el.Value.(*entry))
	}
	s.lru.Init()
	s.index = make(map[string]*list.Element)
	s.mu.Unlock()

	var firstErr error
	for _, ent := range entries {
		if err := ent.actor.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Live reports the number of currently live actors, for observability.
func (s *Supervisor) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Len()
}
