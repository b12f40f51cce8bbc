// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wasmstream Contributors

// Package hub implements the Subscription Hub (C5): durable per-subscriber
// cursors, at-least-once delivery in global-id order, replay-then-live-tail
// semantics, and backpressure that falls back to store-paged replay rather
// than dropping an event, per spec.md §4.5. Grounded on the teacher's
// repository CRUD shape (internal/store/alias.go) for cursor persistence and
// its goroutine-plus-channel delivery idiom (the same one internal/actor and
// internal/wasm's Subscriber generalize), since HoloMUSH has no broadcast
// hub of its own to adapt.
package hub

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/wasmstream/core/internal/core"
	"github.com/wasmstream/core/internal/store"
)

const (
	defaultReplayPageSize = 256
	defaultLiveBufferSize = 256
)

// Hub fans out newly persisted events to live subscribers and serves
// historical replay from the store.
type Hub struct {
	store   store.MessageStore
	cursors store.CursorRepository

	replayPageSize int
	liveBufferSize int

	mu     sync.Mutex
	subs   map[string]*Subscription
	closed bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Hub that fans out st's live notifications and persists
// cursors through cursors. The returned Hub's dispatch loop runs until
// Shutdown is called or ctx is canceled.
func New(ctx context.Context, st store.MessageStore, cursors store.CursorRepository) *Hub {
	dispatchCtx, cancel := context.WithCancel(ctx)
	h := &Hub{
		store:          st,
		cursors:        cursors,
		replayPageSize: defaultReplayPageSize,
		liveBufferSize: defaultLiveBufferSize,
		subs:           make(map[string]*Subscription),
		cancel:         cancel,
	}
	h.wg.Add(1)
	go h.dispatchLoop(dispatchCtx)
	return h
}

// Subscription is one named subscriber's view onto the hub: a channel of
// matching events in global-id order, plus a way to durably ack progress.
type Subscription struct {
	name    string
	matcher Matcher
	hub     *Hub

	events chan core.Event

	mu         sync.Mutex
	catchingUp bool
	lastSent   uint64

	closeOnce sync.Once
	closed    chan struct{}
}

// Events returns the channel of events matching this subscription's
// filter, delivered in ascending global_id order.
func (s *Subscription) Events() <-chan core.Event { return s.events }

// Ack durably advances this subscription's cursor to globalID.
// Implementations of store.CursorRepository ignore a globalID lower
// than what is already stored, so a stale Ack is a no-op (spec.md §3's
// monotonicity invariant).
func (s *Subscription) Ack(ctx context.Context, globalID uint64) error {
	if err := s.hub.cursors.SetCursor(ctx, s.name, globalID); err != nil {
		return core.Internal("ack subscription", err)
	}
	return nil
}

// Close unsubscribes and releases the subscription's delivery channel.
// The cursor is left at its last acked position so a later Subscribe
// with the same name resumes from there, per spec.md §4.5.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.hub.mu.Lock()
		delete(s.hub.subs, s.name)
		s.hub.mu.Unlock()
	})
}

// Subscribe loads (or creates at 0) name's cursor, replays matching
// historical events, then switches to live-tailing the store's
// notification stream, per spec.md §4.5 step 1. Only one live
// Subscription may exist for a given name at a time.
func (h *Hub) Subscribe(ctx context.Context, name string, filters []Filter) (*Subscription, error) {
	matcher, err := CompileFilters(filters)
	if err != nil {
		return nil, core.InvalidInput(err.Error())
	}
	return h.subscribe(ctx, name, matcher)
}

// SubscribeWithExpression is Subscribe using a filterdsl expression
// instead of a glob filter list (spec.md §4.5, SPEC_FULL.md §6.5).
func (h *Hub) SubscribeWithExpression(ctx context.Context, name string, matcher Matcher) (*Subscription, error) {
	return h.subscribe(ctx, name, matcher)
}

func (h *Hub) subscribe(ctx context.Context, name string, matcher Matcher) (*Subscription, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, core.Internal("subscribe", fmt.Errorf("hub is shut down"))
	}
	if _, exists := h.subs[name]; exists {
		h.mu.Unlock()
		return nil, core.InvalidInput("subscription already active: " + name)
	}
	h.mu.Unlock()

	cursor, err := h.cursors.GetCursor(ctx, name)
	if err != nil {
		return nil, core.Internal("load subscription cursor", err)
	}

	sub := &Subscription{
		name:       name,
		matcher:    matcher,
		hub:        h,
		events:     make(chan core.Event, h.liveBufferSize),
		lastSent:   cursor,
		catchingUp: true, // replay first; dispatchLoop ignores catching-up subs
		closed:     make(chan struct{}),
	}

	h.mu.Lock()
	h.subs[name] = sub
	h.mu.Unlock()

	h.wg.Add(1)
	go h.replay(sub)

	return sub, nil
}

// replay pages historical events from sub.lastSent+1 forward, delivering
// matches, until a page comes back shorter than the page size — at which
// point it switches sub into live mode. The same function re-runs to
// recover from live-channel overflow, per spec.md §4.5's backpressure rule.
func (h *Hub) replay(sub *Subscription) {
	defer h.wg.Done()
	ctx := context.Background()

	for {
		sub.mu.Lock()
		from := sub.lastSent + 1
		sub.mu.Unlock()

		events, err := h.store.ReadAll(ctx, from, h.replayPageSize)
		if err != nil {
			slog.Error("hub replay failed", "subscription", sub.name, "error", err)
			return
		}

		for _, ev := range events {
			if !sub.matcher(ev) {
				sub.mu.Lock()
				sub.lastSent = ev.GlobalID
				sub.mu.Unlock()
				continue
			}
			select {
			case sub.events <- ev:
				sub.mu.Lock()
				sub.lastSent = ev.GlobalID
				sub.mu.Unlock()
			case <-sub.closed:
				return
			}
		}

		if len(events) < h.replayPageSize {
			sub.mu.Lock()
			sub.catchingUp = false
			sub.mu.Unlock()
			return
		}
	}
}

// dispatchLoop is the hub's single reader of the store's shared
// notification channel, fanning each event out to every subscriber
// whose filter matches and who isn't mid-replay.
func (h *Hub) dispatchLoop(ctx context.Context) {
	defer h.wg.Done()
	for {
		select {
		case ev, ok := <-h.store.Notifications():
			if !ok {
				return
			}
			h.broadcast(ev)
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) broadcast(ev core.Event) {
	h.mu.Lock()
	subs := make([]*Subscription, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		h.deliverLive(sub, ev)
	}
}

func (h *Hub) deliverLive(sub *Subscription, ev core.Event) {
	sub.mu.Lock()
	if sub.catchingUp {
		sub.mu.Unlock()
		return // the replay goroutine will pick this event up from the store
	}
	sub.mu.Unlock()

	if !sub.matcher(ev) {
		return
	}

	select {
	case sub.events <- ev:
		sub.mu.Lock()
		sub.lastSent = ev.GlobalID
		sub.mu.Unlock()
	default:
		// Live buffer full: never drop the event (spec.md §4.5).
		// Fall back to paged store replay until caught up.
		sub.mu.Lock()
		alreadyCatchingUp := sub.catchingUp
		sub.catchingUp = true
		sub.mu.Unlock()
		if !alreadyCatchingUp {
			h.wg.Add(1)
			go h.replay(sub)
		}
	}
}

// Shutdown stops the dispatch loop and every in-flight replay, and
// prevents further subscriptions. It does not close the store.
func (h *Hub) Shutdown(context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	subs := make([]*Subscription, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	h.cancel()
	for _, s := range subs {
		s.Close()
	}
	h.wg.Wait()
	return nil
}
