// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wasmstream Contributors

// Package actor implements the Aggregate Actor (C3): one serialized
// command loop per live entity, backed by a wasm module instance and
// the message store, grounded on the teacher's goroutine-plus-channel
// delivery patterns (internal/wasm's subscriber delivery goroutines,
// internal/store's notify channel) generalized into a mailbox loop
// since the teacher itself has no actor type of its own to adapt.
package actor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sethvargo/go-retry"

	"github.com/wasmstream/core/internal/core"
	"github.com/wasmstream/core/internal/store"
	"github.com/wasmstream/core/internal/wasm"
)

const (
	defaultMailboxSize   = 64
	causationRingSize    = 64
	hydrationChunkSize   = 256
)

// request is one command submitted to an actor's mailbox.
type request struct {
	ctx   context.Context
	cmd   core.Command
	reply chan response
}

type response struct {
	events []core.Event
	err    error
}

// Actor runs the serial command loop for one live (category, id) entity.
// Concurrency within one entity is impossible by construction: every
// command is handled by the single goroutine draining the mailbox.
type Actor struct {
	category string
	id       string
	stream   string

	host      wasm.ModuleHost
	wasmBytes []byte
	msgStore  store.MessageStore

	mailbox chan request
	done    chan struct{}

	// closeMu guards closed and every send on mailbox, so Close never
	// closes the mailbox under a concurrent Execute.
	closeMu sync.RWMutex
	closed  bool

	// Only ever touched by the run goroutine.
	instance     wasm.Instance
	lastSequence *uint64
	ring         *causationRing
	poisoned     bool
}

// New creates an actor for (category, id), hydrates it from msgStore by
// replaying the entity's stream through the module's apply export, and
// starts its command loop. The returned Actor is immediately usable;
// hydration has already completed when New returns.
func New(ctx context.Context, category, id string, wasmBytes []byte, host wasm.ModuleHost, msgStore store.MessageStore) (*Actor, error) {
	identity := core.Identity{Category: category, ID: id}
	if err := identity.Validate(); err != nil {
		return nil, err
	}

	a := &Actor{
		category:  category,
		id:        id,
		stream:    identity.Stream(),
		host:      host,
		wasmBytes: wasmBytes,
		msgStore:  msgStore,
		mailbox:   make(chan request, defaultMailboxSize),
		done:      make(chan struct{}),
		ring:      newCausationRing(causationRingSize),
	}

	if err := a.hydrate(ctx); err != nil {
		return nil, err
	}

	go a.run()
	return a, nil
}

// Execute submits cmd to the actor's mailbox and waits for the result.
// Safe to call concurrently; the mailbox serializes delivery.
func (a *Actor) Execute(ctx context.Context, cmd core.Command) ([]core.Event, error) {
	req := request{ctx: ctx, cmd: cmd, reply: make(chan response, 1)}

	a.closeMu.RLock()
	if a.closed {
		a.closeMu.RUnlock()
		return nil, core.Internal("execute", fmt.Errorf("actor %s is shut down", a.stream))
	}
	select {
	case a.mailbox <- req:
		a.closeMu.RUnlock()
	case <-ctx.Done():
		a.closeMu.RUnlock()
		return nil, ctx.Err()
	}

	select {
	case resp := <-req.reply:
		return resp.events, resp.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close closes the mailbox, lets any in-flight command finish, and
// drops the wasm instance. Graceful per spec.md §4.3.
func (a *Actor) Close(ctx context.Context) error {
	a.closeMu.Lock()
	if a.closed {
		a.closeMu.Unlock()
		return nil
	}
	a.closed = true
	close(a.mailbox)
	a.closeMu.Unlock()
	<-a.done
	if a.instance != nil {
		return a.instance.Close(ctx)
	}
	return nil
}

func (a *Actor) run() {
	defer close(a.done)
	for req := range a.mailbox {
		events, err := a.handle(req.ctx, req.cmd)
		req.reply <- response{events: events, err: err}
	}
}

// handle implements the command-loop body of spec.md §4.3, steps 2-6.
func (a *Actor) handle(ctx context.Context, cmd core.Command) ([]core.Event, error) {
	if a.poisoned {
		if err := a.rehydrate(ctx); err != nil {
			return nil, core.Internal("rehydrate poisoned actor", err)
		}
	}

	if span, ok := a.ring.lookup(cmd.CausationID); ok {
		if span.count == 0 {
			return nil, nil
		}
		events, err := a.msgStore.ReadStream(ctx, a.stream, span.position, span.count)
		if err != nil {
			return nil, core.Internal("replay idempotent command", err)
		}
		return events, nil
	}

	position := a.nextPosition()

	var persisted []core.Event
	backoff := retry.WithMaxRetries(1, retry.NewConstant(0))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		events, handleErr := a.handleAndAppend(ctx, cmd, position)
		if handleErr == nil {
			persisted = events
			return nil
		}
		if core.IsConflict(handleErr) {
			slog.Warn("actor append conflict, rehydrating and retrying once",
				"category", a.category, "id", a.id, "error", handleErr)
			if rerr := a.rehydrate(ctx); rerr != nil {
				return core.Internal("rehydrate after conflict", rerr)
			}
			position = a.nextPosition()
			return retry.RetryableError(handleErr)
		}
		return handleErr
	})
	if err != nil {
		if core.IsDomainError(err) {
			return nil, err
		}
		if core.IsConflict(err) {
			return nil, core.Internal("append after retry", err)
		}
		a.poisoned = true
		return nil, err
	}

	if err := a.applyPersisted(ctx, persisted); err != nil {
		a.poisoned = true
		return nil, err
	}

	a.ring.record(cmd.CausationID, position, len(persisted))
	return persisted, nil
}

// handleAndAppend runs instance.handle then appends the resulting
// events at position, without mutating actor state — callers apply the
// persisted events themselves once append succeeds.
func (a *Actor) handleAndAppend(ctx context.Context, cmd core.Command, position uint64) ([]core.Event, error) {
	callCtx := core.Context{Position: position, CausationID: cmd.CausationID, Time: core.NowMillis()}
	ctxJSON, err := json.Marshal(callCtx)
	if err != nil {
		return nil, core.Internal("marshal command context", err)
	}

	emitted, err := a.instance.Handle(ctx, wasm.HandleCommand{
		Name:    cmd.Name,
		Payload: string(cmd.Payload),
		Context: string(ctxJSON),
	})
	if err != nil {
		return nil, err
	}

	proposed := make([]core.ProposedEvent, 0, len(emitted))
	for _, ev := range emitted {
		meta := map[string]string{}
		if cmd.CausationID != "" {
			meta["causation_id"] = cmd.CausationID
		}
		proposed = append(proposed, core.ProposedEvent{
			EventType: ev.EventType,
			Data:      []byte(ev.Payload),
			Metadata:  meta,
		})
	}

	return a.msgStore.Append(ctx, a.stream, position, proposed)
}

func (a *Actor) applyPersisted(ctx context.Context, persisted []core.Event) error {
	if len(persisted) == 0 {
		return nil
	}
	applyEvents := make([]wasm.ApplyEvent, len(persisted))
	for i, ev := range persisted {
		applyEvents[i] = wasm.ApplyEvent{EventType: ev.EventType, Payload: string(ev.Data)}
	}
	if err := a.instance.Apply(ctx, applyEvents); err != nil {
		return err
	}
	last := persisted[len(persisted)-1].StreamSequence
	a.lastSequence = &last
	return nil
}

func (a *Actor) nextPosition() uint64 {
	if a.lastSequence == nil {
		return 0
	}
	return *a.lastSequence + 1
}

// hydrate instantiates a fresh module and replays the entity's stream
// through apply in bounded chunks, per spec.md §4.3's Cold start.
func (a *Actor) hydrate(ctx context.Context) error {
	instance, err := a.host.Instantiate(ctx, a.category, a.id, a.wasmBytes)
	if err != nil {
		return err
	}

	a.instance = instance
	a.lastSequence = nil

	var from uint64
	for {
		events, err := a.msgStore.ReadStream(ctx, a.stream, from, hydrationChunkSize)
		if err != nil {
			return core.Internal("hydrate actor", err)
		}
		if len(events) == 0 {
			break
		}
		if err := a.applyPersisted(ctx, events); err != nil {
			return core.Internal("hydrate actor", err)
		}
		from += uint64(len(events))
		if len(events) < hydrationChunkSize {
			break
		}
	}

	a.poisoned = false
	return nil
}

// rehydrate drops the current instance and hydrates a fresh one,
// re-deriving last_sequence from the store rather than trusting
// in-memory state that may be stale or corrupted.
func (a *Actor) rehydrate(ctx context.Context) error {
	if a.instance != nil {
		_ = a.instance.Close(ctx)
	}
	return a.hydrate(ctx)
}
