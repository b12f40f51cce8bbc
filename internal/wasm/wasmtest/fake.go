// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wasmstream Contributors

// Package wasmtest provides an in-memory ModuleHost double so actor,
// supervisor, and hub tests don't need a real wazero runtime or
// compiled wasm fixtures. FakeHost reproduces a small counter aggregate:
// "Increment" commands emit "Incremented" events carrying a delta, and
// reject a delta that would take the count negative.
package wasmtest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/wasmstream/core/internal/core"
	"github.com/wasmstream/core/internal/wasm"
)

// FakeHost is a pure-Go wasm.ModuleHost. Every category behaves like the
// counter aggregate; Handlers lets a test override behavior per category.
type FakeHost struct {
	mu       sync.Mutex
	closed   bool
	Handlers map[string]Handler
}

// Handler computes the events a command produces against the current
// folded state (the sum of all previously applied deltas).
type Handler func(state int, cmd wasm.HandleCommand) ([]wasm.EmittedEvent, error)

// NewFakeHost creates a FakeHost whose default (unconfigured) category
// behaves like the counter aggregate described in the package doc.
func NewFakeHost() *FakeHost {
	return &FakeHost{Handlers: make(map[string]Handler)}
}

// Instantiate implements wasm.ModuleHost.
func (h *FakeHost) Instantiate(_ context.Context, category, id string, _ []byte) (wasm.Instance, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, wasm.ErrHostClosed
	}

	handler := h.Handlers[category]
	if handler == nil {
		handler = counterHandler
	}
	return &fakeInstance{category: category, id: id, handler: handler}, nil
}

// Close implements wasm.ModuleHost.
func (h *FakeHost) Close(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

type fakeInstance struct {
	mu      sync.Mutex
	state   int
	category string
	id      string
	handler Handler
}

type counterPayload struct {
	Delta int `json:"delta"`
}

func (in *fakeInstance) Apply(_ context.Context, events []wasm.ApplyEvent) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	for _, ev := range events {
		var p counterPayload
		if err := json.Unmarshal([]byte(ev.Payload), &p); err != nil {
			return core.Internal("apply", fmt.Errorf("deserialize %s: %w", ev.EventType, err))
		}
		in.state += p.Delta
	}
	return nil
}

func (in *fakeInstance) Handle(_ context.Context, cmd wasm.HandleCommand) ([]wasm.EmittedEvent, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.handler(in.state, cmd)
}

func (in *fakeInstance) Close(context.Context) error { return nil }

func counterHandler(state int, cmd wasm.HandleCommand) ([]wasm.EmittedEvent, error) {
	switch cmd.Name {
	case "Increment":
		var p counterPayload
		if err := json.Unmarshal([]byte(cmd.Payload), &p); err != nil {
			return nil, core.Internal("handle", fmt.Errorf("deserialize Increment: %w", err))
		}
		if state+p.Delta < 0 {
			return nil, core.DomainErr("NEGATIVE_COUNT", "count cannot go below zero")
		}
		payload, err := json.Marshal(p)
		if err != nil {
			return nil, core.Internal("handle", fmt.Errorf("serialize Incremented: %w", err))
		}
		return []wasm.EmittedEvent{{EventType: "Incremented", Payload: string(payload)}}, nil
	default:
		return nil, core.DomainErr("UNKNOWN_COMMAND", "unknown command: "+cmd.Name)
	}
}
