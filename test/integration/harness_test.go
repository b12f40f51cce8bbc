// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wasmstream Contributors

//go:build integration

package integration_test

import (
	"context"
	"encoding/json"

	"github.com/wasmstream/core/internal/actor"
	"github.com/wasmstream/core/internal/core"
	"github.com/wasmstream/core/internal/gateway"
	"github.com/wasmstream/core/internal/hub"
	"github.com/wasmstream/core/internal/registry"
	"github.com/wasmstream/core/internal/store"
	"github.com/wasmstream/core/internal/supervisor"
	"github.com/wasmstream/core/internal/wasm"
	"github.com/wasmstream/core/internal/wasm/wasmtest"
)

// runtime bundles every component a real wasmstreamd process wires
// together (minus the gRPC transport), plus the collaborators a
// scenario needs to reach in by the back door — the raw message store,
// for manually appending out-of-band events, and the wasm host, for
// registering per-category command handlers.
type runtime struct {
	store      store.MessageStore
	host       *wasmtest.FakeHost
	modules    *registry.FilesystemRegistry
	supervisor *supervisor.Supervisor
	hub        *hub.Hub
	gateway    *gateway.Gateway
}

// newRuntime wires a fresh in-memory instance: MemoryStore + FakeHost
// in place of a real Postgres store and compiled wasm module, exactly
// as SPEC_FULL.md's test-tooling plan calls for.
func newRuntime(ctx context.Context) *runtime {
	msgStore := store.NewMemoryStore(64)
	host := wasmtest.NewFakeHost()
	modules := registry.NewFilesystemRegistry()

	factory := func(actorCtx context.Context, category, id string, wasmBytes []byte) (*actor.Actor, error) {
		return actor.New(actorCtx, category, id, wasmBytes, host, msgStore)
	}
	sup := supervisor.New(8, modules, factory)
	subHub := hub.New(ctx, msgStore, store.NewMemoryCursorRepository())
	gw := gateway.New(sup, modules, subHub, nil)

	return &runtime{
		store:      msgStore,
		host:       host,
		modules:    modules,
		supervisor: sup,
		hub:        subHub,
		gateway:    gw,
	}
}

// restart simulates a process restart: it shuts down the supervisor
// (dropping every live actor and its folded in-memory state) while
// leaving the message store and its committed events untouched, then
// rebuilds a supervisor and gateway against the same store. Scenario 2
// (rehydration) uses this to prove a freshly spawned actor reconstructs
// its state from the stream rather than carrying it over in memory.
func (r *runtime) restart(ctx context.Context) {
	_ = r.supervisor.Shutdown(ctx)

	factory := func(actorCtx context.Context, category, id string, wasmBytes []byte) (*actor.Actor, error) {
		return actor.New(actorCtx, category, id, wasmBytes, r.host, r.store)
	}
	r.supervisor = supervisor.New(8, r.modules, factory)
	r.gateway = gateway.New(r.supervisor, r.modules, r.hub, nil)
}

func (r *runtime) close(ctx context.Context) {
	_ = r.hub.Shutdown(ctx)
	_ = r.supervisor.Shutdown(ctx)
}

// counterCommandPayload is the Increment/Decrement command payload the
// scenarios in spec.md §8 use.
type counterCommandPayload struct {
	Amount int `json:"amount"`
}

// counterEventPayload is the Incremented/Decremented event payload:
// amount and the resulting count, for assertions, plus delta so
// wasmtest.FakeHost's built-in Apply (which folds a bare "delta" field)
// keeps tracking the aggregate's running total across commands.
type counterEventPayload struct {
	Amount int `json:"amount"`
	Count  int `json:"count"`
	Delta  int `json:"delta"`
}

// counterModule is a wasmtest.FakeHost Handler reproducing spec.md §8's
// counter aggregate: Increment always succeeds; Decrement rejects an
// amount that would take the running count negative.
func counterModule() wasmtest.Handler {
	return func(state int, cmd wasm.HandleCommand) ([]wasm.EmittedEvent, error) {
		var p counterCommandPayload
		if err := json.Unmarshal([]byte(cmd.Payload), &p); err != nil {
			return nil, core.Internal("handle "+cmd.Name, err)
		}

		switch cmd.Name {
		case "Increment":
			count := state + p.Amount
			payload, err := json.Marshal(counterEventPayload{Amount: p.Amount, Count: count, Delta: p.Amount})
			if err != nil {
				return nil, core.Internal("marshal Incremented", err)
			}
			return []wasm.EmittedEvent{{EventType: "Incremented", Payload: string(payload)}}, nil
		case "Decrement":
			count := state - p.Amount
			if count < 0 {
				return nil, core.DomainErr("NEGATIVE_COUNT", "NEGATIVE_COUNT")
			}
			payload, err := json.Marshal(counterEventPayload{Amount: p.Amount, Count: count, Delta: -p.Amount})
			if err != nil {
				return nil, core.Internal("marshal Decremented", err)
			}
			return []wasm.EmittedEvent{{EventType: "Decremented", Payload: string(payload)}}, nil
		default:
			return nil, core.DomainErr("UNKNOWN_COMMAND", "unknown command: "+cmd.Name)
		}
	}
}
