// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wasmstream Contributors

// Package wasm provides the Module Host (C2): wazero-based compilation
// and per-entity sandboxed instantiation of aggregate wasm modules, and
// the ptr/len ABI used to call their apply/handle exports.
package wasm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/wasmstream/core/internal/core"
)

// ModuleHost loads a category's compiled wasm module and instantiates a
// fresh, isolated copy of it per live entity. Actors depend on this
// interface rather than *Host directly so unit tests can run against
// wasmtest.FakeHost instead of a real wazero runtime.
type ModuleHost interface {
	// Instantiate compiles (if not already cached for category) and
	// instantiates wasmBytes, returning a sandbox dedicated to one
	// (category, id) aggregate instance.
	Instantiate(ctx context.Context, category, id string, wasmBytes []byte) (Instance, error)

	// Close releases every compiled module and the underlying runtime.
	Close(ctx context.Context) error
}

// Instance is one live wasm sandbox bound to a single entity.
type Instance interface {
	// Apply folds previously persisted events into aggregate state, in
	// strictly ascending sequence order. Used both for cold-start
	// hydration and (in principle) replay.
	Apply(ctx context.Context, events []ApplyEvent) error

	// Handle invokes the aggregate's command handler and returns the
	// events it proposes. A DomainError return means the command was
	// validly rejected by aggregate logic, not a sandbox failure.
	Handle(ctx context.Context, cmd HandleCommand) ([]EmittedEvent, error)

	// Close releases the instance's linear memory and linker.
	Close(ctx context.Context) error
}

// Host is the wazero-backed ModuleHost. Each category's compiled module
// is cached so repeated entity instantiation only re-runs wazero's
// (cheap) instantiate step, not the (expensive) compile step.
type Host struct {
	mu      sync.RWMutex
	runtime wazero.Runtime
	cache   map[string]wazero.CompiledModule
	closed  bool
}

// NewHost creates a Host backed by a fresh wazero runtime.
func NewHost(ctx context.Context) *Host {
	return &Host{
		runtime: wazero.NewRuntime(ctx),
		cache:   make(map[string]wazero.CompiledModule),
	}
}

// Instantiate implements ModuleHost.
func (h *Host) Instantiate(ctx context.Context, category, id string, wasmBytes []byte) (Instance, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHostClosed
	}

	compiled, ok := h.cache[category]
	if !ok {
		var err error
		compiled, err = h.runtime.CompileModule(ctx, wasmBytes)
		if err != nil {
			h.mu.Unlock()
			return nil, core.Internal("compile module", fmt.Errorf("category %s: %w", category, err))
		}
		h.cache[category] = compiled
	}
	h.mu.Unlock()

	linker := h.runtime.NewHostModuleBuilder("env")
	linker.NewFunctionBuilder().
		WithFunc(func(_ context.Context, m api.Module, ptr, length uint32) {
			buf, ok := m.Memory().Read(ptr, length)
			if !ok {
				slog.Warn("send_event: out-of-bounds read from module memory", "category", category, "id", id)
				return
			}
			slog.Info("module event", "category", category, "id", id, "message", string(buf))
		}).
		Export("send_event")

	if _, err := linker.Instantiate(ctx); err != nil {
		return nil, core.Internal("instantiate host imports", err)
	}

	cfg := wazero.NewModuleConfig().WithName(category + "-" + id)
	mod, err := h.runtime.InstantiateModule(ctx, compiled, cfg)
	if err != nil {
		return nil, core.Internal("instantiate module", fmt.Errorf("category %s id %s: %w", category, id, err))
	}

	for _, name := range []string{"alloc", "new", "apply", "handle"} {
		if mod.ExportedFunction(name) == nil {
			_ = mod.Close(ctx)
			return nil, fmt.Errorf("%w: %s.%s", ErrFunctionNotFound, category, name)
		}
	}

	if _, err := mod.ExportedFunction("new").Call(ctx); err != nil {
		_ = mod.Close(ctx)
		return nil, core.Internal("construct instance", err)
	}

	return &instance{mod: mod, category: category, id: id}, nil
}

// Close implements ModuleHost.
func (h *Host) Close(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	h.cache = nil
	return h.runtime.Close(ctx)
}

// instance is the wazero-backed Instance.
type instance struct {
	mod      api.Module
	category string
	id       string
}

// Apply implements Instance.
func (in *instance) Apply(ctx context.Context, events []ApplyEvent) error {
	reqJSON, err := json.Marshal(applyRequest{Events: events})
	if err != nil {
		return core.Internal("marshal apply request", err)
	}

	env, err := in.call(ctx, "apply", reqJSON)
	if err != nil {
		return err
	}
	if !env.OK {
		return asError("apply", env.Error)
	}
	return nil
}

// Handle implements Instance.
func (in *instance) Handle(ctx context.Context, cmd HandleCommand) ([]EmittedEvent, error) {
	reqJSON, err := json.Marshal(handleRequest{Command: cmd})
	if err != nil {
		return nil, core.Internal("marshal handle request", err)
	}

	env, err := in.call(ctx, "handle", reqJSON)
	if err != nil {
		return nil, err
	}
	if !env.OK {
		return nil, asError("handle", env.Error)
	}
	return env.Events, nil
}

// Close implements Instance.
func (in *instance) Close(ctx context.Context) error {
	return in.mod.Close(ctx)
}

// call writes reqJSON into the module's memory via its alloc export,
// invokes fnName(ptr, len), and reads back the (resultPtr, resultLen)
// pair wazero's multi-value return gives us, parsing the bytes at that
// address as a JSON envelope.
func (in *instance) call(ctx context.Context, fnName string, reqJSON []byte) (*envelope, error) {
	alloc := in.mod.ExportedFunction("alloc")
	allocResult, err := alloc.Call(ctx, uint64(len(reqJSON)))
	if err != nil {
		return nil, core.Internal("allocate module memory", err)
	}
	ptr := uint32(allocResult[0])

	if !in.mod.Memory().Write(ptr, reqJSON) {
		return nil, core.Internal("write module memory", fmt.Errorf("%s.%s: out-of-bounds write at %d, len %d", in.category, fnName, ptr, len(reqJSON)))
	}

	fn := in.mod.ExportedFunction(fnName)
	results, err := fn.Call(ctx, uint64(ptr), uint64(len(reqJSON)))
	if err != nil {
		return nil, core.Internal(fnName, fmt.Errorf("%s %s: %w", in.category, in.id, err))
	}
	if len(results) != 2 {
		return nil, core.Internal(fnName, fmt.Errorf("%s.%s: expected (ptr, len) result pair, got %d values", in.category, fnName, len(results)))
	}

	resultPtr, resultLen := uint32(results[0]), uint32(results[1])
	buf, ok := in.mod.Memory().Read(resultPtr, resultLen)
	if !ok {
		return nil, core.Internal(fnName, fmt.Errorf("%s.%s: out-of-bounds result read at %d, len %d", in.category, fnName, resultPtr, resultLen))
	}

	var env envelope
	if err := json.Unmarshal(buf, &env); err != nil {
		return nil, core.Internal(fnName, fmt.Errorf("%s.%s: malformed envelope: %w", in.category, fnName, err))
	}
	return &env, nil
}
