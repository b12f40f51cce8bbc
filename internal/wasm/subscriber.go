// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wasmstream Contributors

package wasm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	extism "github.com/extism/go-sdk"

	"github.com/wasmstream/core/internal/core"
)

// ErrSubscriberPluginNotFound is returned when a delivery targets a
// plugin name the ExtismHost never loaded.
var ErrSubscriberPluginNotFound = fmt.Errorf("subscriber plugin not found")

// PluginEmit is one event an in-process wasm subscriber asked the Hub to
// re-publish, the wasm-hosted-subscriber analogue of handle's EmittedEvent.
type PluginEmit struct {
	StreamName string `json:"stream_name"`
	EventType  string `json:"event_type"`
	Payload    string `json:"payload"`
}

type pluginResponse struct {
	Events []PluginEmit `json:"events"`
}

type pluginEventEnvelope struct {
	GlobalID   uint64 `json:"global_id"`
	StreamName string `json:"stream_name"`
	EventType  string `json:"event_type"`
	TimeMillis int64  `json:"time_millis"`
	Payload    string `json:"payload"`
}

// ExtismHost manages Extism-based wasm subscriber plugins. Unlike the
// primary wazero-based Host (C2), these plugins run for the lifetime of
// the process and receive a push feed rather than a per-command call,
// so they're hosted with Extism's managed call convention instead of
// wazero's raw ptr/len ABI.
type ExtismHost struct {
	mu      sync.RWMutex
	plugins map[string]*extism.Plugin
	closed  bool
}

// NewExtismHost creates an empty ExtismHost.
func NewExtismHost() *ExtismHost {
	return &ExtismHost{plugins: make(map[string]*extism.Plugin)}
}

// LoadPlugin compiles and instantiates a wasm-hosted subscriber plugin.
func (h *ExtismHost) LoadPlugin(ctx context.Context, name string, wasmBytes []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHostClosed
	}

	manifest := extism.Manifest{Wasm: []extism.Wasm{extism.WasmData{Data: wasmBytes}}}
	p, err := extism.NewPlugin(ctx, manifest, extism.PluginConfig{EnableWasi: true}, nil)
	if err != nil {
		return core.Internal("load subscriber plugin", fmt.Errorf("%s: %w", name, err))
	}
	h.plugins[name] = p
	slog.Info("subscriber plugin loaded", "name", name, "wasm_size", len(wasmBytes))
	return nil
}

// HasPlugin reports whether name is loaded.
func (h *ExtismHost) HasPlugin(name string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return false
	}
	_, ok := h.plugins[name]
	return ok
}

// Close releases every loaded plugin.
func (h *ExtismHost) Close(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	for name, p := range h.plugins {
		if err := p.Close(ctx); err != nil {
			slog.Warn("failed to close subscriber plugin", "plugin", name, "error", err)
		}
	}
	h.plugins = nil
	h.closed = true
	return nil
}

// DeliverEvent hands ev to pluginName's handle_event export, if it has
// one, and returns the events the plugin asked to be re-published.
func (h *ExtismHost) DeliverEvent(_ context.Context, pluginName string, ev core.Event) ([]PluginEmit, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return nil, ErrHostClosed
	}

	p, ok := h.plugins[pluginName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSubscriberPluginNotFound, pluginName)
	}
	if !p.FunctionExists("handle_event") {
		return nil, nil
	}

	payload, err := json.Marshal(pluginEventEnvelope{
		GlobalID:   ev.GlobalID,
		StreamName: ev.StreamName,
		EventType:  ev.EventType,
		TimeMillis: ev.TimeMillis,
		Payload:    string(ev.Data),
	})
	if err != nil {
		return nil, core.Internal("marshal subscriber event", err)
	}

	_, output, err := p.Call("handle_event", payload)
	if err != nil {
		return nil, core.Internal("call subscriber plugin", fmt.Errorf("%s: %w", pluginName, err))
	}
	if len(output) == 0 {
		return nil, nil
	}

	var resp pluginResponse
	if err := json.Unmarshal(output, &resp); err != nil {
		return nil, core.Internal("unmarshal subscriber response", fmt.Errorf("%s: %w", pluginName, err))
	}
	return resp.Events, nil
}

// Emitter republishes events an in-process subscriber plugin produced;
// store.Emitter is the implementation cmd/wasmstreamd wires in.
type Emitter interface {
	Emit(ctx context.Context, streamName, eventType string, payload []byte) error
}

// Subscriber fans filtered events out to Extism-hosted plugins running
// in-process, an alternative to a gRPC SubscribeToEvents round-trip for
// projections that live inside the same binary.
type Subscriber struct {
	host            *ExtismHost
	emitter         Emitter
	deliveryTimeout time.Duration

	mu            sync.RWMutex
	subscriptions map[string][]string // plugin name -> stream-name glob patterns

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewSubscriber creates a Subscriber bound to host and emitter. Panics if
// either is nil: both are required collaborators, not optional config.
func NewSubscriber(ctx context.Context, host *ExtismHost, emitter Emitter) *Subscriber {
	if host == nil {
		panic("wasm: NewSubscriber requires non-nil host")
	}
	if emitter == nil {
		panic("wasm: NewSubscriber requires non-nil emitter")
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Subscriber{
		host:            host,
		emitter:         emitter,
		deliveryTimeout: 5 * time.Second,
		subscriptions:   make(map[string][]string),
		ctx:             ctx,
		cancel:          cancel,
	}
}

// Subscribe registers pluginName to receive events whose stream name
// matches pattern ("Counter-*" style prefix glob).
func (s *Subscriber) Subscribe(pluginName, pattern string) {
	if pluginName == "" || pattern == "" {
		slog.Warn("ignoring subscriber registration with empty plugin or pattern", "plugin", pluginName, "pattern", pattern)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[pluginName] = append(s.subscriptions[pluginName], pattern)
}

// HandleEvent delivers ev to every plugin whose pattern matches its
// stream name, each on its own goroutine with a bounded delivery timeout.
func (s *Subscriber) HandleEvent(ctx context.Context, ev core.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for pluginName, patterns := range s.subscriptions {
		matched := false
		for _, p := range patterns {
			if matchPrefixGlob(ev.StreamName, p) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		if s.ctx.Err() != nil {
			return
		}

		s.wg.Add(1)
		go func(plugin string) {
			defer s.wg.Done()
			s.deliverWithTimeout(ctx, plugin, ev)
		}(pluginName)
	}
}

// Stop cancels delivery and waits for in-flight deliveries to finish.
func (s *Subscriber) Stop() {
	s.cancel()
	s.wg.Wait()
}

func matchPrefixGlob(streamName, pattern string) bool {
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(streamName, strings.TrimSuffix(pattern, "*"))
	}
	return streamName == pattern
}

func (s *Subscriber) deliverWithTimeout(parentCtx context.Context, pluginName string, ev core.Event) {
	ctx, cancel := context.WithTimeout(parentCtx, s.deliveryTimeout)
	defer cancel()

	emitted, err := s.host.DeliverEvent(ctx, pluginName, ev)
	if err != nil {
		slog.Error("subscriber plugin delivery failed", "plugin", pluginName, "stream_name", ev.StreamName, "global_id", ev.GlobalID, "error", err)
		return
	}
	if parentCtx.Err() != nil {
		slog.Warn("skipping subscriber plugin emits due to context cancellation", "plugin", pluginName, "pending", len(emitted))
		return
	}

	for i, emit := range emitted {
		if emit.StreamName == "" {
			slog.Warn("rejected subscriber plugin emit: empty stream name", "plugin", pluginName, "emit_index", i)
			continue
		}
		if err := s.emitter.Emit(parentCtx, emit.StreamName, emit.EventType, []byte(emit.Payload)); err != nil {
			slog.Error("failed to emit subscriber plugin event", "plugin", pluginName, "emit_index", i, "error", err)
		}
	}
}
