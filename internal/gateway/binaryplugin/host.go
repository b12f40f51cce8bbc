// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wasmstream Contributors

package binaryplugin

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	hashiplug "github.com/hashicorp/go-plugin"

	"github.com/wasmstream/core/internal/core"
)

// PluginClient is the subset of go-plugin's *hashiplug.Client the host
// needs, narrowed so tests can substitute a fake without spawning a
// real subprocess. Grounded on the teacher's goplugin.PluginClient.
type PluginClient interface {
	Client() (hashiplug.ClientProtocol, error)
	Kill()
}

// ClientFactory creates PluginClients for a sink's executable path.
// Grounded on the teacher's goplugin.ClientFactory.
type ClientFactory interface {
	NewClient(execPath string) PluginClient
}

// DefaultClientFactory spawns real go-plugin subprocesses over
// net/rpc.
type DefaultClientFactory struct{}

// NewClient builds a go-plugin client for the sink binary at execPath.
func (DefaultClientFactory) NewClient(execPath string) PluginClient {
	return hashiplug.NewClient(&hashiplug.ClientConfig{
		HandshakeConfig:  HandshakeConfig,
		Plugins:          map[string]hashiplug.Plugin{"sink": &sinkPlugin{}},
		Cmd:              exec.Command(execPath), //nolint:gosec // execPath is a file in the operator's binsinks directory, not user input
		AllowedProtocols: []hashiplug.Protocol{hashiplug.ProtocolNetRPC},
	})
}

type loadedSink struct {
	client PluginClient
	sink   EventSink
}

// Host manages out-of-process projection sinks over go-plugin,
// mirroring internal/wasm.ExtismHost's load/deliver/close shape for
// the out-of-process case.
type Host struct {
	factory ClientFactory
	mu      sync.RWMutex
	sinks   map[string]*loadedSink
	closed  bool
}

// NewHost creates an empty Host using real subprocess clients.
func NewHost() *Host {
	return &Host{factory: DefaultClientFactory{}, sinks: make(map[string]*loadedSink)}
}

// NewHostWithFactory creates a Host using a custom ClientFactory, for
// tests that substitute a fake client rather than spawning a binary.
func NewHostWithFactory(factory ClientFactory) *Host {
	if factory == nil {
		panic("binaryplugin: factory cannot be nil")
	}
	return &Host{factory: factory, sinks: make(map[string]*loadedSink)}
}

// Load launches the sink binary at execPath and dispenses its
// EventSink over net/rpc.
func (h *Host) Load(name, execPath string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return core.Internal("load binary plugin", fmt.Errorf("host is closed"))
	}
	if _, ok := h.sinks[name]; ok {
		return core.InvalidInput(fmt.Sprintf("binary plugin %s already loaded", name))
	}

	client := h.factory.NewClient(execPath)
	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return core.Internal("connect to binary plugin", fmt.Errorf("%s: %w", name, err))
	}

	raw, err := rpcClient.Dispense("sink")
	if err != nil {
		client.Kill()
		return core.Internal("dispense binary plugin", fmt.Errorf("%s: %w", name, err))
	}
	sink, ok := raw.(EventSink)
	if !ok {
		client.Kill()
		return core.Internal("dispense binary plugin", fmt.Errorf("%s: does not implement EventSink", name))
	}

	h.sinks[name] = &loadedSink{client: client, sink: sink}
	slog.Info("binary plugin loaded", "name", name, "path", execPath)
	return nil
}

// Unload terminates the sink process for name.
func (h *Host) Unload(name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sinks[name]
	if !ok {
		return core.NotFound("binary plugin", name)
	}
	s.client.Kill()
	delete(h.sinks, name)
	return nil
}

// DeliverEvent hands ev to name's EventSink and returns the events it
// asked to be re-published.
func (h *Host) DeliverEvent(name string, ev Event) ([]EmitEvent, error) {
	h.mu.RLock()
	s, ok := h.sinks[name]
	h.mu.RUnlock()
	if !ok {
		return nil, core.NotFound("binary plugin", name)
	}
	emits, err := s.sink.HandleEvent(ev)
	if err != nil {
		return nil, core.Internal("deliver event to binary plugin", fmt.Errorf("%s: %w", name, err))
	}
	return emits, nil
}

// Close terminates every loaded sink process.
func (h *Host) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.sinks {
		s.client.Kill()
	}
	h.sinks = nil
	h.closed = true
}

// Emitter republishes events a sink asked to emit; store.Emitter is the
// implementation cmd/wasmstreamd wires in. Mirrors wasm.Emitter.
type Emitter interface {
	Emit(ctx context.Context, streamName, eventType string, payload []byte) error
}

// Router fans committed events out to loaded out-of-process sinks by
// prefix-glob stream pattern, the out-of-process analogue of
// wasm.Subscriber.
type Router struct {
	host            *Host
	emitter         Emitter
	deliveryTimeout time.Duration

	mu            sync.RWMutex
	subscriptions map[string][]string

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewRouter creates a Router bound to host and emitter. Panics if
// either is nil.
func NewRouter(ctx context.Context, host *Host, emitter Emitter) *Router {
	if host == nil {
		panic("binaryplugin: NewRouter requires non-nil host")
	}
	if emitter == nil {
		panic("binaryplugin: NewRouter requires non-nil emitter")
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Router{
		host:            host,
		emitter:         emitter,
		deliveryTimeout: 5 * time.Second,
		subscriptions:   make(map[string][]string),
		ctx:             ctx,
		cancel:          cancel,
	}
}

// Subscribe registers sinkName to receive events whose stream name
// matches pattern ("Counter-*" style prefix glob).
func (r *Router) Subscribe(sinkName, pattern string) {
	if sinkName == "" || pattern == "" {
		slog.Warn("ignoring binary sink registration with empty name or pattern", "sink", sinkName, "pattern", pattern)
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscriptions[sinkName] = append(r.subscriptions[sinkName], pattern)
}

// HandleEvent delivers ev to every sink whose pattern matches its
// stream name, each on its own goroutine with a bounded timeout.
func (r *Router) HandleEvent(ctx context.Context, ev Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for sinkName, patterns := range r.subscriptions {
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
		if r.ctx.Err() != nil {
			return
		}

		r.wg.Add(1)
		go func(name string) {
			defer r.wg.Done()
			r.deliverWithTimeout(ctx, name, ev)
		}(sinkName)
	}
}

// Stop cancels delivery and waits for in-flight deliveries to finish.
func (r *Router) Stop() {
	r.cancel()
	r.wg.Wait()
}

func matchPrefixGlob(streamName, pattern string) bool {
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(streamName, strings.TrimSuffix(pattern, "*"))
	}
	return streamName == pattern
}

// deliveryResult carries DeliverEvent's outcome across the timeout
// goroutine below; net/rpc's Call is a blocking call with no context
// support, so the timeout has to race it on the side rather than
// cancel it in place.
type deliveryResult struct {
	emitted []EmitEvent
	err     error
}

func (r *Router) deliverWithTimeout(parentCtx context.Context, sinkName string, ev Event) {
	done := make(chan deliveryResult, 1)
	go func() {
		emitted, err := r.host.DeliverEvent(sinkName, ev)
		done <- deliveryResult{emitted: emitted, err: err}
	}()

	var result deliveryResult
	select {
	case result = <-done:
	case <-time.After(r.deliveryTimeout):
		slog.Error("binary sink delivery timed out", "sink", sinkName, "stream_name", ev.StreamName, "global_id", ev.GlobalID)
		return
	}

	emitted, err := result.emitted, result.err
	if err != nil {
		slog.Error("binary sink delivery failed", "sink", sinkName, "stream_name", ev.StreamName, "global_id", ev.GlobalID, "error", err)
		return
	}
	if parentCtx.Err() != nil {
		slog.Warn("skipping binary sink emits due to context cancellation", "sink", sinkName, "pending", len(emitted))
		return
	}

	for i, emit := range emitted {
		if emit.StreamName == "" {
			slog.Warn("rejected binary sink emit: empty stream name", "sink", sinkName, "emit_index", i)
			continue
		}
		if err := r.emitter.Emit(parentCtx, emit.StreamName, emit.EventType, emit.Payload); err != nil {
			slog.Error("failed to emit binary sink event", "sink", sinkName, "emit_index", i, "error", err)
		}
	}
}
