// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wasmstream Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/wasmstream/core/internal/core"
	"github.com/wasmstream/core/internal/gateway/binaryplugin"
	"github.com/wasmstream/core/internal/hub"
	"github.com/wasmstream/core/internal/store"
	"github.com/wasmstream/core/internal/wasm"
)

// wireProjectionSinks loads every optional projection sink found under
// cfg.ModulesDir/sinks (in-process Extism wasm plugins) and
// cfg.ModulesDir/binsinks (out-of-process go-plugin binaries), each
// subscribed to every committed event through its own Hub subscription,
// and returns a func that stops delivery and releases both hosts. Both
// directories are optional: a deployment with no projections configures
// neither and wireProjectionSinks is a no-op.
func wireProjectionSinks(ctx context.Context, cfg *Config, subHub *hub.Hub, msgStore store.MessageStore) func() {
	emitter := store.NewEmitter(msgStore)
	stops := make([]func(), 0, 2)

	if sub := loadWasmSinks(ctx, cfg, subHub, emitter); sub != nil {
		stops = append(stops, sub)
	}
	if stop := loadBinarySinks(ctx, cfg, subHub, emitter); stop != nil {
		stops = append(stops, stop)
	}

	return func() {
		for _, stop := range stops {
			stop()
		}
	}
}

func loadWasmSinks(ctx context.Context, cfg *Config, subHub *hub.Hub, emitter *store.Emitter) func() {
	dir := filepath.Join(cfg.ModulesDir, "sinks")
	names := listSinkFiles(dir, ".wasm")
	if len(names) == 0 {
		return nil
	}

	extismHost := wasm.NewExtismHost()
	subscriber := wasm.NewSubscriber(ctx, extismHost, emitter)

	for _, name := range names {
		wasmBytes, err := os.ReadFile(filepath.Clean(filepath.Join(dir, name+".wasm")))
		if err != nil {
			slog.Warn("failed to read wasm sink", "name", name, "error", err)
			continue
		}
		if err := extismHost.LoadPlugin(ctx, name, wasmBytes); err != nil {
			slog.Warn("failed to load wasm sink", "name", name, "error", err)
			continue
		}
		subscriber.Subscribe(name, "*")
		slog.Info("wasm projection sink loaded", "name", name)
	}

	sub, err := subHub.Subscribe(ctx, "projection:wasm-sinks", nil)
	if err != nil {
		slog.Warn("failed to subscribe wasm sinks to the event feed", "error", err)
		_ = extismHost.Close(context.Background())
		return nil
	}
	go func() {
		for {
			select {
			case ev, ok := <-sub.Events():
				if !ok {
					return
				}
				subscriber.HandleEvent(ctx, ev)
			case <-ctx.Done():
				return
			}
		}
	}()

	return func() {
		sub.Close()
		subscriber.Stop()
		if err := extismHost.Close(context.Background()); err != nil {
			slog.Warn("error closing wasm sink host", "error", err)
		}
	}
}

func loadBinarySinks(ctx context.Context, cfg *Config, subHub *hub.Hub, emitter *store.Emitter) func() {
	dir := filepath.Join(cfg.ModulesDir, "binsinks")
	names := listSinkFiles(dir, "")
	if len(names) == 0 {
		return nil
	}

	binHost := binaryplugin.NewHost()
	router := binaryplugin.NewRouter(ctx, binHost, emitter)

	for _, name := range names {
		execPath := filepath.Join(dir, name)
		if err := binHost.Load(name, execPath); err != nil {
			slog.Warn("failed to load binary sink", "name", name, "error", err)
			continue
		}
		router.Subscribe(name, "*")
		slog.Info("binary projection sink loaded", "name", name, "exec_path", execPath)
	}

	sub, err := subHub.Subscribe(ctx, "projection:binary-sinks", nil)
	if err != nil {
		slog.Warn("failed to subscribe binary sinks to the event feed", "error", err)
		binHost.Close()
		return nil
	}
	go func() {
		for {
			select {
			case ev, ok := <-sub.Events():
				if !ok {
					return
				}
				router.HandleEvent(ctx, toBinaryEvent(ev))
			case <-ctx.Done():
				return
			}
		}
	}()

	return func() {
		sub.Close()
		router.Stop()
		binHost.Close()
	}
}

// toBinaryEvent adapts a core.Event to the binaryplugin wire shape
// net/rpc sinks exchange with the host.
func toBinaryEvent(ev core.Event) binaryplugin.Event {
	return binaryplugin.Event{
		GlobalID:   ev.GlobalID,
		StreamName: ev.StreamName,
		EventType:  ev.EventType,
		Payload:    ev.Data,
		TimeMillis: ev.TimeMillis,
	}
}

// listSinkFiles lists the base names (extension stripped when suffix is
// non-empty) of regular files directly under dir. Returns nil if dir
// does not exist or is empty — both are valid "no sinks configured"
// states, not errors.
func listSinkFiles(dir, suffix string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if suffix != "" {
			if !strings.HasSuffix(name, suffix) {
				continue
			}
			name = strings.TrimSuffix(name, suffix)
		}
		names = append(names, name)
	}
	return names
}
