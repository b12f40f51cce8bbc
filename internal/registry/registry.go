// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wasmstream Contributors

package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/wasmstream/core/internal/core"
)

// Entry is a published Module Entry (spec.md §3's Module Entry): the
// wasm bytecode for one category at one version, plus the optional
// JSON Schema validating its command payloads.
type Entry struct {
	Category    string
	Version     string
	Bytes       []byte
	Schema      []byte
	PublishedAt time.Time
}

// Registry is the module registry's read/write surface: Publish lands
// a new Module Entry, ModuleBytes resolves the latest version's bytes
// for supervisor.ModuleProvider, Get/List serve introspection.
type Registry interface {
	Publish(ctx context.Context, category, version string, wasmBytes, schema []byte) error
	ModuleBytes(ctx context.Context, category string) ([]byte, error)
	Get(ctx context.Context, category, version string) (Entry, error)
	List(ctx context.Context) ([]Entry, error)
}

// FilesystemRegistry is an in-memory index, optionally seeded by
// scanning a directory of modules/<category>/<version>.wasm files plus
// optional sibling <version>.schema.json schemas at startup (spec.md §6's "modules/
// directory scanning"). Publishes made after startup are held
// in-memory only; persisting new publishes back to disk is the
// byte-blob storage Non-goal SPEC_FULL.md §8 scopes out.
type FilesystemRegistry struct {
	mu        sync.RWMutex
	versions  map[string]map[string]Entry // category -> version -> entry
	latest    map[string]*semver.Version  // category -> latest version seen
	validator *SchemaValidator
}

// NewFilesystemRegistry creates an empty registry.
func NewFilesystemRegistry() *FilesystemRegistry {
	return &FilesystemRegistry{
		versions:  make(map[string]map[string]Entry),
		latest:    make(map[string]*semver.Version),
		validator: NewSchemaValidator(),
	}
}

// ScanDir walks dir for <category>/<version>.wasm files with an
// optional sibling <version>.schema.json, publishing each as a Module
// Entry. It does not read module.yaml files. Per spec.md §6, this is what
// `cmd/wasmstreamd serve` runs at startup over the configured modules
// directory.
func (r *FilesystemRegistry) ScanDir(ctx context.Context, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return core.Internal("scan modules directory", err)
	}

	for _, categoryEntry := range entries {
		if !categoryEntry.IsDir() {
			continue
		}
		category := categoryEntry.Name()
		categoryDir := filepath.Join(dir, category)

		versionFiles, err := os.ReadDir(categoryDir)
		if err != nil {
			return core.Internal("scan category directory", err)
		}
		for _, vf := range versionFiles {
			if vf.IsDir() || !strings.HasSuffix(vf.Name(), ".wasm") {
				continue
			}
			version := strings.TrimSuffix(vf.Name(), ".wasm")

			wasmBytes, err := os.ReadFile(filepath.Join(categoryDir, vf.Name()))
			if err != nil {
				return core.Internal("read module bytes", err)
			}

			var schema []byte
			schemaPath := filepath.Join(categoryDir, version+".schema.json")
			if data, err := os.ReadFile(schemaPath); err == nil {
				schema = data
			}

			if err := r.Publish(ctx, category, version, wasmBytes, schema); err != nil {
				return fmt.Errorf("publish %s@%s from %s: %w", category, version, categoryDir, err)
			}
		}
	}
	return nil
}

// Publish validates version as strict semver, registers schema (if any)
// with the schema validator, and records the entry. If version is
// newer than any previously seen version for category, it becomes the
// version ModuleBytes resolves.
func (r *FilesystemRegistry) Publish(_ context.Context, category, version string, wasmBytes, schema []byte) error {
	if category == "" {
		return core.InvalidInput("category must not be empty")
	}
	sv, err := semver.StrictNewVersion(version)
	if err != nil {
		return core.InvalidInput(fmt.Sprintf("version %q must be valid semver: %v", version, err))
	}
	if len(wasmBytes) == 0 {
		return core.InvalidInput("wasm module bytes must not be empty")
	}

	if err := r.validator.Register(category, version, schema); err != nil {
		return core.InvalidInput("invalid schema: " + err.Error())
	}

	entry := Entry{
		Category:    category,
		Version:     version,
		Bytes:       wasmBytes,
		Schema:      schema,
		PublishedAt: time.Now(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.versions[category] == nil {
		r.versions[category] = make(map[string]Entry)
	}
	r.versions[category][version] = entry

	if current, ok := r.latest[category]; !ok || sv.GreaterThan(current) {
		r.latest[category] = sv
	}
	return nil
}

// ModuleBytes returns the wasm bytes for category's latest published
// version, satisfying supervisor.ModuleProvider.
func (r *FilesystemRegistry) ModuleBytes(ctx context.Context, category string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	latest, ok := r.latest[category]
	if !ok {
		return nil, core.NotFound("module category", category)
	}
	entry := r.versions[category][latest.Original()]
	return entry.Bytes, nil
}

// Get returns the entry for an exact (category, version).
func (r *FilesystemRegistry) Get(_ context.Context, category, version string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.versions[category][version]
	if !ok {
		return Entry{}, core.NotFound("module version", category+"@"+version)
	}
	return entry, nil
}

// List returns every published entry across all categories and versions.
func (r *FilesystemRegistry) List(context.Context) ([]Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0)
	for _, byVersion := range r.versions {
		for _, entry := range byVersion {
			out = append(out, entry)
		}
	}
	return out, nil
}

// ValidatePayload validates a command payload against category's
// currently latest version's registered schema, a no-op if none was
// registered.
func (r *FilesystemRegistry) ValidatePayload(category string, payload []byte) error {
	r.mu.RLock()
	latest, ok := r.latest[category]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return r.validator.Validate(category, latest.Original(), payload)
}
