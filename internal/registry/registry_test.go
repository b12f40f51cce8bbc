// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wasmstream Contributors

package registry_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wasmstream/core/internal/core"
	"github.com/wasmstream/core/internal/registry"
)

func TestFilesystemRegistry_PublishAndResolveLatest(t *testing.T) {
	r := registry.NewFilesystemRegistry()
	ctx := context.Background()

	require.NoError(t, r.Publish(ctx, "Counter", "1.0.0", []byte("wasm-v1"), nil))
	require.NoError(t, r.Publish(ctx, "Counter", "1.2.0", []byte("wasm-v1.2"), nil))
	require.NoError(t, r.Publish(ctx, "Counter", "1.1.0", []byte("wasm-v1.1"), nil))

	bytes, err := r.ModuleBytes(ctx, "Counter")
	require.NoError(t, err)
	assert.Equal(t, []byte("wasm-v1.2"), bytes)
}

func TestFilesystemRegistry_ModuleBytesUnknownCategory(t *testing.T) {
	r := registry.NewFilesystemRegistry()
	_, err := r.ModuleBytes(context.Background(), "Missing")
	require.Error(t, err)
	assert.True(t, core.IsNotFound(err))
}

func TestFilesystemRegistry_PublishRejectsNonSemverVersion(t *testing.T) {
	r := registry.NewFilesystemRegistry()
	err := r.Publish(context.Background(), "Counter", "not-a-version", []byte("wasm"), nil)
	require.Error(t, err)
	assert.True(t, core.IsInvalidInput(err))
}

func TestFilesystemRegistry_PublishRejectsEmptyBytes(t *testing.T) {
	r := registry.NewFilesystemRegistry()
	err := r.Publish(context.Background(), "Counter", "1.0.0", nil, nil)
	require.Error(t, err)
	assert.True(t, core.IsInvalidInput(err))
}

func TestFilesystemRegistry_GetExactVersion(t *testing.T) {
	r := registry.NewFilesystemRegistry()
	ctx := context.Background()
	require.NoError(t, r.Publish(ctx, "Counter", "1.0.0", []byte("wasm-v1"), nil))

	entry, err := r.Get(ctx, "Counter", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "Counter", entry.Category)
	assert.Equal(t, []byte("wasm-v1"), entry.Bytes)

	_, err = r.Get(ctx, "Counter", "9.9.9")
	require.Error(t, err)
	assert.True(t, core.IsNotFound(err))
}

func TestFilesystemRegistry_ValidatePayloadAgainstRegisteredSchema(t *testing.T) {
	r := registry.NewFilesystemRegistry()
	ctx := context.Background()
	schema := []byte(`{"type":"object","required":["delta"],"properties":{"delta":{"type":"integer"}}}`)
	require.NoError(t, r.Publish(ctx, "Counter", "1.0.0", []byte("wasm"), schema))

	require.NoError(t, r.ValidatePayload("Counter", []byte(`{"delta":3}`)))

	err := r.ValidatePayload("Counter", []byte(`{"delta":"not-a-number"}`))
	require.Error(t, err)
	assert.True(t, core.IsDomainError(err))
}

func TestFilesystemRegistry_ValidatePayloadNoSchemaIsNoop(t *testing.T) {
	r := registry.NewFilesystemRegistry()
	ctx := context.Background()
	require.NoError(t, r.Publish(ctx, "Counter", "1.0.0", []byte("wasm"), nil))
	require.NoError(t, r.ValidatePayload("Counter", []byte(`{"anything":true}`)))
}

func TestFilesystemRegistry_ScanDirPublishesEachModule(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "Counter"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Counter", "1.0.0.wasm"), []byte("wasm-bytes"), 0o644))

	r := registry.NewFilesystemRegistry()
	require.NoError(t, r.ScanDir(context.Background(), dir))

	bytes, err := r.ModuleBytes(context.Background(), "Counter")
	require.NoError(t, err)
	assert.Equal(t, []byte("wasm-bytes"), bytes)
}

func TestFilesystemRegistry_ScanDirMissingDirectoryIsNotAnError(t *testing.T) {
	r := registry.NewFilesystemRegistry()
	require.NoError(t, r.ScanDir(context.Background(), "/nonexistent/path/xyz"))
}

func TestManifest_ParseAndValidate(t *testing.T) {
	m, err := registry.ParseManifest([]byte("category: Counter\nversion: 1.0.0\n"))
	require.NoError(t, err)
	assert.Equal(t, "Counter", m.Category)

	_, err = registry.ParseManifest([]byte("category: \"\"\nversion: 1.0.0\n"))
	assert.Error(t, err)

	_, err = registry.ParseManifest([]byte("category: Counter\nversion: not-semver\n"))
	assert.Error(t, err)
}

func TestSchemaValidator_RegisterThenValidate(t *testing.T) {
	v := registry.NewSchemaValidator()
	schema := []byte(`{"type":"object","required":["name"]}`)
	require.NoError(t, v.Register("Widget", "1.0.0", schema))

	require.NoError(t, v.Validate("Widget", "1.0.0", []byte(`{"name":"a"}`)))

	err := v.Validate("Widget", "1.0.0", []byte(`{}`))
	require.Error(t, err)
	assert.True(t, core.IsDomainError(err))
}

func TestSchemaValidator_UnregisteredKeyPassesThrough(t *testing.T) {
	v := registry.NewSchemaValidator()
	require.NoError(t, v.Validate("Widget", "1.0.0", []byte(`{"anything":1}`)))
}

type counterPayload struct {
	Delta int `json:"delta"`
}

func TestGenerateSchema_ReflectsGoType(t *testing.T) {
	data, err := registry.GenerateSchema(&counterPayload{})
	require.NoError(t, err)
	assert.Contains(t, string(data), "delta")
}
