// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wasmstream Contributors

package wasm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// addWASM exports nothing but "add": (i32, i32) -> i32. It deliberately
// lacks alloc/new/apply/handle so Instantiate must reject it.
//
//	(module
//	  (func (export "add") (param i32 i32) (result i32)
//	    local.get 0
//	    local.get 1
//	    i32.add))
var addWASM = []byte{
	0x00, 0x61, 0x73, 0x6d,
	0x01, 0x00, 0x00, 0x00,
	0x01, 0x07, 0x01, 0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7f,
	0x03, 0x02, 0x01, 0x00,
	0x07, 0x07, 0x01, 0x03, 0x61, 0x64, 0x64, 0x00, 0x00,
	0x0a, 0x09, 0x01, 0x07, 0x00, 0x20, 0x00, 0x20, 0x01, 0x6a, 0x0b,
}

func TestHost_InstantiateRejectsModuleMissingRequiredExports(t *testing.T) {
	ctx := context.Background()
	h := NewHost(ctx)
	defer func() { _ = h.Close(ctx) }()

	_, err := h.Instantiate(ctx, "Math", "m1", addWASM)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFunctionNotFound))
}

func TestHost_InstantiateAfterCloseFails(t *testing.T) {
	ctx := context.Background()
	h := NewHost(ctx)
	require.NoError(t, h.Close(ctx))

	_, err := h.Instantiate(ctx, "Math", "m1", addWASM)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHostClosed)
}

func TestHost_CloseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := NewHost(ctx)
	require.NoError(t, h.Close(ctx))
	require.NoError(t, h.Close(ctx))
}

func TestHost_CompiledModuleIsCachedPerCategory(t *testing.T) {
	ctx := context.Background()
	h := NewHost(ctx)
	defer func() { _ = h.Close(ctx) }()

	// Both calls fail (missing exports) but the second must hit the
	// compiled-module cache rather than recompiling addWASM.
	_, err1 := h.Instantiate(ctx, "Math", "m1", addWASM)
	require.Error(t, err1)
	_, ok := h.cache["Math"]
	require.True(t, ok, "compiled module should be cached after the first Instantiate")

	_, err2 := h.Instantiate(ctx, "Math", "m2", addWASM)
	require.Error(t, err2)
	assert.Len(t, h.cache, 1)
}
