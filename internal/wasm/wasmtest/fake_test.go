// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wasmstream Contributors

package wasmtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wasmstream/core/internal/core"
	"github.com/wasmstream/core/internal/wasm"
)

func TestFakeHost_HandleEmitsIncremented(t *testing.T) {
	ctx := context.Background()
	h := NewFakeHost()
	in, err := h.Instantiate(ctx, "Counter", "c1", nil)
	require.NoError(t, err)

	events, err := in.Handle(ctx, wasm.HandleCommand{Name: "Increment", Payload: `{"delta":3}`})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Incremented", events[0].EventType)
	assert.JSONEq(t, `{"delta":3}`, events[0].Payload)
}

func TestFakeHost_ApplyFoldsState(t *testing.T) {
	ctx := context.Background()
	h := NewFakeHost()
	in, err := h.Instantiate(ctx, "Counter", "c1", nil)
	require.NoError(t, err)

	require.NoError(t, in.Apply(ctx, []wasm.ApplyEvent{
		{EventType: "Incremented", Payload: `{"delta":5}`},
		{EventType: "Incremented", Payload: `{"delta":-2}`},
	}))

	// A further decrement that would take the count negative is rejected.
	_, err = in.Handle(ctx, wasm.HandleCommand{Name: "Increment", Payload: `{"delta":-10}`})
	require.Error(t, err)
	assert.True(t, core.IsDomainError(err))
}

func TestFakeHost_UnknownCommandIsDomainError(t *testing.T) {
	ctx := context.Background()
	h := NewFakeHost()
	in, err := h.Instantiate(ctx, "Counter", "c1", nil)
	require.NoError(t, err)

	_, err = in.Handle(ctx, wasm.HandleCommand{Name: "Nonexistent"})
	require.Error(t, err)
	assert.True(t, core.IsDomainError(err))
}

func TestFakeHost_CustomHandlerPerCategory(t *testing.T) {
	ctx := context.Background()
	h := NewFakeHost()
	h.Handlers["Widget"] = func(_ int, cmd wasm.HandleCommand) ([]wasm.EmittedEvent, error) {
		return []wasm.EmittedEvent{{EventType: "WidgetTouched", Payload: cmd.Payload}}, nil
	}

	in, err := h.Instantiate(ctx, "Widget", "w1", nil)
	require.NoError(t, err)

	events, err := in.Handle(ctx, wasm.HandleCommand{Name: "Touch", Payload: `{"x":1}`})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "WidgetTouched", events[0].EventType)
}

func TestFakeHost_InstantiateAfterCloseFails(t *testing.T) {
	ctx := context.Background()
	h := NewFakeHost()
	require.NoError(t, h.Close(ctx))

	_, err := h.Instantiate(ctx, "Counter", "c1", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, wasm.ErrHostClosed)
}
