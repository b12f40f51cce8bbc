// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wasmstream Contributors

package hub_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wasmstream/core/internal/core"
	"github.com/wasmstream/core/internal/hub"
	"github.com/wasmstream/core/internal/hub/filterdsl"
	"github.com/wasmstream/core/internal/store"
)

func recvWithTimeout(t *testing.T, ch <-chan core.Event) core.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return core.Event{}
	}
}

func assertNoEventWithin(t *testing.T, ch <-chan core.Event, d time.Duration) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event delivered: %+v", ev)
	case <-time.After(d):
	}
}

func TestHub_SubscribeReplaysHistoricalEvents(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore(16)
	_, err := ms.Append(ctx, "Counter-c1", 0, []core.ProposedEvent{
		{EventType: "Incremented", Data: []byte(`{}`)},
		{EventType: "Incremented", Data: []byte(`{}`)},
	})
	require.NoError(t, err)

	cursors := store.NewMemoryCursorRepository()
	h := hub.New(ctx, ms, cursors)
	defer func() { _ = h.Shutdown(ctx) }()

	sub, err := h.Subscribe(ctx, "proj1", nil)
	require.NoError(t, err)
	defer sub.Close()

	first := recvWithTimeout(t, sub.Events())
	second := recvWithTimeout(t, sub.Events())
	assert.Equal(t, uint64(1), first.GlobalID)
	assert.Equal(t, uint64(2), second.GlobalID)
}

func TestHub_LiveTailAfterReplayCatchesUp(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore(16)
	cursors := store.NewMemoryCursorRepository()
	h := hub.New(ctx, ms, cursors)
	defer func() { _ = h.Shutdown(ctx) }()

	sub, err := h.Subscribe(ctx, "proj1", nil)
	require.NoError(t, err)
	defer sub.Close()

	// Give the replay goroutine a moment to find the (empty) store dry
	// and switch into live mode.
	time.Sleep(50 * time.Millisecond)

	_, err = ms.Append(ctx, "Counter-c1", 0, []core.ProposedEvent{
		{EventType: "Incremented", Data: []byte(`{}`)},
	})
	require.NoError(t, err)

	ev := recvWithTimeout(t, sub.Events())
	assert.Equal(t, "Incremented", ev.EventType)
}

func TestHub_GlobFilterOnlyDeliversMatchingEvents(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore(16)
	_, err := ms.Append(ctx, "Counter-c1", 0, []core.ProposedEvent{{EventType: "Incremented"}})
	require.NoError(t, err)
	_, err = ms.Append(ctx, "Widget-w1", 0, []core.ProposedEvent{{EventType: "Created"}})
	require.NoError(t, err)

	cursors := store.NewMemoryCursorRepository()
	h := hub.New(ctx, ms, cursors)
	defer func() { _ = h.Shutdown(ctx) }()

	sub, err := h.Subscribe(ctx, "proj1", []hub.Filter{{Category: "Counter"}})
	require.NoError(t, err)
	defer sub.Close()

	ev := recvWithTimeout(t, sub.Events())
	assert.Equal(t, "Incremented", ev.EventType)
	assertNoEventWithin(t, sub.Events(), 100*time.Millisecond)
}

func TestHub_SubscribeWithExpressionFilter(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore(16)
	_, err := ms.Append(ctx, "Counter-c1", 0, []core.ProposedEvent{{EventType: "Incremented"}})
	require.NoError(t, err)
	_, err = ms.Append(ctx, "Counter-c1", 1, []core.ProposedEvent{{EventType: "Decremented"}})
	require.NoError(t, err)

	cursors := store.NewMemoryCursorRepository()
	h := hub.New(ctx, ms, cursors)
	defer func() { _ = h.Shutdown(ctx) }()

	matcher, err := filterdsl.Compile(`event_type == "Decremented"`)
	require.NoError(t, err)

	sub, err := h.SubscribeWithExpression(ctx, "proj1", matcher)
	require.NoError(t, err)
	defer sub.Close()

	ev := recvWithTimeout(t, sub.Events())
	assert.Equal(t, "Decremented", ev.EventType)
}

func TestHub_AckPersistsCursor(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore(16)
	_, err := ms.Append(ctx, "Counter-c1", 0, []core.ProposedEvent{{EventType: "Incremented"}})
	require.NoError(t, err)

	cursors := store.NewMemoryCursorRepository()
	h := hub.New(ctx, ms, cursors)
	defer func() { _ = h.Shutdown(ctx) }()

	sub, err := h.Subscribe(ctx, "proj1", nil)
	require.NoError(t, err)
	ev := recvWithTimeout(t, sub.Events())
	require.NoError(t, sub.Ack(ctx, ev.GlobalID))
	sub.Close()

	stored, err := cursors.GetCursor(ctx, "proj1")
	require.NoError(t, err)
	assert.Equal(t, ev.GlobalID, stored)
}

func TestHub_ResubscribeResumesFromPersistedCursor(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore(16)
	_, err := ms.Append(ctx, "Counter-c1", 0, []core.ProposedEvent{
		{EventType: "Incremented"}, {EventType: "Incremented"},
	})
	require.NoError(t, err)

	cursors := store.NewMemoryCursorRepository()
	h := hub.New(ctx, ms, cursors)
	defer func() { _ = h.Shutdown(ctx) }()

	sub, err := h.Subscribe(ctx, "proj1", nil)
	require.NoError(t, err)
	first := recvWithTimeout(t, sub.Events())
	require.NoError(t, sub.Ack(ctx, first.GlobalID))
	sub.Close()

	sub2, err := h.Subscribe(ctx, "proj1", nil)
	require.NoError(t, err)
	defer sub2.Close()
	second := recvWithTimeout(t, sub2.Events())
	assert.Equal(t, first.GlobalID+1, second.GlobalID)
}

func TestHub_DuplicateSubscriptionNameRejected(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore(16)
	cursors := store.NewMemoryCursorRepository()
	h := hub.New(ctx, ms, cursors)
	defer func() { _ = h.Shutdown(ctx) }()

	sub, err := h.Subscribe(ctx, "proj1", nil)
	require.NoError(t, err)
	defer sub.Close()

	_, err = h.Subscribe(ctx, "proj1", nil)
	assert.Error(t, err)
}

func TestHub_ShutdownIsIdempotent(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore(16)
	cursors := store.NewMemoryCursorRepository()
	h := hub.New(ctx, ms, cursors)

	require.NoError(t, h.Shutdown(ctx))
	require.NoError(t, h.Shutdown(ctx))

	_, err := h.Subscribe(ctx, "proj1", nil)
	assert.Error(t, err)
}
