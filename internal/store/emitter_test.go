// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wasmstream Contributors

package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wasmstream/core/internal/core"
	"github.com/wasmstream/core/internal/store"
)

func TestEmitter_EmitAppendsAtCurrentStreamLength(t *testing.T) {
	st := store.NewMemoryStore(8)
	defer st.Close(context.Background())
	e := store.NewEmitter(st)

	require.NoError(t, e.Emit(context.Background(), "Derived-c1", "Projected", []byte(`{"n":1}`)))
	require.NoError(t, e.Emit(context.Background(), "Derived-c1", "Projected", []byte(`{"n":2}`)))

	events, err := st.ReadStream(context.Background(), "Derived-c1", 0, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, uint64(0), events[0].StreamSequence)
	assert.Equal(t, uint64(1), events[1].StreamSequence)
}

func TestEmitter_EmitAppendsAfterPriorEventsOnTheStream(t *testing.T) {
	st := store.NewMemoryStore(8)
	defer st.Close(context.Background())
	e := store.NewEmitter(st)

	_, err := st.Append(context.Background(), "Derived-c1", 0, []core.ProposedEvent{
		{EventType: "Seeded", Data: []byte(`{}`)},
	})
	require.NoError(t, err)

	require.NoError(t, e.Emit(context.Background(), "Derived-c1", "Projected", []byte(`{"n":2}`)))

	events, err := st.ReadStream(context.Background(), "Derived-c1", 0, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "Projected", events[1].EventType)
}
