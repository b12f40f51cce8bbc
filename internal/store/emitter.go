// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wasmstream Contributors

package store

import (
	"context"
	"log/slog"

	"github.com/sethvargo/go-retry"

	"github.com/wasmstream/core/internal/core"
)

// Emitter appends a single derived event to streamName, read-then-append
// against the current stream length, rehydrating and retrying once on
// a concurrent-append conflict — the same rehydrate-and-retry-once
// idiom internal/actor's command handling uses. It is the concrete
// Emitter wasm.Subscriber and binaryplugin.Router re-publish through
// when a projection plugin asks the store to append an event on its
// behalf.
type Emitter struct {
	store MessageStore
}

// NewEmitter wraps st as an Emitter.
func NewEmitter(st MessageStore) *Emitter {
	return &Emitter{store: st}
}

// Emit appends one event of eventType with payload to streamName.
func (e *Emitter) Emit(ctx context.Context, streamName, eventType string, payload []byte) error {
	backoff := retry.WithMaxRetries(1, retry.NewConstant(0))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		length, err := e.store.StreamLength(ctx, streamName)
		if err != nil {
			return core.Internal("read stream length before emit", err)
		}

		_, appendErr := e.store.Append(ctx, streamName, length, []core.ProposedEvent{
			{EventType: eventType, Data: payload},
		})
		if appendErr == nil {
			return nil
		}
		if core.IsConflict(appendErr) {
			slog.Warn("emitter append conflict, retrying once", "stream_name", streamName, "error", appendErr)
			return retry.RetryableError(appendErr)
		}
		return appendErr
	})
}
