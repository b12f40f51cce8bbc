// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wasmstream Contributors

// Package store implements the message store (C1): durable, per-stream
// sequenced, globally ordered event persistence with optimistic-concurrency
// writes and category/stream/all reads.
package store

import (
	"context"

	"github.com/wasmstream/core/internal/core"
)

// MessageStore is the durable append log every actor and the subscription
// hub read and write through.
type MessageStore interface {
	// Append atomically appends proposed to streamName, which must currently
	// be exactly expectedSequence events long. Returns core.Conflict if not.
	Append(ctx context.Context, streamName string, expectedSequence uint64, proposed []core.ProposedEvent) ([]core.Event, error)

	// ReadStream returns up to limit events from streamName in ascending
	// sequence order, starting at fromSequence. Empty if the stream is
	// shorter than fromSequence or does not exist.
	ReadStream(ctx context.Context, streamName string, fromSequence uint64, limit int) ([]core.Event, error)

	// ReadCategory returns up to limit events whose stream begins with
	// category+"-", in ascending global-id order.
	ReadCategory(ctx context.Context, category string, fromGlobalID uint64, limit int) ([]core.Event, error)

	// ReadAll returns up to limit events in ascending global-id order.
	ReadAll(ctx context.Context, fromGlobalID uint64, limit int) ([]core.Event, error)

	// StreamLength returns the current length (next stream_sequence) of a
	// stream. Zero if the stream does not exist.
	StreamLength(ctx context.Context, streamName string) (uint64, error)

	// Notifications returns the channel the store publishes every
	// successfully persisted event to, for the subscription hub's live-tail
	// mode. The channel is shared across all streams; the hub filters.
	// Closing happens only when the store itself is closed.
	Notifications() <-chan core.Event

	// Close releases the store's resources.
	Close(ctx context.Context) error
}

// CursorRepository persists subscription cursors, modeled on the teacher's
// alias-repository CRUD shape applied to a single-row-per-subscriber table.
type CursorRepository interface {
	// GetCursor returns the last acked global id for name, or 0 if no
	// cursor exists yet (creation happens lazily on first ack/subscribe).
	GetCursor(ctx context.Context, name string) (uint64, error)

	// SetCursor persists globalID as name's cursor. A globalID lower than
	// the currently stored value is ignored: the stored value is kept and
	// no error is returned (monotonicity, spec §3 Subscription Cursor
	// invariant).
	SetCursor(ctx context.Context, name string, globalID uint64) error

	// DeleteCursor removes name's cursor (explicit unsubscribe).
	DeleteCursor(ctx context.Context, name string) error
}
