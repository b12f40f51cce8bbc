// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wasmstream Contributors

package core

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewEventID returns a fresh, sortable, unique event id (a ULID per spec's
// "typically a random 128-bit value"). Generation is serialized so the
// monotonic entropy source never produces a duplicate under concurrent
// appends from different stream goroutines.
func NewEventID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NowMillis returns the current wall-clock time in milliseconds since the
// Unix epoch, the unit the Event.TimeMillis and command context use.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
