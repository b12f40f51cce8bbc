// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wasmstream Contributors

// Package core contains the core domain types shared across the runtime:
// events, commands, identity, and the error taxonomy.
package core

import (
	"fmt"
	"strings"
)

// Identity is the (category, id) pair that uniquely names an aggregate.
type Identity struct {
	Category string
	ID       string
}

// Stream returns the stream name for this identity: "category-id".
func (i Identity) Stream() string {
	return i.Category + "-" + i.ID
}

// Validate checks that category and id are non-empty and that category
// contains no '-'. It does not restrict either to ASCII.
func (i Identity) Validate() error {
	if i.Category == "" {
		return InvalidInput("category must not be empty")
	}
	if i.ID == "" {
		return InvalidInput("id must not be empty")
	}
	if strings.Contains(i.Category, "-") {
		return InvalidInput("category must not contain '-'")
	}
	return nil
}

// ParseStream splits a stream name back into its category and id, assuming
// the category itself never contains a hyphen (the same constraint
// Identity.Validate enforces on the way in).
func ParseStream(stream string) (category, id string, ok bool) {
	idx := strings.Index(stream, "-")
	if idx <= 0 || idx == len(stream)-1 {
		return "", "", false
	}
	return stream[:idx], stream[idx+1:], true
}

// CategoryPrefix returns the stream-name prefix matching every entity of a
// category, used by read_category.
func CategoryPrefix(category string) string {
	return category + "-"
}

// Event is an immutable fact appended to a stream.
type Event struct {
	GlobalID       uint64
	StreamSequence uint64
	StreamName     string
	EventType      string
	Data           []byte // opaque JSON
	Metadata       map[string]string
	TimeMillis     int64
	ID             string // unique per event, e.g. a ULID
}

// CausationID returns the causation id carried in metadata, if any.
func (e Event) CausationID() (string, bool) {
	if e.Metadata == nil {
		return "", false
	}
	v, ok := e.Metadata["causation_id"]
	return v, ok
}

// ProposedEvent is an event awaiting persistence; it carries everything the
// store needs except the fields the store itself assigns (GlobalID,
// StreamSequence, StreamName).
type ProposedEvent struct {
	EventType string
	Data      []byte
	Metadata  map[string]string
	ID        string
}

func (e ProposedEvent) String() string {
	return fmt.Sprintf("ProposedEvent{type=%s, bytes=%d}", e.EventType, len(e.Data))
}
