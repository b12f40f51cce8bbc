// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wasmstream Contributors

package actor

// causationRing remembers the exact stream range a causation id's command
// appended — its starting position and the number of events it produced —
// so a retried command with the same causation id can be answered by
// re-reading precisely that range from the store instead of re-executing
// aggregate logic (spec.md §4.3 step 2). A count of zero means the
// original command produced no events (e.g. a domain rejection retried
// with the same causation id). Bounded FIFO eviction at size entries,
// mirroring the "recent-causation ring buffer (bounded, e.g. 64 entries)"
// of spec.md §4.3.
type causationRing struct {
	size  int
	order []string
	span  map[string]causationSpan
}

type causationSpan struct {
	position uint64
	count    int
}

func newCausationRing(size int) *causationRing {
	return &causationRing{
		size: size,
		span: make(map[string]causationSpan, size),
	}
}

func (r *causationRing) lookup(causationID string) (causationSpan, bool) {
	if causationID == "" {
		return causationSpan{}, false
	}
	span, ok := r.span[causationID]
	return span, ok
}

func (r *causationRing) record(causationID string, position uint64, count int) {
	if causationID == "" {
		return
	}
	span := causationSpan{position: position, count: count}
	if _, exists := r.span[causationID]; exists {
		r.span[causationID] = span
		return
	}
	if len(r.order) >= r.size {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.span, oldest)
	}
	r.order = append(r.order, causationID)
	r.span[causationID] = span
}
