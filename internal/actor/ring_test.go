// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wasmstream Contributors

package actor

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCausationRing_LookupMiss(t *testing.T) {
	r := newCausationRing(4)
	_, ok := r.lookup("missing")
	assert.False(t, ok)
}

func TestCausationRing_RecordThenLookup(t *testing.T) {
	r := newCausationRing(4)
	r.record("a", 10, 2)
	span, ok := r.lookup("a")
	assert.True(t, ok)
	assert.Equal(t, uint64(10), span.position)
	assert.Equal(t, 2, span.count)
}

func TestCausationRing_RecordOverwritesExistingEntry(t *testing.T) {
	r := newCausationRing(4)
	r.record("a", 10, 1)
	r.record("a", 20, 3)
	span, ok := r.lookup("a")
	assert.True(t, ok)
	assert.Equal(t, uint64(20), span.position)
	assert.Equal(t, 3, span.count)
}

func TestCausationRing_EmptyCausationIDIsNeverRecorded(t *testing.T) {
	r := newCausationRing(4)
	r.record("", 5, 1)
	_, ok := r.lookup("")
	assert.False(t, ok)
}

func TestCausationRing_EvictsOldestBeyondSize(t *testing.T) {
	r := newCausationRing(3)
	for i := 0; i < 5; i++ {
		r.record(strconv.Itoa(i), uint64(i), 1)
	}

	// The two oldest (0, 1) were evicted to stay within size 3.
	_, ok := r.lookup("0")
	assert.False(t, ok)
	_, ok = r.lookup("1")
	assert.False(t, ok)

	for i := 2; i < 5; i++ {
		span, ok := r.lookup(strconv.Itoa(i))
		assert.True(t, ok)
		assert.Equal(t, uint64(i), span.position)
	}
}

func TestCausationRing_OverwriteDoesNotConsumeEvictionSlot(t *testing.T) {
	r := newCausationRing(2)
	r.record("a", 1, 1)
	r.record("b", 2, 1)
	r.record("a", 100, 1) // overwrite, not a new entry
	r.record("c", 3, 1)   // evicts "a", the oldest; would evict "b" if the overwrite had taken a slot

	// "b" must survive since only one new slot ("c") was consumed.
	_, ok := r.lookup("b")
	assert.True(t, ok)
	span, ok := r.lookup("c")
	assert.True(t, ok)
	assert.Equal(t, uint64(3), span.position)
}

func TestCausationRing_RecordsExactCountNotJustStartingPosition(t *testing.T) {
	r := newCausationRing(4)
	r.record("abc", 5, 2)
	span, ok := r.lookup("abc")
	assert.True(t, ok)
	assert.Equal(t, uint64(5), span.position)
	assert.Equal(t, 2, span.count, "replay must be bounded to the original command's own events, not an open-ended read")
}
