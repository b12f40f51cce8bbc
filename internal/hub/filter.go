// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wasmstream Contributors

package hub

import (
	"fmt"

	"github.com/gobwas/glob"

	"github.com/wasmstream/core/internal/core"
)

// Matcher reports whether an event should be delivered to a
// subscriber. A nil Matcher (or one built from no filters) matches
// everything, mirroring spec.md §4.5's "empty means all".
type Matcher func(core.Event) bool

// Filter is one (category, event_type) term of spec.md §4.5's filter
// list; either side may be a glob pattern, or empty to match any value
// for that side.
type Filter struct {
	Category  string
	EventType string
}

// CompileFilters builds a Matcher that matches an event against any of
// filters (logical OR, per spec.md §4.5), compiling each side's glob
// pattern once up front rather than per event.
func CompileFilters(filters []Filter) (Matcher, error) {
	if len(filters) == 0 {
		return func(core.Event) bool { return true }, nil
	}

	type compiled struct {
		category  glob.Glob
		eventType glob.Glob
	}
	compiledFilters := make([]compiled, len(filters))
	for i, f := range filters {
		var c compiled
		if f.Category != "" {
			g, err := glob.Compile(f.Category)
			if err != nil {
				return nil, fmt.Errorf("compile category filter %q: %w", f.Category, err)
			}
			c.category = g
		}
		if f.EventType != "" {
			g, err := glob.Compile(f.EventType)
			if err != nil {
				return nil, fmt.Errorf("compile event_type filter %q: %w", f.EventType, err)
			}
			c.eventType = g
		}
		compiledFilters[i] = c
	}

	return func(ev core.Event) bool {
		category, _, _ := core.ParseStream(ev.StreamName)
		for _, c := range compiledFilters {
			if c.category != nil && !c.category.Match(category) {
				continue
			}
			if c.eventType != nil && !c.eventType.Match(ev.EventType) {
				continue
			}
			return true
		}
		return false
	}, nil
}
