// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wasmstream Contributors

package filterdsl

import (
	"fmt"

	"github.com/gobwas/glob"

	"github.com/wasmstream/core/internal/core"
)

// Compile parses expr and returns a matcher function over core.Event.
// Returned as a plain func type (not a named one) so callers in other
// packages can assign it directly to their own named matcher type.
func Compile(expr string) (func(core.Event) bool, error) {
	parser, err := NewParser()
	if err != nil {
		return nil, fmt.Errorf("build filter parser: %w", err)
	}
	ast, err := parser.ParseString("", expr)
	if err != nil {
		return nil, fmt.Errorf("parse filter expression: %w", err)
	}
	return compileExpression(ast)
}

func compileExpression(e *Expression) (func(core.Event) bool, error) {
	matchers := make([]func(core.Event) bool, len(e.Ands))
	for i, conj := range e.Ands {
		m, err := compileConjunction(conj)
		if err != nil {
			return nil, err
		}
		matchers[i] = m
	}
	return func(ev core.Event) bool {
		for _, m := range matchers {
			if m(ev) {
				return true
			}
		}
		return false
	}, nil
}

func compileConjunction(c *Conjunction) (func(core.Event) bool, error) {
	matchers := make([]func(core.Event) bool, len(c.Unarys))
	for i, u := range c.Unarys {
		m, err := compileUnary(u)
		if err != nil {
			return nil, err
		}
		matchers[i] = m
	}
	return func(ev core.Event) bool {
		for _, m := range matchers {
			if !m(ev) {
				return false
			}
		}
		return true
	}, nil
}

func compileUnary(u *Unary) (func(core.Event) bool, error) {
	switch {
	case u.Negation != nil:
		inner, err := compileUnary(u.Negation)
		if err != nil {
			return nil, err
		}
		return func(ev core.Event) bool { return !inner(ev) }, nil
	case u.Sub != nil:
		return compileExpression(u.Sub)
	case u.Comparison != nil:
		return compileComparison(u.Comparison)
	default:
		return nil, fmt.Errorf("empty unary node")
	}
}

func compileComparison(c *Comparison) (func(core.Event) bool, error) {
	field := func(ev core.Event) string {
		if c.Field == "event_type" {
			return ev.EventType
		}
		category, _, ok := core.ParseStream(ev.StreamName)
		if !ok {
			return ""
		}
		return category
	}

	switch c.Op {
	case "==":
		want := c.Value
		return func(ev core.Event) bool { return field(ev) == want }, nil
	case "like":
		g, err := glob.Compile(c.Value)
		if err != nil {
			return nil, fmt.Errorf("compile glob %q: %w", c.Value, err)
		}
		return func(ev core.Event) bool { return g.Match(field(ev)) }, nil
	default:
		return nil, fmt.Errorf("unknown comparison operator %q", c.Op)
	}
}
