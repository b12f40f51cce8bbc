// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wasmstream Contributors

// Package filterdsl implements the optional subscription filter
// expression language of spec.md §4.5 ("or a filterdsl expression via
// participle"): a small boolean grammar over an event's category and
// event_type, e.g. category == "Counter" && event_type like "Incr*".
// Grounded on the teacher's policy DSL
// (internal/access/policy/dsl/ast.go), which parses a considerably
// richer ABAC grammar with the same participle lexer/parser shape;
// this package keeps the lexer-rules-plus-tagged-struct technique and
// drops everything the event-filtering domain doesn't need (no
// attribute paths, no containsAll/containsAny, no if-then-else).
package filterdsl

import (
	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

var filterLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "String", Pattern: `"[^"]*"`},
	{Name: "OpAnd", Pattern: `&&`},
	{Name: "OpOr", Pattern: `\|\|`},
	{Name: "OpEq", Pattern: `==`},
	{Name: "Bang", Pattern: `!`},
	{Name: "Ident", Pattern: `[a-zA-Z_][a-zA-Z0-9_]*`},
	{Name: "Punct", Pattern: `[()]`},
	{Name: "whitespace", Pattern: `\s+`},
})

// Expression is the top-level disjunction of conjunctions.
//
// Grammar: expression = conjunction { "||" conjunction }
type Expression struct {
	Pos  lexer.Position `parser:""`
	Ands []*Conjunction `parser:"@@ (OpOr @@)*"`
}

// Conjunction is a chain of unary terms joined by &&.
//
// Grammar: conjunction = unary { "&&" unary }
type Conjunction struct {
	Pos    lexer.Position `parser:""`
	Unarys []*Unary       `parser:"@@ (OpAnd @@)*"`
}

// Unary is a negation, a parenthesized sub-expression, or a comparison.
type Unary struct {
	Pos        lexer.Position `parser:""`
	Negation   *Unary         `parser:"  Bang @@"`
	Sub        *Expression    `parser:"| '(' @@ ')'"`
	Comparison *Comparison    `parser:"| @@"`
}

// Comparison matches field op "literal", e.g. category == "Counter" or
// event_type like "Incr*". "like" compiles its literal as a
// gobwas/glob pattern; "==" is an exact match.
type Comparison struct {
	Pos   lexer.Position `parser:""`
	Field string         `parser:"@('category' | 'event_type')"`
	Op    string         `parser:"@(OpEq | 'like')"`
	Value string         `parser:"@String"`
}

// NewParser builds a participle parser for the filter grammar.
func NewParser() (*participle.Parser[Expression], error) {
	return participle.Build[Expression](
		participle.Lexer(filterLexer),
		participle.Unquote("String"),
	)
}
