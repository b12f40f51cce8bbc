// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wasmstream Contributors

package registry

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/wasmstream/core/internal/core"
)

// GenerateSchema reflects a Go value into a JSON Schema document, for
// module authors who declare their command/event payload shape as a Go
// type instead of hand-writing JSON Schema, per SPEC_FULL.md §5's Module
// Entry schema field. Mirrors the teacher's GenerateSchema
// (internal/plugin/schema.go) applied to an arbitrary payload type
// instead of the fixed plugin Manifest type.
func GenerateSchema(v any) ([]byte, error) {
	r := jsonschema.Reflector{DoNotReference: true}
	schema := r.Reflect(v)
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal generated schema: %w", err)
	}
	return data, nil
}

// SchemaValidator compiles and caches the JSON Schema registered for
// each (category, version), validating command payloads against it
// before they reach the wasm sandbox (SPEC_FULL.md §5's defense-in-depth
// step). Grounded on the teacher's sync.Once-guarded compiled-schema
// cache (internal/plugin/schema.go's schemaState), generalized from one
// package-global schema to one compiled schema per published module
// version.
type SchemaValidator struct {
	mu       sync.RWMutex
	compiled map[string]*jschema.Schema
}

// NewSchemaValidator creates an empty validator cache.
func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{compiled: make(map[string]*jschema.Schema)}
}

func schemaKey(category, version string) string { return category + "@" + version }

// Register compiles schema and caches it under (category, version). A
// nil or empty schema clears any previously registered schema for that
// key, meaning payloads for that module version pass through
// unvalidated (schema is optional per spec.md §6).
func (v *SchemaValidator) Register(category, version string, schema []byte) error {
	key := schemaKey(category, version)

	if len(schema) == 0 {
		v.mu.Lock()
		delete(v.compiled, key)
		v.mu.Unlock()
		return nil
	}

	var schemaData any
	if err := json.Unmarshal(schema, &schemaData); err != nil {
		return fmt.Errorf("parse schema JSON: %w", err)
	}

	c := jschema.NewCompiler()
	if err := c.AddResource(key, schemaData); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile(key)
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	v.mu.Lock()
	v.compiled[key] = compiled
	v.mu.Unlock()
	return nil
}

// Validate checks payload (raw command/event JSON) against the schema
// registered for (category, version). No registered schema means no
// validation is performed — Validate returns nil.
func (v *SchemaValidator) Validate(category, version string, payload []byte) error {
	v.mu.RLock()
	sch, ok := v.compiled[schemaKey(category, version)]
	v.mu.RUnlock()
	if !ok {
		return nil
	}

	var payloadData any
	if err := json.Unmarshal(payload, &payloadData); err != nil {
		return core.InvalidInput("payload is not valid JSON: " + err.Error())
	}
	if err := sch.Validate(payloadData); err != nil {
		return core.DomainErr("SCHEMA_VALIDATION_FAILED", err.Error())
	}
	return nil
}
