// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wasmstream Contributors

// Package registry implements the module registry: the Module Entry
// (category, version, wasm bytes, schema) lifecycle spec.md §3 and §6
// describe, scoped per SPEC_FULL.md §8 to the minimal filesystem-backed
// implementation needed to make Publish/Execute/startup scanning work
// end-to-end — the registry's durable byte-blob storage layer proper
// remains a Non-goal collaborator.
package registry

import (
	"fmt"
	"regexp"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// categoryPattern accepts an ASCII letter followed by ASCII letters and
// digits, in either case. It admits no "-", the same exclusion
// Identity.Validate already enforces on the stream-name side.
var categoryPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9]*$`)

// Manifest is the module.yaml accompanying a published wasm module,
// naming the category it implements, its semver version, and an
// optional path to the JSON Schema validating its command payloads.
// Grounded on the teacher's plugin.yaml Manifest
// (internal/plugin/manifest.go), trimmed of the Lua/binary runtime
// selector since a wasmstream module has exactly one runtime shape.
type Manifest struct {
	Category   string `yaml:"category" json:"category" jsonschema:"required,minLength=1"`
	Version    string `yaml:"version" json:"version" jsonschema:"required,minLength=1"`
	SchemaPath string `yaml:"schema,omitempty" json:"schema,omitempty"`
}

// ParseManifest parses and validates a module.yaml document.
func ParseManifest(data []byte) (*Manifest, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("manifest data is empty")
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks manifest constraints: a non-hyphenated category name
// and a strict semver version, mirroring the teacher's name-pattern and
// semver.StrictNewVersion checks.
func (m *Manifest) Validate() error {
	if m.Category == "" || !categoryPattern.MatchString(m.Category) {
		return fmt.Errorf("category %q must start with a letter and contain only letters and digits", m.Category)
	}
	if m.Version == "" {
		return fmt.Errorf("version is required")
	}
	if _, err := semver.StrictNewVersion(m.Version); err != nil {
		return fmt.Errorf("version %q must be valid semver (e.g., 1.0.0): %w", m.Version, err)
	}
	return nil
}
