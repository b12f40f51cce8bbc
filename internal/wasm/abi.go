// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wasmstream Contributors

package wasm

// ApplyEvent is the wire shape `apply` expects for each previously
// persisted event it is asked to fold into aggregate state.
type ApplyEvent struct {
	EventType string `json:"event_type"`
	Payload   string `json:"payload"`
}

// HandleCommand is the wire shape `handle` expects.
type HandleCommand struct {
	Name    string `json:"name"`
	Payload string `json:"payload"`
	Context string `json:"context"`
}

// EmittedEvent is one event a module produced from a successful `handle`
// call, before the host assigns it a stream sequence and global id.
type EmittedEvent struct {
	EventType string `json:"event_type"`
	Payload   string `json:"payload"`
}

// moduleError is the `error` arm of the envelope every `apply`/`handle`
// call returns. kind discriminates a domain rejection (returned verbatim
// to the caller) from a sandbox-internal failure (deserialize/serialize/
// load), which the host logs and surfaces as an internal error instead.
type moduleError struct {
	Kind    string `json:"kind"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	errorKindDomain      = "domain"
	errorKindDeserialize = "deserialize"
	errorKindSerialize   = "serialize"
	errorKindLoad        = "load"
)

// envelope is the JSON document a module's `apply`/`handle` export
// writes back into its own linear memory, modeled on extism_host.go's
// plugin.Response shape but carried over wazero's raw ptr/len ABI
// instead of Extism's managed call convention.
type envelope struct {
	OK     bool           `json:"ok"`
	Events []EmittedEvent `json:"events,omitempty"`
	Error  *moduleError   `json:"error,omitempty"`
}

// handleRequest is the JSON body written into the module's memory before
// calling its `handle` export.
type handleRequest struct {
	Command HandleCommand `json:"command"`
}

// applyRequest is the JSON body written into the module's memory before
// calling its `apply` export.
type applyRequest struct {
	Events []ApplyEvent `json:"events"`
}
