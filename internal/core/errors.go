// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wasmstream Contributors

package core

import (
	"github.com/samber/oops"
)

// Error taxonomy codes, per spec §7.
const (
	CodeDomainError = "DOMAIN_ERROR"
	CodeConflict    = "CONFLICT"
	CodeNotFound    = "NOT_FOUND"
	CodeInvalidArg  = "INVALID_INPUT"
	CodeInternal    = "INTERNAL"
)

// DomainErr creates a user-authored invariant violation. It is returned to
// the caller verbatim and never poisons an actor.
func DomainErr(code, message string) error {
	return oops.Code(CodeDomainError).
		With("domain_code", code).
		Errorf("%s", message)
}

// Conflict creates an optimistic-concurrency write mismatch. Internal only;
// the actor rehydrates and retries once before surfacing InternalError.
func Conflict(stream string, currentSequence uint64) error {
	return oops.Code(CodeConflict).
		With("stream_name", stream).
		With("current_sequence", currentSequence).
		Errorf("append conflict on stream %s at sequence %d", stream, currentSequence)
}

// NotFound creates a not-found error (unknown category, unknown subscription).
func NotFound(what, name string) error {
	return oops.Code(CodeNotFound).
		With("what", what).
		With("name", name).
		Errorf("%s not found: %s", what, name)
}

// InvalidInput creates a malformed-request error.
func InvalidInput(message string) error {
	return oops.Code(CodeInvalidArg).Errorf("%s", message)
}

// Internal wraps a system fault (I/O failure, wasm trap, serialization
// failure, repeated conflict) for opaque surfacing across the RPC edge.
// The original error is preserved in the oops chain for logging but must
// never be relayed to the caller verbatim.
func Internal(operation string, cause error) error {
	return oops.Code(CodeInternal).
		With("operation", operation).
		Wrap(cause)
}

// Code returns the taxonomy code attached to err, or "" if err was not
// built with this package's constructors.
func Code(err error) string {
	oc, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	return oc.Code()
}

// IsDomainError reports whether err is a DomainErr.
func IsDomainError(err error) bool { return Code(err) == CodeDomainError }

// IsConflict reports whether err is a Conflict.
func IsConflict(err error) bool { return Code(err) == CodeConflict }

// IsNotFound reports whether err is a NotFound.
func IsNotFound(err error) bool { return Code(err) == CodeNotFound }

// IsInvalidInput reports whether err is an InvalidInput.
func IsInvalidInput(err error) bool { return Code(err) == CodeInvalidArg }
