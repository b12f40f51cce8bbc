// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wasmstream Contributors

package wasm

import (
	"errors"
	"fmt"

	"github.com/wasmstream/core/internal/core"
)

// ErrHostClosed is returned when an operation is attempted on a closed Host.
var ErrHostClosed = errors.New("module host is closed")

// ErrFunctionNotFound is returned when a module is missing a required
// export (alloc, new, apply, or handle).
var ErrFunctionNotFound = errors.New("module export not found")

// asError turns an envelope's error arm into a Go error using wasmstream's
// taxonomy: a domain rejection survives verbatim as a DomainError so the
// gateway can return it to the caller unchanged; anything else is a
// sandbox-internal failure and becomes an InternalError.
func asError(operation string, me *moduleError) error {
	if me == nil {
		return nil
	}
	switch me.Kind {
	case errorKindDomain:
		return core.DomainErr(me.Code, me.Message)
	case errorKindDeserialize, errorKindSerialize, errorKindLoad:
		return core.Internal(operation, fmt.Errorf("%s: %s", me.Kind, me.Message))
	default:
		return core.Internal(operation, fmt.Errorf("unknown module error kind %q: %s", me.Kind, me.Message))
	}
}
