// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wasmstream Contributors

package main

import (
	"context"
	cryptotls "crypto/tls"

	"github.com/wasmstream/core/internal/config"
	"github.com/wasmstream/core/internal/control"
	"github.com/wasmstream/core/internal/observability"
	"github.com/wasmstream/core/internal/store"
)

// Config aliases the runtime configuration type so this package's
// signatures read naturally without every file importing internal/config
// directly.
type Config = config.Config

// ServeDeps contains injectable dependencies for the serve command. All
// nil fields use their default implementations; tests override the
// factories that would otherwise dial a real database or bind a real
// listener, mirroring the teacher's CoreDeps/GatewayDeps split applied
// to wasmstreamd's single long-running process.
type ServeDeps struct {
	// MessageStoreFactory opens the durable event log. Default:
	// store.NewPostgresStore when Config.DatabaseURL is set,
	// store.NewMemoryStore otherwise.
	MessageStoreFactory func(ctx context.Context, cfg *Config) (MessageStore, error)

	// CursorRepositoryFactory opens the subscription-cursor store.
	// Default mirrors MessageStoreFactory's storage choice.
	CursorRepositoryFactory func(ctx context.Context, cfg *Config) (store.CursorRepository, error)

	// TLSCertEnsurer generates or loads the mTLS certificate material
	// the gRPC and control listeners authenticate with. Default:
	// ensureTLSCerts.
	TLSCertEnsurer func(certsDir string) (*cryptotls.Config, error)

	// ControlServerFactory creates the process-management server.
	// Default: control.NewServer.
	ControlServerFactory func(component, addr string, shutdownFunc control.ShutdownFunc) ControlServer

	// ObservabilityServerFactory creates the metrics/health server.
	// Default: observability.NewServer.
	ObservabilityServerFactory func(addr string, readiness observability.ReadinessChecker) ObservabilityServer
}

// MessageStore is store.MessageStore itself (Close included), aliased
// here so tests can substitute any store.MessageStore without an
// adapter.
type MessageStore = store.MessageStore

// ControlServer wraps the methods used from *control.Server.
type ControlServer interface {
	Start() error
	Stop(ctx context.Context) error
	Addr() string
}

// ObservabilityServer wraps the methods used from *observability.Server.
type ObservabilityServer interface {
	Start() error
	Stop(ctx context.Context) error
	Addr() string
}
