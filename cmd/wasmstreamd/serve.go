// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wasmstream Contributors

package main

import (
	"context"
	cryptotls "crypto/tls"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/wasmstream/core/internal/actor"
	"github.com/wasmstream/core/internal/auth"
	"github.com/wasmstream/core/internal/config"
	"github.com/wasmstream/core/internal/control"
	"github.com/wasmstream/core/internal/gateway"
	"github.com/wasmstream/core/internal/hub"
	"github.com/wasmstream/core/internal/logging"
	"github.com/wasmstream/core/internal/observability"
	"github.com/wasmstream/core/internal/registry"
	"github.com/wasmstream/core/internal/rpcgrpc"
	"github.com/wasmstream/core/internal/store"
	"github.com/wasmstream/core/internal/supervisor"
	"github.com/wasmstream/core/internal/tls"
	"github.com/wasmstream/core/internal/wasm"
)

// NewServeCmd creates the serve subcommand, the process that runs every
// component wired together: C1 message store, C2 module host, C3/C4
// actor supervisor, C5 subscription hub, and C6 command gateway exposed
// over mTLS gRPC.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the wasmstreamd runtime",
		Long: `serve starts the message store, scans the modules directory
into the registry, and exposes the command gateway over mTLS gRPC until
a shutdown signal or a control-server /shutdown request arrives.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile, cmd.Flags())
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			return runServe(cmd.Context(), cfg, nil)
		},
	}

	config.RegisterFlags(cmd.Flags())

	return cmd
}

// runServe wires and runs every component with injectable deps; if deps
// is nil, default implementations are used. Returns when the context is
// canceled, a signal is received, or the control server's /shutdown
// callback fires.
func runServe(ctx context.Context, cfg *Config, deps *ServeDeps) error {
	if deps == nil {
		deps = &ServeDeps{}
	}
	if deps.MessageStoreFactory == nil {
		deps.MessageStoreFactory = defaultMessageStoreFactory
	}
	if deps.CursorRepositoryFactory == nil {
		deps.CursorRepositoryFactory = defaultCursorRepositoryFactory
	}
	if deps.TLSCertEnsurer == nil {
		deps.TLSCertEnsurer = ensureTLSCerts
	}
	if deps.ControlServerFactory == nil {
		deps.ControlServerFactory = func(component, addr string, shutdownFunc control.ShutdownFunc) ControlServer {
			return control.NewServer(component, addr, shutdownFunc)
		}
	}
	if deps.ObservabilityServerFactory == nil {
		deps.ObservabilityServerFactory = func(addr string, readiness observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, readiness)
		}
	}

	slog.SetDefault(logging.Setup(cfg.LogLevel, cfg.LogFormat))
	slog.Info("wasmstreamd starting",
		"version", version,
		"commit", commit,
		"grpc_addr", cfg.GRPCAddr,
	)

	// runCtx bounds every long-lived background loop wired below
	// (the hub's dispatch loop, the wasm/binary projection-sink
	// dispatchers); it is canceled either by a process signal or by
	// the control server's /shutdown callback, so both shutdown paths
	// stop every goroutine started against it.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	msgStore, err := deps.MessageStoreFactory(runCtx, cfg)
	if err != nil {
		return fmt.Errorf("open message store: %w", err)
	}
	defer func() {
		if closeErr := msgStore.Close(context.Background()); closeErr != nil {
			slog.Warn("error closing message store", "error", closeErr)
		}
	}()

	cursors, err := deps.CursorRepositoryFactory(runCtx, cfg)
	if err != nil {
		return fmt.Errorf("open cursor repository: %w", err)
	}

	modules := registry.NewFilesystemRegistry()
	if err := modules.ScanDir(runCtx, cfg.ModulesDir); err != nil {
		slog.Warn("modules directory scan failed, starting with an empty registry", "dir", cfg.ModulesDir, "error", err)
	}

	wasmHost := wasm.NewHost(runCtx)
	defer func() {
		if closeErr := wasmHost.Close(context.Background()); closeErr != nil {
			slog.Warn("error closing wasm host", "error", closeErr)
		}
	}()

	actorFactory := func(actorCtx context.Context, category, id string, wasmBytes []byte) (*actor.Actor, error) {
		return actor.New(actorCtx, category, id, wasmBytes, wasmHost, msgStore)
	}
	sup := supervisor.New(cfg.SupervisorCapacity, modules, actorFactory)

	subHub := hub.New(runCtx, msgStore, cursors)

	authn := auth.NewAuthenticator(auth.NewArgon2idHasher())
	bootstrapKey, err := authn.Issue("operator")
	if err != nil {
		return fmt.Errorf("issue bootstrap operator API key: %w", err)
	}
	slog.Info("bootstrap operator API key issued; present it as the Publish RPC's api_key for principal \"operator\"",
		"api_key", bootstrapKey)

	gw := gateway.New(sup, modules, subHub, authn)

	stopProjections := wireProjectionSinks(runCtx, cfg, subHub, msgStore)
	defer stopProjections()

	tlsConfig, err := deps.TLSCertEnsurer(cfg.CertsDir)
	if err != nil {
		return fmt.Errorf("set up TLS: %w", err)
	}

	rpcServer := rpcgrpc.New(cfg.GRPCAddr, tlsConfig)
	if err := rpcServer.Start(); err != nil {
		return fmt.Errorf("start gRPC server: %w", err)
	}
	slog.Info("gRPC gateway listening", "addr", rpcServer.Addr())

	controlServer := deps.ControlServerFactory("wasmstreamd", cfg.ControlAddr, func() { cancel() })
	if err := controlServer.Start(); err != nil {
		return fmt.Errorf("start control server: %w", err)
	}
	slog.Info("control server listening", "addr", controlServer.Addr())

	var obsServer ObservabilityServer
	if cfg.ObservabilityAddr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.ObservabilityAddr, func() bool { return true })
		if err := obsServer.Start(); err != nil {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if stopErr := controlServer.Stop(shutdownCtx); stopErr != nil {
				slog.Warn("error stopping control server during cleanup", "error", stopErr)
			}
			return fmt.Errorf("start observability server: %w", err)
		}
		slog.Info("observability server listening", "addr", obsServer.Addr())
	}

	// gw is the gateway's handle for every RPC wasmstreamd's gRPC
	// service would dispatch to; internal/rpcgrpc registers the
	// generated service stubs against it once codegen exists (see
	// DESIGN.md's rpcgrpc scoping decision). Keeping gw reachable here
	// (rather than discarding it once constructed) is what future
	// service registration binds to.
	_ = gw

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
	case <-runCtx.Done():
		slog.Info("context canceled, shutting down")
	}

	slog.Info("shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			slog.Warn("error stopping observability server", "error", err)
		}
	}
	if err := controlServer.Stop(shutdownCtx); err != nil {
		slog.Warn("error stopping control server", "error", err)
	}
	if err := rpcServer.Stop(shutdownCtx); err != nil {
		slog.Warn("error stopping gRPC server", "error", err)
	}
	if err := subHub.Shutdown(shutdownCtx); err != nil {
		slog.Warn("error stopping subscription hub", "error", err)
	}
	if err := sup.Shutdown(shutdownCtx); err != nil {
		slog.Warn("error stopping supervisor", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// defaultMessageStoreFactory opens a PostgresStore when cfg.DatabaseURL
// is set, or a MemoryStore otherwise — the same database-or-memory
// branch the teacher's runCoreWithDeps takes on *store.PostgresEventStore,
// generalized since wasmstreamd, unlike the teacher, supports running
// entirely in memory for local development and tests.
func defaultMessageStoreFactory(ctx context.Context, cfg *Config) (MessageStore, error) {
	if cfg.DatabaseURL == "" {
		slog.Info("no database_url configured, using in-memory message store")
		return store.NewMemoryStore(256), nil
	}
	return store.NewPostgresStore(ctx, cfg.DatabaseURL, 256)
}

// defaultCursorRepositoryFactory mirrors defaultMessageStoreFactory's
// storage choice for subscription cursors. A Postgres-backed message
// store always pairs with a Postgres-backed cursor repository so restart
// recovery for both lands in the same database.
func defaultCursorRepositoryFactory(ctx context.Context, cfg *Config) (store.CursorRepository, error) {
	if cfg.DatabaseURL == "" {
		return store.NewMemoryCursorRepository(), nil
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect cursor repository pool: %w", err)
	}
	return store.NewPostgresCursorRepository(pool), nil
}

// ensureTLSCerts generates a self-signed CA and a "gateway" server
// certificate on first run, or loads previously generated material on
// subsequent runs, mirroring the teacher's ensureTLSCerts in
// cmd/holomush/core.go almost exactly, minus the XDG directory
// resolution (cfg.CertsDir already names the directory).
func ensureTLSCerts(certsDir string) (*cryptotls.Config, error) {
	certPath := certsDir + "/gateway.crt"
	keyPath := certsDir + "/gateway.key"
	caPath := certsDir + "/root-ca.crt"

	if fileExists(certPath) || fileExists(keyPath) || fileExists(caPath) {
		return tls.ServerConfig(certsDir, "gateway")
	}

	slog.Info("generating TLS certificates", "certs_dir", certsDir)

	ca, err := tls.GenerateCA("wasmstreamd")
	if err != nil {
		return nil, fmt.Errorf("generate CA: %w", err)
	}
	serverCert, err := tls.GenerateServerCert(ca, "gateway")
	if err != nil {
		return nil, fmt.Errorf("generate server certificate: %w", err)
	}
	if err := tls.SaveCertificates(certsDir, ca, serverCert); err != nil {
		return nil, fmt.Errorf("save certificates: %w", err)
	}

	slog.Info("TLS certificates generated")
	return tls.ServerConfig(certsDir, "gateway")
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil || !os.IsNotExist(err)
}
