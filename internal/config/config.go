// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wasmstream Contributors

// Package config implements wasmstreamd's layered configuration:
// built-in defaults, overridden by an optional YAML file, overridden
// by environment variables, overridden by command-line flags.
// Grounded on the teacher's per-command config-struct-with-Validate
// pattern (cmd/holomush/core.go's coreConfig, gateway.go's
// gatewayConfig — each a plain struct populated from cobra flags and
// checked by a Validate method) generalized to one shared Config
// loaded through knadh/koanf, since the teacher itself declares koanf
// as a dependency (and a root `--config` flag) but never wires the
// layered load it implies — the "config file support in later phase"
// comment on cmd/holomush/seed.go and migrate.go is left unfinished.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// envPrefix is stripped (and the remainder lowercased) from every
// environment variable koanf considers during Load's env layer.
const envPrefix = "WASMSTREAM_"

// Config is wasmstreamd's full runtime configuration, covering every
// component cmd/wasmstreamd wires: the data/modules directories C1 and
// the module registry scan at startup, the Supervisor's LRU capacity,
// the gRPC/control/observability listen addresses and mTLS cert
// directory, and logging.
type Config struct {
	DataDir    string `koanf:"data_dir"`
	ModulesDir string `koanf:"modules_dir"`
	CertsDir   string `koanf:"certs_dir"`

	DatabaseURL string `koanf:"database_url"`

	GRPCAddr          string `koanf:"grpc_addr"`
	ControlAddr       string `koanf:"control_addr"`
	ObservabilityAddr string `koanf:"observability_addr"`

	SupervisorCapacity int           `koanf:"supervisor_capacity"`
	CommandTimeout     time.Duration `koanf:"command_timeout"`

	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"`
}

// defaults returns the built-in values every field starts from, the
// bottom layer of the load order.
func defaults() map[string]any {
	return map[string]any{
		"data_dir":            "./data",
		"modules_dir":         "./modules",
		"certs_dir":           "./certs",
		"database_url":        "",
		"grpc_addr":           "127.0.0.1:7700",
		"control_addr":        "127.0.0.1:7701",
		"observability_addr":  "127.0.0.1:7702",
		"supervisor_capacity": 4096,
		"command_timeout":     "30s",
		"log_level":           "info",
		"log_format":          "text",
	}
}

// Load builds a Config by layering, in increasing priority: built-in
// defaults, the YAML file at path (skipped if path is empty),
// WASMSTREAM_-prefixed environment variables, and flags (skipped if
// nil). The result is validated before being returned.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load default configuration: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load configuration file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment configuration: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return nil, fmt.Errorf("load flag configuration: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that cfg's fields are usable, mirroring the
// teacher's per-command Validate methods.
func (cfg *Config) Validate() error {
	if cfg.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if cfg.ModulesDir == "" {
		return fmt.Errorf("modules_dir must not be empty")
	}
	if cfg.GRPCAddr == "" {
		return fmt.Errorf("grpc_addr must not be empty")
	}
	if cfg.SupervisorCapacity <= 0 {
		return fmt.Errorf("supervisor_capacity must be positive, got %d", cfg.SupervisorCapacity)
	}
	if cfg.CommandTimeout <= 0 {
		return fmt.Errorf("command_timeout must be positive, got %s", cfg.CommandTimeout)
	}
	switch cfg.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be %q or %q, got %q", "text", "json", cfg.LogFormat)
	}
	return nil
}

// RegisterFlags binds Config's fields to flags at their default
// values, so posflag.Provider can layer CLI overrides on top of the
// file/env layers. cmd/wasmstreamd's serve command calls this on its
// flag set before parsing.
func RegisterFlags(flags *pflag.FlagSet) {
	// Flag names match Config's koanf tags exactly (rather than the
	// usual dash-case) so posflag.Provider's keys land on the same
	// field the file/env layers populate, with no translation step.
	d := defaults()
	flags.String("data_dir", d["data_dir"].(string), "runtime data directory")
	flags.String("modules_dir", d["modules_dir"].(string), "directory scanned for wasm modules at startup")
	flags.String("certs_dir", d["certs_dir"].(string), "mTLS certificate directory")
	flags.String("database_url", d["database_url"].(string), "Postgres connection string (empty selects the in-memory store)")
	flags.String("grpc_addr", d["grpc_addr"].(string), "gRPC gateway listen address")
	flags.String("control_addr", d["control_addr"].(string), "control-plane listen address")
	flags.String("observability_addr", d["observability_addr"].(string), "metrics/health listen address")
	flags.Int("supervisor_capacity", d["supervisor_capacity"].(int), "maximum live actors held by the Supervisor")
	flags.Duration("command_timeout", 30*time.Second, "per-command execution deadline")
	flags.String("log_level", d["log_level"].(string), "log level (debug, info, warn, error)")
	flags.String("log_format", d["log_format"].(string), "log format (text, json)")
}
