// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wasmstream Contributors

//go:build integration

// Package integration exercises wasmstream's six end-to-end scenarios
// (spec §8) against the full component graph — store, wasm host,
// supervisor, hub, registry, gateway — wired exactly as cmd/wasmstreamd
// wires them, minus the network: every RPC in these tests is a direct
// Go call through the gateway.Gateway API an mTLS client would
// otherwise reach over gRPC.
package integration_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"go.uber.org/goleak"
)

func TestRuntime(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Runtime Integration Suite")
}

var _ = AfterSuite(func() {
	goleak.VerifyNone(GinkgoT())
})
