// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wasmstream Contributors

package control_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wasmstream/core/internal/control"
)

func TestServer_HealthReportsHealthy(t *testing.T) {
	srv := control.NewServer("gateway", "127.0.0.1:0", nil)
	require.NoError(t, srv.Start())
	defer stop(t, srv)

	resp, err := http.Get("http://" + srv.Addr() + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health control.HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "healthy", health.Status)
}

func TestServer_StatusReportsRunningAndComponent(t *testing.T) {
	srv := control.NewServer("supervisor", "127.0.0.1:0", nil)
	require.NoError(t, srv.Start())
	defer stop(t, srv)

	resp, err := http.Get("http://" + srv.Addr() + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	var status control.StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.True(t, status.Running)
	assert.Equal(t, "supervisor", status.Component)
	assert.Positive(t, status.PID)
}

func TestServer_ShutdownInvokesCallbackAsync(t *testing.T) {
	called := make(chan struct{})
	srv := control.NewServer("gateway", "127.0.0.1:0", func() { close(called) })
	require.NoError(t, srv.Start())
	defer stop(t, srv)

	resp, err := http.Post("http://"+srv.Addr()+"/shutdown", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown callback was not invoked")
	}
}

func stop(t *testing.T, srv *control.Server) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))
}
