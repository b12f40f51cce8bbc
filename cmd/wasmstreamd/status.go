// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wasmstream Contributors

package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/wasmstream/core/internal/config"
	"github.com/wasmstream/core/internal/control"
)

// ProcessStatus holds the status information for wasmstreamd as queried
// from its control server, mirroring the teacher's ProcessStatus shape.
type ProcessStatus struct {
	Running       bool   `json:"running"`
	Health        string `json:"health,omitempty"`
	PID           int    `json:"pid,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds,omitempty"`
	Error         string `json:"error,omitempty"`
}

// NewStatusCmd creates the status subcommand.
func NewStatusCmd() *cobra.Command {
	var jsonOutput bool
	var controlAddr string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status of a running wasmstreamd process",
		Long:  `Query wasmstreamd's control server and report whether it is running and healthy.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, controlAddr, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output status as JSON")
	cmd.Flags().StringVar(&controlAddr, "control_addr", "", "control server address (default: config default)")

	return cmd
}

func runStatus(cmd *cobra.Command, controlAddr string, jsonOutput bool) error {
	if controlAddr == "" {
		cfg, err := config.Load("", nil)
		if err != nil {
			return fmt.Errorf("load default configuration: %w", err)
		}
		controlAddr = cfg.ControlAddr
	}

	status := queryProcessStatus(controlAddr)

	if jsonOutput {
		data, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal status: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	cmd.Println(formatStatusTable(status))
	return nil
}

func queryProcessStatus(controlAddr string) ProcessStatus {
	var status ProcessStatus

	client := &http.Client{Timeout: 2 * time.Second}

	healthResp, err := client.Get("http://" + controlAddr + "/health")
	if err != nil {
		status.Error = fmt.Sprintf("failed to connect: %v", err)
		return status
	}
	defer func() { _ = healthResp.Body.Close() }()

	var health control.HealthResponse
	if err := json.NewDecoder(healthResp.Body).Decode(&health); err != nil {
		status.Error = fmt.Sprintf("failed to decode health response: %v", err)
		return status
	}

	statusResp, err := client.Get("http://" + controlAddr + "/status")
	if err != nil {
		status.Running = true
		status.Health = health.Status
		return status
	}
	defer func() { _ = statusResp.Body.Close() }()

	var controlStatus control.StatusResponse
	if err := json.NewDecoder(statusResp.Body).Decode(&controlStatus); err != nil {
		status.Running = true
		status.Health = health.Status
		return status
	}

	status.Running = controlStatus.Running
	status.Health = health.Status
	status.PID = controlStatus.PID
	status.UptimeSeconds = controlStatus.UptimeSeconds
	return status
}

func formatStatusTable(status ProcessStatus) string {
	var buf []byte
	w := tabwriter.NewWriter((*byteWriter)(&buf), 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintln(w, "PROCESS\tSTATUS\tHEALTH\tPID\tUPTIME")
	_, _ = fmt.Fprintln(w, "-------\t------\t------\t---\t------")

	if status.Running {
		_, _ = fmt.Fprintf(w, "wasmstreamd\trunning\t%s\t%d\t%s\n",
			status.Health, status.PID, formatUptime(status.UptimeSeconds))
	} else {
		reason := "not running"
		if status.Error != "" {
			reason = status.Error
		}
		_, _ = fmt.Fprintf(w, "wasmstreamd\tstopped\t-\t-\t%s\n", reason)
	}

	_ = w.Flush()
	return string(buf)
}

func formatUptime(seconds int64) string {
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}
	if seconds < 3600 {
		return fmt.Sprintf("%dm %ds", seconds/60, seconds%60)
	}
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	return fmt.Sprintf("%dh %dm", hours, minutes)
}

// byteWriter is a simple writer that appends to a byte slice.
type byteWriter []byte

func (w *byteWriter) Write(p []byte) (int, error) {
	*w = append(*w, p...)
	return len(p), nil
}
