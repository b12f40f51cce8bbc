// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wasmstream Contributors

package logging_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/wasmstream/core/internal/core"
	"github.com/wasmstream/core/internal/logging"
)

func TestSetup_JSONFormatProducesParsableLines(t *testing.T) {
	logger := logging.Setup("info", "json")
	require.NotNil(t, logger)
}

func TestLogError_UnpacksOopsCodeAndContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	err := core.DomainErr("NEGATIVE_COUNT", "count cannot go negative")
	logging.LogError(context.Background(), logger, "command rejected", err)

	out := buf.String()
	assert.Contains(t, out, "NEGATIVE_COUNT")
	assert.Contains(t, out, "count cannot go negative")
}

func TestLogError_PlainErrorLogsMessage(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	logging.LogError(context.Background(), logger, "boom", assertErr{})

	assert.Contains(t, buf.String(), "boom")
}

func TestWrapWithTrace_InjectsSpanAttributesWhenPresent(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(logging.WrapWithTrace(slog.NewJSONHandler(&buf, nil)))

	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    [16]byte{1},
		SpanID:     [8]byte{1},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), spanCtx)

	logger.InfoContext(ctx, "command executed")

	out := buf.String()
	assert.Contains(t, out, "trace_id")
	assert.Contains(t, out, "span_id")
}

func TestWrapWithTrace_NoSpanOmitsAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(logging.WrapWithTrace(slog.NewJSONHandler(&buf, nil)))

	logger.InfoContext(context.Background(), "no span here")

	assert.NotContains(t, buf.String(), "trace_id")
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
