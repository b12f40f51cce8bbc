// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wasmstream Contributors

// Package logging sets up wasmstreamd's structured logger: a
// log/slog handler chosen by format (text or json), wrapped so every
// record carries the active span's trace and span id when one is
// present in the logging call's context, plus an error-logging helper
// that unpacks a samber/oops error's code and context instead of just
// its message. Grounded on the teacher's pkg/errutil.LogError (the
// oops-aware logging helper) and internal/command/dispatcher.go's
// otel.Tracer/span usage, which this package's handler makes implicit
// for every log call instead of requiring each call site to read the
// span back out of the context by hand.
package logging

import (
	"context"
	"log/slog"
	"os"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel/trace"
)

// Setup builds the process-wide slog.Logger for level ("debug", "info",
// "warn", "error") and format ("text" or "json"), installs it as
// slog.Default, and returns it.
func Setup(level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var base slog.Handler
	switch format {
	case "json":
		base = slog.NewJSONHandler(os.Stdout, opts)
	default:
		base = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(WrapWithTrace(base))
	slog.SetDefault(logger)
	return logger
}

// WrapWithTrace wraps base so every record handled through it gains
// trace_id/span_id attributes whenever its context carries a valid
// span. Exposed separately from Setup so callers (and tests) can wrap
// an arbitrary handler, not just Setup's stdout handler.
func WrapWithTrace(base slog.Handler) slog.Handler {
	return &traceHandler{Handler: base}
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// traceHandler injects trace_id/span_id attributes from the record's
// context into every log line emitted while a span is active, so logs
// and traces correlate without every call site threading span
// attributes through by hand.
type traceHandler struct {
	slog.Handler
}

func (h *traceHandler) Handle(ctx context.Context, r slog.Record) error {
	if span := trace.SpanContextFromContext(ctx); span.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", span.TraceID().String()),
			slog.String("span_id", span.SpanID().String()),
		)
	}
	return h.Handler.Handle(ctx, r)
}

func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *traceHandler) WithGroup(name string) slog.Handler {
	return &traceHandler{Handler: h.Handler.WithGroup(name)}
}

// LogError logs err at Error level, unpacking a samber/oops error's
// taxonomy code and context fields rather than just its message.
// Mirrors the teacher's errutil.LogError.
func LogError(ctx context.Context, logger *slog.Logger, msg string, err error) {
	if oopsErr, ok := oops.AsOops(err); ok {
		attrs := []any{"error", oopsErr.Error()}
		if code := oopsErr.Code(); code != "" {
			attrs = append(attrs, "code", code)
		}
		if fields := oopsErr.Context(); len(fields) > 0 {
			attrs = append(attrs, "context", fields)
		}
		logger.ErrorContext(ctx, msg, attrs...)
		return
	}
	logger.ErrorContext(ctx, msg, "error", err)
}
