// Package obslog wires the process's default slog logger so the
// evaluation pipeline can attach assertion/monitor/run scoped fields to
// every log record without threading a *slog.Logger through each call.
//
// Usage in cmd/monitorsd:
//
//	base := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
//	slog.SetDefault(slog.New(obslog.NewContextHandler(base)))
package obslog

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	assertionURNKey ctxKey = iota
	monitorURNKey
	runIDKey
)

// WithAssertionURN returns a context that will tag every log record made
// through it with the given assertion urn.
func WithAssertionURN(ctx context.Context, urn string) context.Context {
	return context.WithValue(ctx, assertionURNKey, urn)
}

// WithMonitorURN returns a context that will tag every log record made
// through it with the given monitor urn.
func WithMonitorURN(ctx context.Context, urn string) context.Context {
	return context.WithValue(ctx, monitorURNKey, urn)
}

// WithRunID returns a context that will tag every log record made through
// it with the given run id.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// ContextHandler is an slog.Handler that enriches records with values
// attached to the context via With*, so callers can use
// slog.InfoContext/ErrorContext and get the scoping fields for free.
type ContextHandler struct {
	inner slog.Handler
}

// NewContextHandler wraps the given handler.
func NewContextHandler(inner slog.Handler) *ContextHandler {
	return &ContextHandler{inner: inner}
}

// Enabled delegates to the inner handler.
func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enriches the record with context values before delegating.
func (h *ContextHandler) Handle(ctx context.Context, record slog.Record) error {
	if urn, ok := ctx.Value(assertionURNKey).(string); ok && urn != "" {
		record.AddAttrs(slog.String("assertion_urn", urn))
	}
	if urn, ok := ctx.Value(monitorURNKey).(string); ok && urn != "" {
		record.AddAttrs(slog.String("monitor_urn", urn))
	}
	if runID, ok := ctx.Value(runIDKey).(string); ok && runID != "" {
		record.AddAttrs(slog.String("run_id", runID))
	}
	return h.inner.Handle(ctx, record)
}

// WithAttrs returns a new ContextHandler wrapping the inner handler with
// additional attributes.
func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{inner: h.inner.WithAttrs(attrs)}
}

// WithGroup returns a new ContextHandler wrapping the inner handler with a
// group prefix.
func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{inner: h.inner.WithGroup(name)}
}
