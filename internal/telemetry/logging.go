package telemetry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

type logAttrsKey struct{}

// NewLogger returns a JSON logger on stdout that stamps every record with the
// active trace and span ids plus any attributes carried by the context.
func NewLogger(level slog.Level, attrs ...slog.Attr) *slog.Logger {
	return newLogger(os.Stdout, level, attrs...)
}

func newLogger(w io.Writer, level slog.Level, attrs ...slog.Attr) *slog.Logger {
	base := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(&contextHandler{base: base.WithAttrs(attrs)})
}

// ParseLevel accepts debug, info, warn or error in any case.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("parse log level %q: %w", s, err)
	}
	return level, nil
}

// WithLogAttrs returns a context whose log records carry attrs in addition to
// the ones already attached.
func WithLogAttrs(ctx context.Context, attrs ...slog.Attr) context.Context {
	if len(attrs) == 0 {
		return ctx
	}
	existing := logAttrs(ctx)
	merged := make([]slog.Attr, 0, len(existing)+len(attrs))
	merged = append(merged, existing...)
	merged = append(merged, attrs...)
	return context.WithValue(ctx, logAttrsKey{}, merged)
}

func logAttrs(ctx context.Context) []slog.Attr {
	attrs, _ := ctx.Value(logAttrsKey{}).([]slog.Attr)
	return attrs
}

// contextHandler adds context attributes at the top level of the record,
// outside any group opened with WithGroup. Attributes and groups added after
// the first group are replayed in order on each record.
type contextHandler struct {
	base  slog.Handler
	scope []func(slog.Handler) slog.Handler
}

func (h *contextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	var top []slog.Attr
	if traceID := TraceID(ctx); traceID != "" {
		top = append(top, slog.String("trace_id", traceID))
	}
	if spanID := SpanID(ctx); spanID != "" {
		top = append(top, slog.String("span_id", spanID))
	}
	top = append(top, logAttrs(ctx)...)

	handler := h.base
	if len(top) > 0 {
		handler = handler.WithAttrs(top)
	}
	for _, apply := range h.scope {
		handler = apply(handler)
	}

	return handler.Handle(ctx, r)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(h.scope) == 0 {
		return &contextHandler{base: h.base.WithAttrs(attrs)}
	}
	return h.with(func(next slog.Handler) slog.Handler { return next.WithAttrs(attrs) })
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return h.with(func(next slog.Handler) slog.Handler { return next.WithGroup(name) })
}

func (h *contextHandler) with(apply func(slog.Handler) slog.Handler) *contextHandler {
	scope := make([]func(slog.Handler) slog.Handler, 0, len(h.scope)+1)
	scope = append(scope, h.scope...)
	scope = append(scope, apply)
	return &contextHandler{base: h.base, scope: scope}
}
