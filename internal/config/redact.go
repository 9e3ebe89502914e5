package config

import (
	"context"
	"log/slog"
	"strings"
)

// Keys (or key suffixes) whose values never appear in logs.
var sensitiveKeys = []string{
	"api_key", "apikey", "token", "password", "secret", "dsn", "authorization",
}

const redacted = "[REDACTED]"

// Redact blanks the value when the key is sensitive. Empty values pass
// through so logs can show which credentials are unset.
func Redact(key, value string) string {
	if value == "" {
		return ""
	}
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return redacted
		}
	}
	return value
}

// RedactingHandler wraps a slog.Handler and redacts sensitive attribute
// values, groups included, before they reach the underlying handler.
type RedactingHandler struct {
	inner slog.Handler
}

// NewRedactingHandler wraps h.
func NewRedactingHandler(h slog.Handler) *RedactingHandler {
	return &RedactingHandler{inner: h}
}

func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *RedactingHandler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(redactAttr(a))
		return true
	})
	return h.inner.Handle(ctx, out)
}

func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	red := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		red[i] = redactAttr(a)
	}
	return &RedactingHandler{inner: h.inner.WithAttrs(red)}
}

func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{inner: h.inner.WithGroup(name)}
}

func redactAttr(a slog.Attr) slog.Attr {
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindGroup:
		group := v.Group()
		red := make([]slog.Attr, len(group))
		for i, g := range group {
			red[i] = redactAttr(g)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(red...)}
	case slog.KindString:
		return slog.String(a.Key, Redact(a.Key, v.String()))
	default:
		return slog.Attr{Key: a.Key, Value: v}
	}
}
