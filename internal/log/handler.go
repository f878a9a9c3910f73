// Package log builds the process-wide slog logger: a lmittmann/tint
// colorized handler for local development, wrapped in a ContextHandler
// that enriches every record with the request_id carried on its context.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"

	"github.com/schedulezero/schedulezero/internal/requestid"
)

// ContextHandler wraps an slog.Handler and enriches each record with
// request_id from the record's context, if present.
type ContextHandler struct {
	inner slog.Handler
}

func NewContextHandler(inner slog.Handler) *ContextHandler {
	return &ContextHandler{inner: inner}
}

func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if id := requestid.FromContext(ctx); id != "" {
		r.AddAttrs(slog.String("request_id", id))
	}
	return h.inner.Handle(ctx, r)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{inner: h.inner.WithGroup(name)}
}

// New builds the process-wide logger. pretty selects the tint
// (human-colorized) handler for local development; when false it uses
// tint's plain-text-no-color mode, since the corpus carries no JSON
// handler dependency beyond slog's own (which tint wraps, not replaces).
func New(level slog.Level, pretty bool, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	handler := tint.NewHandler(w, &tint.Options{
		Level:      level,
		NoColor:    !pretty,
		TimeFormat: "15:04:05.000",
	})
	return slog.New(NewContextHandler(handler))
}
