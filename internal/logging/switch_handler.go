package logging

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// switchHandler forwards to a handler that Initialize can replace, so
// loggers handed out earlier keep their identity and follow the new
// output format. Attributes and groups added through With and WithGroup
// are replayed onto the current handler.
type switchHandler struct {
	current *atomic.Pointer[slog.Handler]
	derive  []func(slog.Handler) slog.Handler
}

func newSwitchHandler(h slog.Handler) *switchHandler {
	current := &atomic.Pointer[slog.Handler]{}
	current.Store(&h)
	return &switchHandler{current: current}
}

// set replaces the target handler for this handler and every handler
// derived from it.
func (s *switchHandler) set(h slog.Handler) {
	s.current.Store(&h)
}

func (s *switchHandler) target() slog.Handler {
	h := *s.current.Load()
	for _, fn := range s.derive {
		h = fn(h)
	}
	return h
}

func (s *switchHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return (*s.current.Load()).Enabled(ctx, level)
}

func (s *switchHandler) Handle(ctx context.Context, r slog.Record) error {
	return s.target().Handle(ctx, r)
}

func (s *switchHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return s.with(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (s *switchHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return s
	}
	return s.with(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (s *switchHandler) with(fn func(slog.Handler) slog.Handler) *switchHandler {
	derive := make([]func(slog.Handler) slog.Handler, len(s.derive), len(s.derive)+1)
	copy(derive, s.derive)
	return &switchHandler{current: s.current, derive: append(derive, fn)}
}
