package logging

import (
	"context"
	"log/slog"
	"sync"
)

// Entry is one captured log record.
type Entry struct {
	Level      slog.Level
	Message    string
	Attributes map[string]any
}

// CaptureHandler is an slog.Handler that records every log call. It exists
// for tests that need to assert on what was logged.
type CaptureHandler struct {
	mu      sync.Mutex
	entries []Entry
	attrs   []slog.Attr
}

// NewCaptureLogger returns a logger backed by a fresh CaptureHandler.
func NewCaptureLogger() (*slog.Logger, *CaptureHandler) {
	h := &CaptureHandler{}
	return slog.New(h), h
}

// Entries returns a copy of everything captured so far.
func (h *CaptureHandler) Entries() []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Entry, len(h.entries))
	copy(out, h.entries)
	return out
}

// Messages returns captured messages at or above the given level.
func (h *CaptureHandler) Messages(min slog.Level) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, e := range h.entries {
		if e.Level >= min {
			out = append(out, e.Message)
		}
	}
	return out
}

func (h *CaptureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *CaptureHandler) Handle(_ context.Context, r slog.Record) error {
	entry := Entry{
		Level:      r.Level,
		Message:    r.Message,
		Attributes: make(map[string]any, r.NumAttrs()+len(h.attrs)),
	}
	for _, a := range h.attrs {
		entry.Attributes[a.Key] = a.Value.Resolve().Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		entry.Attributes[a.Key] = a.Value.Resolve().Any()
		return true
	})

	h.mu.Lock()
	h.entries = append(h.entries, entry)
	h.mu.Unlock()
	return nil
}

func (h *CaptureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	// Child handlers share the parent's entry list.
	return &captureChild{parent: h, attrs: merged}
}

func (h *CaptureHandler) WithGroup(string) slog.Handler { return h }

func (h *CaptureHandler) append(e Entry) {
	h.mu.Lock()
	h.entries = append(h.entries, e)
	h.mu.Unlock()
}

type captureChild struct {
	parent *CaptureHandler
	attrs  []slog.Attr
}

func (c *captureChild) Enabled(context.Context, slog.Level) bool { return true }

func (c *captureChild) Handle(_ context.Context, r slog.Record) error {
	entry := Entry{
		Level:      r.Level,
		Message:    r.Message,
		Attributes: make(map[string]any, r.NumAttrs()+len(c.attrs)),
	}
	for _, a := range c.attrs {
		entry.Attributes[a.Key] = a.Value.Resolve().Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		entry.Attributes[a.Key] = a.Value.Resolve().Any()
		return true
	})
	c.parent.append(entry)
	return nil
}

func (c *captureChild) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(c.attrs)+len(attrs))
	merged = append(merged, c.attrs...)
	merged = append(merged, attrs...)
	return &captureChild{parent: c.parent, attrs: merged}
}

func (c *captureChild) WithGroup(string) slog.Handler { return c }
