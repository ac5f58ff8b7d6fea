package logging

import (
	"context"
	"log/slog"
	"sync"
)

// ContextProvider returns attributes added to every record at log time.
type ContextProvider func() []slog.Attr

// DemoContext tracks the demos active in the process so every record,
// from any goroutine, names the demo it belongs to. A nil *DemoContext
// ignores updates.
type DemoContext struct {
	session string

	mu        sync.RWMutex
	playing   string
	recording string
}

// NewDemoContext creates a context for the process session id.
func NewDemoContext(session string) *DemoContext {
	return &DemoContext{session: session}
}

// SetPlaying records the demo being played, or "" when idle.
func (c *DemoContext) SetPlaying(name string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.playing = name
	c.mu.Unlock()
}

// SetRecording records the demo being written, or "" when none is.
func (c *DemoContext) SetRecording(name string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.recording = name
	c.mu.Unlock()
}

// Attrs is a ContextProvider. Empty names are left out.
func (c *DemoContext) Attrs() []slog.Attr {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	attrs := make([]slog.Attr, 0, 3)
	if c.session != "" {
		attrs = append(attrs, slog.String("session", c.session))
	}
	if c.playing != "" {
		attrs = append(attrs, slog.String("playing", c.playing))
	}
	if c.recording != "" {
		attrs = append(attrs, slog.String("recording", c.recording))
	}
	return attrs
}

// ContextHandler adds the provider's attributes to each record before
// passing it on.
type ContextHandler struct {
	inner    slog.Handler
	provider ContextProvider
}

func NewContextHandler(inner slog.Handler, provider ContextProvider) *ContextHandler {
	return &ContextHandler{
		inner:    inner,
		provider: provider,
	}
}

func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.provider != nil {
		if attrs := h.provider(); len(attrs) > 0 {
			r = r.Clone()
			r.AddAttrs(attrs...)
		}
	}
	return h.inner.Handle(ctx, r)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{
		inner:    h.inner.WithAttrs(attrs),
		provider: h.provider,
	}
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &ContextHandler{
		inner:    h.inner.WithGroup(name),
		provider: h.provider,
	}
}
