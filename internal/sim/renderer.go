package sim

import (
	"io"
	"log/slog"
	"sync"

	"github.com/skobkin/freqpilot/internal/pipeline"
)

// NullRenderer discards frames and logs status text at debug level. It streams
// until Close is called.
type NullRenderer struct {
	logger *slog.Logger

	mu       sync.Mutex
	closed   bool
	status   string
	rendered uint64
}

// NewNullRenderer returns an open renderer.
func NewNullRenderer(logger *slog.Logger) *NullRenderer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &NullRenderer{logger: logger.With("component", "renderer")}
}

// Render counts the frame.
func (r *NullRenderer) Render(_ *pipeline.Frame) error {
	r.mu.Lock()
	r.rendered++
	r.mu.Unlock()
	return nil
}

// SetStatus records text; changes are logged.
func (r *NullRenderer) SetStatus(text string) {
	r.mu.Lock()
	changed := text != r.status
	r.status = text
	r.mu.Unlock()
	if changed {
		r.logger.Debug("status", "text", text)
	}
}

// Status returns the last status text.
func (r *NullRenderer) Status() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// IsStreaming reports false once the renderer is closed.
func (r *NullRenderer) IsStreaming() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.closed
}

// Close marks the renderer as gone, which ends the run at the next frame.
func (r *NullRenderer) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}
