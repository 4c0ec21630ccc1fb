// Package sim provides stand-in capture, detection and render collaborators so the
// controller can run without a camera or an inference engine.
package sim

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skobkin/freqpilot/internal/pipeline"
)

// SyntheticCapture produces blank BGR24 frames at a fixed rate, all sharing one
// pixel buffer. With a positive frame limit it stops streaming after that many frames.
type SyntheticCapture struct {
	width  int
	height int
	period time.Duration
	limit  int
	pixels []byte

	now   func() time.Time
	sleep func(time.Duration)

	mu        sync.Mutex
	seq       uint64
	next      time.Time
	streaming bool
}

// NewSyntheticCapture builds a source emitting fps frames per second. limit <= 0
// streams until the process stops.
func NewSyntheticCapture(width, height int, fps float64, limit int) (*SyntheticCapture, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", width, height)
	}
	if fps <= 0 {
		return nil, fmt.Errorf("fps must be > 0")
	}
	return &SyntheticCapture{
		width:     width,
		height:    height,
		period:    max(time.Duration(float64(time.Second)/fps), time.Microsecond),
		limit:     limit,
		pixels:    make([]byte, width*height*3),
		now:       time.Now,
		sleep:     time.Sleep,
		streaming: true,
	}, nil
}

// Capture waits for the next frame slot. It returns ErrCaptureTimeout when the slot
// is further away than timeout and ErrCaptureExhausted once the limit is reached.
func (c *SyntheticCapture) Capture(timeout time.Duration) (*pipeline.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.streaming {
		return nil, pipeline.ErrCaptureExhausted
	}
	if c.limit > 0 && c.seq >= uint64(c.limit) {
		c.streaming = false
		return nil, pipeline.ErrCaptureExhausted
	}

	now := c.now()
	if c.next.IsZero() {
		c.next = now
	}
	wait := c.next.Sub(now)
	if wait > timeout {
		c.sleep(timeout)
		return nil, pipeline.ErrCaptureTimeout
	}
	if wait > 0 {
		c.sleep(wait)
	}

	c.seq++
	// Slots are fixed to the schedule; a slow consumer drops the missed ones.
	c.next = c.next.Add(c.period)
	if after := c.now(); c.next.Before(after) {
		missed := after.Sub(c.next)/c.period + 1
		c.next = c.next.Add(missed * c.period)
	}

	return &pipeline.Frame{
		Seq:       c.seq,
		Timestamp: c.now(),
		Width:     c.width,
		Height:    c.height,
		Data:      c.pixels,
		TraceID:   uuid.NewString(),
	}, nil
}

// IsStreaming reports whether more frames will follow.
func (c *SyntheticCapture) IsStreaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streaming
}

// Frames returns the number of frames produced so far.
func (c *SyntheticCapture) Frames() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}
