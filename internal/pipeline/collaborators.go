package pipeline

import (
	"errors"
	"time"

	"github.com/skobkin/freqpilot/internal/controller"
)

var (
	// ErrCaptureTimeout reports a capture call that returned without a frame while the
	// source is still streaming. The iteration is skipped.
	ErrCaptureTimeout = errors.New("capture timed out")
	// ErrCaptureExhausted reports a source that stopped streaming.
	ErrCaptureExhausted = errors.New("capture exhausted")
)

// Frame is an opaque captured image. The controller never looks at Data.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Width     int
	Height    int
	Data      []byte
	TraceID   string
}

// Capture delivers frames. Capture blocks for at most timeout and returns a nil
// frame when none arrived; IsStreaming distinguishes a timeout from end of stream.
type Capture interface {
	Capture(timeout time.Duration) (*Frame, error)
	IsStreaming() bool
}

// Box is a detection bounding box in pixels.
type Box struct {
	X, Y, W, H float64
}

// Detection is one detected object.
type Detection struct {
	ClassID    int
	Confidence float64
	Box        Box
}

// Timing is the detector's own measurement of one Detect call.
type Timing struct {
	Total time.Duration
	CPU   time.Duration
}

// DetectResult is the output of one Detect call.
type DetectResult struct {
	Detections []Detection
	Elapsed    Timing
}

// Detector runs inference on a frame.
type Detector interface {
	Detect(frame *Frame, width, height int) (DetectResult, error)
}

// Renderer displays frames. It is cosmetic; closing it ends the run.
type Renderer interface {
	Render(frame *Frame) error
	SetStatus(text string)
	IsStreaming() bool
}

// Latency reduces a detection result to the values the controller consumes.
func Latency(res DetectResult) controller.LatencySample {
	best := 0.0
	for _, d := range res.Detections {
		best = max(best, d.Confidence)
	}
	return controller.LatencySample{
		TotalMS:    durationMS(res.Elapsed.Total),
		CPUMS:      durationMS(res.Elapsed.CPU),
		Detections: len(res.Detections),
		Confidence: best,
	}
}

func durationMS(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
