// Package pipeline runs the per-frame control loop: capture, measure, decide, record.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/skobkin/freqpilot/internal/actuator"
	"github.com/skobkin/freqpilot/internal/controller"
	"github.com/skobkin/freqpilot/internal/freqprobe"
	"github.com/skobkin/freqpilot/internal/geotag"
	"github.com/skobkin/freqpilot/internal/status"
	"github.com/skobkin/freqpilot/internal/window"
)

// State is the driver's lifecycle state.
type State int

const (
	Running State = iota
	WindowExpired
	CaptureExhausted
	Cancelled
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case WindowExpired:
		return "window_expired"
	case CaptureExhausted:
		return "capture_exhausted"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Probe reads the current CPU and GPU clocks.
type Probe interface {
	Sample() (freqprobe.Sample, error)
}

// Stepper runs one control decision.
type Stepper interface {
	Step(latency controller.LatencySample) controller.Result
	Threshold() float64
}

// SeriesSink receives one time-series row per second.
type SeriesSink interface {
	WriteRow(row window.Row) error
	Close() error
}

// SummarySink receives the window summary.
type SummarySink interface {
	WriteSummary(summary window.Summary) error
	Close() error
}

// Tagger consumes one position per frame with detections.
type Tagger interface {
	Tag() (geotag.Position, error)
	Close() error
}

// RunSink persists a run: rows while running and the outcome at the end.
type RunSink interface {
	WriteRow(row window.Row) error
	Finish(ended time.Time, state string, summary window.Summary, summaryErr error) error
	Close() error
}

// Options configures a Driver. Renderer, the sinks and Board are optional.
type Options struct {
	Capture        Capture
	Detector       Detector
	Renderer       Renderer
	Probe          Probe
	Controller     Stepper
	Window         time.Duration
	CaptureTimeout time.Duration

	Series  SeriesSink
	Geotag  Tagger
	Summary SummarySink
	History RunSink
	Board   *status.Board
	RunID   string

	Logger *slog.Logger
}

// Driver owns the window and every sink for a single run.
type Driver struct {
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	acc      *window.Accumulator
	recorder *window.Recorder
	counters status.Counters
	last     freqprobe.Sample
	probeBad bool
	fps      float64
	ran      bool
}

// NewDriver validates opts.
func NewDriver(opts Options) (*Driver, error) {
	if opts.Capture == nil {
		return nil, fmt.Errorf("capture is required")
	}
	if opts.Detector == nil {
		return nil, fmt.Errorf("detector is required")
	}
	if opts.Probe == nil {
		return nil, fmt.Errorf("probe is required")
	}
	if opts.Controller == nil {
		return nil, fmt.Errorf("controller is required")
	}
	if opts.Window <= 0 {
		return nil, fmt.Errorf("window must be > 0")
	}
	if opts.CaptureTimeout <= 0 {
		opts.CaptureTimeout = time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Driver{
		opts:     opts,
		logger:   logger.With("component", "driver"),
		now:      time.Now,
		recorder: window.NewRecorder(time.Second),
	}, nil
}

// Run loops until the window elapses, the source ends, ctx is cancelled or the
// renderer closes. It finalizes the window and closes the sinks exactly once and
// returns the terminal state with the window summary. Run may be called once.
func (d *Driver) Run(ctx context.Context) (State, window.Summary, error) {
	if d.ran {
		return Cancelled, window.Summary{}, fmt.Errorf("driver already ran")
	}
	d.ran = true

	d.acc = window.Begin(d.opts.Window, d.now())
	d.logger.Info("run started",
		"run_id", d.opts.RunID, "window", d.opts.Window, "threshold_ms", d.opts.Controller.Threshold())

	state := d.loop(ctx)
	summary, err := d.finish(state)
	return state, summary, err
}

func (d *Driver) loop(ctx context.Context) State {
	for {
		if ctx.Err() != nil {
			return Cancelled
		}
		if d.opts.Renderer != nil && !d.opts.Renderer.IsStreaming() {
			d.logger.Info("renderer closed")
			return Cancelled
		}
		if window.IsElapsed(d.acc, d.now()) {
			return WindowExpired
		}

		frame, err := d.opts.Capture.Capture(d.opts.CaptureTimeout)
		if frame == nil {
			if !d.opts.Capture.IsStreaming() {
				return CaptureExhausted
			}
			d.counters.SkippedFrames++
			if err != nil && !errors.Is(err, ErrCaptureTimeout) {
				d.logger.Warn("capture failed", "err", err)
			}
			d.publishCounters(Running, d.now())
			continue
		}

		d.step(frame)
	}
}

// step processes one captured frame. A failed detection drops the frame: there is
// no latency to act on.
func (d *Driver) step(frame *Frame) {
	freq := d.sample()

	res, err := d.opts.Detector.Detect(frame, frame.Width, frame.Height)
	if err != nil {
		d.counters.DetectErrors++
		d.logger.Warn("detection failed, frame dropped", "seq", frame.Seq, "trace_id", frame.TraceID, "err", err)
		return
	}
	latency := Latency(res)

	if d.opts.Renderer != nil {
		if err := d.opts.Renderer.Render(frame); err != nil {
			d.logger.Debug("render failed", "seq", frame.Seq, "err", err)
		}
	}

	result := d.opts.Controller.Step(latency)
	d.count(result)

	window.Update(d.acc, freq, latency)
	d.counters.Frames++
	d.counters.Detections += uint64(latency.Detections)

	now := d.now()
	if row, ok := d.recorder.Observe(now, freq, latency.Confidence); ok {
		d.fps = row.FPS
		d.writeRow(row)
	}

	if latency.Detections > 0 && d.opts.Geotag != nil {
		if _, err := d.opts.Geotag.Tag(); err == nil {
			d.counters.Geotagged++
		} else if !errors.Is(err, geotag.ErrFeedExhausted) {
			d.logger.Debug("geotag failed", "err", err)
		}
	}

	if d.opts.Renderer != nil {
		d.opts.Renderer.SetStatus(fmt.Sprintf("%s %.1fms", result.Signal, latency.TotalMS))
	}
	d.publish(Running, now, freq, latency, result)
}

// sample reads the probe, reusing the previous values when it fails.
func (d *Driver) sample() freqprobe.Sample {
	freq, err := d.opts.Probe.Sample()
	if err != nil {
		d.counters.ProbeErrors++
		if !d.probeBad {
			d.logger.Warn("frequency probe failed, reusing last sample", "err", err)
		}
		d.probeBad = true
		freq = d.last
		freq.Timestamp = d.now()
		return freq
	}
	if d.probeBad {
		d.logger.Info("frequency probe recovered")
		d.probeBad = false
	}
	d.last = freq
	return freq
}

func (d *Driver) count(res controller.Result) {
	switch res.Signal {
	case controller.SpeedUp:
		d.counters.SpeedUp++
	case controller.SlowDown:
		d.counters.SlowDown++
	}
	switch {
	case !res.Resolved:
		d.counters.ResolveFailures++
	case res.Err != nil:
		d.counters.DeliveryErrors++
	default:
		switch res.Outcome {
		case actuator.Delivered:
			d.counters.Delivered++
		case actuator.PermissionDenied:
			d.counters.PermissionDenied++
		case actuator.NoSuchProcess:
			d.counters.NoSuchProcess++
		}
	}
}

func (d *Driver) writeRow(row window.Row) {
	if d.opts.Series != nil {
		if err := d.opts.Series.WriteRow(row); err != nil {
			d.logger.Warn("write time series row", "err", err)
		}
	}
	if d.opts.History != nil {
		if err := d.opts.History.WriteRow(row); err != nil {
			d.logger.Warn("write history row", "err", err)
		}
	}
}

// publishCounters republishes the latest snapshot with fresh counters and window
// progress, keeping the last frame's readings.
func (d *Driver) publishCounters(state State, now time.Time) {
	if d.opts.Board == nil {
		return
	}
	snap, _ := d.opts.Board.Latest()
	snap.RunID = d.opts.RunID
	snap.State = state.String()
	snap.UpdatedAt = now
	snap.ThresholdMS = d.opts.Controller.Threshold()
	snap.WindowFrames = d.acc.Frames
	snap.WindowRemaining = window.Remaining(d.acc, now)
	snap.Counters = d.counters
	d.opts.Board.Publish(snap)
}

func (d *Driver) publish(state State, now time.Time, freq freqprobe.Sample, latency controller.LatencySample, res controller.Result) {
	if d.opts.Board == nil {
		return
	}
	snap := status.Snapshot{
		RunID:           d.opts.RunID,
		State:           state.String(),
		UpdatedAt:       now,
		Frequency:       freq,
		Latency:         latency,
		ThresholdMS:     d.opts.Controller.Threshold(),
		Signal:          res.Signal.String(),
		FPS:             d.fps,
		WindowFrames:    d.acc.Frames,
		WindowRemaining: window.Remaining(d.acc, now),
		Counters:        d.counters,
	}
	if res.Resolved {
		snap.ActuatorPID = res.Handle.PID
		snap.Outcome = res.Outcome.String()
	}
	if res.Err != nil {
		snap.ActuatorError = res.Err.Error()
	}
	d.opts.Board.Publish(snap)
}

// finish finalizes the window, writes the summary and closes every sink in a fixed
// order: time series, geotag log, summary file, history store.
func (d *Driver) finish(state State) (window.Summary, error) {
	now := d.now()
	summary, summaryErr := window.Finalize(d.acc)

	var errs []error
	switch {
	case errors.Is(summaryErr, window.ErrEmptyWindow):
		d.logger.Warn("window closed without frames, no summary written", "state", state)
	case summaryErr != nil:
		errs = append(errs, summaryErr)
	case d.opts.Summary != nil:
		if err := d.opts.Summary.WriteSummary(summary); err != nil {
			errs = append(errs, err)
		}
	}
	if d.opts.History != nil {
		if err := d.opts.History.Finish(now, state.String(), summary, summaryErr); err != nil {
			errs = append(errs, err)
		}
	}

	if d.opts.Series != nil {
		errs = append(errs, closeSink("time series", d.opts.Series))
	}
	if d.opts.Geotag != nil {
		errs = append(errs, closeSink("geotag log", d.opts.Geotag))
	}
	if d.opts.Summary != nil {
		errs = append(errs, closeSink("summary", d.opts.Summary))
	}
	if d.opts.History != nil {
		errs = append(errs, closeSink("history", d.opts.History))
	}

	if d.opts.Board != nil {
		d.publishCounters(state, now)
		d.opts.Board.Close()
	}

	d.logger.Info("run ended",
		"state", state,
		"frames", summary.Frames,
		"skipped", d.counters.SkippedFrames,
		"avg_total_ms", summary.AvgTotalLatency,
		"avg_cpu_ms", summary.AvgCPULatency)
	return summary, errors.Join(errs...)
}

func closeSink(name string, c io.Closer) error {
	if err := c.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	return nil
}
