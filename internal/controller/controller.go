// Package controller turns a frame's latency into a speed-up or slow-down signal for the
// actuator process.
package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"

	"golang.org/x/sys/unix"

	"github.com/skobkin/freqpilot/internal/actuator"
)

// LatencySample is the detection collaborator's timing report for one frame.
type LatencySample struct {
	TotalMS    float64 `json:"total_ms"`
	CPUMS      float64 `json:"cpu_ms"`
	Detections int     `json:"detections"`
	Confidence float64 `json:"confidence"`
}

// Signal is the control decision for one frame.
type Signal int

const (
	// SpeedUp tells the actuator the pipeline has slack.
	SpeedUp Signal = iota
	// SlowDown tells the actuator the pipeline is at or over budget.
	SlowDown
)

func (s Signal) String() string {
	switch s {
	case SpeedUp:
		return "speed_up"
	case SlowDown:
		return "slow_down"
	default:
		return fmt.Sprintf("signal(%d)", int(s))
	}
}

// Decide compares the frame latency with the threshold. Latency equal to the
// threshold slows down.
func Decide(latency LatencySample, thresholdMS float64) Signal {
	if latency.TotalMS < thresholdMS {
		return SpeedUp
	}
	return SlowDown
}

// SignalMap binds control decisions to OS signal numbers understood by the actuator.
type SignalMap struct {
	SpeedUp  unix.Signal
	SlowDown unix.Signal
}

// DefaultSignalMap matches the paired motor controller.
var DefaultSignalMap = SignalMap{SpeedUp: unix.SIGUSR2, SlowDown: unix.SIGUSR1}

// ParseSignalMap resolves signal names into a SignalMap.
func ParseSignalMap(speedUp, slowDown string) (SignalMap, error) {
	up, err := actuator.ParseSignal(speedUp)
	if err != nil {
		return SignalMap{}, fmt.Errorf("speed-up signal: %w", err)
	}
	down, err := actuator.ParseSignal(slowDown)
	if err != nil {
		return SignalMap{}, fmt.Errorf("slow-down signal: %w", err)
	}
	if up == down {
		return SignalMap{}, fmt.Errorf("speed-up and slow-down signals must differ, both are %s", unix.SignalName(up))
	}
	return SignalMap{SpeedUp: up, SlowDown: down}, nil
}

// For returns the OS signal for a decision.
func (m SignalMap) For(s Signal) unix.Signal {
	if s == SpeedUp {
		return m.SpeedUp
	}
	return m.SlowDown
}

// Sender delivers a signal to a resolved actuator.
type Sender interface {
	Send(h actuator.Handle, sig unix.Signal) (actuator.Outcome, error)
}

// Result reports everything one Step did. Resolved is false when the locator failed
// and delivery was skipped; Err then carries the locator error.
type Result struct {
	Signal   Signal
	Handle   actuator.Handle
	Resolved bool
	Outcome  actuator.Outcome
	Err      error
}

// Options configures a Controller.
type Options struct {
	ActuatorName string
	ThresholdMS  float64
	Signals      SignalMap
	Locator      actuator.Locator
	Sender       Sender
	Logger       *slog.Logger
}

// Controller decides and delivers one control signal per frame.
type Controller struct {
	name      string
	threshold float64
	signals   SignalMap
	locator   actuator.Locator
	sender    Sender
	logger    *slog.Logger
}

// New validates opts and returns a Controller.
func New(opts Options) (*Controller, error) {
	if opts.ActuatorName == "" {
		return nil, fmt.Errorf("actuator name is required")
	}
	if opts.ThresholdMS <= 0 || math.IsNaN(opts.ThresholdMS) || math.IsInf(opts.ThresholdMS, 0) {
		return nil, fmt.Errorf("threshold must be a finite number > 0")
	}
	if opts.Locator == nil {
		return nil, fmt.Errorf("locator is required")
	}
	if opts.Sender == nil {
		opts.Sender = actuator.NewSignaler()
	}
	if opts.Signals == (SignalMap{}) {
		opts.Signals = DefaultSignalMap
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Controller{
		name:      opts.ActuatorName,
		threshold: opts.ThresholdMS,
		signals:   opts.Signals,
		locator:   opts.Locator,
		sender:    opts.Sender,
		logger:    logger.With("component", "controller"),
	}, nil
}

// Threshold returns the configured latency budget in milliseconds.
func (c *Controller) Threshold() float64 {
	return c.threshold
}

// Step decides on a signal for latency, resolves the actuator afresh and delivers the
// signal. No failure here is fatal to the caller's loop.
func (c *Controller) Step(latency LatencySample) Result {
	res := Result{Signal: Decide(latency, c.threshold)}

	handle, err := c.locator.Resolve(c.name)
	if err != nil {
		res.Err = err
		level := slog.LevelWarn
		if errors.Is(err, actuator.ErrActuatorNotFound) {
			level = slog.LevelDebug
		}
		c.logger.Log(context.Background(), level, "actuator resolution failed, skipping delivery",
			"actuator", c.name, "signal", res.Signal, "err", err)
		return res
	}
	res.Handle = handle
	res.Resolved = true

	sig := c.signals.For(res.Signal)
	outcome, err := c.sender.Send(handle, sig)
	res.Outcome = outcome
	res.Err = err

	switch {
	case err != nil:
		c.logger.Warn("signal delivery failed",
			"pid", handle.PID, "signal", res.Signal, "os_signal", unix.SignalName(sig), "err", err)
	case outcome == actuator.Delivered:
		c.logger.Debug("signal delivered",
			"pid", handle.PID, "signal", res.Signal, "os_signal", unix.SignalName(sig), "total_ms", latency.TotalMS)
	default:
		c.logger.Warn("signal not delivered",
			"pid", handle.PID, "signal", res.Signal, "os_signal", unix.SignalName(sig), "outcome", outcome)
	}
	return res
}
