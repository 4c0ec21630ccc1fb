// Package window aggregates per-frame timing over a fixed wall-clock window.
package window

import (
	"errors"
	"time"

	"github.com/skobkin/freqpilot/internal/controller"
	"github.com/skobkin/freqpilot/internal/freqprobe"
)

var (
	// ErrEmptyWindow reports a window that closed before any frame was captured.
	ErrEmptyWindow = errors.New("window has no frames")
	// ErrAlreadyFinalized reports a second Finalize on the same accumulator.
	ErrAlreadyFinalized = errors.New("window already finalized")
)

// Accumulator holds the running sums of one window. The loop driver is its only writer.
type Accumulator struct {
	Frames          int
	SumCPULatency   float64
	SumTotalLatency float64
	MinTotalLatency float64
	MaxTotalLatency float64
	MinCPULatency   float64
	MaxCPULatency   float64
	Deadline        time.Time
	LastFrequency   freqprobe.Sample

	finalized bool
}

// Summary is the averaged result of a closed window.
type Summary struct {
	AvgCPULatency   float64 `json:"avg_cpu_latency_ms"`
	AvgTotalLatency float64 `json:"avg_total_latency_ms"`
	MinTotalLatency float64 `json:"min_total_latency_ms"`
	MaxTotalLatency float64 `json:"max_total_latency_ms"`
	LastCPUHz       int64   `json:"last_cpu_hz"`
	LastGPUHz       int64   `json:"last_gpu_hz"`
	Frames          int     `json:"frames"`
}

// Begin opens a window of the given duration starting at now.
func Begin(duration time.Duration, now time.Time) *Accumulator {
	return &Accumulator{Deadline: now.Add(duration)}
}

// Update folds one captured frame into the window.
func Update(acc *Accumulator, freq freqprobe.Sample, latency controller.LatencySample) {
	if acc.Frames == 0 {
		acc.MinTotalLatency, acc.MaxTotalLatency = latency.TotalMS, latency.TotalMS
		acc.MinCPULatency, acc.MaxCPULatency = latency.CPUMS, latency.CPUMS
	} else {
		acc.MinTotalLatency = min(acc.MinTotalLatency, latency.TotalMS)
		acc.MaxTotalLatency = max(acc.MaxTotalLatency, latency.TotalMS)
		acc.MinCPULatency = min(acc.MinCPULatency, latency.CPUMS)
		acc.MaxCPULatency = max(acc.MaxCPULatency, latency.CPUMS)
	}
	acc.Frames++
	acc.SumCPULatency += latency.CPUMS
	acc.SumTotalLatency += latency.TotalMS
	acc.LastFrequency = freq
}

// IsElapsed reports whether now has reached the window deadline.
func IsElapsed(acc *Accumulator, now time.Time) bool {
	return !now.Before(acc.Deadline)
}

// Remaining returns the time left until the deadline, never negative.
func Remaining(acc *Accumulator, now time.Time) time.Duration {
	return max(acc.Deadline.Sub(now), 0)
}

// Finalize averages the window. It may be called once per accumulator; the summary of an
// empty window carries only the last frequency and ErrEmptyWindow.
func Finalize(acc *Accumulator) (Summary, error) {
	if acc.finalized {
		return Summary{}, ErrAlreadyFinalized
	}
	acc.finalized = true

	summary := Summary{
		LastCPUHz: acc.LastFrequency.CPUHz,
		LastGPUHz: acc.LastFrequency.GPUHz,
		Frames:    acc.Frames,
	}
	if acc.Frames <= 0 {
		return summary, ErrEmptyWindow
	}
	n := float64(acc.Frames)
	summary.AvgCPULatency = mean(acc.SumCPULatency, n, acc.MinCPULatency, acc.MaxCPULatency)
	summary.AvgTotalLatency = mean(acc.SumTotalLatency, n, acc.MinTotalLatency, acc.MaxTotalLatency)
	summary.MinTotalLatency = acc.MinTotalLatency
	summary.MaxTotalLatency = acc.MaxTotalLatency
	return summary, nil
}

// mean divides sum by n and clamps the result to the observed range; rounding in the
// running sum can otherwise push it just outside, e.g. for N identical samples.
func mean(sum, n, lo, hi float64) float64 {
	return min(max(sum/n, lo), hi)
}
