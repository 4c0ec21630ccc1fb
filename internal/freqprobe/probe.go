// Package freqprobe samples CPU and GPU clock frequencies from kernel counter files.
package freqprobe

import (
	"errors"
	"fmt"
	"time"
)

// ErrProbeUnavailable reports that a counter source could not be opened or parsed.
var ErrProbeUnavailable = errors.New("frequency probe unavailable")

// Sample is a single CPU/GPU clock reading.
type Sample struct {
	CPUHz     int64     `json:"cpu_hz"`
	GPUHz     int64     `json:"gpu_hz"`
	Timestamp time.Time `json:"ts"`
}

// Counter is one frequency counter source. Read must acquire and release any
// underlying handle within the call.
type Counter interface {
	Name() string
	Read() (int64, error)
}

// Probe reads both counters on every Sample call.
type Probe struct {
	cpu Counter
	gpu Counter
	now func() time.Time
}

// New constructs a Probe over the supplied counters.
func New(cpu, gpu Counter) (*Probe, error) {
	if cpu == nil || gpu == nil {
		return nil, fmt.Errorf("both cpu and gpu counters are required")
	}
	return &Probe{cpu: cpu, gpu: gpu, now: time.Now}, nil
}

// Sample reads the CPU and GPU counters. Any failure is wrapped with ErrProbeUnavailable.
func (p *Probe) Sample() (Sample, error) {
	cpuHz, err := p.cpu.Read()
	if err != nil {
		return Sample{}, fmt.Errorf("%w: cpu counter %s: %w", ErrProbeUnavailable, p.cpu.Name(), err)
	}
	gpuHz, err := p.gpu.Read()
	if err != nil {
		return Sample{}, fmt.Errorf("%w: gpu counter %s: %w", ErrProbeUnavailable, p.gpu.Name(), err)
	}
	return Sample{
		CPUHz:     cpuHz,
		GPUHz:     gpuHz,
		Timestamp: p.now().UTC(),
	}, nil
}

// Counters exposes the configured counter names for diagnostics.
func (p *Probe) Counters() (cpu string, gpu string) {
	return p.cpu.Name(), p.gpu.Name()
}
