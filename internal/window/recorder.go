package window

import (
	"time"

	"github.com/skobkin/freqpilot/internal/freqprobe"
)

// Row is one line of the per-second time series.
type Row struct {
	Timestamp  time.Time `json:"ts"`
	CPUHz      int64     `json:"cpu_hz"`
	GPUHz      int64     `json:"gpu_hz"`
	FPS        float64   `json:"fps"`
	Confidence float64   `json:"confidence"`
}

// Recorder debounces per-frame observations into at most one Row per period.
type Recorder struct {
	period time.Duration

	started bool
	last    time.Time
	frames  int
	best    float64
}

// NewRecorder returns a Recorder emitting at most one row per period; a non-positive
// period means one second.
func NewRecorder(period time.Duration) *Recorder {
	if period <= 0 {
		period = time.Second
	}
	return &Recorder{period: period}
}

// Observe counts one captured frame. The first frame only anchors the first period.
// Once a full period has passed since the previous row it returns a new row carrying
// the latest frequencies, the frame rate over the elapsed time and the best confidence
// seen in it.
func (r *Recorder) Observe(now time.Time, freq freqprobe.Sample, confidence float64) (Row, bool) {
	r.best = max(r.best, confidence)
	if !r.started {
		r.started = true
		r.last = now
		return Row{}, false
	}
	r.frames++

	elapsed := now.Sub(r.last)
	if elapsed < r.period {
		return Row{}, false
	}

	row := Row{
		Timestamp:  now,
		CPUHz:      freq.CPUHz,
		GPUHz:      freq.GPUHz,
		FPS:        float64(r.frames) / elapsed.Seconds(),
		Confidence: r.best,
	}
	r.last = now
	r.frames = 0
	r.best = 0
	return row, true
}
