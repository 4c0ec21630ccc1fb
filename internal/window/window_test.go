package window

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/skobkin/freqpilot/internal/controller"
	"github.com/skobkin/freqpilot/internal/freqprobe"
)

func TestFinalizeEmptyWindow(t *testing.T) {
	t.Parallel()

	acc := Begin(time.Minute, time.Unix(1000, 0))
	summary, err := Finalize(acc)
	if !errors.Is(err, ErrEmptyWindow) {
		t.Fatalf("expected ErrEmptyWindow, got %v", err)
	}
	if math.IsNaN(summary.AvgTotalLatency) || math.IsNaN(summary.AvgCPULatency) {
		t.Fatalf("empty window produced NaN: %+v", summary)
	}
	if summary.Frames != 0 {
		t.Fatalf("unexpected frame count %d", summary.Frames)
	}
}

func TestFinalizeUniformInputIsExact(t *testing.T) {
	t.Parallel()

	values := []float64{0.1, 1.0 / 3.0, 16.7, 33.999999, 1e-9, 12345.6789}
	counts := []int{1, 3, 7, 10, 1000, 99991}

	for _, v := range values {
		for _, n := range counts {
			acc := Begin(time.Minute, time.Now())
			for range n {
				Update(acc, freqprobe.Sample{}, controller.LatencySample{TotalMS: v, CPUMS: v / 2})
			}
			summary, err := Finalize(acc)
			if err != nil {
				t.Fatalf("Finalize returned error: %v", err)
			}
			if summary.AvgTotalLatency != v {
				t.Fatalf("value=%v n=%d: expected exact average, got %v", v, n, summary.AvgTotalLatency)
			}
			if summary.AvgCPULatency != v/2 {
				t.Fatalf("value=%v n=%d: expected exact cpu average, got %v", v, n, summary.AvgCPULatency)
			}
		}
	}
}

func TestFinalizeAverages(t *testing.T) {
	t.Parallel()

	acc := Begin(10*time.Second, time.Now())
	for i, total := range []float64{5, 8, 12, 9, 20} {
		freq := freqprobe.Sample{CPUHz: int64(1_000_000 * (i + 1)), GPUHz: int64(500_000 * (i + 1))}
		Update(acc, freq, controller.LatencySample{TotalMS: total, CPUMS: 1})
	}

	summary, err := Finalize(acc)
	if err != nil {
		t.Fatalf("Finalize returned error: %v", err)
	}
	if summary.AvgTotalLatency != 10.8 {
		t.Fatalf("expected avg total 10.8, got %v", summary.AvgTotalLatency)
	}
	if summary.AvgCPULatency != 1 {
		t.Fatalf("expected avg cpu 1, got %v", summary.AvgCPULatency)
	}
	if summary.MinTotalLatency != 5 || summary.MaxTotalLatency != 20 {
		t.Fatalf("unexpected range [%v, %v]", summary.MinTotalLatency, summary.MaxTotalLatency)
	}
	if summary.LastCPUHz != 5_000_000 || summary.LastGPUHz != 2_500_000 {
		t.Fatalf("expected last frequencies of final frame, got %+v", summary)
	}
	if summary.Frames != 5 {
		t.Fatalf("expected 5 frames, got %d", summary.Frames)
	}
}

func TestFinalizeOnce(t *testing.T) {
	t.Parallel()

	acc := Begin(time.Second, time.Now())
	Update(acc, freqprobe.Sample{}, controller.LatencySample{TotalMS: 1})
	if _, err := Finalize(acc); err != nil {
		t.Fatalf("first Finalize returned error: %v", err)
	}
	if _, err := Finalize(acc); !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("expected ErrAlreadyFinalized, got %v", err)
	}
}

func TestIsElapsed(t *testing.T) {
	t.Parallel()

	start := time.Unix(5000, 0)
	acc := Begin(time.Second, start)

	if IsElapsed(acc, start) {
		t.Fatalf("window elapsed at start")
	}
	if IsElapsed(acc, start.Add(999*time.Millisecond)) {
		t.Fatalf("window elapsed before deadline")
	}
	if !IsElapsed(acc, start.Add(time.Second)) {
		t.Fatalf("window not elapsed at deadline")
	}
	if got := Remaining(acc, start.Add(2*time.Second)); got != 0 {
		t.Fatalf("expected zero remaining after deadline, got %s", got)
	}
	if got := Remaining(acc, start.Add(250*time.Millisecond)); got != 750*time.Millisecond {
		t.Fatalf("unexpected remaining %s", got)
	}
}

func TestRecorderEmitsOncePerSecond(t *testing.T) {
	t.Parallel()

	rec := NewRecorder(time.Second)
	start := time.Unix(100, 0)
	freq := freqprobe.Sample{CPUHz: 1_200_000_000, GPUHz: 600_000_000}

	var rows []Row
	// 25 fps for 3 seconds.
	for i := 0; i <= 75; i++ {
		now := start.Add(time.Duration(i) * 40 * time.Millisecond)
		conf := 0.0
		if i == 30 {
			conf = 0.9
		}
		if row, ok := rec.Observe(now, freq, conf); ok {
			rows = append(rows, row)
		}
	}

	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	for i, row := range rows {
		if want := start.Add(time.Duration(i+1) * time.Second); !row.Timestamp.Equal(want) {
			t.Fatalf("row %d: expected ts %s, got %s", i, want, row.Timestamp)
		}
		if row.CPUHz != freq.CPUHz || row.GPUHz != freq.GPUHz {
			t.Fatalf("row %d: unexpected frequencies %+v", i, row)
		}
	}
	for i, row := range rows {
		if row.FPS != 25 {
			t.Fatalf("row %d: expected steady 25 fps, got %v", i, row.FPS)
		}
	}
	if rows[1].Confidence != 0.9 || rows[0].Confidence != 0 || rows[2].Confidence != 0 {
		t.Fatalf("confidence not attributed to its second: %+v", rows)
	}
}

func TestRecorderSlowFrames(t *testing.T) {
	t.Parallel()

	rec := NewRecorder(0)
	start := time.Unix(0, 0)

	if _, ok := rec.Observe(start, freqprobe.Sample{}, 0); ok {
		t.Fatalf("first observation must not emit")
	}
	row, ok := rec.Observe(start.Add(4*time.Second), freqprobe.Sample{}, 0.5)
	if !ok {
		t.Fatalf("expected a row after a long gap")
	}
	if row.FPS != 0.25 {
		t.Fatalf("expected 1 frame over 4s = 0.25 fps, got %v", row.FPS)
	}
}

func TestRecorderSteadyStreamFirstPeriod(t *testing.T) {
	t.Parallel()

	rec := NewRecorder(time.Second)
	start := time.Unix(0, 0)

	var fps []float64
	// 2 fps: the anchor frame is not counted against the first period.
	for i := range 5 {
		if row, ok := rec.Observe(start.Add(time.Duration(i)*500*time.Millisecond), freqprobe.Sample{}, 0); ok {
			fps = append(fps, row.FPS)
		}
	}
	if len(fps) != 2 || fps[0] != 2 || fps[1] != 2 {
		t.Fatalf("expected two rows at 2 fps, got %v", fps)
	}
}
