package sim

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/skobkin/freqpilot/internal/pipeline"
)

// TraceEntry is one recorded detector call.
type TraceEntry struct {
	TotalMS    float64
	CPUMS      float64
	Detections int
	Confidence float64
}

// TraceDetector replays recorded detector timings in a loop. When Sleep is set each
// Detect call blocks for the replayed total latency, so the loop runs at the
// recorded pace.
type TraceDetector struct {
	entries []TraceEntry
	sleep   func(time.Duration)

	mu  sync.Mutex
	pos int
}

// NewConstantDetector reports the same latency and no detections on every call.
func NewConstantDetector(totalMS float64, sleep bool) *TraceDetector {
	return newTraceDetector([]TraceEntry{{TotalMS: totalMS, CPUMS: totalMS}}, sleep)
}

// NewTraceDetector replays entries in order, wrapping around at the end.
func NewTraceDetector(entries []TraceEntry, sleep bool) (*TraceDetector, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("trace has no entries")
	}
	return newTraceDetector(entries, sleep), nil
}

func newTraceDetector(entries []TraceEntry, sleep bool) *TraceDetector {
	d := &TraceDetector{entries: entries}
	if sleep {
		d.sleep = time.Sleep
	}
	return d
}

// LoadTrace reads a trace file of "total_ms [cpu_ms [detections [confidence]]]"
// lines. Blank lines and lines starting with '#' are ignored.
func LoadTrace(path string) ([]TraceEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace: %w", err)
	}
	defer file.Close()

	var entries []TraceEntry
	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entry, err := parseTraceLine(line)
		if err != nil {
			return nil, fmt.Errorf("trace %s line %d: %w", path, lineNo, err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read trace: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("trace %s has no entries", path)
	}
	return entries, nil
}

func parseTraceLine(line string) (TraceEntry, error) {
	fields := strings.Fields(line)
	if len(fields) > 4 {
		return TraceEntry{}, fmt.Errorf("expected at most 4 fields, got %d", len(fields))
	}

	var entry TraceEntry
	var err error
	if entry.TotalMS, err = strconv.ParseFloat(fields[0], 64); err != nil || entry.TotalMS < 0 {
		return TraceEntry{}, fmt.Errorf("invalid total_ms %q", fields[0])
	}
	entry.CPUMS = entry.TotalMS
	if len(fields) > 1 {
		if entry.CPUMS, err = strconv.ParseFloat(fields[1], 64); err != nil || entry.CPUMS < 0 {
			return TraceEntry{}, fmt.Errorf("invalid cpu_ms %q", fields[1])
		}
	}
	if len(fields) > 2 {
		if entry.Detections, err = strconv.Atoi(fields[2]); err != nil || entry.Detections < 0 {
			return TraceEntry{}, fmt.Errorf("invalid detections %q", fields[2])
		}
	}
	if len(fields) > 3 {
		if entry.Confidence, err = strconv.ParseFloat(fields[3], 64); err != nil || entry.Confidence < 0 || entry.Confidence > 1 {
			return TraceEntry{}, fmt.Errorf("invalid confidence %q", fields[3])
		}
	}
	return entry, nil
}

// Detect returns the next trace entry as a detection result.
func (d *TraceDetector) Detect(frame *pipeline.Frame, width, height int) (pipeline.DetectResult, error) {
	if frame == nil {
		return pipeline.DetectResult{}, fmt.Errorf("nil frame")
	}

	d.mu.Lock()
	entry := d.entries[d.pos]
	d.pos = (d.pos + 1) % len(d.entries)
	d.mu.Unlock()

	total := msDuration(entry.TotalMS)
	if d.sleep != nil {
		d.sleep(total)
	}

	detections := make([]pipeline.Detection, entry.Detections)
	for i := range detections {
		detections[i] = pipeline.Detection{
			ClassID:    i,
			Confidence: entry.Confidence,
			Box:        pipeline.Box{W: float64(width) / 4, H: float64(height) / 4},
		}
	}
	return pipeline.DetectResult{
		Detections: detections,
		Elapsed:    pipeline.Timing{Total: total, CPU: msDuration(entry.CPUMS)},
	}, nil
}

func msDuration(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}
