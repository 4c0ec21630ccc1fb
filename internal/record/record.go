// Package record writes the plain-text diagnostics files of a run.
package record

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/skobkin/freqpilot/internal/window"
)

// SeriesWriter appends per-second time-series rows as
// "unix_ts cpu_hz gpu_hz fps confidence" lines.
type SeriesWriter struct {
	path string
	file *os.File
	buf  *bufio.Writer
}

// OpenSeries opens path for appending, creating it when missing.
func OpenSeries(path string) (*SeriesWriter, error) {
	file, err := openAppend(path)
	if err != nil {
		return nil, err
	}
	return &SeriesWriter{path: path, file: file, buf: bufio.NewWriter(file)}, nil
}

// WriteRow appends row and flushes it so the file is readable while the run continues.
func (w *SeriesWriter) WriteRow(row window.Row) error {
	if _, err := w.buf.WriteString(FormatRow(row) + "\n"); err != nil {
		return fmt.Errorf("write %s: %w", w.path, err)
	}
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", w.path, err)
	}
	return nil
}

// Close flushes and closes the file. Both steps run even if the flush fails.
func (w *SeriesWriter) Close() error {
	flushErr := w.buf.Flush()
	closeErr := w.file.Close()
	if err := errors.Join(flushErr, closeErr); err != nil {
		return fmt.Errorf("close %s: %w", w.path, err)
	}
	return nil
}

// FormatRow renders a time-series row without the trailing newline.
func FormatRow(row window.Row) string {
	return strings.Join([]string{
		strconv.FormatInt(row.Timestamp.Unix(), 10),
		strconv.FormatInt(row.CPUHz, 10),
		strconv.FormatInt(row.GPUHz, 10),
		strconv.FormatFloat(row.FPS, 'f', 2, 64),
		strconv.FormatFloat(row.Confidence, 'f', 4, 64),
	}, " ")
}

// SummaryWriter appends one "avg_cpu_ms avg_total_ms last_cpu_hz last_gpu_hz" line
// per run. The file is opened up front so a bad path fails before the loop starts.
type SummaryWriter struct {
	path    string
	file    *os.File
	written bool
}

// OpenSummary opens path for appending, creating it when missing.
func OpenSummary(path string) (*SummaryWriter, error) {
	file, err := openAppend(path)
	if err != nil {
		return nil, err
	}
	return &SummaryWriter{path: path, file: file}, nil
}

// WriteSummary appends the summary line. A writer accepts a single summary.
func (w *SummaryWriter) WriteSummary(summary window.Summary) error {
	if w.written {
		return fmt.Errorf("summary already written to %s", w.path)
	}
	w.written = true
	if _, err := w.file.WriteString(FormatSummary(summary) + "\n"); err != nil {
		return fmt.Errorf("write %s: %w", w.path, err)
	}
	return nil
}

// Close closes the summary file.
func (w *SummaryWriter) Close() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("close %s: %w", w.path, err)
	}
	return nil
}

// FormatSummary renders a window summary without the trailing newline.
func FormatSummary(summary window.Summary) string {
	return fmt.Sprintf("%.3f %.3f %d %d",
		summary.AvgCPULatency, summary.AvgTotalLatency, summary.LastCPUHz, summary.LastGPUHz)
}

func openAppend(path string) (*os.File, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return file, nil
}
