package record

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/skobkin/freqpilot/internal/window"
)

func TestSeriesWriterAppendsLines(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "series.txt")
	if err := os.WriteFile(path, []byte("1 2 3 4.00 0.0000\n"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	w, err := OpenSeries(path)
	if err != nil {
		t.Fatalf("OpenSeries returned error: %v", err)
	}
	rows := []window.Row{
		{Timestamp: time.Unix(1700000000, 0), CPUHz: 1_500_000_000, GPUHz: 921_600_000, FPS: 29.97, Confidence: 0.81234},
		{Timestamp: time.Unix(1700000001, 500), CPUHz: 1_400_000_000, GPUHz: 0, FPS: 30},
	}
	for _, row := range rows {
		if err := w.WriteRow(row); err != nil {
			t.Fatalf("WriteRow returned error: %v", err)
		}
	}

	// Rows are visible before Close.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read series: %v", err)
	}
	if got := strings.Count(string(data), "\n"); got != 3 {
		t.Fatalf("expected 3 lines before close, got %d", got)
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	data, err = os.ReadFile(path)
	if err != nil {
		t.Fatalf("read series: %v", err)
	}
	want := "1 2 3 4.00 0.0000\n" +
		"1700000000 1500000000 921600000 29.97 0.8123\n" +
		"1700000001 1400000000 0 30.00 0.0000\n"
	if string(data) != want {
		t.Fatalf("unexpected series contents:\n%s", data)
	}
}

func TestSummaryWriter(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "summary.txt")
	w, err := OpenSummary(path)
	if err != nil {
		t.Fatalf("OpenSummary returned error: %v", err)
	}

	summary := window.Summary{AvgCPULatency: 2.25, AvgTotalLatency: 10.8, LastCPUHz: 1_200_000_000, LastGPUHz: 600_000_000}
	if err := w.WriteSummary(summary); err != nil {
		t.Fatalf("WriteSummary returned error: %v", err)
	}
	if err := w.WriteSummary(summary); err == nil {
		t.Fatalf("expected error on second summary")
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	if want := "2.250 10.800 1200000000 600000000\n"; string(data) != want {
		t.Fatalf("expected %q, got %q", want, data)
	}
}

func TestOpenFailsForMissingDirectory(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "missing", "out.txt")
	if _, err := OpenSeries(path); err == nil {
		t.Fatalf("expected error for series in missing directory")
	}
	if _, err := OpenSummary(path); err == nil {
		t.Fatalf("expected error for summary in missing directory")
	}
}
