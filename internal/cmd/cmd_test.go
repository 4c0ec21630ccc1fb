package cmd

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/skobkin/freqpilot/internal/config"
	"github.com/skobkin/freqpilot/internal/history"
	"github.com/skobkin/freqpilot/internal/version"
	"github.com/skobkin/freqpilot/internal/window"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestFormatHz(t *testing.T) {
	cases := map[int64]string{
		1_500_000_000: "1.50 GHz",
		600_000_000:   "600 MHz",
		24_000:        "24 kHz",
		12:            "12 Hz",
	}
	for hz, want := range cases {
		if got := formatHz(hz); got != want {
			t.Fatalf("formatHz(%d) = %q, want %q", hz, got, want)
		}
	}
}

func TestApplyRunFlags(t *testing.T) {
	cfg := config.Config{
		Control:  config.ControlConfig{WindowDuration: time.Minute, ThresholdMS: 34},
		Actuator: config.ActuatorConfig{Name: "motor_control"},
	}
	flags := runCmd.Flags()
	for name, value := range map[string]string{
		"window":    "5s",
		"threshold": "20.5",
		"actuator":  "fan_governor",
		"frames":    "300",
	} {
		if err := flags.Set(name, value); err != nil {
			t.Fatalf("set --%s: %v", name, err)
		}
	}
	if err := applyRunFlags(runCmd, &cfg); err != nil {
		t.Fatalf("applyRunFlags returned error: %v", err)
	}
	if cfg.Control.WindowDuration != 5*time.Second || cfg.Control.ThresholdMS != 20.5 {
		t.Fatalf("unexpected control config %+v", cfg.Control)
	}
	if cfg.Actuator.Name != "fan_governor" || cfg.Source.Frames != 300 {
		t.Fatalf("unexpected overrides %+v %+v", cfg.Actuator, cfg.Source)
	}

	if err := flags.Set("threshold", "-1"); err != nil {
		t.Fatalf("set --threshold: %v", err)
	}
	if err := applyRunFlags(runCmd, &cfg); err == nil {
		t.Fatalf("expected error for negative threshold")
	}
	if err := flags.Set("threshold", "NaN"); err != nil {
		t.Fatalf("set --threshold: %v", err)
	}
	if err := applyRunFlags(runCmd, &cfg); err == nil {
		t.Fatalf("expected error for NaN threshold")
	}
	if err := flags.Set("threshold", "34"); err != nil {
		t.Fatalf("reset --threshold: %v", err)
	}
}

func TestVersionCommand(t *testing.T) {
	version.Set(version.Info{Version: "v0.3.0", Commit: "abc123", BuildTime: "today"})
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version returned error: %v", err)
	}
	if !strings.HasPrefix(out, "freqpilot v0.3.0 (abc123) built today") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestHistoryCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	store, err := history.Open(ctx, path, logger)
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	run, err := store.BeginRun(ctx, history.RunInfo{
		StartedAt:   time.Now(),
		Actuator:    "motor_control",
		ThresholdMS: 34,
		Window:      time.Minute,
		Source:      "constant:20ms",
	})
	if err != nil {
		t.Fatalf("BeginRun returned error: %v", err)
	}
	id := run.ID().String()
	if err := run.WriteRow(window.Row{Timestamp: time.Unix(1_700_000_000, 0), CPUHz: 1_000_000, GPUHz: 2_000_000, FPS: 30, Confidence: 0.5}); err != nil {
		t.Fatalf("WriteRow returned error: %v", err)
	}
	summary := window.Summary{AvgCPULatency: 3, AvgTotalLatency: 20, LastCPUHz: 1_000_000, LastGPUHz: 2_000_000, Frames: 1}
	if err := run.Finish(time.Now(), "window_expired", summary, nil); err != nil {
		t.Fatalf("Finish returned error: %v", err)
	}
	if err := run.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	t.Setenv("APP_HISTORY_DB", path)

	out, err := execute(t, "history", "--samples", "")
	if err != nil {
		t.Fatalf("history returned error: %v", err)
	}
	if !strings.Contains(out, id) || !strings.Contains(out, "window_expired") || !strings.Contains(out, "avg 20.000 ms total") {
		t.Fatalf("unexpected history output:\n%s", out)
	}

	out, err = execute(t, "history", "--samples", id)
	if err != nil {
		t.Fatalf("history --samples returned error: %v", err)
	}
	if strings.TrimSpace(out) != "1700000000 1000000 2000000 30.00 0.5000" {
		t.Fatalf("unexpected samples output %q", out)
	}
}

func TestHistoryCommandRequiresDatabase(t *testing.T) {
	t.Setenv("APP_HISTORY_DB", "")
	if _, err := execute(t, "history", "--db", "", "--samples", ""); err == nil {
		t.Fatalf("expected error without a database")
	}
}
