// Package cmd holds the freqpilot command line.
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/skobkin/freqpilot/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "freqpilot",
	Short: "Latency-driven clock controller",
	Long: `freqpilot measures per-frame processing latency and asks a cooperating
actuator process to raise or lower CPU/GPU clocks, recording frequency and
latency over a fixed window.

Configuration comes from APP_* environment variables; flags override them.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		newLogger(slog.LevelError).Error("command failed", "err", err)
		os.Exit(1)
	}
}

func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// loadConfig reads the environment and returns a logger at the configured level.
func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, newLogger(cfg.LogLevel), nil
}
