package cmd

import (
	"context"
	"fmt"
	"math"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/skobkin/freqpilot/internal/app"
	"github.com/skobkin/freqpilot/internal/config"
)

var (
	runWindow    time.Duration
	runThreshold float64
	runActuator  string
	runFrames    int
	runTrace     string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the control loop for one window",
	Long: `Run captures frames, measures detection latency and signals the actuator on
every frame until the window elapses, the source ends or the process is
interrupted. The window summary is appended to the summary file.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().DurationVarP(&runWindow, "window", "w", 0, "Window length (overrides APP_WINDOW_DURATION)")
	runCmd.Flags().Float64VarP(&runThreshold, "threshold", "t", 0, "Latency threshold in ms (overrides APP_LATENCY_THRESHOLD_MS)")
	runCmd.Flags().StringVarP(&runActuator, "actuator", "a", "", "Actuator process name (overrides APP_ACTUATOR_NAME)")
	runCmd.Flags().IntVar(&runFrames, "frames", 0, "Stop after this many frames, 0 streams (overrides APP_SOURCE_FRAMES)")
	runCmd.Flags().StringVar(&runTrace, "trace", "", "Latency trace file to replay (overrides APP_TRACE_PATH)")
}

func runRun(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if err := applyRunFlags(cmd, &cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return app.Run(ctx, logger, cfg)
}

func applyRunFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("window") {
		if runWindow <= 0 {
			return fmt.Errorf("--window must be > 0")
		}
		cfg.Control.WindowDuration = runWindow
	}
	if flags.Changed("threshold") {
		if runThreshold <= 0 || math.IsNaN(runThreshold) || math.IsInf(runThreshold, 0) {
			return fmt.Errorf("--threshold must be a finite number > 0")
		}
		cfg.Control.ThresholdMS = runThreshold
	}
	if flags.Changed("actuator") {
		if runActuator == "" {
			return fmt.Errorf("--actuator must not be empty")
		}
		cfg.Actuator.Name = runActuator
	}
	if flags.Changed("frames") {
		if runFrames < 0 {
			return fmt.Errorf("--frames must be >= 0")
		}
		cfg.Source.Frames = runFrames
	}
	if flags.Changed("trace") {
		cfg.Source.TracePath = runTrace
	}
	return nil
}
